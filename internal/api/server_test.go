package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brunakemp/juschat/internal/auth"
	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/outbox"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/status"
	"github.com/brunakemp/juschat/internal/store"
	jsync "github.com/brunakemp/juschat/internal/sync"
	"github.com/brunakemp/juschat/internal/upload"
)

// noUpload satisfies outbox.Uploader for tests that never touch files.
type noUpload struct{}

func (noUpload) UploadFile(ctx context.Context, path string, progress upload.ProgressFunc) (*upload.Result, error) {
	return &upload.Result{URL: "https://store.example.org/x"}, nil
}

func newTestServer(t *testing.T) (*Server, *store.DB) {
	return newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rest.Conversation{})
	})
}

func newTestServerWithBackend(t *testing.T, handler http.HandlerFunc) (*Server, *store.DB) {
	t.Helper()

	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	b := bus.New()
	machine := status.NewMachine(b)
	client := rest.New(backend.URL, time.Second)
	engine := jsync.NewEngine(db, b, zap.NewNop())
	poller := jsync.NewPoller(client, engine, b, machine, zap.NewNop(),
		time.Hour, time.Second, 3)
	directory := jsync.NewDirectory(db, client, b, zap.NewNop(), time.Hour, time.Second)
	sender := outbox.NewSender(db, client, noUpload{}, b, zap.NewNop(), time.Second)
	composer := outbox.NewComposer(db, b, sender, zap.NewNop(), func() string { return "user-1" })
	mgr := auth.NewManager(client, machine, poller, directory, "test", zap.NewNop())

	srv := NewServer(Deps{
		DB:        db,
		Bus:       b,
		Machine:   machine,
		Poller:    poller,
		Directory: directory,
		Composer:  composer,
		Client:    client,
		Auth:      mgr,
		Session:   "test",
		Timeout:   time.Second,
	}, filepath.Join(t.TempDir(), "daemon.sock"), zap.NewNop())
	return srv, db
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Session)
	assert.Equal(t, string(status.Booting), resp.State)
}

func TestListConversationsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListMessagesReflectsStore(t *testing.T) {
	srv, db := newTestServer(t)
	require.NoError(t, db.UpsertConversation(&store.Conversation{ID: "c1", ParticipantID: "p1"}))
	require.NoError(t, db.UpsertMessage(&store.Message{
		ConversationID: "c1", MsgID: "m1", SenderID: "p1", Body: "hello",
		Status: store.StatusSent, CreatedAt: time.Now().UnixMilli(),
	}))

	rec := doRequest(srv, http.MethodGet, "/v1/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MsgID)
	assert.Equal(t, "hello", msgs[0].Body)
}

func TestSendMessageQueuesOptimistically(t *testing.T) {
	srv, db := newTestServer(t)
	require.NoError(t, db.UpsertConversation(&store.Conversation{ID: "c1", ParticipantID: "p1"}))

	rec := doRequest(srv, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ClientMsgID)

	m, err := db.GetMessage("c1", resp.ClientMsgID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Pending)
}

func TestSendEmptyMessageRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/v1/conversations/c1/messages", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenUnknownConversation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/v1/conversations/nope/open", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteForeignMessageForbidden(t *testing.T) {
	srv, db := newTestServer(t)
	require.NoError(t, db.UpsertConversation(&store.Conversation{ID: "c1", ParticipantID: "p1"}))
	require.NoError(t, db.UpsertMessage(&store.Message{
		ConversationID: "c1", MsgID: "m1", SenderID: "p1", Body: "theirs",
		Status: store.StatusSent, CreatedAt: time.Now().UnixMilli(),
	}))

	rec := doRequest(srv, http.MethodDelete, "/v1/conversations/c1/messages/m1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchFindsMessages(t *testing.T) {
	srv, db := newTestServer(t)
	require.NoError(t, db.UpsertConversation(&store.Conversation{ID: "c1", ParticipantID: "p1"}))
	require.NoError(t, db.UpsertMessage(&store.Message{
		ConversationID: "c1", MsgID: "m1", SenderID: "p1",
		Body: "the hearing was rescheduled", Status: store.StatusSent,
		CreatedAt: time.Now().UnixMilli(),
	}))

	rec := doRequest(srv, http.MethodGet, "/v1/search?q=hearing", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []SearchResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Message.MsgID)
	assert.Contains(t, results[0].Snippet, "<<hearing>>")
}

func TestForceRefreshRunsSynchronously(t *testing.T) {
	srv, db := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/v1/sync/refresh", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The refresh checkpoint proves the directory pass actually ran.
	val, err := db.GetSyncState("directory_refreshed_at")
	require.NoError(t, err)
	assert.NotEmpty(t, val)
}

func TestForceRefreshSurfacesBackendFailure(t *testing.T) {
	srv, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"internal","message":"backend down"}}`, http.StatusInternalServerError)
	})

	rec := doRequest(srv, http.MethodPost, "/v1/sync/refresh", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "backend down")
}
