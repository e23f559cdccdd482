package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestLoginInstallsToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bruna@example.org", body["email"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-123",
			"user":  map[string]string{"id": "u1", "name": "Bruna", "role": "client"},
		})
	}))

	token, user, err := c.Login(context.Background(), "bruna@example.org", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "tok-123", c.bearer())
}

func TestBearerHeaderOnRequests(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]Conversation{})
	}))
	c.SetToken("tok-abc")

	_, err := c.ListConversations(context.Background())
	require.NoError(t, err)
}

func TestCreateConversationConflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "conversation_exists", "message": "conversation already exists"},
		})
	}))
	c.SetToken("tok")

	_, err := c.CreateConversation(context.Background(), "lawyer-1")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "conversation_exists", apiErr.Code)
}

func TestUnauthorizedDetection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))

	_, err := c.ListConversations(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.False(t, IsConflict(err))
}

func TestSendMessageEchoesClientRef(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/c1/messages", r.URL.Path)

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tmp-1", req.ClientRef)

		_ = json.NewEncoder(w).Encode(Message{
			ID:        "m9",
			Text:      req.Text,
			ClientRef: req.ClientRef,
			CreatedAt: time.Now().UTC(),
		})
	}))
	c.SetToken("tok")

	msg, err := c.SendMessage(context.Background(), "c1", SendMessageRequest{Text: "hello", ClientRef: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, "tmp-1", msg.ClientRef)
	assert.Equal(t, "c1", msg.ConversationID)
}

func TestDeleteMessage(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	c.SetToken("tok")

	require.NoError(t, c.DeleteMessage(context.Background(), "m3"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/messages/m3", gotPath)
}

func TestPlainTextErrorBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend on fire", http.StatusInternalServerError)
	}))

	err := c.MarkRead(context.Background(), "c1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "backend on fire", apiErr.Message)
}
