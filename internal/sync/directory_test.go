package sync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
	"go.uber.org/zap"
)

type fakeDirectoryClient struct {
	mu            sync.Mutex
	conversations []rest.Conversation
	createErr     error
	markReadErr   error
	archiveErr    error
	deleteErr     error
	created       []string
	reads         []string
	archived      []string
	deleted       []string
}

func (f *fakeDirectoryClient) ListConversations(ctx context.Context) ([]rest.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rest.Conversation(nil), f.conversations...), nil
}

func (f *fakeDirectoryClient) CreateConversation(ctx context.Context, participantID string) (*rest.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, participantID)
	if f.createErr != nil {
		return nil, f.createErr
	}
	conv := rest.Conversation{
		ID:          "conv-" + participantID,
		Participant: rest.Participant{ID: participantID, Name: "Counterpart"},
	}
	f.conversations = append(f.conversations, conv)
	return &conv, nil
}

func (f *fakeDirectoryClient) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.reads = append(f.reads, conversationID)
	return nil
}

func (f *fakeDirectoryClient) ArchiveConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, conversationID)
	return nil
}

func (f *fakeDirectoryClient) DeleteConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, conversationID)
	return nil
}

func newTestDirectory(t *testing.T) (*Directory, *fakeDirectoryClient, *store.DB) {
	t.Helper()
	_, db, b := newTestEngine(t)
	client := &fakeDirectoryClient{}
	d := NewDirectory(db, client, b, zap.NewNop(), time.Hour, time.Second)
	return d, client, db
}

func wireConv(id, participantID string, unread int) rest.Conversation {
	return rest.Conversation{
		ID:          id,
		Participant: rest.Participant{ID: participantID, Name: "Counterpart"},
		UnreadCount: unread,
	}
}

func TestRefreshUpsertsServerConversations(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.conversations = []rest.Conversation{
		wireConv("c1", "lawyer-1", 2),
		wireConv("c2", "lawyer-2", 0),
	}

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	convs, err := db.ListConversations(0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
}

func TestRefreshPrunesDeletedConversations(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.conversations = []rest.Conversation{wireConv("c2", "lawyer-2", 0)}

	// c1 was seeded by newTestEngine but the server no longer lists it.
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c, _ := db.GetConversation("c1"); c != nil {
		t.Fatalf("pruned conversation still present")
	}
	if c, _ := db.GetConversation("c2"); c == nil {
		t.Fatalf("listed conversation missing")
	}
}

func TestListOrCreateIsIdempotent(t *testing.T) {
	d, client, _ := newTestDirectory(t)

	first, err := d.ListOrCreate(context.Background(), "lawyer-9")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := d.ListOrCreate(context.Background(), "lawyer-9")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if len(client.created) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(client.created))
	}
}

func TestListOrCreateResolvesConflictByLookup(t *testing.T) {
	d, client, _ := newTestDirectory(t)
	client.createErr = &rest.APIError{StatusCode: http.StatusConflict, Message: "exists"}
	client.conversations = []rest.Conversation{wireConv("c7", "lawyer-7", 0)}

	conv, err := d.ListOrCreate(context.Background(), "lawyer-7")
	if err != nil {
		t.Fatalf("list or create: %v", err)
	}
	if conv.ID != "c7" {
		t.Fatalf("wrong conversation resolved: %s", conv.ID)
	}
}

func TestMarkReadOptimisticWithDeferredAck(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.markReadErr = errors.New("connection refused")

	if err := db.UpsertConversation(&store.Conversation{
		ID: "c1", ParticipantID: "lawyer-1", UnreadCount: 3,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := d.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	// Unread drops to zero immediately even though the server call failed.
	c, err := db.GetConversation("c1")
	if err != nil || c == nil {
		t.Fatalf("get: %v", err)
	}
	if c.UnreadCount != 0 {
		t.Fatalf("unread not cleared optimistically: %d", c.UnreadCount)
	}

	acks, err := db.PendingReadAcks()
	if err != nil || len(acks) != 1 {
		t.Fatalf("ack not queued: %v %v", acks, err)
	}

	// Connectivity returns; the refresh loop delivers the queued ack.
	client.mu.Lock()
	client.markReadErr = nil
	client.mu.Unlock()
	d.flushReadAcks(context.Background())

	acks, err = db.PendingReadAcks()
	if err != nil || len(acks) != 0 {
		t.Fatalf("ack not cleared after retry: %v %v", acks, err)
	}
	if len(client.reads) != 1 || client.reads[0] != "c1" {
		t.Fatalf("server never acknowledged: %v", client.reads)
	}
}

// A server list that still reports the old unread count must not undo a
// locally read conversation while its ack is queued.
func TestRefreshKeepsLocallyReadAtZero(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.markReadErr = errors.New("connection refused")
	client.conversations = []rest.Conversation{wireConv("c1", "lawyer-1", 3)}

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := d.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	c, err := db.GetConversation("c1")
	if err != nil || c == nil {
		t.Fatalf("get: %v", err)
	}
	if c.UnreadCount != 0 {
		t.Fatalf("unread flickered back to %d", c.UnreadCount)
	}
}

func TestArchiveRequiresServerConfirmation(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.archiveErr = errors.New("boom")

	if err := d.Archive(context.Background(), "c1"); err == nil {
		t.Fatalf("expected archive error")
	}
	c, _ := db.GetConversation("c1")
	if c == nil || c.Archived {
		t.Fatalf("archived locally despite server failure")
	}

	client.mu.Lock()
	client.archiveErr = nil
	client.mu.Unlock()
	if err := d.Archive(context.Background(), "c1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	c, _ = db.GetConversation("c1")
	if c == nil || !c.Archived {
		t.Fatalf("not archived after confirmation")
	}
}

func TestRemoveRequiresServerConfirmation(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.deleteErr = errors.New("boom")

	if err := d.Remove(context.Background(), "c1"); err == nil {
		t.Fatalf("expected remove error")
	}
	if c, _ := db.GetConversation("c1"); c == nil {
		t.Fatalf("removed locally despite server failure")
	}

	client.mu.Lock()
	client.deleteErr = nil
	client.mu.Unlock()
	if err := d.Remove(context.Background(), "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c, _ := db.GetConversation("c1"); c != nil {
		t.Fatalf("still present after confirmed remove")
	}
}

func TestRemoveTreatsNotFoundAsConfirmed(t *testing.T) {
	d, client, db := newTestDirectory(t)
	client.deleteErr = &rest.APIError{StatusCode: http.StatusNotFound, Message: "gone"}

	if err := d.Remove(context.Background(), "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c, _ := db.GetConversation("c1"); c != nil {
		t.Fatalf("still present after 404 remove")
	}
}
