package outbox

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAttachmentInFlight is returned when a conversation already has an
// attachment queued or uploading. One file travels at a time.
var ErrAttachmentInFlight = fmt.Errorf("an attachment is already being sent in this conversation")

// ErrEmptyMessage is returned for a send with neither text nor file.
var ErrEmptyMessage = fmt.Errorf("message has no text and no attachment")

// Composer accepts outbound messages: it writes the optimistic local row,
// queues the outbox entry and wakes the sender. The caller gets the client
// message id back immediately; delivery happens in the background.
type Composer struct {
	db     *store.DB
	bus    *bus.Bus
	sender *Sender
	logger *zap.Logger
	selfID func() string
}

// NewComposer creates a composer. selfID resolves the authenticated user's
// id at send time, since login can happen after construction.
func NewComposer(db *store.DB, b *bus.Bus, sender *Sender, logger *zap.Logger, selfID func() string) *Composer {
	return &Composer{db: db, bus: b, sender: sender, logger: logger, selfID: selfID}
}

// SendText queues a text message and returns its client message id.
// Whitespace-only bodies are rejected, not sent.
func (c *Composer) SendText(ctx context.Context, conversationID, body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	clientMsgID := "tmp-" + uuid.NewString()
	now := time.Now().UnixMilli()

	if err := c.db.InsertPendingMessage(&store.Message{
		ConversationID: conversationID,
		MsgID:          clientMsgID,
		SenderID:       c.selfID(),
		Body:           body,
		FromMe:         true,
		CreatedAt:      now,
	}); err != nil {
		return "", fmt.Errorf("insert optimistic message: %w", err)
	}
	if err := c.db.QueueOutbox(clientMsgID, conversationID, body); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	c.bus.Publish(bus.Event{Kind: "message.upserted", At: time.Now(),
		Data: map[string]string{"conversation_id": conversationID, "msg_id": clientMsgID}})
	c.sender.Wake()
	return clientMsgID, nil
}

// SendAttachment queues a message carrying one file, optionally with text.
// Rejected while another attachment for the same conversation is still in
// flight.
func (c *Composer) SendAttachment(ctx context.Context, conversationID, body, path string) (string, error) {
	body = strings.TrimSpace(body)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("attachment %s is a directory", path)
	}

	busy, err := c.db.AttachmentInFlight(conversationID)
	if err != nil {
		return "", err
	}
	if busy {
		return "", ErrAttachmentInFlight
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	clientMsgID := "tmp-" + uuid.NewString()
	now := time.Now().UnixMilli()

	if err := c.db.InsertPendingMessage(&store.Message{
		ConversationID: conversationID,
		MsgID:          clientMsgID,
		SenderID:       c.selfID(),
		Body:           body,
		FromMe:         true,
		CreatedAt:      now,
		Attachments: []store.Attachment{
			{Name: name, Mime: mimeType, Bytes: info.Size()},
		},
	}); err != nil {
		return "", fmt.Errorf("insert optimistic message: %w", err)
	}
	if err := c.db.QueueOutboxAttachment(clientMsgID, conversationID, body, path, name, mimeType); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	c.bus.Publish(bus.Event{Kind: "message.upserted", At: time.Now(),
		Data: map[string]string{"conversation_id": conversationID, "msg_id": clientMsgID}})
	c.sender.Wake()
	return clientMsgID, nil
}

// Retry re-queues a failed send and restores its optimistic row from
// failed back to pending.
func (c *Composer) Retry(ctx context.Context, clientMsgID string) error {
	entry, err := c.db.GetOutbox(clientMsgID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no outbound message %s", clientMsgID)
	}
	if entry.Status != store.OutboxFailed {
		return fmt.Errorf("message %s is not failed (status %s)", clientMsgID, entry.Status)
	}
	if err := c.db.RetryOutbox(clientMsgID); err != nil {
		return err
	}
	// Back to the regular pending look while the new attempt runs.
	if err := c.db.ResetMessagePending(entry.ConversationID, clientMsgID); err != nil {
		return err
	}
	c.bus.Publish(bus.Event{Kind: "message.upserted", At: time.Now(),
		Data: map[string]string{"conversation_id": entry.ConversationID, "msg_id": clientMsgID}})
	c.sender.Wake()
	return nil
}
