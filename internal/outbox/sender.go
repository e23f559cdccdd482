package outbox

import (
	"context"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
	"github.com/brunakemp/juschat/internal/upload"
	"go.uber.org/zap"
)

// MessageSender is the slice of the backend client the sender uses.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID string, req rest.SendMessageRequest) (*rest.Message, error)
}

// Uploader pushes a staged file to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, path string, progress upload.ProgressFunc) (*upload.Result, error)
}

// Sender drains the outbox. Each entry is uploaded (when it carries a
// file) and then posted to the backend; the optimistic row is swapped for
// the confirmed one on acknowledgement and marked failed on error. Failed
// entries stay put until an explicit retry.
type Sender struct {
	db       *store.DB
	client   MessageSender
	uploader Uploader
	bus      *bus.Bus
	logger   *zap.Logger
	timeout  time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewSender creates an outbox sender. timeout bounds the message post, not
// the upload; the uploader sets its own deadline.
func NewSender(db *store.DB, client MessageSender, uploader Uploader, b *bus.Bus,
	logger *zap.Logger, timeout time.Duration) *Sender {
	return &Sender{
		db:       db,
		client:   client,
		uploader: uploader,
		bus:      b,
		logger:   logger,
		timeout:  timeout,
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges the drain loop outside the regular tick.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins draining the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, entry)
	}
}

func (s *Sender) deliver(ctx context.Context, entry store.OutboxEntry) {
	req := rest.SendMessageRequest{Text: entry.Body, ClientRef: entry.ClientMsgID}

	if entry.AttachmentPath != "" {
		if err := s.db.MarkOutboxUploading(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark uploading", zap.Error(err),
				zap.String("client_msg_id", entry.ClientMsgID))
			return
		}
		res, err := s.uploader.UploadFile(ctx, entry.AttachmentPath, func(sent, total int64) {
			s.bus.Publish(bus.Event{Kind: "upload.progress", At: time.Now(),
				Data: UploadProgress{
					ClientMsgID:    entry.ClientMsgID,
					ConversationID: entry.ConversationID,
					Sent:           sent,
					Total:          total,
				}})
		})
		if err != nil {
			s.fail(entry, err)
			return
		}
		req.Attachments = []rest.Attachment{{
			URL:   res.URL,
			Name:  entry.AttachmentName,
			Mime:  entry.AttachmentMime,
			Bytes: res.Bytes,
		}}
	}

	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	msg, err := s.client.SendMessage(reqCtx, entry.ConversationID, req)
	cancel()
	if err != nil {
		s.fail(entry, err)
		return
	}
	s.ack(entry, msg)
}

// ack swaps the optimistic row for the server's confirmed message.
func (s *Sender) ack(entry store.OutboxEntry, msg *rest.Message) {
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMsgID))
	}

	sm := msg.ToStore(0, msg.SenderID)
	sm.FromMe = true
	if err := s.db.DeleteMessage(entry.ConversationID, entry.ClientMsgID); err != nil {
		s.logger.Error("failed to drop optimistic row", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := s.db.UpsertMessage(sm); err != nil {
		s.logger.Error("failed to store confirmed message", zap.Error(err),
			zap.String("msg_id", msg.ID))
	}
	preview := sm.Body
	if preview == "" && len(sm.Attachments) > 0 {
		preview = "[file] " + sm.Attachments[0].Name
	}
	if err := s.db.TouchLastMessage(entry.ConversationID, preview, sm.CreatedAt); err != nil {
		s.logger.Debug("failed to touch conversation", zap.Error(err))
	}

	s.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("server_msg_id", msg.ID))
	s.bus.Publish(bus.Event{Kind: "message.send_ack", At: time.Now(),
		Data: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"server_msg_id":   msg.ID,
		}})
}

func (s *Sender) fail(entry store.OutboxEntry, err error) {
	s.logger.Error("failed to send message", zap.Error(err),
		zap.String("client_msg_id", entry.ClientMsgID))
	if derr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); derr != nil {
		s.logger.Error("failed to mark outbox failed", zap.Error(derr))
	}
	if derr := s.db.MarkMessageFailed(entry.ConversationID, entry.ClientMsgID); derr != nil {
		s.logger.Error("failed to mark message failed", zap.Error(derr))
	}
	s.bus.Publish(bus.Event{Kind: "message.send_failed", At: time.Now(),
		Data: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"error":           err.Error(),
		}})
}

// UploadProgress is the payload for upload progress events.
type UploadProgress struct {
	ClientMsgID    string
	ConversationID string
	Sent           int64
	Total          int64
}
