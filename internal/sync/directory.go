package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
	"go.uber.org/zap"
)

// directoryClient is the slice of the backend client the directory uses.
type directoryClient interface {
	ListConversations(ctx context.Context) ([]rest.Conversation, error)
	CreateConversation(ctx context.Context, participantID string) (*rest.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
	ArchiveConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Directory keeps the local conversation list in step with the server and
// carries the conversation-level operations: open-or-create, mark read,
// archive and remove. Mark-read is optimistic with queued retry; archive
// and remove only mutate local state after the server confirmed.
type Directory struct {
	db       *store.DB
	client   directoryClient
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	// creating serializes listOrCreate per participant so a double
	// keypress cannot race two creations for the same counterpart.
	mu       sync.Mutex
	creating map[string]*sync.Mutex

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewDirectory creates a conversation directory.
func NewDirectory(db *store.DB, client directoryClient, b *bus.Bus, logger *zap.Logger,
	interval, timeout time.Duration) *Directory {
	return &Directory{
		db:       db,
		client:   client,
		bus:      b,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		creating: make(map[string]*sync.Mutex),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the periodic directory refresh loop.
func (d *Directory) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.refreshOnce(ctx)
			case <-d.wake:
				d.refreshOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh loop.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Wake requests a refresh outside the regular tick.
func (d *Directory) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Directory) refreshOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.flushReadAcks(reqCtx)

	if err := d.Refresh(reqCtx); err != nil {
		d.logger.Warn("directory refresh failed", zap.Error(err))
	}
}

// ForceRefresh is the user-initiated variant of the background tick: it
// flushes queued read acks first and reports the refresh error instead of
// swallowing it.
func (d *Directory) ForceRefresh(ctx context.Context) error {
	d.flushReadAcks(ctx)
	return d.Refresh(ctx)
}

// flushReadAcks retries read acknowledgements that did not reach the
// server on first attempt.
func (d *Directory) flushReadAcks(ctx context.Context) {
	ids, err := d.db.PendingReadAcks()
	if err != nil {
		d.logger.Warn("list pending read acks failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := d.client.MarkRead(ctx, id); err != nil {
			if rest.IsNotFound(err) {
				// Conversation is gone server-side; the ack is moot.
				_ = d.db.ClearReadAck(id)
				continue
			}
			d.logger.Debug("read ack retry failed", zap.Error(err), zap.String("conversation", id))
			continue
		}
		if err := d.db.ClearReadAck(id); err != nil {
			d.logger.Warn("clear read ack failed", zap.Error(err), zap.String("conversation", id))
		}
	}
}

// Refresh pulls the server conversation list and replaces the local
// directory with it. An unread count the server reports is overridden to
// zero while a read ack for that conversation is still queued, so a locally
// read conversation cannot flicker back to unread.
func (d *Directory) Refresh(ctx context.Context) error {
	convs, err := d.client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	acked := make(map[string]bool)
	if ids, err := d.db.PendingReadAcks(); err == nil {
		for _, id := range ids {
			acked[id] = true
		}
	}

	seen := make(map[string]bool, len(convs))
	for i := range convs {
		sc := convs[i].ToStore()
		if acked[sc.ID] {
			sc.UnreadCount = 0
		}
		if err := d.db.UpsertConversation(sc); err != nil {
			return fmt.Errorf("upsert conversation %s: %w", sc.ID, err)
		}
		seen[sc.ID] = true
	}

	// Conversations removed elsewhere (another device, the counterpart's
	// side) disappear locally too.
	local, err := d.db.ListConversations(0, 0)
	if err != nil {
		return err
	}
	for _, c := range local {
		if !seen[c.ID] {
			if err := d.db.DeleteConversation(c.ID); err != nil {
				d.logger.Warn("prune conversation failed", zap.Error(err), zap.String("conversation", c.ID))
			}
		}
	}

	if err := d.db.SetSyncState("directory_refreshed_at",
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		d.logger.Debug("record refresh checkpoint failed", zap.Error(err))
	}

	d.bus.Publish(bus.Event{Kind: "directory.updated", At: time.Now()})
	return nil
}

func (d *Directory) participantLock(participantID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.creating[participantID]
	if !ok {
		m = &sync.Mutex{}
		d.creating[participantID] = m
	}
	return m
}

// ListOrCreate returns the conversation with the given counterpart,
// creating it server-side if none exists. Safe to call repeatedly; a
// duplicate-creation conflict resolves by lookup.
func (d *Directory) ListOrCreate(ctx context.Context, participantID string) (*store.Conversation, error) {
	lock := d.participantLock(participantID)
	lock.Lock()
	defer lock.Unlock()

	if c, err := d.db.FindConversationByParticipant(participantID); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}

	conv, err := d.client.CreateConversation(ctx, participantID)
	if err != nil {
		if !rest.IsConflict(err) {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		// Someone got there first (another device or a prior request that
		// timed out after committing). The list has it.
		if rerr := d.Refresh(ctx); rerr != nil {
			return nil, rerr
		}
		c, lerr := d.db.FindConversationByParticipant(participantID)
		if lerr != nil {
			return nil, lerr
		}
		if c == nil {
			return nil, fmt.Errorf("conversation with %s exists server-side but was not listed", participantID)
		}
		return c, nil
	}

	sc := conv.ToStore()
	if err := d.db.UpsertConversation(sc); err != nil {
		return nil, err
	}
	d.bus.Publish(bus.Event{Kind: "directory.updated", At: time.Now()})
	return sc, nil
}

// MarkRead zeroes the unread count locally right away and acknowledges the
// read to the server. A failed acknowledgement stays queued and is retried
// by the refresh loop; the local zero stands in the meantime.
func (d *Directory) MarkRead(ctx context.Context, conversationID string) error {
	if err := d.db.ClearUnread(conversationID); err != nil {
		return err
	}
	if err := d.db.QueueReadAck(conversationID); err != nil {
		return err
	}
	d.bus.Publish(bus.Event{Kind: "directory.updated", At: time.Now()})

	if err := d.client.MarkRead(ctx, conversationID); err != nil {
		d.logger.Debug("read ack deferred", zap.Error(err), zap.String("conversation", conversationID))
		return nil
	}
	return d.db.ClearReadAck(conversationID)
}

// Archive archives the conversation. Local state changes only after the
// server confirmed.
func (d *Directory) Archive(ctx context.Context, conversationID string) error {
	if err := d.client.ArchiveConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	if err := d.db.SetArchived(conversationID, true); err != nil {
		return err
	}
	d.bus.Publish(bus.Event{Kind: "directory.updated", At: time.Now()})
	return nil
}

// Remove deletes the conversation. Local state changes only after the
// server confirmed; a 404 counts as confirmation.
func (d *Directory) Remove(ctx context.Context, conversationID string) error {
	if err := d.client.DeleteConversation(ctx, conversationID); err != nil && !rest.IsNotFound(err) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := d.db.DeleteConversation(conversationID); err != nil {
		return err
	}
	d.bus.Publish(bus.Event{Kind: "directory.updated", At: time.Now()})
	return nil
}
