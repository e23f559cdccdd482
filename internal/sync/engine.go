package sync

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
	"go.uber.org/zap"
)

type txExecQuerier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// Engine merges server message snapshots into the local store. A merge is
// one transaction: server rows are upserted idempotently, confirmed rows
// the server no longer reports are removed, and optimistic rows survive
// unless the snapshot contains their echo.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEngine creates a snapshot merge engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{db: db, bus: b, logger: logger}
}

// SnapshotResult summarizes one merge.
type SnapshotResult struct {
	Upserted   int
	Reconciled int
	Removed    int
	Retained   int
}

// ApplySnapshot replaces a conversation's confirmed messages with the
// server snapshot. selfID identifies the current user for ownership and
// echo matching.
func (e *Engine) ApplySnapshot(conversationID string, msgs []rest.Message, selfID string) (*SnapshotResult, error) {
	return e.ApplySnapshotAt(conversationID, msgs, selfID, time.Now())
}

// ApplySnapshotAt merges a snapshot whose request was dispatched at the
// given instant. Confirmed rows recorded after that instant are spared
// from pruning: they postdate what the server could have known when it
// answered, so their absence from the snapshot means nothing. A send
// acked while an older poll was still in flight must not vanish when
// that poll lands.
func (e *Engine) ApplySnapshotAt(conversationID string, msgs []rest.Message, selfID string, dispatchedAt time.Time) (*SnapshotResult, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT msg_id, sender_id, body, created_at
		FROM messages WHERE conversation_id = ? AND pending = 1`, conversationID)
	if err != nil {
		return nil, err
	}
	var pending []pendingRow
	for rows.Next() {
		var p pendingRow
		if err := rows.Scan(&p.MsgID, &p.SenderID, &p.Body, &p.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		pending = append(pending, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	res := &SnapshotResult{}
	now := time.Now().UnixMilli()
	var newest *store.Message

	for i := range msgs {
		wire := &msgs[i]
		if wire.ConversationID == "" {
			wire.ConversationID = conversationID
		}

		if tmpID := reconcile(wire, pending, selfID); tmpID != "" {
			if err := deleteMessageTx(tx, conversationID, tmpID); err != nil {
				return nil, err
			}
			pending = removePending(pending, tmpID)
			res.Reconciled++
		}

		sm := wire.ToStore(i, selfID)
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, body,
				status, from_me, pending, seq, created_at, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				body = excluded.body,
				status = CASE
					WHEN excluded.status = 'read' THEN 'read'
					WHEN excluded.status = 'delivered' AND messages.status != 'read' THEN 'delivered'
					ELSE messages.status
				END,
				pending = 0,
				seq = excluded.seq,
				created_at = excluded.created_at`,
			sm.ConversationID, sm.MsgID, sm.SenderID, sm.SenderName, sm.Body,
			sm.Status, sm.FromMe, sm.Seq, sm.CreatedAt, now); err != nil {
			return nil, err
		}
		if err := replaceAttachmentsTx(tx, sm); err != nil {
			return nil, err
		}
		res.Upserted++
		if newest == nil || sm.CreatedAt >= newest.CreatedAt {
			newest = sm
		}
	}

	removed, err := pruneAbsentTx(tx, conversationID, msgs, dispatchedAt.UnixMilli())
	if err != nil {
		return nil, err
	}
	res.Removed = removed
	res.Retained = len(pending)

	if newest != nil {
		if _, err := tx.Exec(`
			UPDATE conversations SET
				last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
				last_message_at = MAX(last_message_at, ?),
				updated_at = ?
			WHERE id = ?`,
			newest.CreatedAt, snapshotPreview(newest), newest.CreatedAt, now, conversationID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}

	if e.bus != nil && (res.Upserted > 0 || res.Removed > 0) {
		e.bus.Publish(bus.Event{
			Kind: "message.upserted",
			At:   time.Now(),
			Data: map[string]string{"conversation_id": conversationID},
		})
	}
	return res, nil
}

// pruneAbsentTx deletes confirmed rows the snapshot no longer contains.
// Optimistic rows are spared; they are the client's, not the server's.
// Rows inserted after dispatchedMillis are spared too: the snapshot
// request predates them.
func pruneAbsentTx(tx txExecQuerier, conversationID string, msgs []rest.Message, dispatchedMillis int64) (int, error) {
	query := `DELETE FROM messages WHERE conversation_id = ? AND pending = 0 AND inserted_at <= ?`
	args := []any{conversationID, dispatchedMillis}
	if len(msgs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(msgs)), ",")
		query += ` AND msg_id NOT IN (` + placeholders + `)`
		for i := range msgs {
			args = append(args, msgs[i].ID)
		}
	}

	// Snapshot the doomed ids first so their attachments can go too.
	doomed, err := tx.Query(strings.Replace(query, "DELETE FROM messages", "SELECT msg_id FROM messages", 1), args...)
	if err != nil {
		return 0, err
	}
	var ids []string
	for doomed.Next() {
		var id string
		if err := doomed.Scan(&id); err != nil {
			_ = doomed.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := doomed.Close(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := deleteMessageTx(tx, conversationID, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func deleteMessageTx(tx txExecQuerier, conversationID, msgID string) error {
	if _, err := tx.Exec(`DELETE FROM attachments WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

func replaceAttachmentsTx(tx txExecQuerier, m *store.Message) error {
	if _, err := tx.Exec(`DELETE FROM attachments WHERE conversation_id = ? AND msg_id = ?`,
		m.ConversationID, m.MsgID); err != nil {
		return err
	}
	for i, a := range m.Attachments {
		if _, err := tx.Exec(`
			INSERT INTO attachments (conversation_id, msg_id, idx, url, name, mime, bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.MsgID, i, a.URL, a.Name, a.Mime, a.Bytes); err != nil {
			return err
		}
	}
	return nil
}
