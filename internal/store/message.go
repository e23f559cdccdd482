package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Delivery status never regresses: a poll that
// still reports "sent" cannot undo a "read" already recorded locally.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, body,
			status, from_me, pending, seq, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = CASE
				WHEN excluded.status = 'read' THEN 'read'
				WHEN excluded.status = 'delivered' AND messages.status != 'read' THEN 'delivered'
				ELSE messages.status
			END,
			pending = excluded.pending,
			seq = excluded.seq,
			created_at = excluded.created_at`,
		m.ConversationID, m.MsgID, m.SenderID, m.SenderName, m.Body,
		m.Status, m.FromMe, m.Pending, m.Seq, m.CreatedAt, now)
	if err != nil {
		return err
	}
	return db.replaceAttachments(db.DB, m)
}

// InsertPendingMessage appends an optimistic local row for an outbound
// send that the server has not confirmed yet.
func (db *DB) InsertPendingMessage(m *Message) error {
	m.Pending = true
	m.Seq = PendingSeq
	if m.Status == "" {
		m.Status = StatusSent
	}
	return db.UpsertMessage(m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) replaceAttachments(e execer, m *Message) error {
	if _, err := e.Exec(`DELETE FROM attachments WHERE conversation_id = ? AND msg_id = ?`,
		m.ConversationID, m.MsgID); err != nil {
		return err
	}
	for i, a := range m.Attachments {
		if _, err := e.Exec(`
			INSERT INTO attachments (conversation_id, msg_id, idx, url, name, mime, bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.MsgID, i, a.URL, a.Name, a.Mime, a.Bytes); err != nil {
			return err
		}
	}
	return nil
}

const messageCols = `id, conversation_id, msg_id, sender_id, sender_name, body,
	status, from_me, pending, seq, created_at`

func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName,
		&m.Body, &m.Status, &m.FromMe, &m.Pending, &m.Seq, &m.CreatedAt)
	return m, err
}

// ListMessages returns the most recent messages of a conversation in
// display order: ascending created_at, server arrival order on ties,
// optimistic rows last within a tie.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM (
			SELECT `+messageCols+`
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := db.loadAttachments(conversationID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (db *DB) loadAttachments(conversationID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows, err := db.Query(`
		SELECT msg_id, url, name, mime, bytes
		FROM attachments
		WHERE conversation_id = ?
		ORDER BY msg_id, idx`, conversationID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	byMsg := make(map[string][]Attachment)
	for rows.Next() {
		var msgID string
		var a Attachment
		if err := rows.Scan(&msgID, &a.URL, &a.Name, &a.Mime, &a.Bytes); err != nil {
			return err
		}
		byMsg[msgID] = append(byMsg[msgID], a)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].Attachments = byMsg[msgs[i].MsgID]
	}
	return nil
}

// GetMessage returns a message by its wire id, or nil if absent.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanMessage(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	msgs := []Message{m}
	if err := db.loadAttachments(conversationID, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// DeleteMessage removes a message and its attachments.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	if _, err := db.Exec(`DELETE FROM attachments WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

// ResetMessagePending returns a failed optimistic row to the pending
// look for a retry attempt. The attachment rows are left alone.
func (db *DB) ResetMessagePending(conversationID, msgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?, pending = 1
		WHERE conversation_id = ? AND msg_id = ?`,
		StatusSent, conversationID, msgID)
	return err
}

// MarkMessageFailed flips a pending optimistic row to failed after its
// send attempt errored. Confirmed rows are never touched.
func (db *DB) MarkMessageFailed(conversationID, msgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ? AND pending = 1`,
		StatusFailed, conversationID, msgID)
	return err
}
