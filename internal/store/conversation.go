package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_id, participant_name, participant_role,
			participant_seen_at, unread_count, last_message_preview, last_message_at, archived, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_name = excluded.participant_name,
			participant_role = excluded.participant_role,
			participant_seen_at = excluded.participant_seen_at,
			unread_count = excluded.unread_count,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		c.ID, c.ParticipantID, c.ParticipantName, c.ParticipantRole,
		c.ParticipantSeenAt, c.UnreadCount, c.LastMessagePreview, c.LastMessageAt,
		c.Archived, now)
	return err
}

// TouchLastMessage advances a conversation's preview if ts is newer than
// what is already recorded.
func (db *DB) TouchLastMessage(id, preview string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE id = ?`,
		ts, preview, ts, now, id)
	return err
}

const conversationCols = `id, participant_id, participant_name, participant_role,
	participant_seen_at, unread_count, last_message_preview, last_message_at, archived`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantRole,
		&c.ParticipantSeenAt, &c.UnreadCount, &c.LastMessagePreview, &c.LastMessageAt, &c.Archived)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns non-archived conversations, most recent
// activity first.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationCols+`
		FROM conversations
		WHERE archived = 0
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindConversationByParticipant returns the conversation with the given
// counterpart, or nil if none is known locally.
func (db *DB) FindConversationByParticipant(participantID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationCols+` FROM conversations WHERE participant_id = ?`, participantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// DeleteConversation removes a conversation and everything hanging off it.
func (db *DB) DeleteConversation(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM attachments WHERE conversation_id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM outbox WHERE conversation_id = ?`,
		`DELETE FROM read_acks WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetArchived flips a conversation's archived flag.
func (db *DB) SetArchived(id string, archived bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET archived = ?, updated_at = ? WHERE id = ?`,
		archived, now, id)
	return err
}

// ClearUnread zeroes a conversation's unread count locally.
func (db *DB) ClearUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		now, id)
	return err
}

// QueueReadAck records that a read acknowledgement for the conversation
// still needs to reach the server. Idempotent.
func (db *DB) QueueReadAck(conversationID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO read_acks (conversation_id, queued_at) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO NOTHING`,
		conversationID, now)
	return err
}

// PendingReadAcks returns conversation ids with unacknowledged reads.
func (db *DB) PendingReadAcks() ([]string, error) {
	rows, err := db.Query(`SELECT conversation_id FROM read_acks ORDER BY queued_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearReadAck removes a delivered read acknowledgement.
func (db *DB) ClearReadAck(conversationID string) error {
	_, err := db.Exec(`DELETE FROM read_acks WHERE conversation_id = ?`, conversationID)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
