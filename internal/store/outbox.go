package store

import "time"

// QueueOutbox adds a text-only message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, body, now, now)
	return err
}

// QueueOutboxAttachment adds a message carrying one staged file. The file
// stays on disk at path until the upload succeeds.
func (db *DB) QueueOutboxAttachment(clientMsgID, conversationID, body, path, name, mime string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, attachment_path,
			attachment_name, attachment_mime, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, body, path, name, mime, now, now)
	return err
}

func (db *DB) setOutboxStatus(clientMsgID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE client_msg_id = ?`,
		status, now, clientMsgID)
	return err
}

// MarkOutboxUploading updates an entry to 'uploading' while its attachment
// is in flight to object storage.
func (db *DB) MarkOutboxUploading(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxUploading)
}

// MarkOutboxSending updates an entry to 'sending'.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSending)
}

// MarkOutboxSent updates an entry to 'sent' with the server message id.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an entry to 'failed' with an error message. The
// staged attachment path, if any, is preserved so a retry does not need to
// re-stage the file.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, now, clientMsgID)
	return err
}

// RetryOutbox re-queues a failed entry. Returns without error if the entry
// is not in failed state.
func (db *DB) RetryOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'queued', error_message = '', updated_at = ?
		WHERE client_msg_id = ? AND status = 'failed'`,
		now, clientMsgID)
	return err
}

const outboxCols = `id, client_msg_id, conversation_id, body, attachment_path,
	attachment_name, attachment_mime, status, error_message, server_msg_id, created_at`

// PendingOutbox returns entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT ` + outboxCols + `
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body,
			&e.AttachmentPath, &e.AttachmentName, &e.AttachmentMime,
			&e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns an entry by client message id, or nil if absent.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	rows, err := db.Query(`SELECT `+outboxCols+` FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var e OutboxEntry
	if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body,
		&e.AttachmentPath, &e.AttachmentName, &e.AttachmentMime,
		&e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// AttachmentInFlight reports whether the conversation already has an
// attachment-bearing entry that is queued, uploading or sending. The
// composer stages at most one attachment at a time per conversation.
func (db *DB) AttachmentInFlight(conversationID string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM outbox
		WHERE conversation_id = ? AND attachment_path != ''
		  AND status IN ('queued', 'uploading', 'sending')`,
		conversationID).Scan(&count)
	return count > 0, err
}
