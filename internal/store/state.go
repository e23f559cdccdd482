package store

import (
	"database/sql"
	"time"
)

// SetSyncState stores a sync checkpoint value (e.g. the last directory
// refresh timestamp).
func (db *DB) SetSyncState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetSyncState retrieves a sync checkpoint value, or "" if unset.
func (db *DB) GetSyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
