package store

import (
	"strings"
	"unicode/utf8"
)

// FTS5 is a compile-time option of the bundled SQLite (the sqlite_fts5
// build tag on mattn/go-sqlite3). The index is created only when the
// module is present; otherwise SearchMessages falls back to a LIKE scan
// so a default build still works, just without ranking.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		body,
		content='messages',
		content_rowid='id'
	)`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE OF body ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
		INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
	END`,
}

// initSearchIndex sets up the FTS index when the loaded SQLite has the
// fts5 module compiled in. Returns whether full-text search is available.
func (db *DB) initSearchIndex() (bool, error) {
	var n int
	if err := db.QueryRow(
		`SELECT count(*) FROM pragma_compile_options WHERE compile_options = 'ENABLE_FTS5'`,
	).Scan(&n); err != nil {
		return false, err
	}
	if n == 0 {
		// A db written by an fts5-enabled build may carry the sync
		// triggers; without the module they would break every insert.
		for _, trg := range []string{"messages_fts_insert", "messages_fts_delete", "messages_fts_update"} {
			if _, err := db.Exec(`DROP TRIGGER IF EXISTS ` + trg); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	var existing int
	if err := db.QueryRow(`
		SELECT count(*) FROM sqlite_master
		WHERE name IN ('messages_fts', 'messages_fts_insert', 'messages_fts_delete', 'messages_fts_update')`,
	).Scan(&existing); err != nil {
		return false, err
	}

	for _, stmt := range ftsSchema {
		if _, err := db.Exec(stmt); err != nil {
			return false, err
		}
	}

	// Index everything already stored whenever any piece of the schema was
	// missing: first run, or a db written while fts5 was unavailable.
	if existing < len(ftsSchema) {
		if _, err := db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if !db.fts {
		return db.searchLike(query, conversationID, limit)
	}

	q := `
		SELECT m.id, m.conversation_id, m.msg_id, m.sender_id, m.sender_name, m.body,
		       m.status, m.from_me, m.pending, m.seq, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Body,
			&r.Message.Status, &r.Message.FromMe, &r.Message.Pending,
			&r.Message.Seq, &r.Message.CreatedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchLike is the substring fallback used when fts5 is unavailable.
func (db *DB) searchLike(query, conversationID string, limit int) ([]SearchResult, error) {
	q := `
		SELECT id, conversation_id, msg_id, sender_id, sender_name, body,
		       status, from_me, pending, seq, created_at
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Body,
			&r.Message.Status, &r.Message.FromMe, &r.Message.Pending,
			&r.Message.Seq, &r.Message.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Snippet = likeSnippet(r.Message.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

// likeSnippet marks the first match the way the fts5 snippet() call does,
// with up to 32 bytes of context on either side.
func likeSnippet(body, query string) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 {
		if len(body) > 64 {
			return body[:64] + "..."
		}
		return body
	}

	start := idx - 32
	prefix := ""
	if start > 0 {
		for start < idx && !utf8.RuneStart(body[start]) {
			start++
		}
		prefix = "..."
	} else {
		start = 0
	}

	end := idx + len(query) + 32
	suffix := ""
	if end < len(body) {
		for end > idx+len(query) && !utf8.RuneStart(body[end]) {
			end--
		}
		suffix = "..."
	} else {
		end = len(body)
	}

	match := body[idx : idx+len(query)]
	return prefix + body[start:idx] + "<<" + match + ">>" + body[idx+len(query):end] + suffix
}
