package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the session-owned juschat.db.
type DB struct {
	*sql.DB

	// fts records whether the loaded SQLite carries the fts5 module
	// (the sqlite_fts5 build tag). Set by Migrate.
	fts bool
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}
