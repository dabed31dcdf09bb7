// Package store persists chat sessions, messages, retrieval sources, and
// course-material chunks in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"studybuddy/internal/logging"
)

// LocalStore is the SQLite-backed persistence layer. A single store serves
// session history, per-message source records, and the chunk corpus used for
// retrieval.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore ready at %s", path)
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	sessionTable := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON chat_sessions(owner_id);
	`

	messageTable := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id);
	`

	// One row per (message, source). The UNIQUE constraint plus
	// INSERT OR IGNORE makes source persistence idempotent under retries.
	sourceTable := `
	CREATE TABLE IF NOT EXISTS message_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		content_preview TEXT NOT NULL DEFAULT '',
		chunk_number INTEGER NOT NULL DEFAULT 0,
		document_id TEXT NOT NULL DEFAULT '',
		slide_number INTEGER,
		lecture_id TEXT NOT NULL DEFAULT '',
		start_seconds REAL,
		end_seconds REAL,
		course_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(message_id, source_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sources_message ON message_sources(message_id);
	CREATE INDEX IF NOT EXISTS idx_sources_session ON message_sources(session_id);
	`

	chunkTable := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		corpus TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		name TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL DEFAULT '',
		slide_number INTEGER,
		lecture_id TEXT NOT NULL DEFAULT '',
		start_seconds REAL,
		end_seconds REAL,
		course_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_corpus ON chunks(corpus);
	CREATE INDEX IF NOT EXISTS idx_chunks_course ON chunks(course_id);
	`

	for _, schema := range []string{sessionTable, messageTable, sourceTable, chunkTable} {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.dbPath
}
