package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store implements domain.SessionStore on an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_members (
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS active_round (
		chat_id INTEGER PRIMARY KEY,
		question_id INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		lead_id INTEGER NOT NULL,
		respondent_id INTEGER,
		completed INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (chat_id) REFERENCES sessions(chat_id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS last_round (
		chat_id INTEGER PRIMARY KEY,
		lead_id INTEGER NOT NULL,
		lead_name TEXT NOT NULL,
		completed INTEGER NOT NULL,
		correct INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint failure, the backstop for "one active round per chat".
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
