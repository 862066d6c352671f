// Package store persists session identity and conversation history in a
// single SQLite file. Sessions map a stable session key to a backend thread
// id; messages hang off a session and are removed with it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Message is one persisted conversation turn.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Store wraps the SQLite database holding sessions and messages.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			thread_id   TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			last_used   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL REFERENCES sessions(session_key) ON DELETE CASCADE,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			timestamp   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width, unlike RFC3339Nano which trims trailing
// fraction zeros. Stored TEXT must sort lexically in time order for the
// last_used cutoff comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// LoadAll returns the full session_key -> thread_id mapping.
func (s *Store) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_key, thread_id FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]string)
	for rows.Next() {
		var key, threadID string
		if err := rows.Scan(&key, &threadID); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions[key] = threadID
	}

	return sessions, rows.Err()
}

// Upsert inserts or replaces the thread id for a session key and refreshes
// last_used. First insert also sets created_at.
func (s *Store) Upsert(ctx context.Context, key, threadID string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, thread_id, created_at, last_used)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
			thread_id = excluded.thread_id,
			last_used = excluded.last_used`,
		key, threadID, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// Touch updates last_used for a session key. Touching an unknown key is a
// no-op rather than an error.
func (s *Store) Touch(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used = ? WHERE session_key = ?`, now(), key)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// AppendMessage appends one conversation turn to a session's history.
func (s *Store) AppendMessage(ctx context.Context, key, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_key, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		key, role, content, now())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages for a session key, ordered
// oldest to newest. Rowids are insertion-ordered, which is the order that
// matters for history; timestamps are display metadata.
func (s *Store) RecentMessages(ctx context.Context, key string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages
		 WHERE session_key = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if parsed, err := time.Parse(timeLayout, ts); err == nil {
			m.Timestamp = parsed
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; flip to oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// DeleteStale removes sessions whose last_used is older than maxAge and
// returns how many were deleted. Message rows go with them via FK cascade.
func (s *Store) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_used < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
