// ABOUTME: SQLite-backed transcript persistence using modernc.org/sqlite
// ABOUTME: Stores conversation turns per session key with automatic schema creation

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is a single persisted conversation turn.
type Entry struct {
	ID         string
	SessionKey string
	Role       string
	Text       string
	CreatedAt  time.Time
}

// Store persists conversation transcripts to SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a transcript store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "history")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcript (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			text        TEXT NOT NULL,
			created_at  TEXT NOT NULL,

			CHECK (role IN ('system', 'user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_transcript_session
			ON transcript(session_key, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one conversation turn for a session.
func (s *Store) Append(ctx context.Context, sessionKey, role, text string) error {
	query := `
		INSERT INTO transcript (id, session_key, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, query,
		id,
		sessionKey,
		role,
		text,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transcript entry: %w", err)
	}

	s.logger.Debug("saved transcript entry", "id", id, "session_key", sessionKey, "role", role)
	return nil
}

// Recent retrieves the most recent `limit` turns for a session in
// chronological order (oldest first). System turns are excluded, matching
// what clients are allowed to see. If limit is 0 or negative, all turns
// are returned.
func (s *Store) Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent turns, but return them in chronological order
		query = `
			SELECT id, session_key, role, text, created_at
			FROM (
				SELECT seq, id, session_key, role, text, created_at
				FROM transcript
				WHERE session_key = ? AND role != 'system'
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{sessionKey, limit}
	} else {
		query = `
			SELECT id, session_key, role, text, created_at
			FROM transcript
			WHERE session_key = ? AND role != 'system'
			ORDER BY seq ASC
		`
		args = []any{sessionKey}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAtStr string

		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Role, &e.Text, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}

		e.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing transcript created_at: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}

	return entries, nil
}

// DeleteSession removes all turns for a session key.
func (s *Store) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM transcript WHERE session_key = ?", sessionKey)
	if err != nil {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	return nil
}
