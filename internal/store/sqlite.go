// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Appends to the same session must be serialized so the
	// non-decreasing timestamp invariant holds under concurrency.
	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

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

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		logger:   logger,
		sessions: make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			name    TEXT PRIMARY KEY,
			display TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session     TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			timestamp   REAL NOT NULL,
			tool_name   TEXT,
			tool_args   TEXT,
			tool_result TEXT,
			tool_ok     INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (session) REFERENCES sessions(name) ON DELETE CASCADE,

			CHECK (role IN ('user', 'assistant', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session
			ON turns(session, id);

		CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			schedule       TEXT NOT NULL,
			payload        TEXT NOT NULL,
			enabled        INTEGER NOT NULL DEFAULT 1,
			last_triggered REAL NOT NULL DEFAULT 0,
			source         TEXT NOT NULL DEFAULT 'managed',

			CHECK (source IN ('managed', 'external'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// acquireSession locks and returns the exclusive per-session lock, creating
// it on first use. DeleteSession retires a session's lock, so after acquiring
// the mutex we verify it is still the one registered for the name and retry
// with the replacement if not. Otherwise a writer holding a retired lock
// could run concurrently with one holding its successor.
func (s *SQLiteStore) acquireSession(session string) *sync.Mutex {
	for {
		s.mu.Lock()
		lock, ok := s.sessions[session]
		if !ok {
			lock = &sync.Mutex{}
			s.sessions[session] = lock
		}
		s.mu.Unlock()

		lock.Lock()
		s.mu.Lock()
		current := s.sessions[session] == lock
		s.mu.Unlock()
		if current {
			return lock
		}
		lock.Unlock()
	}
}

// retireSessionLock drops a session's lock entry so the map does not grow
// without bound as short-lived generated sessions come and go
func (s *SQLiteStore) retireSessionLock(session string) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// channelLabels maps session name prefixes to human-readable channel names
var channelLabels = map[string]string{
	"ws":   "Web",
	"api":  "API",
	"cli":  "CLI",
	"cron": "Scheduled",
}

// displayName derives the listing label from a channel-prefixed session name.
// "ws:device-1" becomes "device-1 (Web)"; names without a known prefix are
// used as-is.
func displayName(session string) string {
	prefix, rest, ok := strings.Cut(session, ":")
	if !ok || rest == "" {
		return session
	}
	label, ok := channelLabels[prefix]
	if !ok {
		return session
	}
	return fmt.Sprintf("%s (%s)", rest, label)
}

// AppendTurn adds a turn to the end of a session's sequence, creating the
// session if absent. Timestamps are clamped so the stored sequence is
// non-decreasing even if a caller's clock steps backwards.
func (s *SQLiteStore) AppendTurn(ctx context.Context, session string, turn *Turn) error {
	if session == "" {
		return fmt.Errorf("session name is empty")
	}

	lock := s.acquireSession(session)
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (name, display) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		session, displayName(session),
	)
	if err != nil {
		return fmt.Errorf("ensuring session: %w", err)
	}

	var last sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM turns WHERE session = ?`, session,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("reading last timestamp: %w", err)
	}

	ts := turn.Timestamp
	if last.Valid && ts < last.Float64 {
		ts = last.Float64
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session, role, content, timestamp, tool_name, tool_args, tool_result, tool_ok)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session, turn.Role, turn.Content, ts,
		turn.ToolName, turn.ToolArgs, turn.ToolRes, boolToInt(turn.ToolOK),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	turn.Timestamp = ts
	s.logger.Debug("appended turn", "session", session, "role", turn.Role)
	return nil
}

// ListSessions returns summaries for every known session, most recently
// updated first. A non-empty prefix restricts the result to sessions whose
// name starts with it (e.g. "ws:").
func (s *SQLiteStore) ListSessions(ctx context.Context, prefix string) ([]*SessionSummary, error) {
	query := `
		SELECT s.name, s.display, COUNT(t.id), COALESCE(MAX(t.timestamp), 0)
		FROM sessions s
		LEFT JOIN turns t ON t.session = s.name
		WHERE substr(s.name, 1, ?) = ?
		GROUP BY s.name
		ORDER BY COALESCE(MAX(t.timestamp), 0) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.Name, &sum.Display, &sum.Messages, &sum.Updated); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// GetTurns returns the full ordered turn sequence for a session.
// Returns ErrNotFound if the session has never been created or was deleted.
func (s *SQLiteStore) GetTurns(ctx context.Context, session string) ([]*Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE name = ?`, session,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp, tool_name, tool_args, tool_result, tool_ok
		 FROM turns WHERE session = ? ORDER BY id`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var toolName, toolArgs, toolRes sql.NullString
		var toolOK int
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp, &toolName, &toolArgs, &toolRes, &toolOK); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.ToolName = toolName.String
		t.ToolArgs = toolArgs.String
		t.ToolRes = toolRes.String
		t.ToolOK = toolOK != 0
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// DeleteSession removes a session and all its turns irreversibly.
// Deleting an absent session is a no-op, not an error.
//
// Turns are deleted explicitly in the same transaction as the session row.
// The foreign-key cascade cannot be trusted here: PRAGMA foreign_keys is
// per-connection and the pool may serve this statement on a connection the
// pragma never ran on, which would orphan the turns and let a later append
// resurrect the deleted history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, session string) error {
	lock := s.acquireSession(session)
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session = ?`, session); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, session); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.retireSessionLock(session)
	s.logger.Debug("deleted session", "session", session)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
