package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection with thread-safe operations
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Session is one finished run of an agent or recorder.
type Session struct {
	ID        string
	Mode      string // "agent" or "recorder"
	Seat      int
	Reason    string
	Frames    int64
	StartedAt time.Time
	EndedAt   time.Time
	Error     string

	// Decision counts; zero for recordings.
	ModelFrames    int64
	FallbackFrames int64
	Demotions      int64

	// Dataset rows appended; zero for agent runs.
	Dataset string
	Rows    int64
}

func (s Session) Duration() time.Duration { return s.EndedAt.Sub(s.StartedAt) }

// Open creates or opens the history database at path and ensures the schema.
func Open(path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty history database path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,            -- KSUID, sorts by start time
		mode TEXT NOT NULL,
		seat INTEGER NOT NULL,
		reason TEXT NOT NULL,
		frames INTEGER NOT NULL,
		started_at INTEGER NOT NULL,    -- unix nanos
		ended_at INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		model_frames INTEGER NOT NULL DEFAULT 0,
		fallback_frames INTEGER NOT NULL DEFAULT 0,
		demotions INTEGER NOT NULL DEFAULT 0,
		dataset TEXT NOT NULL DEFAULT '',
		dataset_rows INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores a finished session. Recording the same ID twice replaces the
// earlier row.
func (db *DB) Record(ctx context.Context, s Session) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, mode, seat, reason, frames, started_at, ended_at, error,
			 model_frames, fallback_frames, demotions, dataset, dataset_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Mode, s.Seat, s.Reason, s.Frames,
		s.StartedAt.UnixNano(), s.EndedAt.UnixNano(), s.Error,
		s.ModelFrames, s.FallbackFrames, s.Demotions, s.Dataset, s.Rows,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}
	return nil
}

const selectColumns = `id, mode, seat, reason, frames, started_at, ended_at, error,
	model_frames, fallback_frames, demotions, dataset, dataset_rows`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s              Session
		started, ended int64
	)
	err := row.Scan(&s.ID, &s.Mode, &s.Seat, &s.Reason, &s.Frames, &started, &ended, &s.Error,
		&s.ModelFrames, &s.FallbackFrames, &s.Demotions, &s.Dataset, &s.Rows)
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	s.EndedAt = time.Unix(0, ended)
	return s, nil
}

// Get looks up one session.
func (db *DB) Get(ctx context.Context, id string) (Session, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, err := scanSession(db.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Recent returns up to limit sessions, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
