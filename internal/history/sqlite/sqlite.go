package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/alfred/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every new connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS supervision_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			backend TEXT NOT NULL,
			pid INTEGER NOT NULL,
			owned BOOLEAN NOT NULL,
			state TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			message TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_history_at ON supervision_history(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervision_history(occurred_at, event, backend, pid, owned, state, attempt, message, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Backend, e.PID, e.Owned, e.State, e.Attempt,
		nullString(e.Message), nullString(e.Error))
	return err
}

// List returns the most recent events, newest first.
func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, backend, pid, owned, state, attempt, message, error
		FROM supervision_history ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e            history.Event
			at           time.Time
			typ          string
			msg, errText sql.NullString
		)
		if err := rows.Scan(&at, &typ, &e.Backend, &e.PID, &e.Owned, &e.State, &e.Attempt, &msg, &errText); err != nil {
			return nil, err
		}
		e.OccurredAt = at
		e.Type = history.EventType(typ)
		e.Message = msg.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
