package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/alfred/internal/history"
)

const DefaultTable = "supervision_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Options selects the server and destination table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			occurred_at DateTime64(6),
			event LowCardinality(String),
			backend String,
			pid UInt32,
			owned Bool,
			state LowCardinality(String),
			attempt UInt16,
			message String,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, backend)`)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, event, backend, pid, owned, state, attempt, message, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		e.OccurredAt.UTC(),
		string(e.Type),
		e.Backend,
		uint32(max(e.PID, 0)),
		e.Owned,
		e.State,
		uint16(max(e.Attempt, 0)),
		e.Message,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT occurred_at, event, backend, pid, owned, state, attempt, message, error
		FROM %s ORDER BY occurred_at DESC LIMIT %d`, s.table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			pid     uint32
			attempt uint16
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Backend, &pid, &e.Owned, &e.State, &attempt, &e.Message, &e.Error); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.PID = int(pid)
		e.Attempt = int(attempt)
		out = append(out, e)
	}
	return out, rows.Err()
}
