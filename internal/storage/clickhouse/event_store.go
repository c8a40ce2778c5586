// Package clickhouse persists analytics events in a ClickHouse table for
// columnar reporting.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config describes how to reach ClickHouse over the native protocol.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Batch is the subset of a prepared ClickHouse batch used by the store.
type Batch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// Conn is the subset of a ClickHouse connection used by the store.
type Conn interface {
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// EventStore implements store.EventRepository. Duplicate IDs collapse on
// merge through the ReplacingMergeTree engine.
type EventStore struct {
	conn  Conn
	table string
}

var _ store.EventRepository = (*EventStore)(nil)

// Open dials ClickHouse, pings it and ensures the events table exists.
func Open(ctx context.Context, cfg Config) (*EventStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("sinks.clickhouse.addr is required")
	}
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: ch.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "engagement-analytics", Version: "1.0.0"}},
		},
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	s, err := NewEventStore(nativeConn{conn: conn}, cfg.Table)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewEventStore wraps an existing connection.
func NewEventStore(conn Conn, table string) (*EventStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	if table == "" {
		table = "engagement_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EventStore{conn: conn, table: table}, nil
}

// EnsureSchema creates the events table when missing.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          String,
			page_load   String,
			kind        LowCardinality(String),
			subject     String,
			occurred_at DateTime64(3, 'UTC'),
			attributes  String
		) ENGINE = ReplacingMergeTree
		ORDER BY (kind, id)
	`, s.table)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// InsertEvents sends the batch in a single native insert. Events without an
// ID are skipped.
func (s *EventStore) InsertEvents(ctx context.Context, events []analytics.Event) error {
	var rows []store.Row
	for _, evt := range events {
		if evt.ID == "" {
			continue
		}
		row, err := store.RowFromEvent(evt)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, page_load, kind, subject, occurred_at, attributes)", s.table))
	if err != nil {
		return fmt.Errorf("prepare clickhouse batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(
			row.ID,
			row.PageLoad,
			row.Kind,
			row.Subject,
			row.OccurredAt,
			string(row.Attributes),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append event %s: %w", row.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send clickhouse batch: %w", err)
	}
	return nil
}

// Close releases the connection.
func (s *EventStore) Close(context.Context) error {
	return s.conn.Close()
}

type nativeConn struct {
	conn driver.Conn
}

func (n nativeConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	return n.conn.PrepareBatch(ctx, query)
}

func (n nativeConn) Exec(ctx context.Context, query string, args ...any) error {
	return n.conn.Exec(ctx, query, args...)
}

func (n nativeConn) Close() error {
	return n.conn.Close()
}
