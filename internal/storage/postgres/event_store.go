// Package postgres persists analytics events in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for events.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EventStore implements store.EventRepository on a single Postgres table.
type EventStore struct {
	pool  txPool
	table string
}

var _ store.EventRepository = (*EventStore)(nil)

// NewEventStore connects to Postgres and ensures the events table exists.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sinks.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewEventStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewEventStoreWithPool(pool txPool, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "engagement_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the events table and its page-load index.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          TEXT PRIMARY KEY,
			page_load   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			subject     TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			attributes  JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS %[1]s_page_load_idx ON %[1]s (page_load, occurred_at);
	`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// InsertEvents writes the batch in one transaction. Events already stored
// are skipped; events without an ID are ignored.
func (s *EventStore) InsertEvents(ctx context.Context, events []analytics.Event) (err error) {
	rows := make([]store.Row, 0, len(events))
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, page_load, kind, subject, occurred_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, s.table)
	for _, row := range rows {
		if _, err = tx.Exec(ctx, query,
			row.ID,
			row.PageLoad,
			row.Kind,
			row.Subject,
			row.OccurredAt,
			row.Attributes,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", row.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *EventStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
