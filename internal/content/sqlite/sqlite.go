// Package sqlite implements content.Collection on an embedded SQLite
// database using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/engagement-analytics/internal/content"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(collection, updated_at DESC);
`

// Store is a content.Collection persisted in one SQLite table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" yields a
// private in-memory database held on a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is its own database; pin one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get fetches a document by ID.
func (s *Store) Get(ctx context.Context, collection, id string) (content.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Document{}, fmt.Errorf("%s/%s: %w", collection, id, content.ErrNotFound)
	}
	return doc, err
}

// List returns every document in the collection ordered by ID.
func (s *Store) List(ctx context.Context, collection string) ([]content.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? ORDER BY id`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return collectDocuments(rows)
}

// Create stores a new document. A duplicate ID yields content.ErrExists.
func (s *Store) Create(ctx context.Context, collection string, doc content.Document) (content.Document, error) {
	raw, err := prepare(collection, doc)
	if err != nil {
		return content.Document{}, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO NOTHING`,
		collection, doc.ID, string(raw), now.UnixNano(), now.UnixNano())
	if err != nil {
		return content.Document{}, fmt.Errorf("insert %s/%s: %w", collection, doc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return content.Document{}, fmt.Errorf("%s/%s: %w", collection, doc.ID, content.ErrExists)
	}
	return s.Get(ctx, collection, doc.ID)
}

// Update replaces the data of an existing document.
func (s *Store) Update(ctx context.Context, collection string, doc content.Document) (content.Document, error) {
	raw, err := prepare(collection, doc)
	if err != nil {
		return content.Document{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), s.now().UnixNano(), collection, doc.ID)
	if err != nil {
		return content.Document{}, fmt.Errorf("update %s/%s: %w", collection, doc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return content.Document{}, fmt.Errorf("%s/%s: %w", collection, doc.ID, content.ErrNotFound)
	}
	return s.Get(ctx, collection, doc.ID)
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, content.ErrNotFound)
	}
	return nil
}

// Query returns documents whose top-level field equals value, compared as
// JSON values.
func (s *Store) Query(ctx context.Context, collection, field string, value any) ([]content.Document, error) {
	if err := content.ValidateName("field", field); err != nil {
		return nil, err
	}
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode query value: %v", content.ErrInvalid, err)
	}
	path := `$."` + strings.ReplaceAll(field, `"`, ``) + `"`
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents
		 WHERE collection = ? AND json_extract(data, ?) = json_extract(?, '$')
		 ORDER BY id`,
		collection, path, string(want))
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", collection, field, err)
	}
	return collectDocuments(rows)
}

func prepare(collection string, doc content.Document) ([]byte, error) {
	if err := content.ValidateName("collection", collection); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: empty id", content.ErrInvalid)
	}
	return content.EncodeData(doc.Data)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (content.Document, error) {
	var (
		id               string
		raw              string
		created, updated int64
	)
	if err := row.Scan(&id, &raw, &created, &updated); err != nil {
		return content.Document{}, err
	}
	data, err := content.DecodeData([]byte(raw))
	if err != nil {
		return content.Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return content.Document{
		ID:        id,
		Data:      data,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

func collectDocuments(rows *sql.Rows) ([]content.Document, error) {
	defer rows.Close()
	var out []content.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
