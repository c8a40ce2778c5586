// Package content defines a generic keyed document collection used as an
// opaque event destination, with an in-memory implementation. The SQLite
// implementation lives in content/sqlite.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound signals that the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrExists signals that a document with the same ID is already stored.
	ErrExists = errors.New("document already exists")
	// ErrInvalid signals a malformed collection name, ID, field or payload.
	ErrInvalid = errors.New("invalid document request")
)

// Document is one JSON object stored under a collection and ID.
type Document struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collection is keyed CRUD over named collections of JSON documents. Data
// round-trips through JSON, so numbers read back as float64.
type Collection interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	Update(ctx context.Context, collection string, doc Document) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	// Query returns documents whose top-level field equals value.
	Query(ctx context.Context, collection, field string, value any) ([]Document, error)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// ValidateName checks a collection name or query field.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalid, kind, name)
	}
	return nil
}

// EncodeData marshals document data, treating nil as an empty object.
func EncodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode data: %v", ErrInvalid, err)
	}
	return raw, nil
}

// DecodeData unmarshals document data.
func DecodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return data, nil
}

// sameJSON reports whether a and b encode to the same JSON.
func sameJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}
