package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Collection for development and tests. Documents are
// stored encoded so callers never share maps with the store.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	collections map[string]map[string]storedDoc
}

type storedDoc struct {
	raw       []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemory constructs an empty Memory collection.
func NewMemory() *Memory {
	return &Memory{
		now:         func() time.Time { return time.Now().UTC() },
		collections: make(map[string]map[string]storedDoc),
	}
}

// Get fetches a document by ID.
func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return stored.document(id)
}

// List returns every document in the collection ordered by ID.
func (m *Memory) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(collection, func(Document) bool { return true })
}

// Create stores a new document. A duplicate ID yields ErrExists.
func (m *Memory) Create(_ context.Context, collection string, doc Document) (Document, error) {
	if err := validate(collection, doc.ID); err != nil {
		return Document{}, err
	}
	raw, err := EncodeData(doc.Data)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]storedDoc)
		m.collections[collection] = docs
	}
	if _, exists := docs[doc.ID]; exists {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, doc.ID, ErrExists)
	}
	now := m.now()
	stored := storedDoc{raw: raw, createdAt: now, updatedAt: now}
	docs[doc.ID] = stored
	return stored.document(doc.ID)
}

// Update replaces the data of an existing document.
func (m *Memory) Update(_ context.Context, collection string, doc Document) (Document, error) {
	if err := validate(collection, doc.ID); err != nil {
		return Document{}, err
	}
	raw, err := EncodeData(doc.Data)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.collections[collection][doc.ID]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, doc.ID, ErrNotFound)
	}
	stored.raw = raw
	stored.updatedAt = m.now()
	m.collections[collection][doc.ID] = stored
	return stored.document(doc.ID)
}

// Delete removes a document.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.collections[collection], id)
	return nil
}

// Query returns documents whose top-level field equals value.
func (m *Memory) Query(_ context.Context, collection, field string, value any) ([]Document, error) {
	if err := ValidateName("field", field); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(collection, func(doc Document) bool {
		got, ok := doc.Data[field]
		return ok && sameJSON(got, value)
	})
}

func (m *Memory) filterLocked(collection string, keep func(Document) bool) ([]Document, error) {
	docs := m.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := docs[id].document(id)
		if err != nil {
			return nil, err
		}
		if keep(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s storedDoc) document(id string) (Document, error) {
	data, err := DecodeData(s.raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: data, CreatedAt: s.createdAt, UpdatedAt: s.updatedAt}, nil
}

func validate(collection, id string) error {
	if err := ValidateName("collection", collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	return nil
}
