// Package uuid generates event and page-load identifiers.
package uuid

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Sequence derives name-based UUIDv5 values from a seed and a counter, so a
// replayed trace produces the same identifiers every run.
type Sequence struct {
	mu        sync.Mutex
	namespace uuid.UUID
	next      uint64
}

// NewSequence returns a Sequence rooted at seed.
func NewSequence(seed string) *Sequence {
	return &Sequence{namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed))}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return uuid.NewSHA1(s.namespace, []byte(strconv.FormatUint(s.next, 10))).String(), nil
}
