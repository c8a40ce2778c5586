package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// BlobStore persists opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher digests content for object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// NDJSONContentType is the content type of archived batches.
const NDJSONContentType = "application/x-ndjson"

// BlobSink archives each batch as one NDJSON object named
// "<prefix>/<yyyy>/<mm>/<dd>/<digest>.ndjson", where the date is taken from
// the first event. Identical batches map to the same object.
type BlobSink struct {
	store  BlobStore
	hasher Hasher
	prefix string
	logger *zap.Logger
}

// NewBlobSink constructs a BlobSink.
func NewBlobSink(store BlobStore, hasher Hasher, prefix string, logger *zap.Logger) *BlobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobSink{store: store, hasher: hasher, prefix: prefix, logger: logger}
}

// Consume encodes and uploads the batch.
func (s *BlobSink) Consume(ctx context.Context, batch []analytics.Event) error {
	if s == nil || s.store == nil || len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, evt := range batch {
		if err := enc.Encode(evt); err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID, err)
		}
	}
	digest, err := s.hasher.Hash(buf.Bytes())
	if err != nil {
		return fmt.Errorf("hash batch: %w", err)
	}
	day := batch[0].OccurredAt.UTC().Format("2006/01/02")
	name := path.Join(s.prefix, day, digest+".ndjson")
	uri, err := s.store.PutObject(ctx, name, NDJSONContentType, &buf)
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}
	s.logger.Debug("archived batch", zap.String("uri", uri), zap.Int("count", len(batch)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BlobSink) Close(context.Context) error {
	return nil
}
