package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// EventRepository appends analytics events to durable storage. Inserting an
// event whose ID is already stored must not fail.
type EventRepository interface {
	InsertEvents(ctx context.Context, events []analytics.Event) error
}

// Row is the flattened, column-oriented form of an analytics.Event shared by
// the SQL-backed repositories.
type Row struct {
	ID         string
	PageLoad   string
	Kind       string
	Subject    string
	OccurredAt time.Time
	// Attributes is the JSON-encoded attribute map.
	Attributes []byte
}

// RowFromEvent flattens evt. Timestamps are normalized to UTC.
func RowFromEvent(evt analytics.Event) (Row, error) {
	attrs, err := json.Marshal(evt.Attributes())
	if err != nil {
		return Row{}, fmt.Errorf("encode attributes for %s: %w", evt.Kind, err)
	}
	return Row{
		ID:         evt.ID,
		PageLoad:   evt.PageLoad,
		Kind:       string(evt.Kind),
		Subject:    evt.Subject,
		OccurredAt: evt.OccurredAt.UTC(),
		Attributes: attrs,
	}, nil
}
