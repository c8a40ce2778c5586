package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of engagement represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindPageView      Kind = "page_view"
	KindArticleOpened Kind = "article_opened"
	KindScrollDepth   Kind = "scroll_depth"
	KindDwellTime     Kind = "dwell_time"
	KindClick         Kind = "click"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindPageView, KindArticleOpened, KindScrollDepth, KindDwellTime, KindClick}

// Attribute keys carried by events.
const (
	AttrTitle               = "title"
	AttrURL                 = "url"
	AttrPath                = "path"
	AttrQuery               = "query"
	AttrExpectedReadMinutes = "expected_read_minutes"
	AttrPercent             = "percent"
	AttrSeconds             = "seconds"
	AttrAction              = "action"
	AttrLabel               = "label"
	AttrCategory            = "category"
)

// Click categories recorded under AttrCategory.
const (
	CategorySocial   = "social"
	CategoryRelated  = "related"
	CategoryExternal = "external"
	CategoryGeneric  = "generic"
)

// Event is a single normalized engagement signal. Attributes are copied on
// construction and only exposed through copying accessors, so a constructed
// Event never changes.
type Event struct {
	// ID uniquely identifies the event (UUIDv7); stamped by the pipeline.
	ID string
	// PageLoad identifies the page load that produced the event.
	PageLoad string
	// Kind is the engagement type.
	Kind Kind
	// Subject is the article or page the event is about.
	Subject string
	// OccurredAt is the UTC time recorded by the tracker.
	OccurredAt time.Time

	attrs map[string]any
}

// NewEvent builds an Event, taking a private copy of attrs.
func NewEvent(kind Kind, subject string, at time.Time, attrs map[string]any) Event {
	return Event{
		Kind:       kind,
		Subject:    subject,
		OccurredAt: at,
		attrs:      copyAttrs(attrs),
	}
}

// Stamp returns a copy of the event carrying the given identifiers.
func (e Event) Stamp(id, pageLoad string) Event {
	out := e
	out.ID = id
	out.PageLoad = pageLoad
	return out
}

// Attributes returns a copy of the event attributes.
func (e Event) Attributes() map[string]any {
	return copyAttrs(e.attrs)
}

// Attr returns a single attribute value.
func (e Event) Attr(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// IntAttr returns an integer attribute, accepting any Go numeric type as
// well as float64 values decoded from JSON.
func (e Event) IntAttr(key string) (int64, bool) {
	switch v := e.attrs[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// StringAttr returns a string attribute or "" when absent.
func (e Event) StringAttr(key string) string {
	s, _ := e.attrs[key].(string)
	return s
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindPageView:
		if e.StringAttr(AttrURL) == "" {
			return errors.New("page view requires url")
		}
	case KindArticleOpened:
		if e.Subject == "" {
			return errors.New("article opened requires subject")
		}
	case KindScrollDepth:
		if _, ok := e.IntAttr(AttrPercent); !ok {
			return errors.New("scroll depth requires percent")
		}
	case KindDwellTime:
		secs, ok := e.IntAttr(AttrSeconds)
		if !ok {
			return errors.New("dwell time requires seconds")
		}
		if secs < 0 {
			return errors.New("seconds must be >= 0")
		}
	case KindClick:
		if e.StringAttr(AttrAction) == "" {
			return errors.New("click requires action")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

type wireEvent struct {
	ID         string         `json:"id,omitempty"`
	PageLoad   string         `json:"page_load,omitempty"`
	Kind       Kind           `json:"kind"`
	Subject    string         `json:"subject"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// MarshalJSON encodes the event with snake_case keys.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(wireEvent{
		ID:         e.ID,
		PageLoad:   e.PageLoad,
		Kind:       e.Kind,
		Subject:    e.Subject,
		Attributes: e.attrs,
		OccurredAt: e.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes an event produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	*e = Event{
		ID:         w.ID,
		PageLoad:   w.PageLoad,
		Kind:       w.Kind,
		Subject:    w.Subject,
		OccurredAt: w.OccurredAt,
		attrs:      w.Attributes,
	}
	return nil
}

func copyAttrs(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
