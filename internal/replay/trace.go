// Package replay drives a page load from a recorded NDJSON signal trace. The
// trace runs on a virtual clock, so debounce windows and dwell times follow
// the recorded offsets rather than the wall clock.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/botfilter"
)

// ErrMalformed marks a trace that cannot be replayed.
var ErrMalformed = errors.New("malformed trace")

// Signal types.
const (
	TypeEnvironment = "environment"
	TypeNavigate    = "navigate"
	TypeOpen        = "open"
	TypeScroll      = "scroll"
	TypeClose       = "close"
	TypeClick       = "click"
	TypePageView    = "page_view"
	TypeUnmount     = "unmount"
)

const maxLineBytes = 1 << 20

// Signal is one recorded UI observation. Only the fields relevant to Type
// are read.
type Signal struct {
	AtMs int64  `json:"at_ms"`
	Type string `json:"type"`

	// environment
	UserAgent string   `json:"user_agent,omitempty"`
	Webdriver bool     `json:"webdriver,omitempty"`
	Globals   []string `json:"globals,omitempty"`

	// navigate
	Path  string `json:"path,omitempty"`
	Query string `json:"query,omitempty"`

	// open
	Subject  string `json:"subject,omitempty"`
	ReadTime string `json:"read_time,omitempty"`

	// scroll
	Offset float64 `json:"offset,omitempty"`
	Extent float64 `json:"extent,omitempty"`

	// click and page_view
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
	Target   string `json:"target,omitempty"`
	URL      string `json:"url,omitempty"`
	Label    string `json:"label,omitempty"`
	Title    string `json:"title,omitempty"`
}

// At returns the signal offset from the start of the trace.
func (s Signal) At() time.Duration {
	return time.Duration(s.AtMs) * time.Millisecond
}

// Environment converts an environment signal. A signal without a globals
// list leaves the runtime globals unknown.
func (s Signal) Environment() botfilter.Environment {
	env := botfilter.Environment{UserAgent: s.UserAgent, Webdriver: s.Webdriver}
	if s.Globals != nil {
		env.Globals = make(map[string]bool, len(s.Globals))
		for _, g := range s.Globals {
			env.Globals[g] = true
		}
	}
	return env
}

// Decode reads an NDJSON trace. Blank lines are skipped. Unknown types,
// unknown fields, negative or decreasing offsets are rejected with
// ErrMalformed.
func Decode(r io.Reader) ([]Signal, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		signals []Signal
		lineNo  int
		lastAt  int64
	)
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		var sig Signal
		if err := dec.Decode(&sig); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
		}
		if err := sig.validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
		}
		if sig.AtMs < lastAt {
			return nil, fmt.Errorf("%w: line %d: at_ms %d before %d", ErrMalformed, lineNo, sig.AtMs, lastAt)
		}
		lastAt = sig.AtMs
		signals = append(signals, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return signals, nil
}

func (s Signal) validate() error {
	if s.AtMs < 0 {
		return fmt.Errorf("negative at_ms %d", s.AtMs)
	}
	switch s.Type {
	case TypeEnvironment, TypeNavigate, TypeOpen, TypeScroll, TypeClose, TypePageView, TypeUnmount:
		return nil
	case TypeClick:
		switch s.Category {
		case "", analytics.CategoryGeneric, analytics.CategorySocial,
			analytics.CategoryRelated, analytics.CategoryExternal:
			return nil
		}
		return fmt.Errorf("unknown click category %q", s.Category)
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
}
