package trigger

import (
	"context"
	"time"
)

// Kind is the type of document change an Event describes.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Snapshot is the schemaless state of a document at one side of a change.
// A nil Snapshot means the document did not exist (before a create, after a
// delete). Handlers must decode it once at the boundary via the typed
// accessors or the domain Decode* helpers; they must never compute derived
// state from it (the stored source data is authoritative).
type Snapshot map[string]interface{}

func (s Snapshot) Exists() bool { return s != nil }

// String returns the string value under key, reporting whether it is present
// and non-empty.
func (s Snapshot) String(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s[key].(string)
	return v, ok && v != ""
}

// Float64 returns the numeric value under key. Event sources deliver numbers
// in whatever width their codec produced, so all common numeric types are
// accepted.
func (s Snapshot) Float64(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (s Snapshot) Bool(key string) (bool, bool) {
	if s == nil {
		return false, false
	}
	v, ok := s[key].(bool)
	return v, ok
}

// Event is one at-least-once change notification from the document store.
// Delivery is unordered, across documents and even for repeated writes to
// the same path.
type Event struct {
	Path   string
	Kind   Kind
	Before Snapshot
	After  Snapshot
	At     time.Time
}

// Params holds the named path segments captured by a Pattern match.
type Params map[string]string

// HandlerFunc reacts to a single Event. A returned error means the delivery
// failed and will be retried; handlers must therefore be safe to re-run
// from scratch.
type HandlerFunc func(ctx context.Context, evt Event, params Params) error

// On filters which change kinds a Binding fires for.
type On int

const (
	OnWrite On = iota // any create/update/delete
	OnCreate
	OnUpdate
	OnDelete
)

func (on On) matches(kind Kind) bool {
	switch on {
	case OnWrite:
		return true
	case OnCreate:
		return kind == KindCreate
	case OnUpdate:
		return kind == KindUpdate
	case OnDelete:
		return kind == KindDelete
	default:
		return false
	}
}

// Binding ties one handler to one path pattern.
type Binding struct {
	Name    string
	Pattern Pattern
	On      On
	Handle  HandlerFunc
}

// Source is any feed of document change events.
type Source interface {
	// Events returns the event channel. The channel is closed when ctx is
	// done or the underlying feed terminates.
	Events(ctx context.Context) (<-chan Event, error)
}
