// Package realtime carries collaboration events between the sessions attached
// to a document. Delivery is best effort: a slow subscriber misses events and
// re-syncs by requesting the document state.
package realtime

import (
	"context"
	"time"
)

// EventType names a collaboration event.
type EventType string

const (
	EventFieldUpdate EventType = "field_update"
	EventFieldFocus  EventType = "field_focus"
	EventFieldBlur   EventType = "field_blur"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
)

// Event is the payload relayed between sessions of one document.
type Event struct {
	Type        EventType `json:"type"`
	DocumentID  string    `json:"documentId"`
	Sender      string    `json:"sender"`
	Participant string    `json:"participant,omitempty"`
	FieldID     string    `json:"fieldId,omitempty"`
	Property    string    `json:"property,omitempty"`
	Value       string    `json:"value,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Channel is a publish/subscribe primitive keyed by document ID.
type Channel interface {
	// Publish must not block on slow subscribers.
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, documentID string) (Subscription, error)
	Close() error
}

// Subscription receives the events published for one document, including
// the subscriber's own. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// DropFunc is called for every event discarded because a subscriber's
// buffer was full.
type DropFunc func(Event)

const defaultBuffer = 64

type options struct {
	buffer int
	onDrop DropFunc
}

// Option configures a Channel implementation.
type Option func(*options)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithDropFunc installs a callback for discarded events.
func WithDropFunc(fn DropFunc) Option {
	return func(o *options) { o.onDrop = fn }
}

func newOptions(opts []Option) options {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
