// Package events carries completed analysis results and accepted anomaly
// reports between the pipeline and downstream consumers through a
// publish/subscribe Bus.
//
// Three backends implement the Bus interface: the in-memory bus (default,
// also used by tests), a NATS backend (build tag events_nats), and a Redis
// Streams backend (build tag events_redis).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the pipeline.
const (
	// EventReportCreated fires once per accepted anomaly report.
	EventReportCreated = "anomaly.report.created"

	// EventCycleCompleted fires once per finished analysis cycle.
	EventCycleCompleted = "analysis.cycle.completed"

	// EventGraphEvicted fires when the knowledge graph evicts nodes.
	EventGraphEvicted = "graph.nodes.evicted"

	// EventSourceStalled fires when a source adapter produces an empty
	// batch repeatedly.
	EventSourceStalled = "source.stalled"
)

// Sentinel errors.
var (
	// ErrBusClosed is returned when publishing to a closed bus.
	ErrBusClosed = errors.New("events: bus is closed")

	// ErrNilHandler is returned when subscribing with a nil handler.
	ErrNilHandler = errors.New("events: nil handler")

	// ErrEmptyTopic is returned when subscribing to an empty topic.
	ErrEmptyTopic = errors.New("events: empty topic")

	// ErrEmptyEventType is returned when publishing an event with no type.
	ErrEmptyEventType = errors.New("events: empty event type")
)

// Event is one message on the bus. Events are immutable once published.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type is the event kind, dot-namespaced.
	Type string `json:"type"`

	// Payload is the event body; must be JSON-serializable.
	Payload any `json:"payload"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Source names the component that emitted the event.
	Source string `json:"source,omitempty"`

	// CycleID links the event to the analysis cycle that produced it.
	CycleID string `json:"cycle_id,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// WithCycle tags the event with its analysis cycle.
func (e Event) WithCycle(cycleID string) Event {
	e.CycleID = cycleID
	return e
}

// WithSource sets the emitting component.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// Validate checks required fields.
func (e Event) Validate() error {
	if e.Type == "" {
		return ErrEmptyEventType
	}
	return nil
}

// JSON serializes the event.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// Bus
// =============================================================================

// Handler processes a delivered event.
type Handler func(Event)

// Bus is the publish/subscribe contract. Implementations must be safe for
// concurrent use.
type Bus interface {
	// Publish sends an event to all subscribers of its type.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for events matching the topic; "*"
	// matches every type.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close shuts down the bus and releases resources.
	Close() error
}

// =============================================================================
// In-Memory Bus
// =============================================================================

// InMemoryBus dispatches events synchronously in-process. It is the default
// backend and the one the test suite runs against.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	closed      bool
}

// NewInMemoryBus creates an empty in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subscribers: make(map[string][]Handler)}
}

// Publish delivers the event to all matching handlers before returning.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers["*"]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeDispatch(handler, event)
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" {
		return ErrEmptyTopic
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

// Close marks the bus closed; further publishes fail with ErrBusClosed.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}

// safeDispatch isolates handler panics from the publisher.
func safeDispatch(handler Handler, event Event) {
	defer func() {
		_ = recover()
	}()
	handler(event)
}

// Compile-time interface check
var _ Bus = (*InMemoryBus)(nil)
