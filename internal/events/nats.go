//go:build events_nats
// +build events_nats

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements Bus over NATS, optionally with JetStream persistence,
// for distributing anomaly reports across services.
type NATSBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	mu     sync.RWMutex
	subs   map[string]*nats.Subscription
	closed bool
	config NATSConfig
}

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding pipeline events.
	StreamName string

	// DurableName is the consumer durable name.
	DurableName string

	// MaxReconnects bounds reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration

	// EnableJetStream turns on persistent delivery.
	EnableJetStream bool

	// StreamMaxAge is the retention horizon for persisted events.
	StreamMaxAge time.Duration

	// AckWait is how long JetStream waits for an ack.
	AckWait time.Duration
}

// DefaultNATSConfig returns sensible defaults for a local NATS server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      "ANOMALIES",
		DurableName:     "streamlens",
		MaxReconnects:   10,
		ReconnectWait:   2 * time.Second,
		EnableJetStream: true,
		StreamMaxAge:    24 * time.Hour,
		AckWait:         30 * time.Second,
	}
}

// NewNATSBus connects to NATS and prepares the event stream.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}

	nc, err := nats.Connect(config.URL,
		nats.Name("streamlens event bus"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	bus := &NATSBus{
		nc:     nc,
		subs:   make(map[string]*nats.Subscription),
		config: config,
	}

	if config.EnableJetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("events: jetstream context: %w", err)
		}
		bus.js = js
		if err := bus.ensureStream(); err != nil {
			nc.Close()
			return nil, fmt.Errorf("events: ensure stream: %w", err)
		}
	}
	return bus, nil
}

func (b *NATSBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.config.StreamName,
		Subjects:  []string{b.config.StreamName + ".>"},
		Retention: nats.InterestPolicy,
		MaxAge:    b.config.StreamMaxAge,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := b.js.StreamInfo(b.config.StreamName); err != nil {
		if err == nats.ErrStreamNotFound {
			_, err = b.js.AddStream(streamConfig)
			return err
		}
		return err
	}
	_, err := b.js.UpdateStream(streamConfig)
	return err
}

// Publish sends an event to its subject.
func (b *NATSBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = nats.NewInbox()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	subject := b.subject(event.Type)
	if b.js != nil {
		if _, err := b.js.Publish(subject, data); err != nil {
			return fmt.Errorf("events: jetstream publish: %w", err)
		}
		return nil
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
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

	msgHandler := func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		safeDispatch(handler, event)
		if msg.Reply != "" {
			msg.Ack()
		}
	}

	var sub *nats.Subscription
	var err error
	subject := b.subject(topic)
	if b.js != nil {
		sub, err = b.js.Subscribe(subject, msgHandler,
			nats.Durable(b.config.DurableName+"-"+topic),
			nats.ManualAck(),
			nats.AckWait(b.config.AckWait),
		)
	} else {
		sub, err = b.nc.Subscribe(subject, msgHandler)
	}
	if err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}

	b.subs[topic] = sub
	return nil
}

// Close drains and shuts down the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

func (b *NATSBus) subject(eventType string) string {
	if eventType == "*" {
		return b.config.StreamName + ".>"
	}
	return b.config.StreamName + "." + eventType
}

// Compile-time interface check
var _ Bus = (*NATSBus)(nil)
