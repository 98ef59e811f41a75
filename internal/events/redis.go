//go:build events_redis
// +build events_redis

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Streams: one stream per event type,
// consumer-group delivery, at-least-once semantics.
type RedisBus struct {
	client *redis.Client
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	config RedisConfig
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password authenticates the connection; empty for none.
	Password string

	// DB selects the logical database.
	DB int

	// StreamPrefix namespaces the pipeline's streams.
	StreamPrefix string

	// Group is the consumer group name.
	Group string

	// Consumer is this process's consumer name within the group.
	Consumer string

	// MaxLen caps each stream (approximate trimming).
	MaxLen int64

	// BlockTimeout is how long readers block waiting for entries.
	BlockTimeout time.Duration
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		StreamPrefix: "streamlens:events:",
		Group:        "streamlens",
		Consumer:     "streamlens-1",
		MaxLen:       10000,
		BlockTimeout: 5 * time.Second,
	}
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, config RedisConfig) (*RedisBus, error) {
	if config.Addr == "" {
		config.Addr = DefaultRedisConfig().Addr
	}
	if config.StreamPrefix == "" {
		config.StreamPrefix = DefaultRedisConfig().StreamPrefix
	}
	if config.Group == "" {
		config.Group = DefaultRedisConfig().Group
	}
	if config.MaxLen == 0 {
		config.MaxLen = DefaultRedisConfig().MaxLen
	}
	if config.BlockTimeout == 0 {
		config.BlockTimeout = DefaultRedisConfig().BlockTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("events: redis ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client: client,
		cancel: cancel,
		config: config,
		ctx:    runCtx,
	}, nil
}

// Publish appends the event to its type's stream.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
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

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(event.Type),
		MaxLen: b.config.MaxLen,
		Approx: true,
		Values: map[string]any{"event": string(data)},
	}).Err()
}

// Subscribe starts a consumer-group reader for the topic.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
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

	stream := b.stream(topic)
	if err := b.client.XGroupCreateMkStream(ctx, stream, b.config.Group, "$").Err(); err != nil {
		// BUSYGROUP means the group already exists, which is fine.
		if !isBusyGroup(err) {
			return fmt.Errorf("events: create group: %w", err)
		}
	}

	b.wg.Add(1)
	go b.readLoop(stream, handler)
	return nil
}

func (b *RedisBus) readLoop(stream string, handler Handler) {
	defer b.wg.Done()

	for {
		if b.ctx.Err() != nil {
			return
		}

		entries, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: b.config.Consumer,
			Streams:  []string{stream, ">"},
			Count:    64,
			Block:    b.config.BlockTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil || b.ctx.Err() != nil {
				continue
			}
			// Transient read failure; back off briefly and retry.
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, result := range entries {
			for _, msg := range result.Messages {
				if raw, ok := msg.Values["event"].(string); ok {
					var event Event
					if err := json.Unmarshal([]byte(raw), &event); err == nil {
						safeDispatch(handler, event)
					}
				}
				b.client.XAck(b.ctx, stream, b.config.Group, msg.ID)
			}
		}
	}
}

// Close stops readers and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

func (b *RedisBus) stream(eventType string) string {
	return b.config.StreamPrefix + eventType
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Compile-time interface check
var _ Bus = (*RedisBus)(nil)
