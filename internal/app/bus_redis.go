//go:build events_redis && !events_nats
// +build events_redis,!events_nats

package app

import (
	"context"
	"fmt"

	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/events"
)

// newTaggedBus builds the Redis Streams backend.
func newTaggedBus(cfg config.Config) (events.Bus, error) {
	if cfg.Bus.Backend != "redis" {
		return nil, fmt.Errorf("app: bus backend %q not compiled in (built with events_redis)", cfg.Bus.Backend)
	}
	redisCfg := events.DefaultRedisConfig()
	redisCfg.Addr = cfg.Bus.RedisURL
	return events.NewRedisBus(context.Background(), redisCfg)
}
