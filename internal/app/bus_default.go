//go:build !events_nats && !events_redis
// +build !events_nats,!events_redis

package app

import (
	"fmt"

	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/events"
)

// newTaggedBus is the fallback when no distributed backend is compiled in:
// asking for one is a configuration error surfaced at startup.
func newTaggedBus(cfg config.Config) (events.Bus, error) {
	return nil, fmt.Errorf("app: bus backend %q requires building with the events_%s tag",
		cfg.Bus.Backend, cfg.Bus.Backend)
}
