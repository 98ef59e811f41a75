//go:build events_nats
// +build events_nats

package app

import (
	"fmt"

	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/events"
)

// newTaggedBus builds the NATS backend.
func newTaggedBus(cfg config.Config) (events.Bus, error) {
	if cfg.Bus.Backend != "nats" {
		return nil, fmt.Errorf("app: bus backend %q not compiled in (built with events_nats)", cfg.Bus.Backend)
	}
	natsCfg := events.DefaultNATSConfig()
	natsCfg.URL = cfg.Bus.NATSURL
	return events.NewNATSBus(natsCfg)
}
