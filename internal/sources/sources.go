// Package sources defines the contract between upstream telemetry producers
// and the detection core. Concrete API clients (exchange data, weather
// observations, code-forge metrics) are external collaborators: the core
// only requires that an adapter produce tagged, timestamped data points.
//
// Each adapter owns a single-writer cache and a sliding-window rate limiter
// so upstream quotas are respected without shared state.
package sources

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/ratelimit"
)

// ErrRateLimited is returned when an adapter's quota window is exhausted
// and no cached batch is available.
var ErrRateLimited = errors.New("sources: rate limited and no cached data")

// Adapter produces one batch of data points per collection call.
type Adapter interface {
	// Name identifies the adapter's source tag.
	Name() string

	// Collect fetches (or replays) the next batch. An empty batch is a
	// valid result; the core never crashes on one.
	Collect(ctx context.Context) ([]model.DataPoint, error)
}

// =============================================================================
// Cached Adapter
// =============================================================================

// Fetcher is the raw upstream call an adapter wraps.
type Fetcher func(ctx context.Context) ([]model.DataPoint, error)

// CachedConfig configures a cached, rate-limited adapter.
type CachedConfig struct {
	// Name is the adapter's source tag.
	Name string

	// TTL is how long a fetched batch stays fresh.
	TTL time.Duration

	// RateLimit bounds upstream calls.
	RateLimit ratelimit.Config

	// Logger for adapter operations.
	Logger *slog.Logger
}

// Cached wraps a Fetcher with a TTL cache and a rate limiter: fresh cache
// hits skip the upstream call, and when the limiter rejects a call the last
// stale batch is served instead of an error.
type Cached struct {
	config  CachedConfig
	fetch   Fetcher
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	batch     []model.DataPoint
	fetchedAt time.Time
}

// NewCached creates a cached adapter around the fetcher.
func NewCached(config CachedConfig, fetch Fetcher) *Cached {
	if config.TTL == 0 {
		config.TTL = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Cached{
		config:  config,
		fetch:   fetch,
		limiter: ratelimit.New(config.RateLimit),
		logger:  config.Logger.With("source", config.Name),
	}
}

func (c *Cached) Name() string { return c.config.Name }

// Collect serves from cache when fresh, otherwise fetches under the rate
// limit. A failed or rate-limited fetch degrades to the stale batch. With
// no batch at all, a failed fetch yields an empty batch and a rate-limited
// call returns ErrRateLimited.
func (c *Cached) Collect(ctx context.Context) ([]model.DataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batch != nil && time.Since(c.fetchedAt) < c.config.TTL {
		return append([]model.DataPoint(nil), c.batch...), nil
	}

	if !c.limiter.Allow(c.config.Name) {
		if c.batch != nil {
			c.logger.Debug("rate limited, serving stale batch", "points", len(c.batch))
			return append([]model.DataPoint(nil), c.batch...), nil
		}
		return nil, ErrRateLimited
	}

	batch, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("fetch failed", "error", err)
		if c.batch != nil {
			return append([]model.DataPoint(nil), c.batch...), nil
		}
		// An adapter failure surfaces as an empty batch downstream.
		return []model.DataPoint{}, nil
	}

	c.batch = batch
	c.fetchedAt = time.Now()
	return append([]model.DataPoint(nil), batch...), nil
}

// =============================================================================
// Replay Adapter
// =============================================================================

// Replay serves pre-recorded batches in order, then keeps returning the
// final batch. It stands in for live clients in the worker's dry-run mode
// and in integration tests, and is fully deterministic.
type Replay struct {
	name    string
	batches [][]model.DataPoint

	mu   sync.Mutex
	next int
}

// NewReplay creates a replay adapter over recorded batches.
func NewReplay(name string, batches [][]model.DataPoint) *Replay {
	return &Replay{name: name, batches: batches}
}

func (r *Replay) Name() string { return r.name }

// Collect returns the next recorded batch.
func (r *Replay) Collect(_ context.Context) ([]model.DataPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.batches) == 0 {
		return []model.DataPoint{}, nil
	}
	batch := r.batches[r.next]
	if r.next < len(r.batches)-1 {
		r.next++
	}
	return append([]model.DataPoint(nil), batch...), nil
}

// CollectAll gathers one batch from every adapter, concatenated in adapter
// order. A failing adapter contributes nothing; the cycle proceeds with the
// remaining sources.
func CollectAll(ctx context.Context, adapters []Adapter, logger *slog.Logger) []model.DataPoint {
	if logger == nil {
		logger = slog.Default()
	}

	var all []model.DataPoint
	for _, adapter := range adapters {
		batch, err := adapter.Collect(ctx)
		if err != nil {
			logger.Warn("adapter collection failed", "source", adapter.Name(), "error", err)
			continue
		}
		all = append(all, batch...)
	}
	return all
}
