package engine

import (
	"sync"

	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/observability"
)

// Broadcaster fans completed cycle results out to subscribers. Each
// subscriber channel buffers exactly one result; publishing to a full
// channel first drains the stale result, so a slow consumer always reads
// the latest completed cycle and never blocks the pipeline.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan model.AnalysisResult
	nextID  int
	latest  *model.AnalysisResult
	metrics *observability.Metrics
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[int]chan model.AnalysisResult),
		metrics: metrics,
	}
}

// Subscribe returns a result channel and its cancel function. A new
// subscriber immediately receives the most recent completed cycle, if any.
func (b *Broadcaster) Subscribe() (<-chan model.AnalysisResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan model.AnalysisResult, 1)
	b.subs[id] = ch

	if b.latest != nil {
		ch <- *b.latest
	}
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
			if b.metrics != nil {
				b.metrics.Subscribers.Set(float64(len(b.subs)))
			}
		}
	}
	return ch, cancel
}

// Publish delivers a result to every subscriber, superseding any unread
// previous result (last-write-wins).
func (b *Broadcaster) Publish(result model.AnalysisResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &result
	for _, ch := range b.subs {
		select {
		case ch <- result:
		default:
			// Drop the stale result and replace it.
			select {
			case <-ch:
				if b.metrics != nil {
					b.metrics.BroadcastsDropped.Inc()
				}
			default:
			}
			ch <- result
		}
	}
}
