// Package engine runs the detection pipeline: it fans a cycle's data out to
// every agent concurrently, fans the results into the coordinator, and
// broadcasts each completed cycle to subscribers with last-write-wins
// semantics.
//
// A failed agent (error, panic, or timeout) contributes an empty result and
// is simply absent from the cycle's detecting_agents; a single agent can
// never fail a cycle. The final report set does not depend on agent
// scheduling order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/streamlens/internal/agents"
	"github.com/example/streamlens/internal/coordinator"
	"github.com/example/streamlens/internal/graph"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/observability"
)

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the engine.
type Config struct {
	// AgentTimeout bounds a single agent's Analyze call.
	AgentTimeout time.Duration

	// HistoryLimit caps the retained historical points.
	HistoryLimit int

	// Metrics receives pipeline instrumentation; nil disables it.
	Metrics *observability.Metrics

	// Logger for engine operations.
	Logger *slog.Logger
}

// DefaultConfig returns a 30s agent timeout and 10k-point history.
func DefaultConfig() Config {
	return Config{
		AgentTimeout: 30 * time.Second,
		HistoryLimit: 10000,
		Logger:       slog.Default(),
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine owns the agents, the coordinator, and the shared knowledge graph.
type Engine struct {
	config      Config
	agents      []agents.Agent
	coordinator *coordinator.Coordinator
	graph       *graph.Graph
	logger      *slog.Logger

	mu      sync.Mutex
	history []model.DataPoint

	broadcast *Broadcaster
}

// New assembles an engine over the given agents and coordinator.
func New(config Config, agentList []agents.Agent, coord *coordinator.Coordinator, g *graph.Graph) *Engine {
	defaults := DefaultConfig()
	if config.AgentTimeout == 0 {
		config.AgentTimeout = defaults.AgentTimeout
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Engine{
		config:      config,
		agents:      agentList,
		coordinator: coord,
		graph:       g,
		logger:      config.Logger.With("component", "engine"),
		broadcast:   NewBroadcaster(config.Metrics),
	}
}

// Graph exposes the knowledge graph for query endpoints.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Ingest appends a batch to the engine's history and returns the cycle ID
// assigned to it. The core never fetches; adapters push batches here.
func (e *Engine) Ingest(points []model.DataPoint) string {
	e.mu.Lock()
	e.history = append(e.history, points...)
	if overflow := len(e.history) - e.config.HistoryLimit; overflow > 0 {
		e.history = e.history[overflow:]
	}
	e.mu.Unlock()

	if m := e.config.Metrics; m != nil {
		m.IngestedPoints.Add(float64(len(points)))
	}
	return uuid.NewString()
}

// History returns a snapshot of the retained points.
func (e *Engine) History() []model.DataPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.DataPoint(nil), e.history...)
}

// Analyze runs one full detection cycle over the current batch.
// historical may be nil, in which case the engine's ingested history is
// used. The call is synchronous; agents run concurrently inside it.
func (e *Engine) Analyze(ctx context.Context, current, historical []model.DataPoint) (model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return model.AnalysisResult{}, err
	}

	started := time.Now()
	cycleID := uuid.NewString()

	ctx, span := observability.Tracer().Start(ctx, "engine.analyze")
	span.SetAttributes(
		attribute.String("cycle.id", cycleID),
		attribute.Int("cycle.points", len(current)),
	)
	defer span.End()

	if historical == nil {
		historical = e.History()
	}

	results := e.runAgents(ctx, current, historical)

	result := e.coordinator.Synthesize(results)
	result.CycleID = cycleID

	snapshot := e.graph.ExportGraph()
	result.KnowledgeGraph = &model.GraphSnapshot{
		Nodes: nodesToMaps(snapshot.Nodes),
		Edges: edgesToMaps(snapshot.Edges),
		Stats: statsToMap(snapshot.Stats),
	}

	e.observeCycle(result, time.Since(started), snapshot)
	e.broadcast.Publish(result)

	return result, nil
}

// runAgents fans out to every agent concurrently and collects results in
// the registered agent order, so downstream output is schedule-independent.
func (e *Engine) runAgents(ctx context.Context, current, historical []model.DataPoint) []model.AgentResult {
	results := make([]model.AgentResult, len(e.agents))

	var wg sync.WaitGroup
	for i, agent := range e.agents {
		wg.Add(1)
		go func(slot int, agent agents.Agent) {
			defer wg.Done()
			results[slot] = e.runAgent(ctx, agent, current, historical)
		}(i, agent)
	}
	wg.Wait()

	return results
}

// runAgent executes one agent under its timeout with panic isolation. Any
// failure mode degrades to an empty result.
func (e *Engine) runAgent(ctx context.Context, agent agents.Agent, current, historical []model.DataPoint) (result model.AgentResult) {
	agentCtx, cancel := context.WithTimeout(ctx, e.config.AgentTimeout)
	defer cancel()

	started := time.Now()
	ctx, span := observability.Tracer().Start(agentCtx, "agent.analyze")
	span.SetAttributes(attribute.String("agent.name", agent.Name()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("agent panicked", "agent", agent.Name(), "panic", fmt.Sprint(r))
			e.recordFailure(agent.Name())
			result = emptyAgentResult(agent)
		}
		if m := e.config.Metrics; m != nil {
			m.AgentDuration.WithLabelValues(agent.Name()).Observe(time.Since(started).Seconds())
		}
	}()

	res, err := agent.Analyze(ctx, current, historical)
	if err != nil {
		e.logger.Warn("agent failed, continuing without it", "agent", agent.Name(), "error", err)
		e.recordFailure(agent.Name())
		return emptyAgentResult(agent)
	}
	return res
}

func (e *Engine) recordFailure(name string) {
	if m := e.config.Metrics; m != nil {
		m.AgentFailures.WithLabelValues(name).Inc()
	}
}

func emptyAgentResult(agent agents.Agent) model.AgentResult {
	return model.AgentResult{
		AgentName: agent.Name(),
		Weight:    agent.Weight(),
		Anomalies: []model.AgentAnomaly{},
		Metadata:  map[string]any{"failed": true},
	}
}

// Subscribe registers a consumer of completed cycles. Slow subscribers see
// only the most recent result; older unread cycles are superseded.
func (e *Engine) Subscribe() (<-chan model.AnalysisResult, func()) {
	return e.broadcast.Subscribe()
}

func (e *Engine) observeCycle(result model.AnalysisResult, elapsed time.Duration, snapshot graph.Export) {
	m := e.config.Metrics
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	for _, r := range result.Reports {
		m.AnomaliesTotal.WithLabelValues(string(r.Severity)).Inc()
	}
	m.ReportsPublished.Add(float64(len(result.Reports)))
	m.GraphNodes.Set(float64(snapshot.Stats.Nodes))
	m.GraphEdges.Set(float64(snapshot.Stats.Edges))
}

// =============================================================================
// Snapshot Conversion
// =============================================================================

func nodesToMaps(nodes []graph.NodeData) []map[string]any {
	out := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		out[i] = map[string]any{
			"id":         n.ID,
			"timestamp":  n.Timestamp,
			"source":     n.Source,
			"metric":     n.Metric,
			"value":      n.Value,
			"confidence": n.Confidence,
			"severity":   n.Severity,
			"methods":    n.Methods,
		}
	}
	return out
}

func edgesToMaps(edges []graph.Edge) []map[string]any {
	out := make([]map[string]any, len(edges))
	for i, e := range edges {
		out[i] = map[string]any{
			"source":     e.From,
			"target":     e.To,
			"type":       e.Type,
			"confidence": e.Confidence,
			"created_at": e.CreatedAt,
		}
	}
	return out
}

func statsToMap(s graph.Stats) map[string]any {
	out := map[string]any{
		"num_nodes":      s.Nodes,
		"num_edges":      s.Edges,
		"num_signatures": s.Signatures,
		"avg_degree":     s.AvgDegree,
	}
	if s.OldestNode != nil {
		out["oldest_node"] = *s.OldestNode
	}
	if s.NewestNode != nil {
		out["newest_node"] = *s.NewestNode
	}
	return out
}
