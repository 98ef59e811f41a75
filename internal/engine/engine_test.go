package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/streamlens/internal/agents"
	"github.com/example/streamlens/internal/coordinator"
	"github.com/example/streamlens/internal/graph"
	"github.com/example/streamlens/internal/model"
)

func ts(minute int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
}

// stubAgent lets tests inject behavior: findings, errors, panics, hangs.
type stubAgent struct {
	name    string
	weight  float64
	result  model.AgentResult
	err     error
	panics  bool
	blockCh chan struct{}
}

func (s *stubAgent) Name() string    { return s.name }
func (s *stubAgent) Weight() float64 { return s.weight }

func (s *stubAgent) Analyze(ctx context.Context, _, _ []model.DataPoint) (model.AgentResult, error) {
	if s.panics {
		panic("agent exploded")
	}
	if s.blockCh != nil {
		select {
		case <-s.blockCh:
		case <-ctx.Done():
			return model.AgentResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return model.AgentResult{}, s.err
	}
	return s.result, nil
}

func healthyAgent(name string, confidence float64) *stubAgent {
	return &stubAgent{
		name:   name,
		weight: 0.25,
		result: model.AgentResult{
			AgentName: name,
			Weight:    0.25,
			Anomalies: []model.AgentAnomaly{{
				AgentName:        name,
				AgentWeight:      0.25,
				Source:           "cryptocurrency",
				Metric:           "price_usd",
				Timestamp:        ts(1),
				Value:            42000,
				HasValue:         true,
				Confidence:       confidence,
				Severity:         model.SeverityHigh,
				SeverityScore:    0.8,
				DetectionMethods: []string{"zscore"},
			}},
		},
	}
}

func newEngine(agentList []agents.Agent) *Engine {
	g := graph.New(graph.Config{})
	coord := coordinator.New(coordinator.Config{}, g)
	return New(Config{AgentTimeout: time.Second}, agentList, coord, g)
}

func TestAnalyze_FansOutAndSynthesizes(t *testing.T) {
	e := newEngine([]agents.Agent{
		healthyAgent("StatisticalAgent", 0.9),
		healthyAgent("TemporalAgent", 0.8),
	})

	result, err := e.Analyze(context.Background(), []model.DataPoint{{Source: "cryptocurrency", Metric: "price_usd", Value: 1, Timestamp: ts(0)}}, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if result.TotalAnomalies != 1 {
		t.Fatalf("reports = %d, want 1", result.TotalAnomalies)
	}
	if len(result.Reports[0].DetectingAgents) != 2 {
		t.Errorf("detecting agents = %v", result.Reports[0].DetectingAgents)
	}
	if result.CycleID == "" {
		t.Error("cycle id missing")
	}
	if result.KnowledgeGraph == nil {
		t.Error("graph snapshot missing")
	}
}

func TestAnalyze_FailedAgentDoesNotFailCycle(t *testing.T) {
	e := newEngine([]agents.Agent{
		healthyAgent("StatisticalAgent", 0.9),
		&stubAgent{name: "BrokenAgent", weight: 0.25, err: errors.New("upstream exploded")},
	})

	result, err := e.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("a single agent failure must not fail the cycle: %v", err)
	}

	for _, report := range result.Reports {
		for _, agent := range report.DetectingAgents {
			if agent == "BrokenAgent" {
				t.Error("failed agent must be absent from detecting_agents")
			}
		}
	}
	// Both agents are still consulted in metadata.
	if len(result.Metadata.AgentsConsulted) != 2 {
		t.Errorf("agents consulted = %v", result.Metadata.AgentsConsulted)
	}
}

func TestAnalyze_PanickingAgentIsIsolated(t *testing.T) {
	e := newEngine([]agents.Agent{
		healthyAgent("StatisticalAgent", 0.9),
		&stubAgent{name: "PanicAgent", weight: 0.25, panics: true},
	})

	result, err := e.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.TotalAnomalies != 1 {
		t.Errorf("healthy agent's finding lost: reports = %d", result.TotalAnomalies)
	}
}

func TestAnalyze_TimedOutAgentYieldsEmptyResult(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	e := newEngine([]agents.Agent{
		healthyAgent("StatisticalAgent", 0.9),
		&stubAgent{name: "SlowAgent", weight: 0.25, blockCh: block},
	})

	started := time.Now()
	result, err := e.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("cycle blocked on slow agent for %v", elapsed)
	}
	if result.TotalAnomalies != 1 {
		t.Errorf("reports = %d, want the healthy agent's finding", result.TotalAnomalies)
	}
}

func TestAnalyze_OrderIndependent(t *testing.T) {
	run := func(reversed bool) model.AnalysisResult {
		list := []agents.Agent{
			healthyAgent("StatisticalAgent", 0.9),
			healthyAgent("TemporalAgent", 0.8),
		}
		if reversed {
			list[0], list[1] = list[1], list[0]
		}
		result, err := newEngine(list).Analyze(context.Background(), nil, nil)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		return result
	}

	forward := run(false)
	backward := run(true)

	if len(forward.Reports) != len(backward.Reports) {
		t.Fatalf("report counts differ under reordering")
	}
	for i := range forward.Reports {
		f, b := forward.Reports[i], backward.Reports[i]
		if f.AnomalyID != b.AnomalyID || f.ConsensusScore != b.ConsensusScore {
			t.Errorf("report %d depends on agent order", i)
		}
	}
}

func TestAnalyze_EmptyBatch(t *testing.T) {
	e := newEngine([]agents.Agent{
		&stubAgent{name: "StatisticalAgent", weight: 0.25, result: model.AgentResult{
			AgentName: "StatisticalAgent", Weight: 0.25, Anomalies: []model.AgentAnomaly{},
		}},
	})

	result, err := e.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("empty batch must not fail: %v", err)
	}
	if result.TotalAnomalies != 0 {
		t.Errorf("reports = %d, want 0", result.TotalAnomalies)
	}
	if len(result.Metadata.AgentsConsulted) != 1 {
		t.Error("metadata must still list consulted agents")
	}
}

func TestIngest_BoundsHistory(t *testing.T) {
	g := graph.New(graph.Config{})
	coord := coordinator.New(coordinator.Config{}, g)
	e := New(Config{HistoryLimit: 5}, nil, coord, g)

	var batch []model.DataPoint
	for i := 0; i < 8; i++ {
		batch = append(batch, model.DataPoint{Source: "s", Metric: "m", Value: float64(i), Timestamp: ts(i)})
	}
	cycleID := e.Ingest(batch)
	if cycleID == "" {
		t.Error("ingest must return a cycle id")
	}

	history := e.History()
	if len(history) != 5 {
		t.Fatalf("history = %d points, want capped at 5", len(history))
	}
	if history[0].Value != 3 {
		t.Errorf("oldest retained value = %v, want 3 (oldest evicted first)", history[0].Value)
	}
}

func TestBroadcaster_LastWriteWins(t *testing.T) {
	b := NewBroadcaster(nil)

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(model.AnalysisResult{CycleID: "c1"})
	b.Publish(model.AnalysisResult{CycleID: "c2"})
	b.Publish(model.AnalysisResult{CycleID: "c3"})

	got := <-ch
	if got.CycleID != "c3" {
		t.Errorf("slow subscriber read %q, want latest c3", got.CycleID)
	}

	select {
	case stale := <-ch:
		t.Errorf("unexpected extra result %q", stale.CycleID)
	default:
	}
}

func TestBroadcaster_LateSubscriberSeesLatest(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Publish(model.AnalysisResult{CycleID: "c1"})

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if got.CycleID != "c1" {
			t.Errorf("late subscriber read %q, want c1", got.CycleID)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber never received the latest state")
	}
}
