package coordinator

import (
	"strings"
	"testing"
	"time"

	"github.com/example/streamlens/internal/graph"
	"github.com/example/streamlens/internal/model"
)

func ts(minute, second int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).
		Add(time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

func finding(agent string, weight float64, source, metric string, at time.Time, confidence, severityScore float64) model.AgentAnomaly {
	return model.AgentAnomaly{
		AgentName:        agent,
		AgentWeight:      weight,
		Source:           source,
		Metric:           metric,
		Timestamp:        at,
		Value:            42,
		HasValue:         true,
		Confidence:       confidence,
		Severity:         model.SeverityMedium,
		SeverityScore:    severityScore,
		DetectionMethods: []string{"zscore"},
		Explanation:      "value outside normal range",
	}
}

func result(agent string, weight float64, anomalies ...model.AgentAnomaly) model.AgentResult {
	return model.AgentResult{AgentName: agent, Weight: weight, Anomalies: anomalies}
}

func TestSynthesize_GroupsAndScores(t *testing.T) {
	g := graph.New(graph.Config{})
	c := New(Config{ConsensusThreshold: 0.6}, g)

	at := ts(5, 10)
	results := []model.AgentResult{
		result("StatisticalAgent", 0.25,
			finding("StatisticalAgent", 0.25, "cryptocurrency", "price_usd", at, 0.9, 0.8)),
		result("TemporalAgent", 0.25,
			finding("TemporalAgent", 0.25, "cryptocurrency", "price_usd", at.Add(20*time.Second), 0.7, 0.6)),
		result("ContextAgent", 0.15),
	}

	out := c.Synthesize(results)

	if out.TotalAnomalies != 1 {
		t.Fatalf("reports = %d, want 1 (same minute group)", out.TotalAnomalies)
	}
	report := out.Reports[0]

	// Weighted consensus with equal weights is the plain mean.
	if diff := report.ConsensusScore - 0.8; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("consensus = %v, want 0.8", report.ConsensusScore)
	}
	if report.DetectionCount != 2 {
		t.Errorf("detection count = %d, want 2", report.DetectionCount)
	}
	if len(report.DetectingAgents) != 2 {
		t.Errorf("detecting agents = %v", report.DetectingAgents)
	}
	// Representative is the higher-confidence member.
	if !report.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want representative's %v", report.Timestamp, at)
	}
	if report.AnomalyID != "cryptocurrency_price_usd_20250601_120510" {
		t.Errorf("anomaly id = %q", report.AnomalyID)
	}
	if !strings.Contains(report.Explanation, "[StatisticalAgent]") ||
		!strings.Contains(report.Explanation, " | ") {
		t.Errorf("explanation = %q", report.Explanation)
	}
	if report.Narrative == "" {
		t.Error("narrative missing")
	}
	if len(out.Metadata.AgentsConsulted) != 3 {
		t.Errorf("agents consulted = %v", out.Metadata.AgentsConsulted)
	}

	// The accepted report is mirrored into the graph.
	if _, ok := g.Node(report.AnomalyID); !ok {
		t.Error("report not published to knowledge graph")
	}
}

func TestSynthesize_ConsensusThresholdFilters(t *testing.T) {
	c := New(Config{ConsensusThreshold: 0.6}, graph.New(graph.Config{}))

	results := []model.AgentResult{
		result("StatisticalAgent", 0.25,
			finding("StatisticalAgent", 0.25, "weather", "temperature", ts(1, 0), 0.4, 0.5)),
	}

	out := c.Synthesize(results)
	if out.TotalAnomalies != 0 {
		t.Errorf("reports = %d, want 0 below threshold", out.TotalAnomalies)
	}
	if out.Metadata.TotalDetections != 1 {
		t.Errorf("total detections = %d, want 1", out.Metadata.TotalDetections)
	}
}

func TestSynthesize_SortStableBySeverityThenConsensus(t *testing.T) {
	c := New(Config{}, graph.New(graph.Config{}))

	results := []model.AgentResult{
		result("StatisticalAgent", 0.25,
			finding("StatisticalAgent", 0.25, "a", "m", ts(0, 0), 0.7, 0.5),
			finding("StatisticalAgent", 0.25, "b", "m", ts(1, 0), 0.9, 0.9),
			finding("StatisticalAgent", 0.25, "c", "m", ts(2, 0), 0.8, 0.9),
		),
	}

	out := c.Synthesize(results)
	if len(out.Reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(out.Reports))
	}
	if out.Reports[0].Source != "b" || out.Reports[1].Source != "c" || out.Reports[2].Source != "a" {
		t.Errorf("sort order = %s, %s, %s", out.Reports[0].Source, out.Reports[1].Source, out.Reports[2].Source)
	}
}

func TestSynthesize_MultiSourceFoldsIntoCoMinuteGroup(t *testing.T) {
	g := graph.New(graph.Config{})
	c := New(Config{ConsensusThreshold: 0.6}, g)

	at := ts(60, 0)
	crypto := finding("StatisticalAgent", 0.25, "cryptocurrency", "price_usd", at.Add(5*time.Second), 0.9, 0.8)
	simultaneous := model.AgentAnomaly{
		AgentName:        "CorrelationAgent",
		AgentWeight:      0.20,
		Source:           MultiSourceKey,
		Metric:           "correlation",
		Type:             "simultaneous_anomaly",
		Timestamp:        at.Add(30 * time.Second),
		Confidence:       0.67,
		Severity:         model.SeverityMedium,
		SeverityScore:    0.6,
		DetectionMethods: []string{"simultaneous_anomaly"},
		Explanation:      "multiple sources moved together",
	}

	out := c.Synthesize([]model.AgentResult{
		result("StatisticalAgent", 0.25, crypto),
		result("CorrelationAgent", 0.20, simultaneous),
	})

	if out.TotalAnomalies != 1 {
		t.Fatalf("reports = %d, want one merged report", out.TotalAnomalies)
	}
	report := out.Reports[0]
	if len(report.DetectingAgents) != 2 {
		t.Errorf("detecting agents = %v, want both", report.DetectingAgents)
	}
	if report.ConsensusScore < 0.6 {
		t.Errorf("consensus = %v, want >= 0.6", report.ConsensusScore)
	}
	if report.Source != "cryptocurrency" {
		t.Errorf("merged report source = %q, want the concrete source", report.Source)
	}
}

func TestSynthesize_PublishedSignaturesAreSimilar(t *testing.T) {
	g := graph.New(graph.Config{})
	c := New(Config{}, g)

	// Two near-identical spikes on the same series, minutes apart: the
	// published signatures must match on source, metric, pattern, and
	// magnitude, which only works if the detector deviation survives the
	// agent -> coordinator -> graph path.
	target := finding("StatisticalAgent", 0.25, "cryptocurrency", "price_usd", ts(0, 0), 0.9, 0.8)
	target.Type = "spike"
	target.Fields = map[string]any{"deviation": 4.0}

	twin := finding("StatisticalAgent", 0.25, "cryptocurrency", "price_usd", ts(30, 0), 0.85, 0.8)
	twin.Type = "spike"
	twin.Fields = map[string]any{"deviation": 3.9}

	out := c.Synthesize([]model.AgentResult{
		result("StatisticalAgent", 0.25, target, twin),
	})
	if len(out.Reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(out.Reports))
	}

	targetID := model.AnomalyID("cryptocurrency", "price_usd", ts(0, 0))
	node, ok := g.Node(targetID)
	if !ok {
		t.Fatalf("published node %s missing", targetID)
	}
	if node.Deviation != 4.0 {
		t.Fatalf("node deviation = %v, want the detector's 4.0", node.Deviation)
	}

	similar := g.FindSimilar(targetID, 5)
	if len(similar) != 1 {
		t.Fatalf("similar = %d, want the twin", len(similar))
	}
	twinID := model.AnomalyID("cryptocurrency", "price_usd", ts(30, 0))
	if similar[0].AnomalyID != twinID {
		t.Errorf("similar[0] = %s, want %s", similar[0].AnomalyID, twinID)
	}
	// source+metric+pattern (0.7) plus the magnitude ratio term.
	wantScore := 0.7 + 0.3*3.9/4.0
	if diff := similar[0].Similarity - wantScore; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("similarity = %v, want %v", similar[0].Similarity, wantScore)
	}
}

func TestSynthesize_RelationshipDerivation(t *testing.T) {
	g := graph.New(graph.Config{})
	c := New(Config{}, g)

	first := finding("StatisticalAgent", 0.25, "cryptocurrency", "price_usd", ts(0, 0), 0.9, 0.9)
	second := finding("TemporalAgent", 0.25, "cryptocurrency", "volume", ts(2, 0), 0.8, 0.6)
	far := finding("StatisticalAgent", 0.25, "weather", "temperature", ts(45, 0), 0.85, 0.7)

	out := c.Synthesize([]model.AgentResult{
		result("StatisticalAgent", 0.25, first, far),
		result("TemporalAgent", 0.25, second),
	})
	if len(out.Reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(out.Reports))
	}

	id1 := model.AnomalyID("cryptocurrency", "price_usd", ts(0, 0))
	id2 := model.AnomalyID("cryptocurrency", "volume", ts(2, 0))
	idFar := model.AnomalyID("weather", "temperature", ts(45, 0))

	// 2 minutes apart: temporal (either direction per sort order),
	// same source: correlation, earlier->later within 10 minutes: causal.
	if !g.HasEdge(id1, id2, graph.EdgeTemporal) && !g.HasEdge(id2, id1, graph.EdgeTemporal) {
		t.Error("temporal edge missing")
	}
	if !g.HasEdge(id1, id2, graph.EdgeCorrelation) && !g.HasEdge(id2, id1, graph.EdgeCorrelation) {
		t.Error("correlation edge missing")
	}
	if !g.HasEdge(id1, id2, graph.EdgeCausal) {
		t.Error("causal edge must run from the earlier to the later anomaly")
	}
	if g.HasEdge(id1, idFar, graph.EdgeCausal) || g.HasEdge(idFar, id1, graph.EdgeCausal) {
		t.Error("no causal edge should span 45 minutes")
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	build := func() model.AnalysisResult {
		c := New(Config{}, graph.New(graph.Config{}))
		return c.Synthesize([]model.AgentResult{
			result("StatisticalAgent", 0.25,
				finding("StatisticalAgent", 0.25, "a", "m", ts(0, 0), 0.8, 0.7),
				finding("StatisticalAgent", 0.25, "b", "m", ts(1, 0), 0.9, 0.7)),
			result("TemporalAgent", 0.25,
				finding("TemporalAgent", 0.25, "a", "m", ts(0, 30), 0.75, 0.7)),
		})
	}

	first := build()
	second := build()

	if len(first.Reports) != len(second.Reports) {
		t.Fatalf("report counts differ: %d vs %d", len(first.Reports), len(second.Reports))
	}
	for i := range first.Reports {
		a, b := first.Reports[i], second.Reports[i]
		if a.AnomalyID != b.AnomalyID || a.ConsensusScore != b.ConsensusScore ||
			a.SeverityScore != b.SeverityScore || a.Narrative != b.Narrative {
			t.Errorf("report %d differs between identical runs", i)
		}
	}
}

func TestSynthesize_EmptyInput(t *testing.T) {
	c := New(Config{}, graph.New(graph.Config{}))

	out := c.Synthesize([]model.AgentResult{
		result("StatisticalAgent", 0.25),
		result("TemporalAgent", 0.25),
	})

	if out.TotalAnomalies != 0 {
		t.Errorf("reports = %d, want 0", out.TotalAnomalies)
	}
	if len(out.Metadata.AgentsConsulted) != 2 {
		t.Errorf("agents consulted = %v, want both present", out.Metadata.AgentsConsulted)
	}
}
