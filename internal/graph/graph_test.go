package graph

import (
	"fmt"
	"testing"
	"time"
)

func testNode(source, metric string, deviation float64) NodeData {
	return NodeData{
		Source:     source,
		Metric:     metric,
		Value:      42,
		Confidence: 0.8,
		Severity:   "high",
		Methods:    []string{"zscore"},
		Deviation:  deviation,
		Pattern:    "spike",
	}
}

func baseTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestGraph_AddAndQuery(t *testing.T) {
	g := New(Config{})

	ts := baseTime()
	g.AddAnomaly("a", testNode("cryptocurrency", "price_usd", 3), ts)
	g.AddAnomaly("b", testNode("github", "commit_count", 2), ts.Add(time.Minute))

	if g.NodeCount() != 2 {
		t.Fatalf("node count = %d, want 2", g.NodeCount())
	}

	g.AddRelationship("a", "b", EdgeCausal, 0.8, map[string]any{"time_diff_seconds": 60.0})
	if !g.HasEdge("a", "b", EdgeCausal) {
		t.Fatal("causal edge missing")
	}

	related := g.FindRelated("a", 2, 0.5)
	if len(related) != 1 || related[0].AnomalyID != "b" {
		t.Fatalf("related = %+v, want single neighbor b", related)
	}
	if related[0].Distance != 1 {
		t.Errorf("distance = %d, want 1", related[0].Distance)
	}
}

func TestGraph_MissingEndpointIsNoOp(t *testing.T) {
	g := New(Config{})
	g.AddAnomaly("a", testNode("weather", "temperature", 1), baseTime())

	g.AddRelationship("a", "ghost", EdgeTemporal, 0.9, nil)
	g.AddRelationship("ghost", "a", EdgeTemporal, 0.9, nil)

	if stats := g.GetStats(); stats.Edges != 0 {
		t.Errorf("edges = %d, want 0", stats.Edges)
	}
}

func TestGraph_EdgeUniquePerTriple(t *testing.T) {
	g := New(Config{})
	ts := baseTime()
	g.AddAnomaly("a", testNode("weather", "temperature", 1), ts)
	g.AddAnomaly("b", testNode("weather", "humidity", 1), ts)

	g.AddRelationship("a", "b", EdgeTemporal, 0.5, nil)
	g.AddRelationship("a", "b", EdgeTemporal, 0.9, nil) // overwrite
	g.AddRelationship("a", "b", EdgeCorrelation, 0.6, nil)

	stats := g.GetStats()
	if stats.Edges != 2 {
		t.Fatalf("edges = %d, want 2 (one per type)", stats.Edges)
	}

	export := g.ExportGraph()
	for _, e := range export.Edges {
		if e.Type == EdgeTemporal && e.Confidence != 0.9 {
			t.Errorf("temporal edge confidence = %v, want overwritten 0.9", e.Confidence)
		}
	}
}

func TestGraph_Eviction(t *testing.T) {
	g := New(Config{MaxNodes: 3})
	ts := baseTime()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		g.AddAnomaly(id, testNode("cryptocurrency", "price_usd", float64(i+1)), ts.Add(time.Duration(i)*time.Minute))
		if i > 0 {
			g.AddRelationship(fmt.Sprintf("n%d", i-1), id, EdgeCausal, 0.8, nil)
		}
	}

	if g.NodeCount() != 3 {
		t.Fatalf("node count = %d, want 3", g.NodeCount())
	}

	// The three newest survive; the two oldest are gone with their edges.
	for _, id := range []string{"n2", "n3", "n4"} {
		if _, ok := g.Node(id); !ok {
			t.Errorf("node %s should have survived eviction", id)
		}
	}
	for _, id := range []string{"n0", "n1"} {
		if _, ok := g.Node(id); ok {
			t.Errorf("node %s should have been evicted", id)
		}
	}
	if g.HasEdge("n1", "n2", EdgeCausal) {
		t.Error("edge from evicted node should be gone")
	}
	if !g.HasEdge("n3", "n4", EdgeCausal) {
		t.Error("edge between surviving nodes should remain")
	}

	// Capacity must hold after any insertion sequence.
	for i := 5; i < 30; i++ {
		g.AddAnomaly(fmt.Sprintf("n%d", i), testNode("weather", "temperature", 1), ts.Add(time.Duration(i)*time.Minute))
		if g.NodeCount() > 3 {
			t.Fatalf("capacity invariant violated at insert %d", i)
		}
	}
}

func TestGraph_CausalChains(t *testing.T) {
	g := New(Config{})
	ts := baseTime()

	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddAnomaly(id, testNode("cryptocurrency", "price_usd", 2), ts)
		ts = ts.Add(time.Minute)
	}
	g.AddRelationship("a", "b", EdgeCausal, 0.8, nil)
	g.AddRelationship("b", "c", EdgeCausal, 0.8, nil)
	g.AddRelationship("b", "d", EdgeTemporal, 0.7, nil) // not causal, must be ignored

	chains := g.FindCausalChain("a", "c", 5)
	if len(chains) != 1 {
		t.Fatalf("chains = %d, want 1", len(chains))
	}
	want := []string{"a", "b", "c"}
	for i, link := range chains[0] {
		if link.AnomalyID != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, link.AnomalyID, want[i])
		}
	}

	// Unbounded end: every prefix of length >= 2 is reported.
	open := g.FindCausalChain("a", "", 5)
	if len(open) == 0 {
		t.Fatal("expected open-ended chains")
	}
	for _, chain := range open {
		if len(chain) < 2 {
			t.Errorf("chain of length %d reported, want >= 2", len(chain))
		}
	}
}

func TestGraph_FindSimilar(t *testing.T) {
	g := New(Config{SimilarityThreshold: 0.8})
	ts := baseTime()

	g.AddAnomaly("target", testNode("cryptocurrency", "price_usd", 4.0), ts)
	g.AddAnomaly("twin", testNode("cryptocurrency", "price_usd", 3.9), ts.Add(time.Hour))
	g.AddAnomaly("unrelated", testNode("weather", "temperature", 0.1), ts.Add(2*time.Hour))

	similar := g.FindSimilar("target", 5)
	if len(similar) != 1 {
		t.Fatalf("similar = %d, want 1", len(similar))
	}
	if similar[0].AnomalyID != "twin" {
		t.Errorf("similar[0] = %s, want twin", similar[0].AnomalyID)
	}
	// source+metric+pattern (0.7) plus magnitude ratio 3.9/4.0 * 0.3.
	wantScore := 0.7 + 0.3*3.9/4.0
	if diff := similar[0].Similarity - wantScore; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("similarity = %v, want %v", similar[0].Similarity, wantScore)
	}
}

func TestGraph_TemporalNeighborsAndContext(t *testing.T) {
	g := New(Config{})
	ts := baseTime()

	g.AddAnomaly("a", testNode("cryptocurrency", "price_usd", 2), ts)
	g.AddAnomaly("near", testNode("github", "commit_count", 2), ts.Add(30*time.Minute))
	g.AddAnomaly("far", testNode("weather", "temperature", 2), ts.Add(3*time.Hour))

	neighbors := g.TemporalNeighbors("a", time.Hour)
	if len(neighbors) != 1 || neighbors[0].AnomalyID != "near" {
		t.Fatalf("neighbors = %+v, want only near", neighbors)
	}

	ctx, ok := g.GetContext("a")
	if !ok {
		t.Fatal("context missing for existing node")
	}
	if ctx.Node.Source != "cryptocurrency" {
		t.Errorf("context node source = %q", ctx.Node.Source)
	}
	if len(ctx.TemporalNeighbors) != 1 {
		t.Errorf("context temporal neighbors = %d, want 1", len(ctx.TemporalNeighbors))
	}
	if _, ok := g.GetContext("ghost"); ok {
		t.Error("context for unknown node should report absence")
	}
}

func TestGraph_ExportDeterministic(t *testing.T) {
	g := New(Config{})
	ts := baseTime()
	for _, id := range []string{"b", "a", "c"} {
		g.AddAnomaly(id, testNode("weather", "temperature", 1), ts)
	}
	g.AddRelationship("a", "b", EdgeTemporal, 0.7, nil)
	g.AddRelationship("a", "c", EdgeCorrelation, 0.6, nil)

	first := g.ExportGraph()
	second := g.ExportGraph()

	if len(first.Nodes) != 3 || len(first.Edges) != 2 {
		t.Fatalf("export = %d nodes / %d edges, want 3/2", len(first.Nodes), len(first.Edges))
	}
	for i := range first.Nodes {
		if first.Nodes[i].ID != second.Nodes[i].ID {
			t.Error("node order not deterministic")
		}
	}
	for i := range first.Edges {
		if first.Edges[i].From != second.Edges[i].From ||
			first.Edges[i].To != second.Edges[i].To ||
			first.Edges[i].Type != second.Edges[i].Type {
			t.Error("edge order not deterministic")
		}
	}
	if first.Stats.AvgDegree != second.Stats.AvgDegree {
		t.Error("stats not deterministic")
	}
}
