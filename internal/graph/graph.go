// Package graph implements the temporal knowledge graph of anomalies: a
// directed multigraph whose nodes are published anomaly reports and whose
// typed edges (temporal, correlation, causal) link related events.
//
// The graph is process-wide shared state with one writer (the coordinator)
// and many readers (query endpoints). A single RWMutex guards the whole
// structure; traversals collect results into preallocated slices inside the
// lock and never call out while holding it.
package graph

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Edge types.
const (
	EdgeTemporal    = "temporal"
	EdgeCorrelation = "correlation"
	EdgeCausal      = "causal"
)

// =============================================================================
// Configuration
// =============================================================================

// Config bounds the knowledge graph.
type Config struct {
	// MaxNodes caps the node count; inserting past it evicts the oldest
	// nodes first.
	MaxNodes int

	// EdgeExpiry is carried in the config only; no expiry is applied to
	// edges, queries, or exports.
	EdgeExpiry time.Duration

	// SimilarityThreshold is the minimum signature score FindSimilar keeps.
	SimilarityThreshold float64

	// Logger for graph operations.
	Logger *slog.Logger
}

// DefaultConfig returns a 1000-node graph with one-week edge expiry.
func DefaultConfig() Config {
	return Config{
		MaxNodes:            1000,
		EdgeExpiry:          168 * time.Hour,
		SimilarityThreshold: 0.8,
		Logger:              slog.Default(),
	}
}

// =============================================================================
// Node, Edge, Signature
// =============================================================================

// NodeData is the report summary stored on a node.
type NodeData struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Metric     string         `json:"metric"`
	Value      float64        `json:"value"`
	Confidence float64        `json:"confidence"`
	Severity   string         `json:"severity"`
	Methods    []string       `json:"methods"`
	Deviation  float64        `json:"deviation"`
	Pattern    string         `json:"pattern"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Edge is a typed, directed relationship between two anomalies. At most one
// edge exists per (from, to, type) triple; re-adding overwrites it.
type Edge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Signature is the compact pattern record used for similarity search.
type Signature struct {
	Source      string   `json:"source"`
	Metric      string   `json:"metric"`
	Magnitude   float64  `json:"magnitude"`
	Confidence  float64  `json:"confidence"`
	Methods     []string `json:"methods"`
	PatternType string   `json:"pattern_type"`
}

// =============================================================================
// Graph
// =============================================================================

// Graph is the shared anomaly knowledge graph.
type Graph struct {
	mu sync.RWMutex

	config Config
	logger *slog.Logger

	nodes      map[string]*NodeData
	signatures map[string]Signature
	timestamps map[string]time.Time

	// out[from][to][type] holds at most one edge per triple.
	out map[string]map[string]map[string]*Edge
	in  map[string]map[string]map[string]*Edge

	edgeCount int
}

// New creates an empty graph.
func New(config Config) *Graph {
	defaults := DefaultConfig()
	if config.MaxNodes == 0 {
		config.MaxNodes = defaults.MaxNodes
	}
	if config.EdgeExpiry == 0 {
		config.EdgeExpiry = defaults.EdgeExpiry
	}
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Graph{
		config:     config,
		logger:     config.Logger.With("component", "knowledge-graph"),
		nodes:      make(map[string]*NodeData),
		signatures: make(map[string]Signature),
		timestamps: make(map[string]time.Time),
		out:        make(map[string]map[string]map[string]*Edge),
		in:         make(map[string]map[string]map[string]*Edge),
	}
}

// AddAnomaly inserts (or refreshes) a node and its signature, then evicts
// the oldest nodes if the capacity invariant is violated.
func (g *Graph) AddAnomaly(id string, data NodeData, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data.ID = id
	data.Timestamp = ts
	g.nodes[id] = &data
	g.timestamps[id] = ts
	g.signatures[id] = Signature{
		Source:      data.Source,
		Metric:      data.Metric,
		Magnitude:   math.Abs(data.Deviation),
		Confidence:  data.Confidence,
		Methods:     data.Methods,
		PatternType: data.Pattern,
	}

	g.evictLocked()
}

// AddRelationship inserts or overwrites the (from, to, type) edge. Missing
// endpoints make the call a logged no-op; callers never see an error.
func (g *Graph) AddRelationship(from, to, edgeType string, confidence float64, metadata map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		g.logger.Warn("edge endpoint missing", "from", from, "to", to, "type", edgeType)
		return
	}
	if _, ok := g.nodes[to]; !ok {
		g.logger.Warn("edge endpoint missing", "from", from, "to", to, "type", edgeType)
		return
	}

	edge := &Edge{
		From:       from,
		To:         to,
		Type:       edgeType,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}

	if g.out[from] == nil {
		g.out[from] = make(map[string]map[string]*Edge)
	}
	if g.out[from][to] == nil {
		g.out[from][to] = make(map[string]*Edge)
	}
	if _, exists := g.out[from][to][edgeType]; !exists {
		g.edgeCount++
	}
	g.out[from][to][edgeType] = edge

	if g.in[to] == nil {
		g.in[to] = make(map[string]map[string]*Edge)
	}
	if g.in[to][from] == nil {
		g.in[to][from] = make(map[string]*Edge)
	}
	g.in[to][from][edgeType] = edge
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns a copy of the node data, if present.
func (g *Graph) Node(id string) (NodeData, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return NodeData{}, false
	}
	return *n, true
}

// HasEdge reports whether the (from, to, type) edge exists.
func (g *Graph) HasEdge(from, to, edgeType string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.out[from][to][edgeType] != nil
}

// =============================================================================
// Queries
// =============================================================================

// PathStep is one hop along a traversal path.
type PathStep struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Related is a neighbor reached by FindRelated.
type Related struct {
	AnomalyID  string     `json:"anomaly_id"`
	Distance   int        `json:"distance"`
	Path       []PathStep `json:"path"`
	EdgeType   string     `json:"relationship_type"`
	Confidence float64    `json:"confidence"`
	Node       NodeData   `json:"node_data"`
}

// FindRelated walks outgoing edges breadth-first up to maxDistance hops,
// following only edges at or above minConfidence.
func (g *Graph) FindRelated(id string, maxDistance int, minConfidence float64) []Related {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	return g.findRelatedLocked(id, maxDistance, minConfidence)
}

// ChainLink is one node along a causal chain.
type ChainLink struct {
	AnomalyID string   `json:"anomaly_id"`
	Node      NodeData `json:"node_data"`
	Edge      *Edge    `json:"edge_data,omitempty"`
}

// FindCausalChain enumerates simple paths along causal edges starting at
// start, bounded by maxLen nodes. With end set, only chains terminating at
// end are returned; otherwise every explored prefix of length >= 2 is.
func (g *Graph) FindCausalChain(start, end string, maxLen int) [][]ChainLink {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCausalLocked(start, end, maxLen)
}

// Similar is a signature match from FindSimilar.
type Similar struct {
	AnomalyID  string    `json:"anomaly_id"`
	Similarity float64   `json:"similarity"`
	Signature  Signature `json:"signature"`
	Node       NodeData  `json:"node_data"`
}

// FindSimilar scores every other signature against the target's and returns
// the top-k at or above the similarity threshold.
func (g *Graph) FindSimilar(id string, topK int) []Similar {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findSimilarLocked(id, topK)
}

func (g *Graph) findSimilarLocked(id string, topK int) []Similar {
	target, ok := g.signatures[id]
	if !ok {
		return nil
	}

	var matches []Similar
	for otherID, other := range g.signatures {
		if otherID == id {
			continue
		}
		score := signatureSimilarity(target, other)
		if score < g.config.SimilarityThreshold {
			continue
		}
		match := Similar{AnomalyID: otherID, Similarity: score, Signature: other}
		if node, ok := g.nodes[otherID]; ok {
			match.Node = *node
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].AnomalyID < matches[j].AnomalyID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// SimilarToSignature scores an external signature (one not yet in the
// graph) against every stored signature; used to decide novelty before a
// report is published.
func (g *Graph) SimilarToSignature(sig Signature, topK int) []Similar {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var matches []Similar
	for otherID, other := range g.signatures {
		score := signatureSimilarity(sig, other)
		if score < g.config.SimilarityThreshold {
			continue
		}
		match := Similar{AnomalyID: otherID, Similarity: score, Signature: other}
		if node, ok := g.nodes[otherID]; ok {
			match.Node = *node
		}
		matches = append(matches, match)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].AnomalyID < matches[j].AnomalyID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// signatureSimilarity weights exact matches on source (0.2), metric (0.2),
// and pattern type (0.3), plus min/max magnitude similarity (0.3).
func signatureSimilarity(a, b Signature) float64 {
	score := 0.0
	if a.Source == b.Source {
		score += 0.2
	}
	if a.Metric == b.Metric {
		score += 0.2
	}
	if a.PatternType == b.PatternType {
		score += 0.3
	}
	if a.Magnitude > 0 && b.Magnitude > 0 {
		score += 0.3 * math.Min(a.Magnitude, b.Magnitude) / math.Max(a.Magnitude, b.Magnitude)
	}
	return score
}

// TemporalNeighbor is a node that occurred near the target in time.
type TemporalNeighbor struct {
	AnomalyID string    `json:"anomaly_id"`
	Timestamp time.Time `json:"timestamp"`
	TimeDiff  float64   `json:"time_diff_seconds"`
	Node      NodeData  `json:"node_data"`
}

// TemporalNeighbors scans for nodes within the window around the target's
// timestamp, nearest first.
func (g *Graph) TemporalNeighbors(id string, window time.Duration) []TemporalNeighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.temporalNeighborsLocked(id, window)
}

func (g *Graph) temporalNeighborsLocked(id string, window time.Duration) []TemporalNeighbor {
	target, ok := g.timestamps[id]
	if !ok {
		return nil
	}

	var neighbors []TemporalNeighbor
	for nodeID, ts := range g.timestamps {
		if nodeID == id {
			continue
		}
		diff := ts.Sub(target)
		if diff < -window || diff > window {
			continue
		}
		neighbors = append(neighbors, TemporalNeighbor{
			AnomalyID: nodeID,
			Timestamp: ts,
			TimeDiff:  math.Abs(diff.Seconds()),
			Node:      *g.nodes[nodeID],
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].TimeDiff != neighbors[j].TimeDiff {
			return neighbors[i].TimeDiff < neighbors[j].TimeDiff
		}
		return neighbors[i].AnomalyID < neighbors[j].AnomalyID
	})
	return neighbors
}

// Context aggregates everything the graph knows about one anomaly.
type Context struct {
	AnomalyID         string             `json:"anomaly_id"`
	Node              NodeData           `json:"node_data"`
	Signature         Signature          `json:"signature"`
	Related           []Related          `json:"related_anomalies"`
	CausalChains      [][]ChainLink      `json:"causal_chains"`
	SimilarPatterns   []Similar          `json:"similar_patterns"`
	TemporalNeighbors []TemporalNeighbor `json:"temporal_neighbors"`
}

// GetContext assembles the full context for an anomaly under one read lock.
func (g *Graph) GetContext(id string) (Context, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return Context{}, false
	}
	return Context{
		AnomalyID:         id,
		Node:              *node,
		Signature:         g.signatures[id],
		Related:           g.findRelatedLocked(id, 2, 0.5),
		CausalChains:      g.findCausalLocked(id, "", 5),
		SimilarPatterns:   g.findSimilarLocked(id, 5),
		TemporalNeighbors: g.temporalNeighborsLocked(id, time.Hour),
	}, true
}

func (g *Graph) findRelatedLocked(id string, maxDistance int, minConfidence float64) []Related {
	type queued struct {
		id       string
		distance int
		path     []PathStep
	}
	visited := map[string]bool{id: true}
	queue := []queued{{id: id}}
	var related []Related

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.distance >= maxDistance {
			continue
		}
		for _, neighbor := range g.sortedNeighbors(current.id) {
			if visited[neighbor] {
				continue
			}
			edge := g.bestEdgeLocked(current.id, neighbor)
			if edge == nil || edge.Confidence < minConfidence {
				continue
			}
			visited[neighbor] = true
			path := append(append([]PathStep(nil), current.path...), PathStep{From: current.id, To: neighbor, Type: edge.Type})
			related = append(related, Related{
				AnomalyID:  neighbor,
				Distance:   current.distance + 1,
				Path:       path,
				EdgeType:   edge.Type,
				Confidence: edge.Confidence,
				Node:       *g.nodes[neighbor],
			})
			queue = append(queue, queued{id: neighbor, distance: current.distance + 1, path: path})
		}
	}
	return related
}

func (g *Graph) findCausalLocked(start, end string, maxLen int) [][]ChainLink {
	if _, ok := g.nodes[start]; !ok {
		return nil
	}
	var chains [][]ChainLink
	visited := map[string]bool{start: true}
	path := []ChainLink{{AnomalyID: start, Node: *g.nodes[start]}}

	var dfs func(current string)
	dfs = func(current string) {
		if len(path) >= maxLen {
			return
		}
		if end != "" && current == end {
			chains = append(chains, append([]ChainLink(nil), path...))
			return
		}
		for _, neighbor := range g.sortedNeighbors(current) {
			if visited[neighbor] {
				continue
			}
			edge := g.out[current][neighbor][EdgeCausal]
			if edge == nil {
				continue
			}
			visited[neighbor] = true
			path = append(path, ChainLink{AnomalyID: neighbor, Node: *g.nodes[neighbor], Edge: edge})
			dfs(neighbor)
			path = path[:len(path)-1]
			delete(visited, neighbor)
		}
		if end == "" && len(path) > 1 {
			chains = append(chains, append([]ChainLink(nil), path...))
		}
	}
	dfs(start)
	return chains
}

// =============================================================================
// Export and Stats
// =============================================================================

// Stats summarizes the graph.
type Stats struct {
	Nodes      int        `json:"num_nodes"`
	Edges      int        `json:"num_edges"`
	Signatures int        `json:"num_signatures"`
	OldestNode *time.Time `json:"oldest_node,omitempty"`
	NewestNode *time.Time `json:"newest_node,omitempty"`
	AvgDegree  float64    `json:"avg_degree"`
}

// GetStats computes summary statistics.
func (g *Graph) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statsLocked()
}

func (g *Graph) statsLocked() Stats {
	s := Stats{
		Nodes:      len(g.nodes),
		Edges:      g.edgeCount,
		Signatures: len(g.signatures),
	}
	for _, ts := range g.timestamps {
		ts := ts
		if s.OldestNode == nil || ts.Before(*s.OldestNode) {
			s.OldestNode = &ts
		}
		if s.NewestNode == nil || ts.After(*s.NewestNode) {
			s.NewestNode = &ts
		}
	}
	if len(g.nodes) > 0 {
		// Each edge contributes one in-degree and one out-degree.
		s.AvgDegree = float64(2*g.edgeCount) / float64(len(g.nodes))
	}
	return s
}

// Export is a point-in-time snapshot of nodes, edges, and stats.
type Export struct {
	Nodes []NodeData `json:"nodes"`
	Edges []Edge     `json:"edges"`
	Stats Stats      `json:"stats"`
}

// ExportGraph snapshots the whole graph, nodes and edges in deterministic
// ID order.
func (g *Graph) ExportGraph() Export {
	g.mu.RLock()
	defer g.mu.RUnlock()

	export := Export{
		Nodes: make([]NodeData, 0, len(g.nodes)),
		Edges: make([]Edge, 0, g.edgeCount),
		Stats: g.statsLocked(),
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		export.Nodes = append(export.Nodes, *g.nodes[id])
	}

	for _, from := range ids {
		for _, to := range g.sortedNeighbors(from) {
			types := make([]string, 0, len(g.out[from][to]))
			for t := range g.out[from][to] {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				export.Edges = append(export.Edges, *g.out[from][to][t])
			}
		}
	}
	return export
}

// =============================================================================
// Internals
// =============================================================================

// evictLocked removes oldest-timestamped nodes until the capacity invariant
// holds, dropping their signatures and incident edges.
func (g *Graph) evictLocked() {
	if len(g.nodes) <= g.config.MaxNodes {
		return
	}

	type aged struct {
		id string
		ts time.Time
	}
	all := make([]aged, 0, len(g.timestamps))
	for id, ts := range g.timestamps {
		all = append(all, aged{id: id, ts: ts})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].ts.Equal(all[j].ts) {
			return all[i].ts.Before(all[j].ts)
		}
		return all[i].id < all[j].id
	})

	toRemove := len(g.nodes) - g.config.MaxNodes
	for _, victim := range all[:toRemove] {
		g.removeNodeLocked(victim.id)
	}
	g.logger.Info("evicted old anomaly nodes", "count", toRemove, "nodes", len(g.nodes))
}

func (g *Graph) removeNodeLocked(id string) {
	delete(g.nodes, id)
	delete(g.signatures, id)
	delete(g.timestamps, id)

	for to, types := range g.out[id] {
		g.edgeCount -= len(types)
		delete(g.in[to], id)
	}
	delete(g.out, id)

	for from := range g.in[id] {
		g.edgeCount -= len(g.out[from][id])
		delete(g.out[from], id)
	}
	delete(g.in, id)
}

// sortedNeighbors returns the outgoing neighbor IDs of a node in sorted
// order so traversals are deterministic.
func (g *Graph) sortedNeighbors(id string) []string {
	targets := g.out[id]
	if len(targets) == 0 {
		return nil
	}
	out := make([]string, 0, len(targets))
	for to := range targets {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// bestEdgeLocked picks the highest-confidence edge between two nodes, with
// type name as the deterministic tiebreak.
func (g *Graph) bestEdgeLocked(from, to string) *Edge {
	var best *Edge
	types := make([]string, 0, len(g.out[from][to]))
	for t := range g.out[from][to] {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		edge := g.out[from][to][t]
		if best == nil || edge.Confidence > best.Confidence {
			best = edge
		}
	}
	return best
}
