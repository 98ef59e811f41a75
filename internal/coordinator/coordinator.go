// Package coordinator synthesizes per-agent findings into final anomaly
// reports: it groups anomalies that describe the same event, computes a
// weighted consensus score, filters by threshold, attaches deterministic
// narratives and counterfactuals, and publishes accepted reports with their
// derived relationships into the knowledge graph.
package coordinator

import (
	"log/slog"
	"sort"
	"time"

	"github.com/example/streamlens/internal/graph"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/narrative"
	"github.com/example/streamlens/internal/stats"
)

// MultiSourceKey is the pseudo-source carried by cross-source findings
// (simultaneous anomalies); they fold into whatever concrete group shares
// their minute.
const MultiSourceKey = "multi-source"

// =============================================================================
// Configuration
// =============================================================================

// Config tunes consensus and synthesis.
type Config struct {
	// ConsensusThreshold is the minimum weighted consensus score a report
	// needs to be accepted.
	ConsensusThreshold float64

	// MarkNovel, when set, consults the knowledge graph's similarity index
	// before scoring and marks patterns with no similar prior signature.
	MarkNovel bool

	Logger *slog.Logger
}

// DefaultConfig returns the stock 0.6 consensus threshold.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: 0.6,
		Logger:             slog.Default(),
	}
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator owns the synthesis stage. The knowledge graph is the only
// shared state it touches; everything else is pure computation.
type Coordinator struct {
	config   Config
	graph    *graph.Graph
	narrator *narrative.Generator
	logger   *slog.Logger
}

// New creates a coordinator writing into the given graph.
func New(config Config, g *graph.Graph) *Coordinator {
	defaults := DefaultConfig()
	if config.ConsensusThreshold == 0 {
		config.ConsensusThreshold = defaults.ConsensusThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Coordinator{
		config:   config,
		graph:    g,
		narrator: narrative.NewGenerator(narrative.DetailMedium),
		logger:   config.Logger.With("component", "coordinator"),
	}
}

// Synthesize folds all agent results into the accepted, sorted report list
// and mirrors it into the knowledge graph.
func (c *Coordinator) Synthesize(results []model.AgentResult) model.AnalysisResult {
	var all []model.AgentAnomaly
	agentsConsulted := make([]string, 0, len(results))
	for _, result := range results {
		agentsConsulted = append(agentsConsulted, result.AgentName)
		for _, anomaly := range result.Anomalies {
			anomaly.AgentName = result.AgentName
			anomaly.AgentWeight = result.Weight
			all = append(all, anomaly)
		}
	}

	groups := groupAnomalies(all)

	var reports []model.AnomalyReport
	for _, group := range groups {
		report := c.buildReport(group)
		if report.ConsensusScore >= c.config.ConsensusThreshold {
			reports = append(reports, report)
		}
	}

	// Stable sort on (severity desc, consensus desc); ties keep insertion
	// order so the outcome is independent of agent scheduling.
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].SeverityScore != reports[j].SeverityScore {
			return reports[i].SeverityScore > reports[j].SeverityScore
		}
		return reports[i].ConsensusScore > reports[j].ConsensusScore
	})

	for _, report := range reports {
		c.publish(report)
	}
	c.deriveRelationships(reports)

	highSeverity := 0
	for _, r := range reports {
		if r.Severity == model.SeverityHigh || r.Severity == model.SeverityCritical {
			highSeverity++
		}
	}

	c.logger.Info("synthesis complete",
		"agents", len(results), "detections", len(all), "reports", len(reports))

	return model.AnalysisResult{
		TotalAnomalies:    len(reports),
		HighSeverityCount: highSeverity,
		Reports:           reports,
		Metadata: model.AnalysisMetadata{
			AgentsConsulted:    agentsConsulted,
			TotalDetections:    len(all),
			ConsensusThreshold: c.config.ConsensusThreshold,
		},
	}
}

// =============================================================================
// Grouping
// =============================================================================

type groupKey struct {
	source string
	metric string
	minute int64
}

// groupAnomalies buckets findings by (source, metric, minute). Cross-source
// findings (source "multi-source") fold into the first concrete group that
// shares their minute, so a simultaneous-anomaly vote lands on the event it
// corroborates; with no co-minute group they stand alone. Group order is
// deterministic.
func groupAnomalies(all []model.AgentAnomaly) [][]model.AgentAnomaly {
	groups := make(map[groupKey][]model.AgentAnomaly)
	var multiSource []model.AgentAnomaly

	for _, a := range all {
		if a.Source == MultiSourceKey {
			multiSource = append(multiSource, a)
			continue
		}
		key := groupKey{
			source: a.Source,
			metric: a.Metric,
			minute: a.Timestamp.Truncate(time.Minute).UnixNano(),
		}
		groups[key] = append(groups[key], a)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].minute != keys[j].minute {
			return keys[i].minute < keys[j].minute
		}
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].metric < keys[j].metric
	})

	for _, a := range multiSource {
		minute := a.Timestamp.Truncate(time.Minute).UnixNano()
		placed := false
		for _, k := range keys {
			if k.minute == minute {
				groups[k] = append(groups[k], a)
				placed = true
				break
			}
		}
		if !placed {
			key := groupKey{source: a.Source, metric: a.Metric, minute: minute}
			if _, exists := groups[key]; !exists {
				keys = append(keys, key)
				sort.Slice(keys, func(i, j int) bool {
					if keys[i].minute != keys[j].minute {
						return keys[i].minute < keys[j].minute
					}
					if keys[i].source != keys[j].source {
						return keys[i].source < keys[j].source
					}
					return keys[i].metric < keys[j].metric
				})
			}
			groups[key] = append(groups[key], a)
		}
	}

	out := make([][]model.AgentAnomaly, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

// =============================================================================
// Report Construction
// =============================================================================

func (c *Coordinator) buildReport(group []model.AgentAnomaly) model.AnomalyReport {
	confidences := make([]float64, len(group))
	weights := make([]float64, len(group))
	severityScores := make([]float64, len(group))
	for i, a := range group {
		confidences[i] = a.Confidence
		weights[i] = a.AgentWeight
		severityScores[i] = a.SeverityScore
	}

	consensus := stats.WeightedAverage(confidences, weights)
	severityScore := stats.Mean(severityScores)
	severity := stats.SeverityLabel(severityScore)

	representative := group[0]
	for _, a := range group[1:] {
		if a.Confidence > representative.Confidence {
			representative = a
		}
	}

	methodSet := make(map[string]bool)
	var methods []string
	addMethod := func(m string) {
		if m != "" && !methodSet[m] {
			methodSet[m] = true
			methods = append(methods, m)
		}
	}
	agentSet := make(map[string]bool)
	var agents []string
	for _, a := range group {
		for _, m := range a.DetectionMethods {
			addMethod(m)
		}
		addMethod(a.AgentName)
		if !agentSet[a.AgentName] {
			agentSet[a.AgentName] = true
			agents = append(agents, a.AgentName)
		}
	}
	sort.Strings(methods)
	sort.Strings(agents)

	report := model.AnomalyReport{
		AnomalyID:            model.AnomalyID(representative.Source, representative.Metric, representative.Timestamp),
		Source:               representative.Source,
		Metric:               representative.Metric,
		Timestamp:            representative.Timestamp,
		Value:                representative.Value,
		HasValue:             representative.HasValue,
		ConsensusScore:       consensus,
		Severity:             severity,
		SeverityScore:        severityScore,
		DetectionCount:       len(group),
		DetectingAgents:      agents,
		DetectionMethods:     methods,
		Explanation:          combineExplanations(group),
		Counterfactuals:      narrative.Counterfactuals(representative),
		IndividualDetections: group,
		CreatedAt:            time.Now().UTC(),
	}

	if c.config.MarkNovel && c.graph != nil {
		// A pattern is novel when the graph holds no similar signature yet.
		// The report is not in the graph at this point, so the candidate
		// signature is scored externally.
		sig := graph.Signature{
			Source:      report.Source,
			Metric:      report.Metric,
			Magnitude:   representativeMagnitude(representative),
			Confidence:  report.ConsensusScore,
			Methods:     report.DetectionMethods,
			PatternType: representative.Type,
		}
		if similar := c.graph.SimilarToSignature(sig, 1); len(similar) == 0 {
			_, rescored := stats.Severity(stats.SeverityInput{
				Confidence: representative.Confidence,
				Magnitude:  representativeMagnitude(representative),
				Scope:      1,
				Novel:      true,
			})
			if rescored > report.SeverityScore {
				report.SeverityScore = rescored
				report.Severity = stats.SeverityLabel(rescored)
			}
		}
	}

	report.Narrative = c.narrator.Generate(report, group)
	return report
}

func combineExplanations(group []model.AgentAnomaly) string {
	var combined string
	for _, a := range group {
		if a.Explanation == "" {
			continue
		}
		if combined != "" {
			combined += " | "
		}
		combined += "[" + a.AgentName + "] " + a.Explanation
	}
	return combined
}

func representativeMagnitude(a model.AgentAnomaly) float64 {
	if v, ok := a.Fields["deviation"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// =============================================================================
// Graph Publication
// =============================================================================

func (c *Coordinator) publish(report model.AnomalyReport) {
	if c.graph == nil {
		return
	}

	pattern := "unknown"
	if rep := report.IndividualDetections; len(rep) > 0 {
		for _, a := range rep {
			if a.Type != "" {
				pattern = a.Type
				break
			}
		}
	}

	deviation := representativeDeviation(report)
	c.graph.AddAnomaly(report.AnomalyID, graph.NodeData{
		Source:     report.Source,
		Metric:     report.Metric,
		Value:      report.Value,
		Confidence: report.ConsensusScore,
		Severity:   string(report.Severity),
		Methods:    report.DetectionMethods,
		Deviation:  deviation,
		Pattern:    pattern,
		Metadata: map[string]any{
			"detecting_agents": report.DetectingAgents,
			"detection_count":  report.DetectionCount,
			"fingerprint":      stats.Fingerprint(report.Source, report.Metric, pattern, deviation, report.DetectionCount),
		},
	}, report.Timestamp)
}

func representativeDeviation(report model.AnomalyReport) float64 {
	for _, a := range report.IndividualDetections {
		if v, ok := a.Fields["deviation"]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}

// deriveRelationships adds typed edges for every unordered pair of accepted
// reports, iterating in post-sort order:
//
//   - temporal (0.7) when the events are within 5 minutes of each other;
//   - correlation (0.6) when they share a source;
//   - causal (0.5, +0.3 for a high-severity cause) when the first precedes
//     the second by at most 10 minutes.
func (c *Coordinator) deriveRelationships(reports []model.AnomalyReport) {
	if c.graph == nil {
		return
	}

	for i, r1 := range reports {
		for _, r2 := range reports[i+1:] {
			timeDiff := r1.Timestamp.Sub(r2.Timestamp)
			if timeDiff < 0 {
				timeDiff = -timeDiff
			}

			if timeDiff <= 5*time.Minute {
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeTemporal, 0.7, nil)
			}

			if r1.Source == r2.Source {
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeCorrelation, 0.6, nil)
			}

			if r1.Timestamp.Before(r2.Timestamp) && timeDiff <= 10*time.Minute {
				confidence := 0.5
				if r1.Severity == model.SeverityHigh {
					confidence += 0.3
				}
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeCausal, confidence, map[string]any{
					"time_diff_seconds": timeDiff.Seconds(),
				})
			}
		}
	}
}
