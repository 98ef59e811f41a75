// Package model defines the data types that cross subsystem boundaries:
// ingested data points, per-agent anomaly findings, synthesized reports,
// and the cycle-level analysis result.
//
// DataPoint is the only input unit the core consumes; everything upstream
// (API clients, demo generators) is an external collaborator that merely
// produces tagged, timestamped points. AnomalyReport is the only type that
// crosses the system boundary outward.
package model

import (
	"time"
)

// =============================================================================
// Severity
// =============================================================================

// Severity labels an anomaly's criticality.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities for sorting; lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// =============================================================================
// Source Identifiers
// =============================================================================

// Well-known source names produced by the upstream adapters.
const (
	SourceCryptocurrency = "cryptocurrency"
	SourceWeather        = "weather"
	SourceOIDerivatives  = "oi_derivatives"
	SourceGitHub         = "github"
)

// Metric names carried by OI derivatives points.
const (
	MetricOpenInterest     = "open_interest"
	MetricFundingRate      = "funding_rate"
	MetricLongShortRatio   = "long_short_ratio"
	MetricTopTraderLSRatio = "top_trader_long_short_ratio"
	MetricPriceUSD         = "price_usd"
)

// =============================================================================
// Data Point
// =============================================================================

// DataPoint is a single timestamped measurement from an upstream source.
// Points are immutable once produced.
type DataPoint struct {
	Source    string         `json:"source"`
	Symbol    string         `json:"symbol,omitempty"`
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SeriesKey identifies a one-dimensional time series within a batch.
type SeriesKey struct {
	Source string
	Metric string
}

// GroupBySeries buckets points by (source, metric). Order within a bucket
// follows input order; callers sort by timestamp when they need it.
func GroupBySeries(points []DataPoint) map[SeriesKey][]DataPoint {
	grouped := make(map[SeriesKey][]DataPoint)
	for _, p := range points {
		key := SeriesKey{Source: p.Source, Metric: p.Metric}
		grouped[key] = append(grouped[key], p)
	}
	return grouped
}

// GroupBySymbol buckets points by symbol, dropping points without one.
func GroupBySymbol(points []DataPoint) map[string][]DataPoint {
	grouped := make(map[string][]DataPoint)
	for _, p := range points {
		if p.Symbol == "" {
			continue
		}
		grouped[p.Symbol] = append(grouped[p.Symbol], p)
	}
	return grouped
}

// =============================================================================
// Agent Findings
// =============================================================================

// AgentAnomaly is one agent's normalized finding on a series. It is a
// transient intermediate: the coordinator consumes these and emits reports.
type AgentAnomaly struct {
	AgentName        string         `json:"agent_name"`
	AgentWeight      float64        `json:"agent_weight"`
	Source           string         `json:"source"`
	Metric           string         `json:"metric"`
	Symbol           string         `json:"symbol,omitempty"`
	Type             string         `json:"type,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Value            float64        `json:"value"`
	HasValue         bool           `json:"has_value"`
	Confidence       float64        `json:"confidence"`
	Severity         Severity       `json:"severity"`
	SeverityScore    float64        `json:"severity_score"`
	DetectionMethods []string       `json:"detection_methods"`
	Explanation      string         `json:"explanation"`
	Fields           map[string]any `json:"fields,omitempty"`
}

// AgentResult is the structured outcome of one agent's Analyze call.
// A result is always well-formed, even when the agent found nothing or
// had no applicable data.
type AgentResult struct {
	AgentName string         `json:"agent_name"`
	Weight    float64        `json:"weight"`
	Anomalies []AgentAnomaly `json:"anomalies"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Reports
// =============================================================================

// Counterfactual is a deterministic what-if scenario attached to a report.
type Counterfactual struct {
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Impact      string         `json:"impact"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// AnomalyReport is the externalized, consensus-backed finding for one
// (source, metric, minute) group. Reports are mirrored into the knowledge
// graph and pushed to subscribers.
type AnomalyReport struct {
	AnomalyID            string           `json:"anomaly_id"`
	Source               string           `json:"source"`
	Metric               string           `json:"metric"`
	Timestamp            time.Time        `json:"timestamp"`
	Value                float64          `json:"value"`
	HasValue             bool             `json:"has_value"`
	ConsensusScore       float64          `json:"consensus_score"`
	Severity             Severity         `json:"severity"`
	SeverityScore        float64          `json:"severity_score"`
	DetectionCount       int              `json:"detection_count"`
	DetectingAgents      []string         `json:"detecting_agents"`
	DetectionMethods     []string         `json:"detection_methods"`
	Explanation          string           `json:"explanation"`
	Narrative            string           `json:"narrative"`
	Counterfactuals      []Counterfactual `json:"counterfactuals"`
	IndividualDetections []AgentAnomaly   `json:"individual_detections"`
	CreatedAt            time.Time        `json:"created_at"`
}

// AnomalyID builds the canonical, deduplication-stable identifier
// "{source}_{metric}_{YYYYMMDD_HHMMSS}". Callers rely on this format.
func AnomalyID(source, metric string, ts time.Time) string {
	return source + "_" + metric + "_" + ts.Format("20060102_150405")
}

// =============================================================================
// Analysis Result
// =============================================================================

// AnalysisMetadata describes how a cycle was produced.
type AnalysisMetadata struct {
	AgentsConsulted    []string `json:"agents_consulted"`
	TotalDetections    int      `json:"total_detections"`
	ConsensusThreshold float64  `json:"consensus_threshold"`
}

// GraphSnapshot is the exported knowledge-graph view attached to a result.
type GraphSnapshot struct {
	Nodes []map[string]any `json:"nodes"`
	Edges []map[string]any `json:"edges"`
	Stats map[string]any   `json:"stats"`
}

// AnalysisResult is the outcome of one full detection cycle.
type AnalysisResult struct {
	CycleID           string           `json:"cycle_id"`
	TotalAnomalies    int              `json:"total_anomalies"`
	HighSeverityCount int              `json:"high_severity_count"`
	Reports           []AnomalyReport  `json:"reports"`
	Metadata          AnalysisMetadata `json:"metadata"`
	KnowledgeGraph    *GraphSnapshot   `json:"knowledge_graph,omitempty"`
}
