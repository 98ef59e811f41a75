// Package narrative converts technical anomaly findings into human-readable
// prose: a per-report narrative, counterfactual what-if scenarios, and
// executive summaries.
//
// The template generator is deterministic so that cycle results are a pure
// function of their inputs. Richer prose backends (LLM providers) plug in
// behind the Provider interface and are never consulted on the detection
// hot path.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
)

// =============================================================================
// Provider
// =============================================================================

// Provider generates a narrative for a synthesized report. Implementations
// may be slow or remote; callers must treat them as optional enrichment and
// fall back to the deterministic generator on any error.
type Provider interface {
	// Name identifies the provider for logging.
	Name() string

	// Narrate renders a narrative for the report. groupContext carries the
	// other findings in the report's consensus group.
	Narrate(ctx context.Context, report model.AnomalyReport, groupContext []model.AgentAnomaly) (string, error)
}

// =============================================================================
// Template Generator
// =============================================================================

// DetailLevel controls how much technical material the generator includes.
type DetailLevel string

const (
	DetailLow    DetailLevel = "low"
	DetailMedium DetailLevel = "medium"
	DetailHigh   DetailLevel = "high"
)

// Generator is the deterministic template narrator.
type Generator struct {
	detail DetailLevel
}

// NewGenerator creates a narrator at the given detail level (medium if empty).
func NewGenerator(detail DetailLevel) *Generator {
	if detail == "" {
		detail = DetailMedium
	}
	return &Generator{detail: detail}
}

// Name implements Provider.
func (g *Generator) Name() string { return "template" }

// Narrate implements Provider; it never fails.
func (g *Generator) Narrate(_ context.Context, report model.AnomalyReport, group []model.AgentAnomaly) (string, error) {
	return g.Generate(report, group), nil
}

// Generate composes the narrative: opening, detection detail, consensus
// statement when more than one finding agrees, technical footnote at high
// detail, and the severity-dependent impact clause.
func (g *Generator) Generate(report model.AnomalyReport, group []model.AgentAnomaly) string {
	parts := []string{g.opening(report)}

	if g.detail == DetailMedium || g.detail == DetailHigh {
		parts = append(parts, g.detectionDetails(report))
	}
	if len(group) > 1 {
		parts = append(parts, g.consensusStatement(group))
	}
	if g.detail == DetailHigh {
		if technical := g.technicalDetails(report); technical != "" {
			parts = append(parts, technical)
		}
	}
	parts = append(parts, impactStatement(report.Severity))

	return strings.Join(parts, " ")
}

func (g *Generator) opening(report model.AnomalyReport) string {
	adjective := map[model.Severity]string{
		model.SeverityCritical: "critical",
		model.SeverityHigh:     "significant",
		model.SeverityMedium:   "notable",
		model.SeverityLow:      "minor",
	}[report.Severity]
	if adjective == "" {
		adjective = "notable"
	}

	return fmt.Sprintf("A %s anomaly was detected in the %s metric from %s on %s.",
		adjective, report.Metric, report.Source,
		report.Timestamp.Format("January 2, 2006 at 3:04 PM"))
}

func (g *Generator) detectionDetails(report model.AnomalyReport) string {
	if !report.HasValue {
		return "This multi-source correlation anomaly was detected across multiple data sources."
	}

	details := fmt.Sprintf("The observed value was %.2f", report.Value)

	if expected, ok := representativeExpected(report); ok && expected != 0 {
		percentDev := (report.Value - expected) / expected * 100
		if percentDev < 0 {
			percentDev = -percentDev
		}
		details += fmt.Sprintf(", deviating %.1f%% from the expected value of %.2f", percentDev, expected)
	}
	return details + "."
}

func (g *Generator) consensusStatement(group []model.AgentAnomaly) string {
	seen := make(map[string]bool)
	var agents []string
	for _, a := range group {
		if !seen[a.AgentName] {
			seen[a.AgentName] = true
			agents = append(agents, a.AgentName)
		}
	}
	sort.Strings(agents)

	return fmt.Sprintf("This anomaly was independently detected by %d different analysis methods (%s), providing strong confidence in the finding.",
		len(group), strings.Join(agents, ", "))
}

func (g *Generator) technicalDetails(report model.AnomalyReport) string {
	var details []string

	if z, ok := representativeField(report, detect.FieldZScore); ok {
		details = append(details, fmt.Sprintf("Z-score: %.2f", z))
	}
	details = append(details, fmt.Sprintf("Detection confidence: %.1f%%", report.ConsensusScore*100))
	if len(report.DetectionMethods) > 0 {
		details = append(details, "Methods: "+strings.Join(report.DetectionMethods, ", "))
	}

	return "Technical details: " + strings.Join(details, "; ") + "."
}

func impactStatement(severity model.Severity) string {
	switch severity {
	case model.SeverityCritical:
		return "This is a critical anomaly that requires immediate attention and investigation to determine root cause and prevent potential system issues."
	case model.SeverityHigh:
		return "This significant anomaly warrants prompt investigation to understand the underlying cause and assess potential impacts."
	case model.SeverityLow:
		return "This minor anomaly has been logged for awareness and trend analysis."
	default:
		return "This anomaly should be reviewed to determine if any action is needed and to identify potential patterns."
	}
}

// =============================================================================
// Summaries
// =============================================================================

// Summary renders an executive digest over a report set.
func Summary(reports []model.AnomalyReport) string {
	if len(reports) == 0 {
		return "No anomalies detected in the analyzed period."
	}

	counts := map[model.Severity]int{}
	sources := map[string]bool{}
	for _, r := range reports {
		counts[r.Severity]++
		sources[r.Source] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Detected %d anomalies across %d data sources. ", len(reports), len(sources))

	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		if counts[sev] > 0 {
			fmt.Fprintf(&b, "%d %s severity, ", counts[sev], sev)
		}
	}

	sourceList := make([]string, 0, len(sources))
	for s := range sources {
		sourceList = append(sourceList, s)
	}
	sort.Strings(sourceList)
	fmt.Fprintf(&b, "Affected sources include: %s.", strings.Join(sourceList, ", "))

	return b.String()
}

// Timeline renders the first five reports in time order.
func Timeline(reports []model.AnomalyReport) string {
	if len(reports) == 0 {
		return "No timeline available."
	}

	sorted := append([]model.AnomalyReport(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var b strings.Builder
	b.WriteString("Anomaly timeline: ")
	limit := len(sorted)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		r := sorted[i]
		fmt.Fprintf(&b, "%d. %s - %s %s; ", i+1, r.Timestamp.Format("15:04:05"), r.Source, r.Metric)
	}
	if len(sorted) > 5 {
		fmt.Fprintf(&b, "and %d more...", len(sorted)-5)
	}
	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

// representative returns the highest-confidence member of the report's
// consensus group, which is where the method-specific fields live.
func representative(report model.AnomalyReport) (model.AgentAnomaly, bool) {
	if len(report.IndividualDetections) == 0 {
		return model.AgentAnomaly{}, false
	}
	best := report.IndividualDetections[0]
	for _, a := range report.IndividualDetections[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best, true
}

func representativeExpected(report model.AnomalyReport) (float64, bool) {
	rep, ok := representative(report)
	if !ok {
		return 0, false
	}
	return numericField(rep, "expected_value")
}

func representativeField(report model.AnomalyReport, key string) (float64, bool) {
	rep, ok := representative(report)
	if !ok {
		return 0, false
	}
	return numericField(rep, key)
}

func numericField(a model.AgentAnomaly, key string) (float64, bool) {
	v, ok := a.Fields[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
