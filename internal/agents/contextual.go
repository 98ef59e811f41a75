package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/example/streamlens/internal/model"
)

// ContextConfig configures the context agent.
type ContextConfig struct {
	Weight        float64
	MinConfidence float64
	Logger        *slog.Logger
}

// DefaultContextConfig returns weight 0.15 with min confidence 0.4.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		Weight:        0.15,
		MinConfidence: 0.4,
		Logger:        slog.Default(),
	}
}

// contextEvent is one synthesized external event for a source.
type contextEvent struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// sourceContext is the per-source context finding.
type sourceContext struct {
	Source    string         `json:"source"`
	Events    []contextEvent `json:"events"`
	Relevance float64        `json:"relevance"`
}

// Context synthesizes per-source external context from the observable shape
// of the data (live news or event providers are external collaborators).
// When a source's context is relevant enough, it emits exactly one anomaly
// for that source, anchored at the most extreme point.
type Context struct {
	config ContextConfig
	logger *slog.Logger
}

// NewContext creates the context agent.
func NewContext(config ContextConfig) *Context {
	defaults := DefaultContextConfig()
	if config.Weight == 0 {
		config.Weight = defaults.Weight
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Context{config: config, logger: config.Logger.With("agent", NameContext)}
}

func (a *Context) Name() string    { return NameContext }
func (a *Context) Weight() float64 { return a.config.Weight }

// Analyze groups points by source and emits at most one contextual anomaly
// per source.
func (a *Context) Analyze(ctx context.Context, current, _ []model.DataPoint) (model.AgentResult, error) {
	grouped := make(map[string][]model.DataPoint)
	for _, p := range current {
		grouped[p.Source] = append(grouped[p.Source], p)
	}

	sources := make([]string, 0, len(grouped))
	for s := range grouped {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	anomalies := []model.AgentAnomaly{}
	var findings []sourceContext

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return model.AgentResult{}, err
		}

		points := grouped[source]
		sc := a.synthesizeContext(source, points)
		if len(sc.Events) == 0 || sc.Relevance < a.config.MinConfidence {
			continue
		}
		findings = append(findings, sc)

		representative := points[0]
		for _, p := range points[1:] {
			if math.Abs(p.Value) > math.Abs(representative.Value) {
				representative = p
			}
		}

		metrics := make(map[string]bool)
		for _, p := range points {
			metrics[p.Metric] = true
		}
		metricList := make([]string, 0, len(metrics))
		for m := range metrics {
			metricList = append(metricList, m)
		}
		sort.Strings(metricList)

		anomalies = append(anomalies, model.AgentAnomaly{
			AgentName:        NameContext,
			AgentWeight:      a.config.Weight,
			Source:           source,
			Metric:           representative.Metric,
			Timestamp:        representative.Timestamp,
			Value:            representative.Value,
			HasValue:         true,
			Confidence:       sc.Relevance,
			Severity:         model.SeverityMedium,
			SeverityScore:    0.5,
			DetectionMethods: []string{"context"},
			Explanation:      a.explain(representative, sc),
			Fields: map[string]any{
				"affected_points": len(points),
				"source_metrics":  metricList,
				"events":          sc.Events,
			},
		})
	}

	a.logger.Debug("context analysis complete", "sources", len(grouped), "findings", len(findings))

	return model.AgentResult{
		AgentName: NameContext,
		Weight:    a.config.Weight,
		Anomalies: anomalies,
		Metadata: map[string]any{
			"context_findings": findings,
			"sources_analyzed": len(grouped),
		},
	}, nil
}

// synthesizeContext derives events and a relevance score from the source
// type and the extremeness of its data.
func (a *Context) synthesizeContext(source string, points []model.DataPoint) sourceContext {
	sc := sourceContext{Source: source}
	if len(points) == 0 {
		return sc
	}

	var sum, maxValue float64
	count := 0
	for _, p := range points {
		sum += p.Value
		if p.Value > maxValue || count == 0 {
			maxValue = p.Value
		}
		count++
	}
	avg := sum / float64(count)

	deviation := 0.0
	if avg != 0 {
		deviation = (maxValue - avg) / avg
	} else if maxValue != 0 {
		deviation = maxValue
	}

	switch source {
	case model.SourceCryptocurrency:
		if deviation > 2 {
			sc.Events = []contextEvent{
				{Type: "market_event", Description: "Extreme price volatility detected"},
				{Type: "news", Description: "Market manipulation alert"},
			}
			sc.Relevance = 0.75
		} else {
			sc.Events = []contextEvent{
				{Type: "market_event", Description: "Normal trading activity"},
				{Type: "news", Description: "Standard market conditions"},
			}
			sc.Relevance = 0.4
		}

	case model.SourceWeather:
		extreme := false
		for _, p := range points {
			if p.Metric == "temperature" && (p.Value > 30 || p.Value < 0) {
				extreme = true
			}
		}
		if extreme {
			sc.Events = []contextEvent{
				{Type: "meteorological", Description: "Extreme temperature alert"},
				{Type: "event", Description: "Weather advisory issued"},
			}
			sc.Relevance = 0.7
		} else {
			sc.Events = []contextEvent{
				{Type: "meteorological", Description: "Seasonal weather pattern"},
				{Type: "event", Description: "Normal conditions"},
			}
			sc.Relevance = 0.3
		}

	case model.SourceGitHub:
		sc.Events = []contextEvent{
			{Type: "platform", Description: "API activity change"},
			{Type: "event", Description: "Repository activity spike"},
		}
		sc.Relevance = 0.5
	}

	return sc
}

func (a *Context) explain(point model.DataPoint, sc sourceContext) string {
	descriptions := make([]string, len(sc.Events))
	for i, e := range sc.Events {
		descriptions[i] = e.Description
	}
	return fmt.Sprintf("Anomaly in %s %s may be related to external events: %s. Contextual relevance: %.2f.",
		point.Source, point.Metric, strings.Join(descriptions, ", "), sc.Relevance)
}
