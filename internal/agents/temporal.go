package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/stats"
)

// TemporalConfig configures the temporal agent.
type TemporalConfig struct {
	Weight        float64
	MinConfidence float64

	ChangePoint  detect.ChangePointConfig
	TrendWindow  detect.TrendDeviationConfig
	Seasonal     detect.SeasonalConfig
	ExpSmoothing detect.ExpSmoothingConfig
	MACrossover  detect.MACrossoverConfig

	Logger *slog.Logger
}

// DefaultTemporalConfig returns weight 0.25 with min confidence 0.5.
func DefaultTemporalConfig() TemporalConfig {
	return TemporalConfig{
		Weight:        0.25,
		MinConfidence: 0.5,
		Logger:        slog.Default(),
	}
}

// Temporal analyzes each (source, metric) series over current plus history
// with the full temporal detector family, keeping only findings that land in
// the current batch's window. It also computes per-series pattern context
// (trend, seasonality, volatility) that downstream narratives use.
type Temporal struct {
	config    TemporalConfig
	detectors []detect.Detector
	logger    *slog.Logger
}

// NewTemporal creates the temporal agent.
func NewTemporal(config TemporalConfig) *Temporal {
	defaults := DefaultTemporalConfig()
	if config.Weight == 0 {
		config.Weight = defaults.Weight
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Temporal{
		config: config,
		detectors: []detect.Detector{
			detect.NewChangePoint(config.ChangePoint),
			detect.NewTrendDeviation(config.TrendWindow),
			detect.NewSeasonal(config.Seasonal),
			detect.NewExpSmoothing(config.ExpSmoothing),
			detect.NewMACrossover(config.MACrossover),
		},
		logger: config.Logger.With("agent", NameTemporal),
	}
}

func (a *Temporal) Name() string    { return NameTemporal }
func (a *Temporal) Weight() float64 { return a.config.Weight }

// patternContext summarizes the shape of one series.
type patternContext struct {
	trend       stats.Trend
	seasonality stats.Seasonality
	volatility  float64
	points      int
}

// Analyze runs every temporal detector over each combined series.
func (a *Temporal) Analyze(ctx context.Context, current, historical []model.DataPoint) (model.AgentResult, error) {
	combined := make([]model.DataPoint, 0, len(historical)+len(current))
	combined = append(combined, historical...)
	combined = append(combined, current...)

	grouped := model.GroupBySeries(combined)

	anomalies := []model.AgentAnomaly{}
	var patterns []map[string]any

	for _, key := range sortedSeriesKeys(grouped) {
		if err := ctx.Err(); err != nil {
			return model.AgentResult{}, err
		}

		points := grouped[key]
		sortByTimestamp(points)
		values, timestamps := seriesValues(points)

		pattern := a.analyzePatterns(values)
		patterns = append(patterns, map[string]any{
			"source":          key.Source,
			"metric":          key.Metric,
			"trend_direction": string(pattern.trend.Direction),
			"has_seasonality": pattern.seasonality.HasSeasonality,
			"volatility":      pattern.volatility,
			"data_points":     pattern.points,
		})

		for _, detector := range a.detectors {
			for _, det := range detector.Detect(values, timestamps) {
				if det.Confidence < a.config.MinConfidence {
					continue
				}
				if !inCurrentWindow(det.Timestamp, current) {
					continue
				}

				magnitude, _ := det.Field(detect.FieldChangeMagnitude)
				severity, score := stats.Severity(stats.SeverityInput{
					Confidence: det.Confidence,
					Magnitude:  magnitude,
					Scope:      1,
				})

				anomalies = append(anomalies, model.AgentAnomaly{
					AgentName:        NameTemporal,
					AgentWeight:      a.config.Weight,
					Source:           key.Source,
					Metric:           key.Metric,
					Type:             det.Type,
					Timestamp:        det.Timestamp,
					Value:            det.Value,
					HasValue:         true,
					Confidence:       det.Confidence,
					Severity:         severity,
					SeverityScore:    score,
					DetectionMethods: []string{det.Method},
					Explanation:      a.explain(det, pattern),
					Fields:           detectionFields(det),
				})
			}
		}
	}

	a.logger.Debug("temporal analysis complete", "groups", len(grouped), "anomalies", len(anomalies))

	return model.AgentResult{
		AgentName: NameTemporal,
		Weight:    a.config.Weight,
		Anomalies: anomalies,
		Metadata: map[string]any{
			"patterns_analyzed": patterns,
			"total_anomalies":   len(anomalies),
		},
	}, nil
}

func (a *Temporal) analyzePatterns(values []float64) patternContext {
	pattern := patternContext{points: len(values)}
	if len(values) < 10 {
		return pattern
	}

	pattern.trend = stats.CalculateTrend(values)
	pattern.seasonality = stats.DetectSeasonality(values, detect.DefaultSeasonalConfig().Period)
	if mean := stats.Mean(values); mean != 0 {
		pattern.volatility = stats.PopStdDev(values) / mean
	}
	return pattern
}

func (a *Temporal) explain(det detect.Detection, pattern patternContext) string {
	anomalyType := det.Type
	if anomalyType == "" {
		anomalyType = "temporal"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Temporal anomaly (%s) detected using %s. ", anomalyType, det.Method)

	switch det.Method {
	case detect.MethodChangePoint:
		before, _ := det.Field(detect.FieldMeanBefore)
		after, _ := det.Field(detect.FieldMeanAfter)
		fmt.Fprintf(&b, "Significant regime change detected. Mean shifted from %.2f to %.2f. ", before, after)
	case detect.MethodTrend:
		b.WriteString("Local trend diverged significantly from global trend. ")
	case detect.MethodSeasonal:
		b.WriteString("Value deviates from expected seasonal pattern. ")
	case detect.MethodMACrossover:
		fmt.Fprintf(&b, "Short and long-term moving averages diverged by %.1f%%. ", det.Deviation*100)
	}

	switch pattern.trend.Direction {
	case stats.TrendIncreasing:
		b.WriteString("Overall trend is increasing. ")
	case stats.TrendDecreasing:
		b.WriteString("Overall trend is decreasing. ")
	}
	if pattern.seasonality.HasSeasonality {
		b.WriteString("Seasonal patterns detected in data. ")
	}
	return strings.TrimSpace(b.String())
}
