package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/stats"
)

// CorrelationConfig configures the cross-series correlation agent.
type CorrelationConfig struct {
	Weight        float64
	MinConfidence float64

	// PearsonThreshold marks a pair as significantly correlated.
	PearsonThreshold float64

	// SpearmanThreshold marks a rank correlation as significant.
	SpearmanThreshold float64

	// WindowSize is the sliding window for break detection and the minimum
	// aligned length for any correlation at all.
	WindowSize int

	// BreakThreshold is the correlation delta that counts as a break.
	BreakThreshold float64

	Logger *slog.Logger
}

// DefaultCorrelationConfig returns weight 0.20, window 30, break 0.3.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Weight:            0.20,
		MinConfidence:     0.6,
		PearsonThreshold:  0.7,
		SpearmanThreshold: 0.7,
		WindowSize:        30,
		BreakThreshold:    0.3,
		Logger:            slog.Default(),
	}
}

// Correlation aligns every pair of (source, metric) series on exact
// timestamps, measures their Pearson and Spearman correlation, scans
// historically correlated pairs for correlation breaks, and looks for
// simultaneous anomalies spanning multiple sources in the same minute.
type Correlation struct {
	config CorrelationConfig
	logger *slog.Logger
}

// NewCorrelation creates the correlation agent.
func NewCorrelation(config CorrelationConfig) *Correlation {
	defaults := DefaultCorrelationConfig()
	if config.Weight == 0 {
		config.Weight = defaults.Weight
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.PearsonThreshold == 0 {
		config.PearsonThreshold = defaults.PearsonThreshold
	}
	if config.SpearmanThreshold == 0 {
		config.SpearmanThreshold = defaults.SpearmanThreshold
	}
	if config.WindowSize == 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.BreakThreshold == 0 {
		config.BreakThreshold = defaults.BreakThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Correlation{config: config, logger: config.Logger.With("agent", NameCorrelation)}
}

func (a *Correlation) Name() string    { return NameCorrelation }
func (a *Correlation) Weight() float64 { return a.config.Weight }

// alignedPair is one timestamp-matched observation of two series.
type alignedPair struct {
	v1, v2 float64
	ts     time.Time
}

// pairCorrelation is a correlation-matrix entry.
type pairCorrelation struct {
	Source1     string  `json:"source1"`
	Metric1     string  `json:"metric1"`
	Source2     string  `json:"source2"`
	Metric2     string  `json:"metric2"`
	Pearson     float64 `json:"pearson"`
	PearsonP    float64 `json:"pearson_pvalue"`
	Spearman    float64 `json:"spearman"`
	SpearmanP   float64 `json:"spearman_pvalue"`
	DataPoints  int     `json:"data_points"`
	Significant bool    `json:"significant"`
}

// Analyze runs the pairwise scan over current plus history.
func (a *Correlation) Analyze(ctx context.Context, current, historical []model.DataPoint) (model.AgentResult, error) {
	combined := make([]model.DataPoint, 0, len(historical)+len(current))
	combined = append(combined, historical...)
	combined = append(combined, current...)

	grouped := model.GroupBySeries(combined)
	for _, points := range grouped {
		sortByTimestamp(points)
	}
	keys := sortedSeriesKeys(grouped)

	anomalies := []model.AgentAnomaly{}
	var matrix []pairCorrelation
	skipped := 0

	for i, key1 := range keys {
		for _, key2 := range keys[i+1:] {
			if err := ctx.Err(); err != nil {
				return model.AgentResult{}, err
			}

			aligned := alignSeries(grouped[key1], grouped[key2])
			if len(aligned) < a.config.WindowSize || len(aligned) < 3 {
				continue
			}

			corr, ok := a.correlate(aligned)
			if !ok {
				// Constant series or other numeric failure; the pair is
				// recorded as skipped, never escalated.
				skipped++
				continue
			}
			corr.Source1, corr.Metric1 = key1.Source, key1.Metric
			corr.Source2, corr.Metric2 = key2.Source, key2.Metric
			matrix = append(matrix, corr)

			for _, anomaly := range a.detectBreaks(aligned, key1, key2, corr.Pearson) {
				if inCurrentWindow(anomaly.Timestamp, current) {
					anomalies = append(anomalies, anomaly)
				}
			}
		}
	}

	anomalies = append(anomalies, a.detectSimultaneous(current)...)

	a.logger.Debug("correlation analysis complete",
		"pairs", len(matrix), "skipped", skipped, "anomalies", len(anomalies))

	return model.AgentResult{
		AgentName: NameCorrelation,
		Weight:    a.config.Weight,
		Anomalies: anomalies,
		Metadata: map[string]any{
			"correlation_matrix": matrix,
			"pairs_analyzed":     len(matrix),
			"pairs_skipped":      skipped,
			"total_anomalies":    len(anomalies),
		},
	}, nil
}

// alignSeries inner-joins two series on exact timestamps.
func alignSeries(series1, series2 []model.DataPoint) []alignedPair {
	byTS := make(map[int64]float64, len(series2))
	for _, p := range series2 {
		byTS[p.Timestamp.UnixNano()] = p.Value
	}

	var aligned []alignedPair
	for _, p := range series1 {
		if v2, ok := byTS[p.Timestamp.UnixNano()]; ok {
			aligned = append(aligned, alignedPair{v1: p.Value, v2: v2, ts: p.Timestamp})
		}
	}
	sort.SliceStable(aligned, func(i, j int) bool { return aligned[i].ts.Before(aligned[j].ts) })
	return aligned
}

func pairValues(aligned []alignedPair) ([]float64, []float64) {
	v1 := make([]float64, len(aligned))
	v2 := make([]float64, len(aligned))
	for i, p := range aligned {
		v1[i] = p.v1
		v2[i] = p.v2
	}
	return v1, v2
}

func (a *Correlation) correlate(aligned []alignedPair) (pairCorrelation, bool) {
	v1, v2 := pairValues(aligned)

	pearson, ok := stats.Pearson(v1, v2)
	if !ok {
		return pairCorrelation{}, false
	}
	spearman, ok := stats.Spearman(v1, v2)
	if !ok {
		return pairCorrelation{}, false
	}

	return pairCorrelation{
		Pearson:     pearson.Coefficient,
		PearsonP:    pearson.PValue,
		Spearman:    spearman.Coefficient,
		SpearmanP:   spearman.PValue,
		DataPoints:  len(aligned),
		Significant: math.Abs(pearson.Coefficient) >= a.config.PearsonThreshold,
	}, true
}

// detectBreaks slides a window across the aligned sequence and compares the
// local Pearson against the full-sequence value. The full-sequence
// correlation deliberately serves as the "historical" baseline even for
// windows inside it: the scan asks where the pair behaves unlike its own
// long-run relationship.
func (a *Correlation) detectBreaks(aligned []alignedPair, key1, key2 model.SeriesKey, historical float64) []model.AgentAnomaly {
	if len(aligned) < a.config.WindowSize*2 {
		return nil
	}
	if math.Abs(historical) < a.config.PearsonThreshold {
		return nil
	}

	var anomalies []model.AgentAnomaly
	for i := a.config.WindowSize; i < len(aligned); i++ {
		window := aligned[i-a.config.WindowSize : i]
		v1, v2 := pairValues(window)

		local, ok := stats.Pearson(v1, v2)
		if !ok {
			continue
		}

		change := math.Abs(local.Coefficient - historical)
		if change < a.config.BreakThreshold {
			continue
		}
		confidence := math.Min(change/a.config.BreakThreshold, 1.0)
		if confidence < a.config.MinConfidence {
			continue
		}

		severity, score := stats.Severity(stats.SeverityInput{
			Confidence: confidence,
			Magnitude:  change * 10,
			Scope:      2, // two series are involved
		})

		at := aligned[i]
		anomalies = append(anomalies, model.AgentAnomaly{
			AgentName:        NameCorrelation,
			AgentWeight:      a.config.Weight,
			Type:             "correlation_break",
			Source:           key1.Source,
			Metric:           key1.Metric,
			Timestamp:        at.ts,
			Confidence:       confidence,
			Severity:         severity,
			SeverityScore:    score,
			DetectionMethods: []string{"correlation_break"},
			Explanation: fmt.Sprintf(
				"Correlation between %s %s and %s %s broke down. Historical correlation: %.2f, current: %.2f.",
				key1.Source, key1.Metric, key2.Source, key2.Metric, historical, local.Coefficient),
			Fields: map[string]any{
				"source1":                key1.Source,
				"metric1":                key1.Metric,
				"source2":                key2.Source,
				"metric2":                key2.Metric,
				"value1":                 at.v1,
				"value2":                 at.v2,
				"historical_correlation": historical,
				"current_correlation":    local.Coefficient,
				"correlation_change":     change,
			},
		})
	}
	return anomalies
}

// detectSimultaneous buckets current points by minute and flags minutes
// where at least two points span at least two distinct sources.
func (a *Correlation) detectSimultaneous(current []model.DataPoint) []model.AgentAnomaly {
	buckets := make(map[time.Time][]model.DataPoint)
	for _, p := range current {
		key := p.Timestamp.Truncate(time.Minute)
		buckets[key] = append(buckets[key], p)
	}

	minutes := make([]time.Time, 0, len(buckets))
	for ts := range buckets {
		minutes = append(minutes, ts)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i].Before(minutes[j]) })

	var anomalies []model.AgentAnomaly
	for _, ts := range minutes {
		points := buckets[ts]
		if len(points) < 2 {
			continue
		}

		sourceSet := make(map[string]bool)
		for _, p := range points {
			sourceSet[p.Source] = true
		}
		if len(sourceSet) < 2 {
			continue
		}

		confidence := math.Min(float64(len(sourceSet))/3.0, 1.0)
		if confidence < a.config.MinConfidence {
			continue
		}

		sources := make([]string, 0, len(sourceSet))
		for s := range sourceSet {
			sources = append(sources, s)
		}
		sort.Strings(sources)

		severity, score := stats.Severity(stats.SeverityInput{
			Confidence: confidence,
			Magnitude:  5,
			Scope:      float64(len(sources)),
		})

		anomalies = append(anomalies, model.AgentAnomaly{
			AgentName:        NameCorrelation,
			AgentWeight:      a.config.Weight,
			Type:             "simultaneous_anomaly",
			Source:           "multi-source",
			Metric:           "correlation",
			Timestamp:        ts,
			Confidence:       confidence,
			Severity:         severity,
			SeverityScore:    score,
			DetectionMethods: []string{"simultaneous_anomaly"},
			Explanation: fmt.Sprintf("Simultaneous anomaly detected across %d sources: %s at %s.",
				len(sources), strings.Join(sources, ", "), ts.Format("2006-01-02 15:04")),
			Fields: map[string]any{
				"affected_sources": sources,
				"point_count":      len(points),
			},
		})
	}
	return anomalies
}
