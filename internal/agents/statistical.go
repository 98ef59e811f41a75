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

// StatisticalConfig configures the statistical agent.
type StatisticalConfig struct {
	// Weight is the agent's consensus vote weight.
	Weight float64

	// MinConfidence filters ensemble detections below this confidence.
	MinConfidence float64

	// MinConsensus is how many ensemble members must agree on an index.
	MinConsensus int

	// EnableML additionally runs the density-based (isolation forest, LOF)
	// ensemble over each series.
	EnableML bool

	ZScore    detect.ZScoreConfig
	ModifiedZ detect.ModifiedZConfig
	IQR       detect.IQRConfig
	CUSUM     detect.CUSUMConfig
	IForest   detect.IForestConfig
	LOF       detect.LOFConfig

	Logger *slog.Logger
}

// DefaultStatisticalConfig returns weight 0.25 with min confidence 0.5.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{
		Weight:        0.25,
		MinConfidence: 0.5,
		MinConsensus:  2,
		Logger:        slog.Default(),
	}
}

// Statistical groups current points by (source, metric) and runs the
// statistical consensus ensemble over each series.
type Statistical struct {
	config   StatisticalConfig
	ensemble *detect.Ensemble
	ml       *detect.Ensemble
	logger   *slog.Logger
}

// NewStatistical creates the statistical agent.
func NewStatistical(config StatisticalConfig) *Statistical {
	defaults := DefaultStatisticalConfig()
	if config.Weight == 0 {
		config.Weight = defaults.Weight
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.MinConsensus == 0 {
		config.MinConsensus = defaults.MinConsensus
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ensemble := detect.NewEnsemble([]detect.Detector{
		detect.NewZScore(config.ZScore),
		detect.NewModifiedZ(config.ModifiedZ),
		detect.NewIQR(config.IQR),
		detect.NewCUSUM(config.CUSUM),
	}, detect.EnsembleConfig{MinConsensus: config.MinConsensus})

	agent := &Statistical{
		config:   config,
		ensemble: ensemble,
		logger:   config.Logger.With("agent", NameStatistical),
	}
	if config.EnableML {
		agent.ml = detect.NewMLEnsemble(config.IForest, config.LOF)
	}
	return agent
}

func (a *Statistical) Name() string    { return NameStatistical }
func (a *Statistical) Weight() float64 { return a.config.Weight }

// Analyze runs the ensemble per series and keeps detections at or above the
// configured confidence.
func (a *Statistical) Analyze(ctx context.Context, current, _ []model.DataPoint) (model.AgentResult, error) {
	grouped := model.GroupBySeries(current)

	anomalies := []model.AgentAnomaly{}
	var details []map[string]any

	for _, key := range sortedSeriesKeys(grouped) {
		if err := ctx.Err(); err != nil {
			return model.AgentResult{}, err
		}

		points := grouped[key]
		values, timestamps := seriesValues(points)

		detections := a.ensemble.Detect(values, timestamps)
		if a.ml != nil {
			detections = append(detections, a.ml.Detect(values, timestamps)...)
		}

		for _, det := range detections {
			if det.Confidence < a.config.MinConfidence {
				continue
			}

			severity, score := stats.Severity(stats.SeverityInput{
				Confidence: det.Confidence,
				Magnitude:  det.MaxDeviation,
				Scope:      1,
			})

			anomalies = append(anomalies, model.AgentAnomaly{
				AgentName:        NameStatistical,
				AgentWeight:      a.config.Weight,
				Source:           key.Source,
				Metric:           key.Metric,
				Timestamp:        det.Timestamp,
				Value:            det.Value,
				HasValue:         true,
				Confidence:       det.Confidence,
				Severity:         severity,
				SeverityScore:    score,
				DetectionMethods: det.Methods,
				Explanation:      a.explain(det, key),
				Fields:           consensusFields(det),
			})
		}

		details = append(details, map[string]any{
			"source":          key.Source,
			"metric":          key.Metric,
			"data_points":     len(points),
			"anomalies_found": len(detections),
		})
	}

	a.logger.Debug("statistical analysis complete", "groups", len(grouped), "anomalies", len(anomalies))

	return model.AgentResult{
		AgentName: NameStatistical,
		Weight:    a.config.Weight,
		Anomalies: anomalies,
		Metadata: map[string]any{
			"groups_analyzed":  len(grouped),
			"total_anomalies":  len(anomalies),
			"analysis_details": details,
		},
	}, nil
}

// consensusFields merges the field maps of the member detections behind a
// consensus bucket; the representative (highest-confidence) member wins on
// key conflicts.
func consensusFields(det detect.ConsensusDetection) map[string]any {
	fields := make(map[string]any)
	ordered := append([]detect.Detection(nil), det.Individual...)
	// Ascending confidence so the strongest member writes last.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Confidence < ordered[j-1].Confidence; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, d := range ordered {
		for k, v := range detectionFields(d) {
			fields[k] = v
		}
	}
	fields["consensus_count"] = det.ConsensusCount
	return fields
}

func (a *Statistical) explain(det detect.ConsensusDetection, key model.SeriesKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statistical anomaly detected in %s %s. %d detection methods agreed (confidence: %.2f). ",
		key.Source, key.Metric, det.ConsensusCount, det.Confidence)

	methods := make(map[string]bool, len(det.Methods))
	for _, m := range det.Methods {
		methods[m] = true
	}
	if methods[detect.MethodZScore] {
		b.WriteString("Value is significantly outside normal distribution. ")
	}
	if methods[detect.MethodIQR] {
		b.WriteString("Value is beyond interquartile range bounds. ")
	}
	if methods[detect.MethodCUSUM] {
		b.WriteString("Cumulative sum indicates a sustained shift in mean. ")
	}
	return strings.TrimSpace(b.String())
}
