package detect

import (
	"sort"
	"time"

	"github.com/example/streamlens/internal/stats"
)

// =============================================================================
// Ensemble
// =============================================================================

// EnsembleConfig configures a consensus ensemble over a detector set.
type EnsembleConfig struct {
	// MinConsensus is how many member detectors must flag the same index
	// before the ensemble reports it.
	MinConsensus int

	// Method is the identifier tagged onto ensemble detections.
	Method string
}

// Ensemble runs a fixed sequence of detectors over the same series and keeps
// the indices where at least MinConsensus of them agree. The ensemble holds
// detector values and its own policy; there is no detector hierarchy.
type Ensemble struct {
	detectors []Detector
	config    EnsembleConfig
}

// NewEnsemble creates an ensemble over the given detectors.
func NewEnsemble(detectors []Detector, config EnsembleConfig) *Ensemble {
	if config.MinConsensus == 0 {
		config.MinConsensus = 2
	}
	if config.Method == "" {
		config.Method = MethodEnsemble
	}
	return &Ensemble{detectors: detectors, config: config}
}

// NewStatisticalEnsemble assembles the standard statistical detector set
// (z-score, modified z-score, IQR, CUSUM) with min-consensus 2.
func NewStatisticalEnsemble(zscore ZScoreConfig, modz ModifiedZConfig, iqr IQRConfig, cusum CUSUMConfig) *Ensemble {
	return NewEnsemble([]Detector{
		NewZScore(zscore),
		NewModifiedZ(modz),
		NewIQR(iqr),
		NewCUSUM(cusum),
	}, EnsembleConfig{MinConsensus: 2, Method: MethodEnsemble})
}

// NewMLEnsemble assembles the density-based detector pair (isolation forest,
// LOF); a single member flagging an index is enough.
func NewMLEnsemble(iforest IForestConfig, lof LOFConfig) *Ensemble {
	return NewEnsemble([]Detector{
		NewIForest(iforest),
		NewLOF(lof),
	}, EnsembleConfig{MinConsensus: 1, Method: MethodMLEnsemble})
}

// Name returns the ensemble's method identifier.
func (e *Ensemble) Name() string { return e.config.Method }

// ConsensusDetection is one index where enough detectors agreed.
type ConsensusDetection struct {
	Index int
	Value float64

	// Confidence is the arithmetic mean of the contributing confidences.
	Confidence float64

	// ConsensusCount is how many detectors flagged the index.
	ConsensusCount int

	// Methods lists the contributing method identifiers, in detector order.
	Methods []string

	// Individual holds the member detections behind the consensus.
	Individual []Detection

	// Timestamp is the input timestamp at Index, when available.
	Timestamp time.Time

	// MaxDeviation is the largest member deviation, used for severity.
	MaxDeviation float64
}

// Detect runs every member detector and buckets findings by index.
// Buckets below MinConsensus are dropped. Results are ordered by index so
// the output is deterministic regardless of member order.
func (e *Ensemble) Detect(values []float64, timestamps []time.Time) []ConsensusDetection {
	buckets := make(map[int][]Detection)
	for _, detector := range e.detectors {
		for _, det := range detector.Detect(values, timestamps) {
			buckets[det.Index] = append(buckets[det.Index], det)
		}
	}

	indices := make([]int, 0, len(buckets))
	for idx, group := range buckets {
		if len(group) >= e.config.MinConsensus {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	detections := make([]ConsensusDetection, 0, len(indices))
	for _, idx := range indices {
		group := buckets[idx]

		confidences := make([]float64, len(group))
		methods := make([]string, len(group))
		maxDeviation := 0.0
		for i, det := range group {
			confidences[i] = det.Confidence
			methods[i] = det.Method
			if det.Deviation > maxDeviation {
				maxDeviation = det.Deviation
			}
		}

		detections = append(detections, ConsensusDetection{
			Index:          idx,
			Value:          group[0].Value,
			Confidence:     stats.Mean(confidences),
			ConsensusCount: len(group),
			Methods:        methods,
			Individual:     group,
			Timestamp:      timestampAt(timestamps, idx),
			MaxDeviation:   maxDeviation,
		})
	}
	return detections
}
