// Package detect implements the one-dimensional anomaly detector library:
// statistical outlier detectors, temporal pattern detectors, derivatives
// (open-interest) specialist detectors, ML-style density detectors, and the
// ensembles that combine them.
//
// Every detector is a pure operation over (values, timestamps): fixed inputs
// always produce identical detections, timestamps are propagated from the
// input series and never synthesized, and deficient input (too few points,
// zero variance, NaN) yields an empty result rather than an error.
package detect

import (
	"math"
	"time"

	"github.com/example/streamlens/internal/model"
)

// Method identifiers tagged onto every detection.
const (
	MethodZScore        = "zscore"
	MethodModifiedZ     = "modified_zscore"
	MethodIQR           = "iqr"
	MethodCUSUM         = "cusum"
	MethodMovingAverage = "moving_average"
	MethodChangePoint   = "changepoint"
	MethodTrend         = "trend_deviation"
	MethodSeasonal      = "seasonal_decomposition"
	MethodExpSmoothing  = "exponential_smoothing"
	MethodMACrossover   = "ma_crossover"
	MethodOIDivergence  = "oi_divergence"
	MethodFundingRate   = "funding_rate"
	MethodLongShort     = "long_short_ratio"
	MethodIForest       = "isolation_forest"
	MethodLOF           = "lof"
	MethodEnsemble      = "ensemble"
	MethodMLEnsemble    = "ml_ensemble"
)

// Anomaly type identifiers for detections that carry one.
const (
	TypeRegimeChange    = "regime_change"
	TypeTrendReversal   = "trend_reversal"
	TypeSeasonalOutlier = "seasonal_outlier"
	TypeForecastError   = "forecast_error"
	TypeMADivergence    = "moving_average_divergence"
)

// Well-known keys for method-specific numeric fields on a Detection.
const (
	FieldZScore            = "z_score"
	FieldModifiedZScore    = "modified_z_score"
	FieldThreshold         = "threshold"
	FieldQ1                = "q1"
	FieldQ3                = "q3"
	FieldIQR               = "iqr"
	FieldLowerBound        = "lower_bound"
	FieldUpperBound        = "upper_bound"
	FieldCUSUMPositive     = "cusum_positive"
	FieldCUSUMNegative     = "cusum_negative"
	FieldMovingAvg         = "moving_average"
	FieldMovingStd         = "moving_std"
	FieldMeanBefore        = "mean_before"
	FieldMeanAfter         = "mean_after"
	FieldChangeMagnitude   = "change_magnitude"
	FieldGlobalSlope       = "global_slope"
	FieldLocalSlope        = "local_slope"
	FieldSlopeChange       = "slope_change"
	FieldSeasonalComponent = "seasonal_component"
	FieldResidual          = "residual"
	FieldForecastError     = "forecast_error"
	FieldShortMA           = "short_ma"
	FieldLongMA            = "long_ma"
	FieldPriceChangePct    = "price_change_pct"
	FieldOIChangePct       = "oi_change_pct"
	FieldFundingRate       = "funding_rate"
	FieldLongShortRatio    = "long_short_ratio"
	FieldAnomalyScore      = "anomaly_score"
	FieldLOFScore          = "lof_score"
)

// Detection is a single detector finding at one index of the input series.
type Detection struct {
	// Index is the position in the input series.
	Index int

	// Value is the observed value at Index.
	Value float64

	// Expected is the value the detector considered normal, when it has one.
	Expected    float64
	HasExpected bool

	// Deviation is the magnitude of departure from normal, in the
	// detector's units.
	Deviation float64

	// Confidence is the detection confidence in [0,1].
	Confidence float64

	// Method identifies the originating detector.
	Method string

	// Type further classifies the anomaly, when the method distinguishes
	// kinds (regime_change, bearish_divergence, ...).
	Type string

	// Timestamp is the input timestamp at Index; zero when the caller
	// supplied no timestamps.
	Timestamp time.Time

	// Severity is set only by the OI specialist detectors, which classify
	// severity directly from market structure.
	Severity model.Severity

	// Signal names the market signal for OI detections
	// (extreme_long_pressure, elevated_short_bias, ...).
	Signal string

	// Symbol is the instrument for OI detections, when known.
	Symbol string

	// Explanation is a human-readable account, set by detectors that can
	// explain themselves (the OI family).
	Explanation string

	// Fields holds method-specific numeric details under the Field* keys.
	Fields map[string]float64
}

// Field returns a method-specific numeric field and whether it is present.
func (d Detection) Field(key string) (float64, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// Detector is a pure one-dimensional anomaly detector. Implementations must
// be safe for concurrent use and deterministic for fixed inputs.
type Detector interface {
	// Name returns the method identifier tagged onto detections.
	Name() string

	// Detect scans the series and returns detections in index order.
	// timestamps may be nil; when present it parallels values.
	Detect(values []float64, timestamps []time.Time) []Detection
}

// timestampAt returns the timestamp for index i, or the zero time when the
// caller supplied none.
func timestampAt(timestamps []time.Time, i int) time.Time {
	if i >= 0 && i < len(timestamps) {
		return timestamps[i]
	}
	return time.Time{}
}

// hasInvalid reports whether the series contains NaN or infinite values.
// Detectors treat such input as deficient and return empty.
func hasInvalid(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
