package detect

import (
	"math"
	"time"

	"github.com/example/streamlens/internal/stats"
)

// =============================================================================
// Z-Score
// =============================================================================

// ZScoreConfig configures the standard z-score detector.
type ZScoreConfig struct {
	// Threshold is the number of standard deviations that flags a point.
	Threshold float64
}

// DefaultZScoreConfig returns the stock 3-sigma configuration.
func DefaultZScoreConfig() ZScoreConfig {
	return ZScoreConfig{Threshold: 3.0}
}

// ZScore flags points whose distance from the mean exceeds Threshold
// standard deviations.
type ZScore struct {
	config ZScoreConfig
}

// NewZScore creates a z-score detector, filling zero config fields with
// defaults.
func NewZScore(config ZScoreConfig) *ZScore {
	if config.Threshold == 0 {
		config.Threshold = DefaultZScoreConfig().Threshold
	}
	return &ZScore{config: config}
}

func (d *ZScore) Name() string { return MethodZScore }

func (d *ZScore) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < 3 || hasInvalid(values) {
		return nil
	}

	mean := stats.Mean(values)
	std := stats.PopStdDev(values)
	if std == 0 {
		return nil
	}

	var detections []Detection
	for i, v := range values {
		z := math.Abs(v-mean) / std
		if z <= d.config.Threshold {
			continue
		}
		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    mean,
			HasExpected: true,
			Deviation:   math.Abs(v - mean),
			Confidence:  stats.Confidence(z, d.config.Threshold, 0.5),
			Method:      MethodZScore,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldZScore:    z,
				FieldThreshold: d.config.Threshold,
			},
		})
	}
	return detections
}

// =============================================================================
// Modified Z-Score
// =============================================================================

// ModifiedZConfig configures the MAD-based modified z-score detector.
type ModifiedZConfig struct {
	Threshold float64
}

// DefaultModifiedZConfig returns the stock 3.5 threshold.
func DefaultModifiedZConfig() ModifiedZConfig {
	return ModifiedZConfig{Threshold: 3.5}
}

// ModifiedZ flags points by the median/MAD form 0.6745*(x-med)/mad, which is
// robust to the outliers it is hunting. When the MAD collapses to zero it
// falls back to the mean absolute deviation; if that is also zero the series
// is constant and nothing is flagged.
type ModifiedZ struct {
	config ModifiedZConfig
}

// NewModifiedZ creates a modified z-score detector.
func NewModifiedZ(config ModifiedZConfig) *ModifiedZ {
	if config.Threshold == 0 {
		config.Threshold = DefaultModifiedZConfig().Threshold
	}
	return &ModifiedZ{config: config}
}

func (d *ModifiedZ) Name() string { return MethodModifiedZ }

func (d *ModifiedZ) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < 3 || hasInvalid(values) {
		return nil
	}

	median := stats.Median(values)
	mad := stats.MAD(values, median)
	if mad == 0 {
		mad = stats.MeanAbsDev(values, median)
		if mad == 0 {
			return nil
		}
	}

	var detections []Detection
	for i, v := range values {
		modZ := 0.6745 * (v - median) / mad
		if math.Abs(modZ) <= d.config.Threshold {
			continue
		}
		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    median,
			HasExpected: true,
			Deviation:   math.Abs(v - median),
			Confidence:  stats.Confidence(math.Abs(modZ), d.config.Threshold, 0.5),
			Method:      MethodModifiedZ,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldModifiedZScore: modZ,
				FieldThreshold:      d.config.Threshold,
			},
		})
	}
	return detections
}

// =============================================================================
// IQR
// =============================================================================

// IQRConfig configures the interquartile-range detector.
type IQRConfig struct {
	// Multiplier scales the IQR when computing the outlier fences.
	Multiplier float64
}

// DefaultIQRConfig returns the Tukey 1.5 multiplier.
func DefaultIQRConfig() IQRConfig {
	return IQRConfig{Multiplier: 1.5}
}

// IQR flags points outside [Q1 - k*IQR, Q3 + k*IQR].
type IQR struct {
	config IQRConfig
}

// NewIQR creates an IQR detector.
func NewIQR(config IQRConfig) *IQR {
	if config.Multiplier == 0 {
		config.Multiplier = DefaultIQRConfig().Multiplier
	}
	return &IQR{config: config}
}

func (d *IQR) Name() string { return MethodIQR }

func (d *IQR) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < 4 || hasInvalid(values) {
		return nil
	}

	q1 := stats.Percentile(values, 25)
	q3 := stats.Percentile(values, 75)
	iqr := q3 - q1
	if iqr == 0 {
		return nil
	}

	lower := q1 - d.config.Multiplier*iqr
	upper := q3 + d.config.Multiplier*iqr

	var detections []Detection
	for i, v := range values {
		if v >= lower && v <= upper {
			continue
		}

		var deviation, expected float64
		if v < lower {
			deviation = lower - v
			expected = lower
		} else {
			deviation = v - upper
			expected = upper
		}

		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    expected,
			HasExpected: true,
			Deviation:   deviation,
			Confidence:  stats.Confidence(deviation, iqr, 1.0),
			Method:      MethodIQR,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldQ1:         q1,
				FieldQ3:         q3,
				FieldIQR:        iqr,
				FieldLowerBound: lower,
				FieldUpperBound: upper,
			},
		})
	}
	return detections
}

// =============================================================================
// CUSUM
// =============================================================================

// CUSUMConfig configures the cumulative-sum shift detector.
type CUSUMConfig struct {
	// Threshold is the cumulative sum level that triggers a detection.
	Threshold float64

	// Drift is the per-step allowance subtracted before accumulating, so
	// small wander does not build up.
	Drift float64
}

// DefaultCUSUMConfig returns threshold 5.0 with drift 0.5.
func DefaultCUSUMConfig() CUSUMConfig {
	return CUSUMConfig{Threshold: 5.0, Drift: 0.5}
}

// CUSUM accumulates standardized residuals in both directions and fires when
// either running sum crosses the threshold, then resets both sums. Good at
// catching sustained mean shifts that no single point would reveal.
type CUSUM struct {
	config CUSUMConfig
}

// NewCUSUM creates a CUSUM detector.
func NewCUSUM(config CUSUMConfig) *CUSUM {
	defaults := DefaultCUSUMConfig()
	if config.Threshold == 0 {
		config.Threshold = defaults.Threshold
	}
	if config.Drift == 0 {
		config.Drift = defaults.Drift
	}
	return &CUSUM{config: config}
}

func (d *CUSUM) Name() string { return MethodCUSUM }

func (d *CUSUM) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < 5 || hasInvalid(values) {
		return nil
	}

	mean := stats.Mean(values)
	std := stats.PopStdDev(values)
	if std == 0 {
		return nil
	}

	var detections []Detection
	var cusumPos, cusumNeg float64

	for i, v := range values {
		standardized := (v - mean) / std
		cusumPos = math.Max(0, cusumPos+standardized-d.config.Drift)
		cusumNeg = math.Max(0, cusumNeg-standardized-d.config.Drift)

		if cusumPos <= d.config.Threshold && cusumNeg <= d.config.Threshold {
			continue
		}

		cusumValue := math.Max(cusumPos, cusumNeg)
		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    mean,
			HasExpected: true,
			Deviation:   math.Abs(v - mean),
			Confidence:  stats.Confidence(cusumValue, d.config.Threshold, 0.3),
			Method:      MethodCUSUM,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldCUSUMPositive: cusumPos,
				FieldCUSUMNegative: cusumNeg,
				FieldThreshold:     d.config.Threshold,
			},
		})

		cusumPos = 0
		cusumNeg = 0
	}
	return detections
}

// =============================================================================
// Moving Average
// =============================================================================

// MovingAverageConfig configures the rolling-window outlier detector.
type MovingAverageConfig struct {
	WindowSize   int
	ThresholdStd float64
}

// DefaultMovingAverageConfig returns a 10-point window at 2 sigma.
func DefaultMovingAverageConfig() MovingAverageConfig {
	return MovingAverageConfig{WindowSize: 10, ThresholdStd: 2.0}
}

// MovingAverage compares each point against the mean and dispersion of the
// trailing window, flagging points that sit too many window-sigmas away.
type MovingAverage struct {
	config MovingAverageConfig
}

// NewMovingAverage creates a moving-average detector.
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	defaults := DefaultMovingAverageConfig()
	if config.WindowSize == 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.ThresholdStd == 0 {
		config.ThresholdStd = defaults.ThresholdStd
	}
	return &MovingAverage{config: config}
}

func (d *MovingAverage) Name() string { return MethodMovingAverage }

func (d *MovingAverage) Detect(values []float64, timestamps []time.Time) []Detection {
	w := d.config.WindowSize
	if len(values) < w+1 || hasInvalid(values) {
		return nil
	}

	var detections []Detection
	for i := w; i < len(values); i++ {
		window := values[i-w : i]
		ma := stats.Mean(window)
		maStd := stats.PopStdDev(window)
		if maStd == 0 {
			continue
		}

		deviation := math.Abs(values[i] - ma)
		z := deviation / maStd
		if z <= d.config.ThresholdStd {
			continue
		}

		detections = append(detections, Detection{
			Index:       i,
			Value:       values[i],
			Expected:    ma,
			HasExpected: true,
			Deviation:   deviation,
			Confidence:  stats.Confidence(z, d.config.ThresholdStd, 0.5),
			Method:      MethodMovingAverage,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldMovingAvg: ma,
				FieldMovingStd: maStd,
				FieldZScore:    z,
			},
		})
	}
	return detections
}
