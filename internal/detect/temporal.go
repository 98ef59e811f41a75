package detect

import (
	"math"
	"time"

	"github.com/example/streamlens/internal/stats"
)

// =============================================================================
// Change-Point (binary segmentation)
// =============================================================================

// ChangePointConfig configures the regime-change detector.
type ChangePointConfig struct {
	// MinSize is the minimum segment length on either side of a split.
	MinSize int

	// Penalty is the cost of adding a change point; higher means fewer.
	Penalty float64
}

// DefaultChangePointConfig returns min segment 5 with penalty 10.
func DefaultChangePointConfig() ChangePointConfig {
	return ChangePointConfig{MinSize: 5, Penalty: 10}
}

// ChangePoint finds indices where the mean of the series shifts, by
// recursive binary segmentation: each candidate split is scored by the
// variance reduction it buys minus the penalty, and a split is accepted only
// when the improvement clears the penalty again.
type ChangePoint struct {
	config ChangePointConfig
}

// NewChangePoint creates a change-point detector.
func NewChangePoint(config ChangePointConfig) *ChangePoint {
	defaults := DefaultChangePointConfig()
	if config.MinSize == 0 {
		config.MinSize = defaults.MinSize
	}
	if config.Penalty == 0 {
		config.Penalty = defaults.Penalty
	}
	return &ChangePoint{config: config}
}

func (d *ChangePoint) Name() string { return MethodChangePoint }

func (d *ChangePoint) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < d.config.MinSize*2 || hasInvalid(values) {
		return nil
	}

	var detections []Detection
	for _, cp := range d.changePoints(values) {
		before := values[max(0, cp-d.config.MinSize):cp]
		after := values[cp:min(len(values), cp+d.config.MinSize)]
		if len(before) == 0 || len(after) == 0 {
			continue
		}

		meanBefore := stats.Mean(before)
		meanAfter := stats.Mean(after)
		stdBefore := stats.PopStdDev(before)
		changeMagnitude := math.Abs(meanAfter - meanBefore)

		confidence := 0.5
		if stdBefore > 0 {
			confidence = stats.Confidence(changeMagnitude/stdBefore, 2.0, 0.5)
		}

		detections = append(detections, Detection{
			Index:      cp,
			Value:      values[cp],
			Deviation:  changeMagnitude,
			Confidence: confidence,
			Method:     MethodChangePoint,
			Type:       TypeRegimeChange,
			Timestamp:  timestampAt(timestamps, cp),
			Fields: map[string]float64{
				FieldMeanBefore:      meanBefore,
				FieldMeanAfter:       meanAfter,
				FieldChangeMagnitude: changeMagnitude,
			},
		})
	}
	return detections
}

// changePoints runs the recursive segmentation and returns split indices in
// ascending order.
func (d *ChangePoint) changePoints(values []float64) []int {
	var points []int

	var segment func(start, end int)
	segment = func(start, end int) {
		if end-start < d.config.MinSize*2 {
			return
		}
		idx, cost := d.bestSplit(values, start, end)
		if cost < -d.config.Penalty {
			points = append(points, idx)
			segment(start, idx)
			segment(idx, end)
		}
	}
	segment(0, len(values))

	sortInts(points)
	return points
}

// bestSplit scans [start+MinSize, end-MinSize) for the split minimizing the
// penalized variance cost.
func (d *ChangePoint) bestSplit(values []float64, start, end int) (int, float64) {
	bestIdx := start + d.config.MinSize
	bestCost := math.Inf(1)

	totalVar := popVariance(values[start:end]) * float64(end-start)

	for i := start + d.config.MinSize; i < end-d.config.MinSize; i++ {
		left := values[start:i]
		right := values[i:end]

		splitVar := popVariance(left)*float64(len(left)) + popVariance(right)*float64(len(right))
		cost := splitVar - totalVar + d.config.Penalty
		if cost < bestCost {
			bestCost = cost
			bestIdx = i
		}
	}
	return bestIdx, bestCost
}

func popVariance(values []float64) float64 {
	std := stats.PopStdDev(values)
	return std * std
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// =============================================================================
// Trend Deviation
// =============================================================================

// TrendDeviationConfig configures the local-vs-global trend detector.
type TrendDeviationConfig struct {
	// WindowSize is the half-window for the local regression.
	WindowSize int
}

// DefaultTrendDeviationConfig returns a 20-point half-window.
func DefaultTrendDeviationConfig() TrendDeviationConfig {
	return TrendDeviationConfig{WindowSize: 20}
}

// TrendDeviation fits a global regression line, then slides a +/- window
// regression across the interior and flags indices where the local slope
// departs from the global slope by more than 150%. A negligible global slope
// makes the relative comparison meaningless, so those series produce nothing.
type TrendDeviation struct {
	config TrendDeviationConfig
}

// NewTrendDeviation creates a trend-deviation detector.
func NewTrendDeviation(config TrendDeviationConfig) *TrendDeviation {
	if config.WindowSize == 0 {
		config.WindowSize = DefaultTrendDeviationConfig().WindowSize
	}
	return &TrendDeviation{config: config}
}

func (d *TrendDeviation) Name() string { return MethodTrend }

func (d *TrendDeviation) Detect(values []float64, timestamps []time.Time) []Detection {
	w := d.config.WindowSize
	if len(values) < w || hasInvalid(values) {
		return nil
	}

	globalSlope := stats.CalculateTrend(values).Slope
	if math.Abs(globalSlope) <= 0.001 {
		return nil
	}

	var detections []Detection
	for i := w; i < len(values)-w; i++ {
		localSlope := stats.CalculateTrend(values[i-w : i+w]).Slope
		slopeChange := math.Abs(localSlope-globalSlope) / math.Abs(globalSlope)
		if slopeChange <= 1.5 {
			continue
		}

		detections = append(detections, Detection{
			Index:      i,
			Value:      values[i],
			Deviation:  slopeChange,
			Confidence: math.Min(slopeChange/3.0, 1.0),
			Method:     MethodTrend,
			Type:       TypeTrendReversal,
			Timestamp:  timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldGlobalSlope: globalSlope,
				FieldLocalSlope:  localSlope,
				FieldSlopeChange: slopeChange,
			},
		})
	}
	return detections
}

// =============================================================================
// Seasonal
// =============================================================================

// SeasonalConfig configures the seasonal-residual detector.
type SeasonalConfig struct {
	// Period is the expected seasonal period in samples.
	Period int
}

// DefaultSeasonalConfig returns a 24-sample period (hourly data, daily cycle).
func DefaultSeasonalConfig() SeasonalConfig {
	return SeasonalConfig{Period: 24}
}

// Seasonal verifies the series is actually seasonal (autocorrelation at the
// period above 0.5), subtracts the average per-phase profile, and flags
// residuals beyond 3 sigma.
type Seasonal struct {
	config SeasonalConfig
}

// NewSeasonal creates a seasonal detector.
func NewSeasonal(config SeasonalConfig) *Seasonal {
	if config.Period == 0 {
		config.Period = DefaultSeasonalConfig().Period
	}
	return &Seasonal{config: config}
}

func (d *Seasonal) Name() string { return MethodSeasonal }

func (d *Seasonal) Detect(values []float64, timestamps []time.Time) []Detection {
	period := d.config.Period
	if len(values) < period*2 || hasInvalid(values) {
		return nil
	}

	if !stats.DetectSeasonality(values, period).HasSeasonality {
		return nil
	}

	pattern := d.seasonalPattern(values)
	deseasonalized := make([]float64, len(values))
	for i, v := range values {
		deseasonalized[i] = v - pattern[i%period]
	}

	mean := stats.Mean(deseasonalized)
	std := stats.PopStdDev(deseasonalized)
	if std == 0 {
		return nil
	}

	const threshold = 3.0
	var detections []Detection
	for i, v := range values {
		z := math.Abs(deseasonalized[i]-mean) / std
		if z <= threshold {
			continue
		}

		seasonalComponent := pattern[i%period]
		expected := mean + seasonalComponent

		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    expected,
			HasExpected: true,
			Deviation:   math.Abs(v - expected),
			Confidence:  stats.Confidence(z, threshold, 0.5),
			Method:      MethodSeasonal,
			Type:        TypeSeasonalOutlier,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldSeasonalComponent: seasonalComponent,
				FieldResidual:          deseasonalized[i],
				FieldZScore:            z,
			},
		})
	}
	return detections
}

// seasonalPattern averages values at each phase position and centers the
// resulting profile.
func (d *Seasonal) seasonalPattern(values []float64) []float64 {
	period := d.config.Period
	pattern := make([]float64, period)

	for phase := 0; phase < period; phase++ {
		var sum float64
		var count int
		for i := phase; i < len(values); i += period {
			sum += values[i]
			count++
		}
		if count > 0 {
			pattern[phase] = sum / float64(count)
		}
	}

	center := stats.Mean(pattern)
	for i := range pattern {
		pattern[i] -= center
	}
	return pattern
}

// =============================================================================
// Exponential Smoothing
// =============================================================================

// ExpSmoothingConfig configures the forecast-error detector.
type ExpSmoothingConfig struct {
	// Alpha is the smoothing factor in (0,1].
	Alpha float64

	// Threshold is the z-score of the forecast error that flags a point.
	Threshold float64
}

// DefaultExpSmoothingConfig returns alpha 0.3 at 3 sigma.
func DefaultExpSmoothingConfig() ExpSmoothingConfig {
	return ExpSmoothingConfig{Alpha: 0.3, Threshold: 3.0}
}

// ExpSmoothing runs a simple exponential smoother as a one-step forecaster
// and standardizes the stream of forecast errors; after a 10-point warm-up,
// errors beyond the threshold flag the point.
type ExpSmoothing struct {
	config ExpSmoothingConfig
}

// NewExpSmoothing creates an exponential-smoothing detector.
func NewExpSmoothing(config ExpSmoothingConfig) *ExpSmoothing {
	defaults := DefaultExpSmoothingConfig()
	if config.Alpha == 0 {
		config.Alpha = defaults.Alpha
	}
	if config.Threshold == 0 {
		config.Threshold = defaults.Threshold
	}
	return &ExpSmoothing{config: config}
}

func (d *ExpSmoothing) Name() string { return MethodExpSmoothing }

func (d *ExpSmoothing) Detect(values []float64, timestamps []time.Time) []Detection {
	if len(values) < 5 || hasInvalid(values) {
		return nil
	}

	var detections []Detection
	forecast := values[0]
	var errors []float64

	for i := 1; i < len(values); i++ {
		v := values[i]
		err := math.Abs(v - forecast)
		errors = append(errors, err)

		// One-step-ahead update.
		forecast = d.config.Alpha*v + (1-d.config.Alpha)*forecast

		if i <= 10 {
			continue
		}

		errMean := stats.Mean(errors)
		errStd := stats.PopStdDev(errors)
		if errStd == 0 {
			continue
		}

		z := (err - errMean) / errStd
		if z <= d.config.Threshold {
			continue
		}

		detections = append(detections, Detection{
			Index:       i,
			Value:       v,
			Expected:    forecast,
			HasExpected: true,
			Deviation:   err,
			Confidence:  stats.Confidence(z, d.config.Threshold, 0.5),
			Method:      MethodExpSmoothing,
			Type:        TypeForecastError,
			Timestamp:   timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldForecastError: err,
				FieldZScore:        z,
			},
		})
	}
	return detections
}

// =============================================================================
// Moving-Average Crossover
// =============================================================================

// MACrossoverConfig configures the short/long moving-average detector.
type MACrossoverConfig struct {
	ShortWindow int
	LongWindow  int

	// Threshold is the relative divergence of the two averages that flags
	// a point (0.15 = 15%).
	Threshold float64
}

// DefaultMACrossoverConfig returns windows 5/20 at 15%.
func DefaultMACrossoverConfig() MACrossoverConfig {
	return MACrossoverConfig{ShortWindow: 5, LongWindow: 20, Threshold: 0.15}
}

// MACrossover flags indices where the short and long trailing averages
// diverge by more than the relative threshold.
type MACrossover struct {
	config MACrossoverConfig
}

// NewMACrossover creates a moving-average crossover detector.
func NewMACrossover(config MACrossoverConfig) *MACrossover {
	defaults := DefaultMACrossoverConfig()
	if config.ShortWindow == 0 {
		config.ShortWindow = defaults.ShortWindow
	}
	if config.LongWindow == 0 {
		config.LongWindow = defaults.LongWindow
	}
	if config.Threshold == 0 {
		config.Threshold = defaults.Threshold
	}
	return &MACrossover{config: config}
}

func (d *MACrossover) Name() string { return MethodMACrossover }

func (d *MACrossover) Detect(values []float64, timestamps []time.Time) []Detection {
	long := d.config.LongWindow
	if len(values) < long || hasInvalid(values) {
		return nil
	}

	var detections []Detection
	for i := long; i < len(values); i++ {
		shortMA := stats.Mean(values[i-d.config.ShortWindow : i])
		longMA := stats.Mean(values[i-long : i])
		if longMA == 0 {
			continue
		}

		deviation := math.Abs(shortMA-longMA) / longMA
		if deviation <= d.config.Threshold {
			continue
		}

		detections = append(detections, Detection{
			Index:      i,
			Value:      values[i],
			Deviation:  deviation,
			Confidence: math.Min(deviation/d.config.Threshold, 1.0),
			Method:     MethodMACrossover,
			Type:       TypeMADivergence,
			Timestamp:  timestampAt(timestamps, i),
			Fields: map[string]float64{
				FieldShortMA: shortMA,
				FieldLongMA:  longMA,
			},
		})
	}
	return detections
}
