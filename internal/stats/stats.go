// Package stats provides the shared numerical helpers used by the detector
// library and the agents: summary statistics, correlation, trend and
// seasonality estimation, and confidence scaling.
//
// All functions are pure and deterministic. Dispersion follows the population
// convention (divide by n) so that detector thresholds behave identically on
// short and long series; gonum supplies the moment, correlation, and
// regression primitives.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// =============================================================================
// Summary Statistics
// =============================================================================

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// PopStdDev returns the population standard deviation (divide by n).
func PopStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	variance := stat.Variance(values, nil) * float64(n-1) / float64(n)
	return math.Sqrt(variance)
}

// Median returns the middle value of the sorted input, averaging the two
// central values for even lengths.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation around the given center.
func MAD(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - center)
	}
	return Median(devs)
}

// MeanAbsDev returns the mean absolute deviation around the given center.
func MeanAbsDev(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}

// Percentile returns the p-th percentile (0-100) with linear interpolation
// between the closest ranks, so P50 equals the median.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	if pos <= 0 {
		return sorted[0]
	}
	if pos >= float64(len(sorted)-1) {
		return sorted[len(sorted)-1]
	}
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// =============================================================================
// Correlation
// =============================================================================

// CorrelationResult carries a correlation coefficient with its two-sided
// p-value under the t approximation.
type CorrelationResult struct {
	Coefficient float64
	PValue      float64
}

// Pearson computes the Pearson correlation between two equal-length series.
// Returns ok=false when either series has zero variance or fewer than three
// observations.
func Pearson(x, y []float64) (CorrelationResult, bool) {
	if len(x) != len(y) || len(x) < 3 {
		return CorrelationResult{}, false
	}
	if PopStdDev(x) == 0 || PopStdDev(y) == 0 {
		return CorrelationResult{}, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return CorrelationResult{}, false
	}
	return CorrelationResult{Coefficient: r, PValue: correlationPValue(r, len(x))}, true
}

// Spearman computes the rank correlation: Pearson over the rank transform,
// with mid-ranks assigned to ties.
func Spearman(x, y []float64) (CorrelationResult, bool) {
	if len(x) != len(y) || len(x) < 3 {
		return CorrelationResult{}, false
	}
	return Pearson(Ranks(x), Ranks(y))
}

// Ranks returns 1-based ranks with ties sharing their mid-rank.
func Ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Mid-rank across the tie run [i, j].
		mid := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = mid
		}
		i = j + 1
	}
	return ranks
}

// correlationPValue computes the two-sided p-value for a correlation
// coefficient via the Student-t transform with n-2 degrees of freedom.
func correlationPValue(r float64, n int) float64 {
	if n <= 2 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(t)
}

// =============================================================================
// Trend and Seasonality
// =============================================================================

// TrendDirection classifies the slope of a fitted trend line.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend summarizes a least-squares linear fit over index positions.
type Trend struct {
	Direction TrendDirection
	Slope     float64
	Intercept float64
	Strength  float64 // |r| of the fit
}

// CalculateTrend fits a regression line over 0..n-1 and classifies the
// direction: slopes below 1% of the series' dispersion count as stable.
func CalculateTrend(values []float64) Trend {
	if len(values) < 3 {
		return Trend{Direction: TrendStable}
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	intercept, slope := stat.LinearRegression(xs, values, nil, false)

	strength := 0.0
	if r, ok := Pearson(xs, values); ok {
		strength = math.Abs(r.Coefficient)
	}

	direction := TrendStable
	if math.Abs(slope) >= 0.01*PopStdDev(values) {
		if slope > 0 {
			direction = TrendIncreasing
		} else {
			direction = TrendDecreasing
		}
	}
	return Trend{Direction: direction, Slope: slope, Intercept: intercept, Strength: strength}
}

// Seasonality reports the autocorrelation at a seasonal lag.
type Seasonality struct {
	HasSeasonality bool
	Strength       float64
	Period         int
}

// DetectSeasonality measures the normalized autocorrelation at the given
// period; a value above 0.5 counts as seasonal. Series shorter than two full
// periods report no seasonality.
func DetectSeasonality(values []float64, period int) Seasonality {
	if period <= 0 || len(values) < period*2 {
		return Seasonality{}
	}
	mean := Mean(values)

	var denom float64
	for _, v := range values {
		d := v - mean
		denom += d * d
	}
	if denom == 0 {
		return Seasonality{}
	}

	var num float64
	for i := 0; i+period < len(values); i++ {
		num += (values[i] - mean) * (values[i+period] - mean)
	}
	strength := num / denom
	return Seasonality{HasSeasonality: strength > 0.5, Strength: strength, Period: period}
}

// =============================================================================
// Confidence and Aggregation
// =============================================================================

// Confidence maps a deviation/threshold ratio to [0,1] through a sigmoid
// centered at ratio 1: sigma(scale * (ratio - 1)).
func Confidence(deviation, threshold, scale float64) float64 {
	if threshold == 0 {
		if deviation > 0 {
			return 1
		}
		return 0
	}
	ratio := deviation / threshold
	c := 1 / (1 + math.Exp(-scale*(ratio-1)))
	return Clamp01(c)
}

// WeightedAverage returns sum(v_i*w_i)/sum(w_i), or 0 when the weights are
// empty, mismatched, or sum to zero.
func WeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	var sum, totalWeight float64
	for i, v := range values {
		sum += v * weights[i]
		totalWeight += weights[i]
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// Normalize rescales values into [0,1]; constant series map to all ones.
func Normalize(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	min, max := values[0], values[0]
	for _, v := range values {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	out := make([]float64, len(values))
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// Clamp01 clips v into [0,1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
