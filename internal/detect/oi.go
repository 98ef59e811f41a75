package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/stats"
)

// Divergence classes emitted by the OI divergence detector, in evaluation
// order; the first matching class wins.
const (
	DivergenceBearish             = "bearish_divergence"
	DivergenceBullish             = "bullish_divergence"
	DivergenceBullishContinuation = "bullish_continuation"
	DivergenceBearishContinuation = "bearish_continuation"
	DivergenceOISpike             = "oi_spike_anomaly"
)

// =============================================================================
// Price/OI Divergence
// =============================================================================

// OIDivergenceConfig configures the price/open-interest divergence detector.
type OIDivergenceConfig struct {
	// PriceThreshold is the minimum absolute price change % to consider.
	PriceThreshold float64

	// OIThreshold is the minimum absolute OI change % to consider.
	OIThreshold float64

	// SpikeThreshold is the absolute OI change % that flags a spike on its
	// own, regardless of price.
	SpikeThreshold float64
}

// DefaultOIDivergenceConfig returns 1% price, 2% OI, 10% spike.
func DefaultOIDivergenceConfig() OIDivergenceConfig {
	return OIDivergenceConfig{PriceThreshold: 1.0, OIThreshold: 2.0, SpikeThreshold: 10.0}
}

// OIInput is one aligned observation of price and open-interest change, with
// optional auxiliary positioning metrics attached by the caller.
type OIInput struct {
	PriceChangePct float64
	OIChangePct    float64
	Timestamp      time.Time
	Symbol         string
	Extra          map[string]float64
}

// OIDivergence classifies each observation into one of five divergence
// classes by the direction and magnitude of the price and OI moves. OI moving
// against price signals positions closing into the move (reversal risk); OI
// expanding with price signals new money confirming it.
type OIDivergence struct {
	config OIDivergenceConfig
}

// NewOIDivergence creates a divergence detector.
func NewOIDivergence(config OIDivergenceConfig) *OIDivergence {
	defaults := DefaultOIDivergenceConfig()
	if config.PriceThreshold == 0 {
		config.PriceThreshold = defaults.PriceThreshold
	}
	if config.OIThreshold == 0 {
		config.OIThreshold = defaults.OIThreshold
	}
	if config.SpikeThreshold == 0 {
		config.SpikeThreshold = defaults.SpikeThreshold
	}
	return &OIDivergence{config: config}
}

func (d *OIDivergence) Name() string { return MethodOIDivergence }

// DetectPairs classifies aligned price/OI observations. Classes are tried in
// a fixed order and the first match wins.
func (d *OIDivergence) DetectPairs(inputs []OIInput) []Detection {
	var detections []Detection

	for i, in := range inputs {
		price, oi := in.PriceChangePct, in.OIChangePct

		var class string
		var confidence float64
		var severity model.Severity

		switch {
		case price > d.config.PriceThreshold && oi < -d.config.OIThreshold:
			class = DivergenceBearish
			confidence = math.Min(0.95, 0.6+math.Abs(oi)/20)
			severity = model.SeverityMedium
			if math.Abs(oi) > 5 {
				severity = model.SeverityHigh
			}

		case price < -d.config.PriceThreshold && oi > d.config.OIThreshold:
			class = DivergenceBullish
			confidence = math.Min(0.95, 0.6+oi/20)
			severity = model.SeverityMedium
			if oi > 5 {
				severity = model.SeverityHigh
			}

		case price > 2 && oi > 5:
			class = DivergenceBullishContinuation
			confidence = math.Min(0.9, 0.5+oi/30)
			severity = model.SeverityMedium

		case price < -2 && oi > 5:
			class = DivergenceBearishContinuation
			confidence = math.Min(0.9, 0.5+oi/30)
			severity = model.SeverityMedium

		case math.Abs(oi) > d.config.SpikeThreshold:
			class = DivergenceOISpike
			confidence = math.Min(0.95, 0.7+math.Abs(oi)/50)
			severity = model.SeverityMedium
			if math.Abs(oi) > 20 {
				severity = model.SeverityHigh
			}

		default:
			continue
		}

		fields := map[string]float64{
			FieldPriceChangePct: price,
			FieldOIChangePct:    oi,
		}
		for k, v := range in.Extra {
			fields[k] = v
		}

		detections = append(detections, Detection{
			Index:       i,
			Value:       price,
			Deviation:   math.Abs(oi),
			Confidence:  confidence,
			Method:      MethodOIDivergence,
			Type:        class,
			Severity:    severity,
			Timestamp:   in.Timestamp,
			Symbol:      in.Symbol,
			Explanation: divergenceExplanation(class, price, oi),
			Fields:      fields,
		})
	}
	return detections
}

func divergenceExplanation(class string, price, oi float64) string {
	switch class {
	case DivergenceBearish:
		return fmt.Sprintf("Price increased %.2f%% while OI decreased %.2f%%. This suggests weakening bullish momentum and potential reversal.", price, math.Abs(oi))
	case DivergenceBullish:
		return fmt.Sprintf("Price decreased %.2f%% while OI increased %.2f%%. This suggests weakening bearish momentum and potential reversal.", math.Abs(price), oi)
	case DivergenceBullishContinuation:
		return fmt.Sprintf("Price increased %.2f%% with OI increasing %.2f%%. Strong bullish momentum with new positions being added.", price, oi)
	case DivergenceBearishContinuation:
		return fmt.Sprintf("Price decreased %.2f%% while OI increased %.2f%%. Potential short squeeze setup or strong bearish conviction.", math.Abs(price), oi)
	case DivergenceOISpike:
		return fmt.Sprintf("Unusual OI change of %.2f%% detected. This may indicate market manipulation, large whale activity, or approaching liquidation cascade.", oi)
	}
	return fmt.Sprintf("Divergence detected: price=%.2f%%, OI=%.2f%%", price, oi)
}

// =============================================================================
// Funding Rate
// =============================================================================

// FundingRateConfig configures the funding-rate extremity detector.
type FundingRateConfig struct {
	// ExtremeThreshold is the absolute rate % considered extreme.
	ExtremeThreshold float64

	// ModerateThreshold is the absolute rate % considered elevated.
	ModerateThreshold float64
}

// DefaultFundingRateConfig returns 0.10% extreme, 0.05% moderate.
func DefaultFundingRateConfig() FundingRateConfig {
	return FundingRateConfig{ExtremeThreshold: 0.1, ModerateThreshold: 0.05}
}

// FundingRate flags funding rates whose magnitude signals one-sided
// positioning; the sign encodes long versus short pressure.
type FundingRate struct {
	config FundingRateConfig
}

// NewFundingRate creates a funding-rate detector.
func NewFundingRate(config FundingRateConfig) *FundingRate {
	defaults := DefaultFundingRateConfig()
	if config.ExtremeThreshold == 0 {
		config.ExtremeThreshold = defaults.ExtremeThreshold
	}
	if config.ModerateThreshold == 0 {
		config.ModerateThreshold = defaults.ModerateThreshold
	}
	return &FundingRate{config: config}
}

func (d *FundingRate) Name() string { return MethodFundingRate }

// DetectRates scans funding rates (in percent). symbols may be nil or
// parallel the rates.
func (d *FundingRate) DetectRates(rates []float64, timestamps []time.Time, symbols []string) []Detection {
	var detections []Detection

	for i, rate := range rates {
		abs := math.Abs(rate)
		if abs < d.config.ModerateThreshold {
			continue
		}

		det := Detection{
			Index:     i,
			Value:     rate,
			Deviation: abs,
			Method:    MethodFundingRate,
			Timestamp: timestampAt(timestamps, i),
			Fields:    map[string]float64{FieldFundingRate: rate},
		}
		if i < len(symbols) {
			det.Symbol = symbols[i]
		}

		if abs >= d.config.ExtremeThreshold {
			det.Severity = model.SeverityHigh
			det.Confidence = math.Min(0.95, 0.7+abs/0.2)
			if rate > 0 {
				det.Signal = "extreme_long_pressure"
				det.Explanation = fmt.Sprintf("Extreme funding rate of %.4f%% indicates overbought conditions. Potential reversal or forced liquidations.", rate)
			} else {
				det.Signal = "extreme_short_pressure"
				det.Explanation = fmt.Sprintf("Extreme funding rate of %.4f%% indicates oversold conditions. Potential reversal or forced liquidations.", rate)
			}
		} else {
			det.Severity = model.SeverityMedium
			det.Confidence = stats.Clamp01(0.6 + abs/0.15)
			if rate > 0 {
				det.Signal = "high_long_pressure"
				det.Explanation = fmt.Sprintf("Elevated funding rate of %.4f%% indicates strong long bias in the market.", rate)
			} else {
				det.Signal = "high_short_pressure"
				det.Explanation = fmt.Sprintf("Elevated funding rate of %.4f%% indicates strong short bias in the market.", rate)
			}
		}

		detections = append(detections, det)
	}
	return detections
}

// =============================================================================
// Long/Short Ratio
// =============================================================================

// LongShortConfig configures the positioning-imbalance detector.
type LongShortConfig struct {
	// ExtremeRatio flags ratios at or beyond R (or 1/R).
	ExtremeRatio float64

	// ModerateRatio flags elevated but not extreme imbalance.
	ModerateRatio float64
}

// DefaultLongShortConfig returns 3:1 extreme, 2:1 moderate.
func DefaultLongShortConfig() LongShortConfig {
	return LongShortConfig{ExtremeRatio: 3.0, ModerateRatio: 2.0}
}

// LongShort flags crowded positioning from the raw long/short account ratio.
// Confidence scales with |ln R| so that 3:1 and 1:3 score identically. Top
// trader data raises severity one level.
type LongShort struct {
	config LongShortConfig
}

// NewLongShort creates a long/short-ratio detector.
func NewLongShort(config LongShortConfig) *LongShort {
	defaults := DefaultLongShortConfig()
	if config.ExtremeRatio == 0 {
		config.ExtremeRatio = defaults.ExtremeRatio
	}
	if config.ModerateRatio == 0 {
		config.ModerateRatio = defaults.ModerateRatio
	}
	return &LongShort{config: config}
}

func (d *LongShort) Name() string { return MethodLongShort }

// DetectRatios scans long/short ratios. isTopTrader marks top-trader data,
// which is a stronger signal and raises severity.
func (d *LongShort) DetectRatios(ratios []float64, timestamps []time.Time, symbols []string, isTopTrader bool) []Detection {
	var detections []Detection

	traderType := "global"
	if isTopTrader {
		traderType = "top_traders"
	}

	for i, ratio := range ratios {
		if ratio <= 0 {
			continue
		}

		direction := "short"
		if ratio > 1 {
			direction = "long"
		}
		logAbs := math.Abs(math.Log(ratio))

		det := Detection{
			Index:     i,
			Value:     ratio,
			Deviation: logAbs,
			Method:    MethodLongShort,
			Timestamp: timestampAt(timestamps, i),
			Fields:    map[string]float64{FieldLongShortRatio: ratio},
		}
		if i < len(symbols) {
			det.Symbol = symbols[i]
		}

		switch {
		case ratio >= d.config.ExtremeRatio || ratio <= 1/d.config.ExtremeRatio:
			det.Severity = model.SeverityMedium
			if isTopTrader {
				det.Severity = model.SeverityHigh
			}
			det.Confidence = math.Min(0.9, 0.65+logAbs/5)
			det.Signal = "extreme_" + direction + "_crowding"
			det.Explanation = fmt.Sprintf("Extreme %s bias detected with ratio %.2f (%s). Crowded trade may lead to squeeze or rapid reversal.", direction, ratio, traderType)

		case ratio >= d.config.ModerateRatio || ratio <= 1/d.config.ModerateRatio:
			det.Severity = model.SeverityLow
			det.Confidence = stats.Clamp01(0.5 + logAbs/8)
			det.Signal = "elevated_" + direction + "_bias"
			det.Explanation = fmt.Sprintf("Elevated %s bias with ratio %.2f (%s). Monitor for potential reversal.", direction, ratio, traderType)

		default:
			continue
		}

		detections = append(detections, det)
	}
	return detections
}

// =============================================================================
// Feature Engineering
// =============================================================================

// OIDelta returns the percent change series of open interest. Entries with a
// non-positive previous value contribute 0 rather than dividing by it.
func OIDelta(oiValues []float64) []float64 {
	if len(oiValues) < 2 {
		return nil
	}
	deltas := make([]float64, 0, len(oiValues)-1)
	for i := 1; i < len(oiValues); i++ {
		if oiValues[i-1] > 0 {
			deltas = append(deltas, (oiValues[i]-oiValues[i-1])/oiValues[i-1]*100)
		} else {
			deltas = append(deltas, 0)
		}
	}
	return deltas
}

// OIMomentum returns the rolling mean of the OI delta series; the warm-up
// prefix averages what is available so far.
func OIMomentum(oiValues []float64, window int) []float64 {
	deltas := OIDelta(oiValues)
	if len(deltas) < window {
		return deltas
	}
	momentum := make([]float64, len(deltas))
	for i := range deltas {
		start := 0
		if i >= window-1 {
			start = i - window + 1
		}
		momentum[i] = stats.Mean(deltas[start : i+1])
	}
	return momentum
}

// OIPriceCorrelation returns the rolling Pearson correlation between OI and
// price over the given window; warm-up positions and degenerate windows
// yield 0.
func OIPriceCorrelation(oiValues, priceValues []float64, window int) []float64 {
	if len(oiValues) != len(priceValues) || len(oiValues) < window {
		return nil
	}
	correlations := make([]float64, len(oiValues))
	for i := range oiValues {
		if i < window-1 {
			continue
		}
		r, ok := stats.Pearson(oiValues[i-window+1:i+1], priceValues[i-window+1:i+1])
		if ok {
			correlations[i] = r.Coefficient
		}
	}
	return correlations
}

// OIZScore returns the rolling z-score of open interest over the given
// window; warm-up positions and zero-dispersion windows yield 0.
func OIZScore(oiValues []float64, window int) []float64 {
	zscores := make([]float64, len(oiValues))
	if len(oiValues) < window {
		return zscores
	}
	for i := range oiValues {
		if i < window-1 {
			continue
		}
		windowData := oiValues[i-window+1 : i+1]
		mean := stats.Mean(windowData)
		std := stats.PopStdDev(windowData)
		if std > 0 {
			zscores[i] = (oiValues[i] - mean) / std
		}
	}
	return zscores
}
