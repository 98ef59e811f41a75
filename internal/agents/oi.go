package agents

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/stats"
)

// OIConfig configures the derivatives agent.
type OIConfig struct {
	Weight        float64
	MinConfidence float64

	Divergence  detect.OIDivergenceConfig
	FundingRate detect.FundingRateConfig
	LongShort   detect.LongShortConfig

	Logger *slog.Logger
}

// DefaultOIConfig returns weight 0.20 with min confidence 0.6.
func DefaultOIConfig() OIConfig {
	return OIConfig{
		Weight:        0.20,
		MinConfidence: 0.6,
		Logger:        slog.Default(),
	}
}

// OI is the open-interest derivatives specialist. It consumes only
// oi_derivatives points, joins them by symbol against cryptocurrency price
// points for divergence detection, and runs the funding-rate and long/short
// positioning detectors over each symbol's metric streams.
type OI struct {
	config     OIConfig
	divergence *detect.OIDivergence
	funding    *detect.FundingRate
	longShort  *detect.LongShort
	logger     *slog.Logger
}

// NewOI creates the OI agent.
func NewOI(config OIConfig) *OI {
	defaults := DefaultOIConfig()
	if config.Weight == 0 {
		config.Weight = defaults.Weight
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &OI{
		config:     config,
		divergence: detect.NewOIDivergence(config.Divergence),
		funding:    detect.NewFundingRate(config.FundingRate),
		longShort:  detect.NewLongShort(config.LongShort),
		logger:     config.Logger.With("agent", NameOI),
	}
}

func (a *OI) Name() string    { return NameOI }
func (a *OI) Weight() float64 { return a.config.Weight }

// symbolSeries is the metric breakdown of one symbol's OI points.
type symbolSeries struct {
	oiValues        []float64
	fundingRates    []float64
	fundingTimes    []time.Time
	longShortRatios []float64
	topTraderRatios []float64
}

// Analyze runs the OI detector family per symbol.
func (a *OI) Analyze(ctx context.Context, current, _ []model.DataPoint) (model.AgentResult, error) {
	var oiPoints, cryptoPoints []model.DataPoint
	for _, p := range current {
		switch p.Source {
		case model.SourceOIDerivatives:
			oiPoints = append(oiPoints, p)
		case model.SourceCryptocurrency:
			cryptoPoints = append(cryptoPoints, p)
		}
	}

	if len(oiPoints) == 0 {
		return emptyResult(NameOI, a.config.Weight, map[string]any{
			"message": "No OI derivatives data available",
		}), nil
	}

	oiBySymbol := model.GroupBySymbol(oiPoints)
	cryptoBySymbol := model.GroupBySymbol(cryptoPoints)

	symbols := make([]string, 0, len(oiBySymbol))
	for s := range oiBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	anomalies := []model.AgentAnomaly{}
	var details []map[string]any

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return model.AgentResult{}, err
		}

		series := splitMetrics(oiBySymbol[symbol])
		var symbolAnomalies []model.AgentAnomaly

		// Price/OI divergence needs at least two samples of each side.
		if prices := priceSeries(cryptoBySymbol[symbol]); len(prices) >= 2 && len(series.oiValues) >= 2 {
			priceChange := percentChange(prices[len(prices)-2], prices[len(prices)-1])
			oiChange := percentChange(series.oiValues[len(series.oiValues)-2], series.oiValues[len(series.oiValues)-1])

			input := detect.OIInput{
				PriceChangePct: priceChange,
				OIChangePct:    oiChange,
				Symbol:         symbol,
				Extra:          map[string]float64{},
			}
			if len(series.fundingTimes) > 0 {
				input.Timestamp = series.fundingTimes[len(series.fundingTimes)-1]
			}
			if len(series.fundingRates) > 0 {
				input.Extra[detect.FieldFundingRate] = series.fundingRates[len(series.fundingRates)-1]
			}
			if len(series.longShortRatios) > 0 {
				input.Extra[detect.FieldLongShortRatio] = series.longShortRatios[len(series.longShortRatios)-1]
			}

			for _, det := range a.divergence.DetectPairs([]detect.OIInput{input}) {
				if det.Confidence >= a.config.MinConfidence {
					symbolAnomalies = append(symbolAnomalies, a.toAnomaly(det, "divergence"))
				}
			}
		}

		symbolList := repeatString(symbol, len(series.fundingRates))
		for _, det := range a.funding.DetectRates(series.fundingRates, series.fundingTimes, symbolList) {
			if det.Confidence >= a.config.MinConfidence {
				symbolAnomalies = append(symbolAnomalies, a.toAnomaly(det, "funding_rate"))
			}
		}

		for _, det := range a.longShort.DetectRatios(series.longShortRatios, series.fundingTimes, repeatString(symbol, len(series.longShortRatios)), false) {
			if det.Confidence >= a.config.MinConfidence {
				symbolAnomalies = append(symbolAnomalies, a.toAnomaly(det, "long_short_ratio"))
			}
		}
		for _, det := range a.longShort.DetectRatios(series.topTraderRatios, series.fundingTimes, repeatString(symbol, len(series.topTraderRatios)), true) {
			if det.Confidence >= a.config.MinConfidence {
				symbolAnomalies = append(symbolAnomalies, a.toAnomaly(det, "top_trader_ratio"))
			}
		}

		anomalies = append(anomalies, symbolAnomalies...)

		detail := map[string]any{
			"symbol":          symbol,
			"oi_data_points":  len(oiBySymbol[symbol]),
			"anomalies_found": len(symbolAnomalies),
		}
		// Engineered OI features give downstream consumers positioning
		// context even when nothing was flagged.
		if len(series.oiValues) >= 2 {
			momentum := detect.OIMomentum(series.oiValues, 5)
			detail["oi_momentum"] = momentum[len(momentum)-1]
		}
		if z := detect.OIZScore(series.oiValues, 30); len(z) > 0 {
			detail["oi_zscore"] = z[len(z)-1]
		}
		if prices := priceSeries(cryptoBySymbol[symbol]); len(prices) == len(series.oiValues) {
			if corr := detect.OIPriceCorrelation(series.oiValues, prices, 20); len(corr) > 0 {
				detail["oi_price_correlation"] = corr[len(corr)-1]
			}
		}
		details = append(details, detail)
	}

	a.logger.Debug("oi analysis complete", "symbols", len(oiBySymbol), "anomalies", len(anomalies))

	return model.AgentResult{
		AgentName: NameOI,
		Weight:    a.config.Weight,
		Anomalies: anomalies,
		Metadata: map[string]any{
			"symbols_analyzed": len(oiBySymbol),
			"total_anomalies":  len(anomalies),
			"analysis_details": details,
		},
	}, nil
}

// toAnomaly normalizes an OI detection. Detections the detector itself
// classified as high-severity get a 1.5x scope modifier, and the detector's
// own classification acts as a floor on the aggregate score: a funding-rate
// extreme stays high-severity even when its numeric magnitude is small.
func (a *OI) toAnomaly(det detect.Detection, detectionType string) model.AgentAnomaly {
	scope := 1.0
	if det.Severity == model.SeverityHigh {
		scope = 1.5
	}

	oiChange, _ := det.Field(detect.FieldOIChangePct)
	severity, score := stats.Severity(stats.SeverityInput{
		Confidence: det.Confidence,
		Magnitude:  absFloat(oiChange) / 10,
		Scope:      scope,
	})
	if floor := severityFloor(det.Severity); score < floor {
		score = floor
		severity = stats.SeverityLabel(score)
	}

	fields := detectionFields(det)
	fields["detection_type"] = detectionType
	if det.Signal != "" {
		fields["signal"] = det.Signal
	}

	return model.AgentAnomaly{
		AgentName:        NameOI,
		AgentWeight:      a.config.Weight,
		Source:           model.SourceOIDerivatives,
		Metric:           metricForDetection(detectionType),
		Symbol:           det.Symbol,
		Type:             det.Type,
		Timestamp:        det.Timestamp,
		Value:            det.Value,
		HasValue:         true,
		Confidence:       det.Confidence,
		Severity:         severity,
		SeverityScore:    score,
		DetectionMethods: []string{det.Method},
		Explanation:      det.Explanation,
		Fields:           fields,
	}
}

func metricForDetection(detectionType string) string {
	switch detectionType {
	case "funding_rate":
		return model.MetricFundingRate
	case "long_short_ratio":
		return model.MetricLongShortRatio
	case "top_trader_ratio":
		return model.MetricTopTraderLSRatio
	default:
		return model.MetricOpenInterest
	}
}

// splitMetrics fans one symbol's points out into per-metric slices,
// preserving input order.
func splitMetrics(points []model.DataPoint) symbolSeries {
	var s symbolSeries
	for _, p := range points {
		switch p.Metric {
		case model.MetricOpenInterest:
			s.oiValues = append(s.oiValues, p.Value)
		case model.MetricFundingRate:
			s.fundingRates = append(s.fundingRates, p.Value)
			s.fundingTimes = append(s.fundingTimes, p.Timestamp)
		case model.MetricLongShortRatio:
			s.longShortRatios = append(s.longShortRatios, p.Value)
		case model.MetricTopTraderLSRatio:
			s.topTraderRatios = append(s.topTraderRatios, p.Value)
		}
	}
	return s
}

func priceSeries(points []model.DataPoint) []float64 {
	var prices []float64
	for _, p := range points {
		if p.Metric == model.MetricPriceUSD {
			prices = append(prices, p.Value)
		}
	}
	return prices
}

// percentChange guards against non-positive previous values.
func percentChange(prev, current float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (current - prev) / prev * 100
}

func repeatString(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// severityFloor maps a detector-assigned label to the lowest score inside
// that label's band.
func severityFloor(s model.Severity) float64 {
	switch s {
	case model.SeverityCritical:
		return 0.9
	case model.SeverityHigh:
		return 0.75
	case model.SeverityMedium:
		return 0.5
	default:
		return 0
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
