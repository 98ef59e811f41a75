package detect

import (
	"math"
	"testing"
	"time"

	"github.com/example/streamlens/internal/model"
)

func TestOIDivergence_Classification(t *testing.T) {
	detector := NewOIDivergence(OIDivergenceConfig{})

	cases := []struct {
		name         string
		price, oi    float64
		wantClass    string
		wantSeverity model.Severity
	}{
		{"bearish divergence", 1.5, -3.0, DivergenceBearish, model.SeverityMedium},
		{"bearish divergence strong", 1.5, -6.0, DivergenceBearish, model.SeverityHigh},
		{"bullish divergence", -3.0, 6.0, DivergenceBullish, model.SeverityHigh},
		{"bullish continuation", 2.5, 6.0, DivergenceBullishContinuation, model.SeverityMedium},
		// Price down with OI up also meets the bullish-divergence rule,
		// which is checked first, so it wins over bearish continuation.
		{"bearish continuation shape resolves to bullish divergence", -2.5, 6.0, DivergenceBullish, model.SeverityHigh},
		{"oi spike", 0.2, 12.0, DivergenceOISpike, model.SeverityMedium},
		{"oi spike severe", 0.2, -25.0, DivergenceOISpike, model.SeverityHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			detections := detector.DetectPairs([]OIInput{{
				PriceChangePct: tc.price,
				OIChangePct:    tc.oi,
				Symbol:         "BTCUSDT",
			}})
			if len(detections) != 1 {
				t.Fatalf("got %d detections, want 1", len(detections))
			}
			d := detections[0]
			if d.Type != tc.wantClass {
				t.Errorf("class = %q, want %q", d.Type, tc.wantClass)
			}
			if d.Severity != tc.wantSeverity {
				t.Errorf("severity = %q, want %q", d.Severity, tc.wantSeverity)
			}
			if d.Explanation == "" {
				t.Error("missing explanation")
			}
			if d.Confidence < 0 || d.Confidence > 0.95 {
				t.Errorf("confidence %v out of range", d.Confidence)
			}
		})
	}
}

func TestOIDivergence_BullishConfidence(t *testing.T) {
	// Price -3%, OI +6% must clear 0.85: 0.6 + 6/20 = 0.9.
	detections := NewOIDivergence(OIDivergenceConfig{}).DetectPairs([]OIInput{{
		PriceChangePct: -3.0,
		OIChangePct:    6.0,
	}})
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	if detections[0].Confidence < 0.85 {
		t.Errorf("confidence = %v, want >= 0.85", detections[0].Confidence)
	}
	if detections[0].Severity != model.SeverityHigh {
		t.Errorf("severity = %q, want high", detections[0].Severity)
	}
}

func TestOIDivergence_QuietMarket(t *testing.T) {
	detections := NewOIDivergence(OIDivergenceConfig{}).DetectPairs([]OIInput{{
		PriceChangePct: 0.5,
		OIChangePct:    1.0,
	}})
	if len(detections) != 0 {
		t.Errorf("quiet market should yield nothing, got %d", len(detections))
	}
}

func TestFundingRate_Thresholds(t *testing.T) {
	detector := NewFundingRate(FundingRateConfig{})
	ts := sequentialTimestamps(4)

	detections := detector.DetectRates([]float64{0.12, -0.11, 0.07, 0.01}, ts, []string{"BTC", "ETH", "SOL", "XRP"})

	if len(detections) != 3 {
		t.Fatalf("got %d detections, want 3", len(detections))
	}

	extreme := detections[0]
	if extreme.Signal != "extreme_long_pressure" {
		t.Errorf("signal = %q, want extreme_long_pressure", extreme.Signal)
	}
	if extreme.Severity != model.SeverityHigh {
		t.Errorf("severity = %q, want high", extreme.Severity)
	}
	if extreme.Confidence < 0.75 {
		t.Errorf("confidence = %v, want >= 0.75", extreme.Confidence)
	}

	if detections[1].Signal != "extreme_short_pressure" {
		t.Errorf("signal = %q, want extreme_short_pressure", detections[1].Signal)
	}
	if detections[2].Severity != model.SeverityMedium {
		t.Errorf("moderate rate severity = %q, want medium", detections[2].Severity)
	}
	for _, d := range detections {
		if d.Symbol == "" {
			t.Error("symbol not propagated")
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			t.Errorf("confidence %v out of range", d.Confidence)
		}
	}
}

func TestLongShort_Extremes(t *testing.T) {
	detector := NewLongShort(LongShortConfig{})

	detections := detector.DetectRatios([]float64{3.5, 0.25, 2.2, 1.1}, nil, nil, false)

	if len(detections) != 3 {
		t.Fatalf("got %d detections, want 3", len(detections))
	}
	if detections[0].Signal != "extreme_long_crowding" {
		t.Errorf("signal = %q, want extreme_long_crowding", detections[0].Signal)
	}
	if detections[1].Signal != "extreme_short_crowding" {
		t.Errorf("signal = %q, want extreme_short_crowding", detections[1].Signal)
	}
	if detections[2].Signal != "elevated_long_bias" {
		t.Errorf("signal = %q, want elevated_long_bias", detections[2].Signal)
	}

	// 3.5:1 and 1:3.5 are equally crowded; |ln R| makes them score alike.
	symmetric := detector.DetectRatios([]float64{3.5, 1 / 3.5}, nil, nil, false)
	if len(symmetric) != 2 {
		t.Fatalf("got %d detections, want 2", len(symmetric))
	}
	if math.Abs(symmetric[0].Confidence-symmetric[1].Confidence) > 1e-9 {
		t.Errorf("confidence not symmetric: %v vs %v", symmetric[0].Confidence, symmetric[1].Confidence)
	}
}

func TestLongShort_TopTraderSeverity(t *testing.T) {
	detector := NewLongShort(LongShortConfig{})

	global := detector.DetectRatios([]float64{4.0}, nil, nil, false)
	top := detector.DetectRatios([]float64{4.0}, nil, nil, true)

	if global[0].Severity != model.SeverityMedium {
		t.Errorf("global severity = %q, want medium", global[0].Severity)
	}
	if top[0].Severity != model.SeverityHigh {
		t.Errorf("top trader severity = %q, want high", top[0].Severity)
	}
}

func TestOIFeatures(t *testing.T) {
	oi := []float64{100, 110, 121, 108, 140}

	deltas := OIDelta(oi)
	want := []float64{10, 10, -10.743801652892563, 29.629629629629626}
	if len(deltas) != len(want) {
		t.Fatalf("got %d deltas, want %d", len(deltas), len(want))
	}
	for i := range want {
		if math.Abs(deltas[i]-want[i]) > 1e-9 {
			t.Errorf("delta[%d] = %v, want %v", i, deltas[i], want[i])
		}
	}

	momentum := OIMomentum(oi, 2)
	if len(momentum) != len(deltas) {
		t.Fatalf("momentum length %d, want %d", len(momentum), len(deltas))
	}
	if math.Abs(momentum[0]-deltas[0]) > 1e-9 {
		t.Errorf("warm-up momentum = %v, want %v", momentum[0], deltas[0])
	}

	prices := []float64{50, 55, 61, 54, 70}
	corr := OIPriceCorrelation(oi, prices, 3)
	if len(corr) != len(oi) {
		t.Fatalf("correlation length %d, want %d", len(corr), len(oi))
	}
	if corr[0] != 0 || corr[1] != 0 {
		t.Error("warm-up correlations should be zero")
	}
	if corr[4] < 0.9 {
		t.Errorf("tightly coupled series should correlate strongly, got %v", corr[4])
	}

	z := OIZScore(oi, 3)
	if len(z) != len(oi) {
		t.Fatalf("zscore length %d, want %d", len(z), len(oi))
	}
	if z[0] != 0 || z[1] != 0 {
		t.Error("warm-up z-scores should be zero")
	}
}

func TestOIDelta_GuardsPreviousValue(t *testing.T) {
	deltas := OIDelta([]float64{0, 50, 100})
	if deltas[0] != 0 {
		t.Errorf("delta after zero base = %v, want 0", deltas[0])
	}
	if deltas[1] != 100 {
		t.Errorf("delta = %v, want 100", deltas[1])
	}
}

func TestOIDivergence_TimestampPropagation(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	detections := NewOIDivergence(OIDivergenceConfig{}).DetectPairs([]OIInput{{
		PriceChangePct: -3.0,
		OIChangePct:    6.0,
		Timestamp:      ts,
	}})
	if len(detections) != 1 || !detections[0].Timestamp.Equal(ts) {
		t.Fatal("input timestamp not carried through")
	}
}
