package agents

import (
	"context"
	"testing"
	"time"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
)

func ts(minute int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
}

func series(source, metric string, values []float64) []model.DataPoint {
	points := make([]model.DataPoint, len(values))
	for i, v := range values {
		points[i] = model.DataPoint{Source: source, Metric: metric, Value: v, Timestamp: ts(i)}
	}
	return points
}

func TestStatistical_FlagsSpike(t *testing.T) {
	agent := NewStatistical(StatisticalConfig{ZScore: detect.ZScoreConfig{Threshold: 2.0}})

	current := series(model.SourceCryptocurrency, model.MetricPriceUSD,
		[]float64{10, 12, 11, 10, 11, 12, 50, 11, 10, 12})

	result, err := agent.Analyze(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if result.AgentName != NameStatistical {
		t.Errorf("agent name = %q", result.AgentName)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(result.Anomalies))
	}

	a := result.Anomalies[0]
	if a.Value != 50 {
		t.Errorf("anomaly value = %v, want 50", a.Value)
	}
	if !a.Timestamp.Equal(ts(6)) {
		t.Errorf("anomaly timestamp = %v, want %v", a.Timestamp, ts(6))
	}
	if !containsString(a.DetectionMethods, "zscore") {
		t.Errorf("methods = %v, want zscore present", a.DetectionMethods)
	}
	if z, ok := a.Fields["z_score"].(float64); !ok || z <= 2 {
		t.Errorf("z_score field = %v, want > 2", a.Fields["z_score"])
	}
	if a.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= min confidence", a.Confidence)
	}
}

func TestStatistical_EmptyInput(t *testing.T) {
	agent := NewStatistical(StatisticalConfig{})
	result, err := agent.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(result.Anomalies))
	}
	if result.Anomalies == nil {
		t.Error("empty result must still carry a non-nil anomaly slice")
	}
}

func TestTemporal_KeepsOnlyCurrentWindow(t *testing.T) {
	agent := NewTemporal(TemporalConfig{})

	// A mean shift that happened entirely in the historical window.
	var historical []model.DataPoint
	for i := 0; i < 30; i++ {
		v := 10.0
		if i >= 15 {
			v = 30.0
		}
		historical = append(historical, model.DataPoint{
			Source: "weather", Metric: "temperature", Value: v + float64(i%2)*0.1, Timestamp: ts(i),
		})
	}
	current := []model.DataPoint{
		{Source: "weather", Metric: "temperature", Value: 30.1, Timestamp: ts(40)},
		{Source: "weather", Metric: "temperature", Value: 30.0, Timestamp: ts(41)},
	}

	result, err := agent.Analyze(context.Background(), current, historical)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	earliest := ts(40)
	for _, a := range result.Anomalies {
		if a.Timestamp.Before(earliest) {
			t.Errorf("anomaly at %v precedes the current window start %v", a.Timestamp, earliest)
		}
	}
}

func TestCorrelation_SimultaneousMultiSource(t *testing.T) {
	agent := NewCorrelation(CorrelationConfig{})

	at := ts(60)
	current := []model.DataPoint{
		{Source: model.SourceCryptocurrency, Metric: model.MetricPriceUSD, Value: 42000, Timestamp: at},
		{Source: model.SourceGitHub, Metric: "commit_count", Value: 90, Timestamp: at.Add(10 * time.Second)},
	}

	result, err := agent.Analyze(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var simultaneous *model.AgentAnomaly
	for i := range result.Anomalies {
		if result.Anomalies[i].Type == "simultaneous_anomaly" {
			simultaneous = &result.Anomalies[i]
		}
	}
	if simultaneous == nil {
		t.Fatal("expected a simultaneous_anomaly")
	}
	if simultaneous.Source != "multi-source" {
		t.Errorf("source = %q", simultaneous.Source)
	}
	// Two sources: confidence = min(2/3, 1).
	if diff := simultaneous.Confidence - 2.0/3.0; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("confidence = %v, want 2/3", simultaneous.Confidence)
	}
	affected, ok := simultaneous.Fields["affected_sources"].([]string)
	if !ok || len(affected) != 2 {
		t.Errorf("affected_sources = %v", simultaneous.Fields["affected_sources"])
	}
}

func TestCorrelation_BreakDetection(t *testing.T) {
	agent := NewCorrelation(CorrelationConfig{WindowSize: 10})

	// Strongly coupled for 60 points, then series B decouples hard.
	var combined []model.DataPoint
	for i := 0; i < 80; i++ {
		a := float64(i) + float64(i%3)
		b := 2*float64(i) + float64(i%3)
		if i >= 60 {
			b = 500 - 3*float64(i) + float64(i%5)*7
		}
		combined = append(combined,
			model.DataPoint{Source: "s1", Metric: "m1", Value: a, Timestamp: ts(i)},
			model.DataPoint{Source: "s2", Metric: "m2", Value: b, Timestamp: ts(i)},
		)
	}

	result, err := agent.Analyze(context.Background(), combined, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	found := false
	for _, a := range result.Anomalies {
		if a.Type == "correlation_break" {
			found = true
			if _, ok := a.Fields["historical_correlation"]; !ok {
				t.Error("break missing historical_correlation")
			}
			if a.Confidence < 0.6 {
				t.Errorf("break confidence = %v, want >= min", a.Confidence)
			}
		}
	}
	if !found {
		t.Fatal("expected a correlation_break anomaly")
	}
}

func TestCorrelation_ConstantPairSkipped(t *testing.T) {
	agent := NewCorrelation(CorrelationConfig{WindowSize: 5})

	var combined []model.DataPoint
	for i := 0; i < 40; i++ {
		combined = append(combined,
			model.DataPoint{Source: "s1", Metric: "m1", Value: 5, Timestamp: ts(i)},
			model.DataPoint{Source: "s2", Metric: "m2", Value: float64(i), Timestamp: ts(i)},
		)
	}

	result, err := agent.Analyze(context.Background(), combined, nil)
	if err != nil {
		t.Fatalf("constant series must not fail the agent: %v", err)
	}
	if skipped, ok := result.Metadata["pairs_skipped"].(int); !ok || skipped != 1 {
		t.Errorf("pairs_skipped = %v, want 1", result.Metadata["pairs_skipped"])
	}
}

func TestContext_OneAnomalyPerSource(t *testing.T) {
	agent := NewContext(ContextConfig{})

	var current []model.DataPoint
	// Volatile crypto data so relevance clears the threshold.
	for i := 0; i < 10; i++ {
		v := 100.0
		if i == 7 {
			v = 900
		}
		current = append(current, model.DataPoint{
			Source: model.SourceCryptocurrency, Metric: model.MetricPriceUSD, Value: v, Timestamp: ts(i),
		})
	}

	result, err := agent.Analyze(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("anomalies = %d, want exactly one per source", len(result.Anomalies))
	}
	a := result.Anomalies[0]
	if a.Value != 900 {
		t.Errorf("representative value = %v, want the most extreme point", a.Value)
	}
	if a.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75 for volatile crypto", a.Confidence)
	}
}

func TestOI_BullishDivergence(t *testing.T) {
	agent := NewOI(OIConfig{})

	at := ts(100)
	current := []model.DataPoint{
		{Source: model.SourceCryptocurrency, Symbol: "BTCUSDT", Metric: model.MetricPriceUSD, Value: 50000, Timestamp: at.Add(-time.Minute)},
		{Source: model.SourceCryptocurrency, Symbol: "BTCUSDT", Metric: model.MetricPriceUSD, Value: 48500, Timestamp: at}, // -3%
		{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricOpenInterest, Value: 1000000, Timestamp: at.Add(-time.Minute)},
		{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricOpenInterest, Value: 1060000, Timestamp: at}, // +6%
	}

	result, err := agent.Analyze(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var divergence *model.AgentAnomaly
	for i := range result.Anomalies {
		if result.Anomalies[i].Type == "bullish_divergence" {
			divergence = &result.Anomalies[i]
		}
	}
	if divergence == nil {
		t.Fatalf("expected bullish_divergence, got %+v", result.Anomalies)
	}
	if divergence.Confidence < 0.85 {
		t.Errorf("confidence = %v, want >= 0.85", divergence.Confidence)
	}
	if divergence.Severity != model.SeverityHigh {
		t.Errorf("severity = %q, want high", divergence.Severity)
	}
	if divergence.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", divergence.Symbol)
	}
}

func TestOI_FundingExtreme(t *testing.T) {
	agent := NewOI(OIConfig{})

	current := []model.DataPoint{
		{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricFundingRate, Value: 0.12, Timestamp: ts(0)},
	}

	result, err := agent.Analyze(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(result.Anomalies))
	}

	a := result.Anomalies[0]
	if a.Fields["signal"] != "extreme_long_pressure" {
		t.Errorf("signal = %v, want extreme_long_pressure", a.Fields["signal"])
	}
	if a.Severity != model.SeverityHigh {
		t.Errorf("severity = %q, want high", a.Severity)
	}
	if a.Confidence < 0.75 {
		t.Errorf("confidence = %v, want >= 0.75", a.Confidence)
	}
}

func TestOI_NoApplicableData(t *testing.T) {
	agent := NewOI(OIConfig{})

	result, err := agent.Analyze(context.Background(), series("weather", "temperature", []float64{1, 2, 3}), nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(result.Anomalies))
	}
	if result.AgentName != NameOI || result.Weight == 0 {
		t.Errorf("empty result must be structured: %+v", result)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
