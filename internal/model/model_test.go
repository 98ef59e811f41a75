package model

import (
	"testing"
	"time"
)

func TestAnomalyID_Format(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 30, 45, 0, time.UTC)
	got := AnomalyID("cryptocurrency", "price_usd", ts)
	want := "cryptocurrency_price_usd_20250601_143045"
	if got != want {
		t.Errorf("AnomalyID = %q, want %q", got, want)
	}
}

func TestAnomalyID_StablePerMinuteGroup(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	a := AnomalyID("weather", "temperature", ts)
	b := AnomalyID("weather", "temperature", ts)
	if a != b {
		t.Error("identical inputs must share an ID")
	}
}

func TestGroupBySeries(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	points := []DataPoint{
		{Source: "cryptocurrency", Metric: "price_usd", Value: 1, Timestamp: ts},
		{Source: "cryptocurrency", Metric: "price_usd", Value: 2, Timestamp: ts},
		{Source: "cryptocurrency", Metric: "volume", Value: 3, Timestamp: ts},
		{Source: "weather", Metric: "temperature", Value: 4, Timestamp: ts},
	}

	grouped := GroupBySeries(points)
	if len(grouped) != 3 {
		t.Fatalf("groups = %d, want 3", len(grouped))
	}
	if got := grouped[SeriesKey{Source: "cryptocurrency", Metric: "price_usd"}]; len(got) != 2 {
		t.Errorf("price series = %d points, want 2", len(got))
	}
}

func TestGroupBySymbol_DropsUnsymboled(t *testing.T) {
	points := []DataPoint{
		{Source: "oi_derivatives", Symbol: "BTCUSDT", Metric: "open_interest", Value: 1},
		{Source: "weather", Metric: "temperature", Value: 2},
	}

	grouped := GroupBySymbol(points)
	if len(grouped) != 1 {
		t.Fatalf("groups = %d, want 1", len(grouped))
	}
	if len(grouped["BTCUSDT"]) != 1 {
		t.Errorf("BTCUSDT = %d points", len(grouped["BTCUSDT"]))
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
}
