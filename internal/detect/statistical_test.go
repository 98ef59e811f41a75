package detect

import (
	"testing"
	"time"
)

func sequentialTimestamps(n int) []time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * time.Minute)
	}
	return ts
}

func TestZScore_DetectsOutlier(t *testing.T) {
	values := []float64{10, 12, 11, 10, 11, 12, 50, 11, 10, 12}

	detector := NewZScore(ZScoreConfig{Threshold: 2.0})
	detections := detector.Detect(values, sequentialTimestamps(len(values)))

	if len(detections) == 0 {
		t.Fatal("expected at least one detection")
	}

	found := false
	for _, d := range detections {
		if d.Index == 6 {
			found = true
		}
		if _, ok := d.Field(FieldZScore); !ok {
			t.Errorf("detection at index %d missing z_score field", d.Index)
		}
		if d.Timestamp.IsZero() {
			t.Errorf("detection at index %d lost its timestamp", d.Index)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			t.Errorf("confidence %v out of range", d.Confidence)
		}
	}
	if !found {
		t.Error("outlier at index 6 not detected")
	}
}

func TestZScore_Guards(t *testing.T) {
	detector := NewZScore(ZScoreConfig{})

	cases := []struct {
		name   string
		values []float64
	}{
		{"insufficient data", []float64{1, 2}},
		{"constant values", repeat(5, 100)},
		{"empty", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detector.Detect(tc.values, nil); len(got) != 0 {
				t.Errorf("expected no detections, got %d", len(got))
			}
		})
	}
}

func TestModifiedZ_DetectsOutlier(t *testing.T) {
	values := []float64{5, 5, 6, 5, 6, 5, 100, 5, 6, 5}

	detector := NewModifiedZ(ModifiedZConfig{Threshold: 3.0})
	detections := detector.Detect(values, nil)

	if len(detections) == 0 {
		t.Fatal("expected at least one detection")
	}
	for _, d := range detections {
		if _, ok := d.Field(FieldModifiedZScore); !ok {
			t.Errorf("detection at index %d missing modified_z_score", d.Index)
		}
		if !d.Timestamp.IsZero() {
			t.Errorf("detection at index %d invented a timestamp", d.Index)
		}
	}
}

func TestModifiedZ_MADFallback(t *testing.T) {
	// More than half the points share one value, so the MAD collapses to
	// zero and the mean-absolute-deviation fallback must kick in.
	values := []float64{5, 5, 5, 5, 5, 5, 5, 100, 5, 5}

	detections := NewModifiedZ(ModifiedZConfig{}).Detect(values, nil)
	if len(detections) == 0 {
		t.Fatal("expected MAD fallback to still flag the outlier")
	}
}

func TestIQR_DetectsOutlier(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 1; i < 100; i++ {
		values = append(values, float64(i))
	}
	values = append(values, 1000)

	detections := NewIQR(IQRConfig{Multiplier: 1.5}).Detect(values, nil)

	if len(detections) == 0 {
		t.Fatal("expected at least one detection")
	}
	found := false
	for _, d := range detections {
		if d.Value == 1000 {
			found = true
			if !d.HasExpected {
				t.Error("IQR detection should carry the violated bound as expected value")
			}
		}
	}
	if !found {
		t.Error("outlier value 1000 not flagged")
	}
}

func TestIQR_ZeroSpread(t *testing.T) {
	values := []float64{7, 7, 7, 7, 7, 7}
	if got := NewIQR(IQRConfig{}).Detect(values, nil); len(got) != 0 {
		t.Errorf("zero IQR should yield no detections, got %d", len(got))
	}
}

func TestCUSUM_DetectsMeanShift(t *testing.T) {
	values := append(repeat(10, 20), repeat(20, 20)...)

	detections := NewCUSUM(CUSUMConfig{Threshold: 3.0, Drift: 0.5}).Detect(values, nil)

	if len(detections) == 0 {
		t.Fatal("expected CUSUM to flag the mean shift")
	}
	// The accumulated positive sum must fire again after the shift at 20.
	afterShift := false
	for _, d := range detections {
		if d.Index >= 20 {
			afterShift = true
		}
	}
	if !afterShift {
		t.Error("no detection after the mean shift at index 20")
	}
	if _, ok := detections[0].Field(FieldCUSUMPositive); !ok {
		t.Error("missing cusum_positive field")
	}
}

func TestMovingAverage_DetectsLocalSpike(t *testing.T) {
	values := repeat(10, 30)
	for i := range values {
		values[i] += float64(i%3) * 0.5 // mild texture so window std > 0
	}
	values[25] = 50

	detections := NewMovingAverage(MovingAverageConfig{WindowSize: 10, ThresholdStd: 2.0}).Detect(values, nil)

	found := false
	for _, d := range detections {
		if d.Index == 25 {
			found = true
		}
	}
	if !found {
		t.Error("spike at index 25 not flagged against its trailing window")
	}
}

func TestStatisticalEnsemble_Consensus(t *testing.T) {
	values := []float64{10, 11, 10, 12, 11, 100, 10, 11, 12}

	ensemble := NewStatisticalEnsemble(
		ZScoreConfig{Threshold: 2.0}, ModifiedZConfig{}, IQRConfig{}, CUSUMConfig{})
	detections := ensemble.Detect(values, sequentialTimestamps(len(values)))

	if len(detections) == 0 {
		t.Fatal("expected ensemble consensus on the outlier")
	}
	for _, d := range detections {
		if d.ConsensusCount < 2 {
			t.Errorf("index %d kept with consensus %d, want >= 2", d.Index, d.ConsensusCount)
		}
		if len(d.Methods) != len(d.Individual) {
			t.Errorf("methods/detections mismatch: %d vs %d", len(d.Methods), len(d.Individual))
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			t.Errorf("ensemble confidence %v out of range", d.Confidence)
		}
	}
}

func TestDetectors_Deterministic(t *testing.T) {
	values := []float64{10, 12, 11, 10, 11, 12, 50, 11, 10, 12, 9, 14, 10, 11, 48, 12}
	ts := sequentialTimestamps(len(values))

	detectors := []Detector{
		NewZScore(ZScoreConfig{Threshold: 2.0}),
		NewModifiedZ(ModifiedZConfig{}),
		NewIQR(IQRConfig{}),
		NewCUSUM(CUSUMConfig{}),
		NewMovingAverage(MovingAverageConfig{WindowSize: 5}),
	}

	for _, d := range detectors {
		first := d.Detect(values, ts)
		second := d.Detect(values, ts)
		if len(first) != len(second) {
			t.Fatalf("%s: detection count changed between runs", d.Name())
		}
		for i := range first {
			if first[i].Index != second[i].Index || first[i].Confidence != second[i].Confidence {
				t.Errorf("%s: detection %d differs between runs", d.Name(), i)
			}
		}
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
