package narrative

import (
	"fmt"
	"math"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
)

// MaxCounterfactuals bounds the scenarios attached to one report.
const MaxCounterfactuals = 5

// Counterfactuals derives what-if scenarios from the fields present on the
// representative finding. Each scenario answers "what would have had to be
// different for this not to be an anomaly". At most MaxCounterfactuals are
// returned, in a fixed order.
func Counterfactuals(rep model.AgentAnomaly) []model.Counterfactual {
	var scenarios []model.Counterfactual

	// Expected-value scenario.
	if expected, ok := numericField(rep, "expected_value"); ok {
		scenarios = append(scenarios, model.Counterfactual{
			Type:  "expected_value",
			Title: "If the value was normal",
			Description: fmt.Sprintf(
				"If the value had been %.2f (expected) instead of %.2f, no anomaly would have been detected.",
				expected, rep.Value),
			Impact: "No anomaly alert",
			Fields: map[string]any{
				"expected_value": expected,
				"actual_value":   rep.Value,
			},
		})
	}

	// Threshold scenario: the value just below the detection cut.
	if z, ok := numericField(rep, detect.FieldZScore); ok && z != 0 {
		expected, _ := numericField(rep, "expected_value")
		thresholdValue := expected + 2.5*(rep.Value-expected)/z

		scenarios = append(scenarios, model.Counterfactual{
			Type:  "threshold",
			Title: "If the deviation was smaller",
			Description: fmt.Sprintf(
				"If the value had been %.2f, it would have been within acceptable thresholds (Z-score < 3.0).",
				thresholdValue),
			Impact: "Below detection threshold",
			Fields: map[string]any{
				"threshold_value":  thresholdValue,
				"actual_zscore":    z,
				"threshold_zscore": 2.5,
			},
		})
	}

	// Trend-continuation scenario.
	local, hasLocal := numericField(rep, detect.FieldLocalSlope)
	global, hasGlobal := numericField(rep, detect.FieldGlobalSlope)
	if hasLocal && hasGlobal {
		scenarios = append(scenarios, model.Counterfactual{
			Type:        "trend",
			Title:       "If the trend had continued normally",
			Description: "If the local trend had matched the global trend, the value would have followed the expected pattern.",
			Impact:      "Consistent with historical trends",
			Fields: map[string]any{
				"expected_trend": global,
				"actual_trend":   local,
			},
		})
	}

	// No-regime-change scenario.
	before, hasBefore := numericField(rep, detect.FieldMeanBefore)
	after, hasAfter := numericField(rep, detect.FieldMeanAfter)
	if hasBefore && hasAfter {
		scenarios = append(scenarios, model.Counterfactual{
			Type:  "no_changepoint",
			Title: "If there was no regime change",
			Description: fmt.Sprintf(
				"If the mean had remained at %.2f instead of shifting to %.2f, the pattern would have been normal.",
				before, after),
			Impact: "Stable pattern maintained",
			Fields: map[string]any{
				"stable_mean":   before,
				"actual_change": math.Abs(after - before),
			},
		})
	}

	// Seasonal-expectation scenario.
	if seasonal, ok := numericField(rep, detect.FieldSeasonalComponent); ok {
		expected, _ := numericField(rep, "expected_value")
		scenarios = append(scenarios, model.Counterfactual{
			Type:  "seasonal",
			Title: "If seasonal patterns were followed",
			Description: fmt.Sprintf(
				"If the value had followed seasonal expectations (%.2f), it would be consistent with historical seasonal patterns.",
				expected),
			Impact: "Aligned with seasonality",
			Fields: map[string]any{
				"seasonal_expected":  expected,
				"seasonal_component": seasonal,
			},
		})
	}

	if len(scenarios) > MaxCounterfactuals {
		scenarios = scenarios[:MaxCounterfactuals]
	}
	return scenarios
}
