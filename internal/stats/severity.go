package stats

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/example/streamlens/internal/model"
)

// =============================================================================
// Severity Scoring
// =============================================================================

// SeverityInput carries the factors that determine an anomaly's severity.
type SeverityInput struct {
	// Confidence is the detection confidence in [0,1].
	Confidence float64

	// Magnitude is the deviation from normal, in the detector's units.
	Magnitude float64

	// Scope counts the metrics or sources affected. Fractional scopes are
	// allowed (the OI agent uses 1.5 for high-severity detections).
	Scope float64

	// Novel marks a pattern with no similar signature in the knowledge
	// graph. Only set by callers that consult the similarity index.
	Novel bool
}

// Severity combines confidence, magnitude, scope, and novelty into a score
// in [0,1] and its label. Cuts: 0.9 critical, 0.75 high, 0.5 medium.
func Severity(in SeverityInput) (model.Severity, float64) {
	score := in.Confidence * 0.4
	score += math.Min(in.Magnitude/10, 1) * 0.3
	score += math.Min(in.Scope/5, 1) * 0.2
	if in.Novel {
		score += 0.1
	}
	score = math.Min(score, 1)

	return SeverityLabel(score), score
}

// SeverityLabel maps a score to its label by the fixed cuts.
func SeverityLabel(score float64) model.Severity {
	switch {
	case score >= 0.9:
		return model.SeverityCritical
	case score >= 0.75:
		return model.SeverityHigh
	case score >= 0.5:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// =============================================================================
// Fingerprinting
// =============================================================================

// Fingerprint derives a stable 16-hex-char identifier for an anomaly's
// structural characteristics, independent of the report ID. Magnitude is
// rounded to two decimals so near-identical events share a fingerprint.
func Fingerprint(source, metric, patternType string, magnitude float64, duration int) string {
	payload := fmt.Sprintf("%s:%s:%s:%.2f:%d", source, metric, patternType, magnitude, duration)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
