// Package agents implements the specialized analysis agents that sit between
// the raw detector library and the coordinator: each agent groups incoming
// data points its own way, runs the relevant detector family, and normalizes
// findings into weighted AgentAnomaly records.
//
// Agents are independent and run concurrently; the final report set must not
// depend on their execution order. An agent that receives no applicable data
// returns an empty but well-formed result, and an agent that fails returns
// an error that the orchestrator converts into absence from the cycle. A
// single agent can never fail a cycle.
package agents

import (
	"context"
	"sort"
	"time"

	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/model"
)

// Agent analyzes a batch of current points against optional history.
type Agent interface {
	// Name returns the agent identifier used in reports.
	Name() string

	// Weight returns the agent's vote weight in consensus scoring.
	Weight() float64

	// Analyze inspects the data and returns normalized findings. current
	// is the cycle's new batch; historical provides context and may be nil.
	Analyze(ctx context.Context, current, historical []model.DataPoint) (model.AgentResult, error)
}

// Default agent names.
const (
	NameStatistical = "StatisticalAgent"
	NameTemporal    = "TemporalAgent"
	NameCorrelation = "CorrelationAgent"
	NameContext     = "ContextAgent"
	NameOI          = "OIAgent"
)

// emptyResult builds the well-formed no-findings result every agent returns
// when it has nothing applicable to analyze.
func emptyResult(name string, weight float64, metadata map[string]any) model.AgentResult {
	return model.AgentResult{
		AgentName: name,
		Weight:    weight,
		Anomalies: []model.AgentAnomaly{},
		Metadata:  metadata,
	}
}

// sortByTimestamp orders points in place by their timestamps, stably.
func sortByTimestamp(points []model.DataPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

// seriesValues splits a point list into parallel value/timestamp slices.
func seriesValues(points []model.DataPoint) ([]float64, []time.Time) {
	values := make([]float64, len(points))
	timestamps := make([]time.Time, len(points))
	for i, p := range points {
		values[i] = p.Value
		timestamps[i] = p.Timestamp
	}
	return values, timestamps
}

// earliestTimestamp returns the smallest timestamp in the batch; ok is false
// for an empty batch.
func earliestTimestamp(points []model.DataPoint) (time.Time, bool) {
	if len(points) == 0 {
		return time.Time{}, false
	}
	earliest := points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp.Before(earliest) {
			earliest = p.Timestamp
		}
	}
	return earliest, true
}

// inCurrentWindow reports whether a detection timestamp falls inside the
// current batch's window. Detections without timestamps always qualify.
func inCurrentWindow(ts time.Time, current []model.DataPoint) bool {
	if ts.IsZero() {
		return true
	}
	earliest, ok := earliestTimestamp(current)
	if !ok {
		return true
	}
	return !ts.Before(earliest)
}

// detectionFields flattens a detection's method-specific fields into the
// AgentAnomaly field map, including the deviation magnitude and the
// expected value when present. Deviation stays a first-class key: the
// coordinator reads it back when building graph signatures.
func detectionFields(d detect.Detection) map[string]any {
	fields := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		fields[k] = v
	}
	fields["deviation"] = d.Deviation
	if d.HasExpected {
		fields["expected_value"] = d.Expected
	}
	if d.Type != "" {
		fields["type"] = d.Type
	}
	return fields
}

// sortedSeriesKeys orders series keys for deterministic iteration.
func sortedSeriesKeys(grouped map[model.SeriesKey][]model.DataPoint) []model.SeriesKey {
	keys := make([]model.SeriesKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Metric < keys[j].Metric
	})
	return keys
}
