package detect

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/example/streamlens/internal/stats"
)

// =============================================================================
// Isolation Forest
// =============================================================================

// IForestConfig configures the isolation-forest detector.
type IForestConfig struct {
	// Contamination is the expected fraction of outliers.
	Contamination float64

	// Trees is the number of isolation trees.
	Trees int

	// MaxSamples caps the subsample used to grow each tree.
	MaxSamples int

	// Seed fixes the tree-growing PRNG; detection must be deterministic
	// for fixed inputs.
	Seed int64
}

// DefaultIForestConfig returns 100 trees over 256-point subsamples at 10%
// contamination.
func DefaultIForestConfig() IForestConfig {
	return IForestConfig{Contamination: 0.1, Trees: 100, MaxSamples: 256, Seed: 42}
}

// IForest isolates points by random axis splits; points that isolate in few
// splits are anomalous. The forest is rebuilt on every call from a
// fixed-seed PRNG, so identical inputs always produce identical output.
type IForest struct {
	config IForestConfig
}

// NewIForest creates an isolation-forest detector.
func NewIForest(config IForestConfig) *IForest {
	defaults := DefaultIForestConfig()
	if config.Contamination == 0 {
		config.Contamination = defaults.Contamination
	}
	if config.Trees == 0 {
		config.Trees = defaults.Trees
	}
	if config.MaxSamples == 0 {
		config.MaxSamples = defaults.MaxSamples
	}
	if config.Seed == 0 {
		config.Seed = defaults.Seed
	}
	return &IForest{config: config}
}

func (d *IForest) Name() string { return MethodIForest }

func (d *IForest) Detect(values []float64, timestamps []time.Time) []Detection {
	n := len(values)
	if n < 10 || hasInvalid(values) {
		return nil
	}

	rng := rand.New(rand.NewSource(d.config.Seed))
	sampleSize := min(d.config.MaxSamples, n)
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	// Average isolation depth per point across the forest.
	depths := make([]float64, n)
	for t := 0; t < d.config.Trees; t++ {
		sample := subsample(values, sampleSize, rng)
		tree := growITree(sample, 0, heightLimit, rng)
		for i, v := range values {
			depths[i] += tree.pathLength(v, 0)
		}
	}

	c := averagePathLength(sampleSize)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.Pow(2, -depths[i]/float64(d.config.Trees)/c)
	}

	cutoff := stats.Percentile(scores, (1-d.config.Contamination)*100)

	var detections []Detection
	for i, score := range scores {
		if score < cutoff || score <= 0.5 {
			continue
		}
		detections = append(detections, Detection{
			Index:      i,
			Value:      values[i],
			Deviation:  score,
			Confidence: math.Min(score*2, 1),
			Method:     MethodIForest,
			Timestamp:  timestampAt(timestamps, i),
			Fields:     map[string]float64{FieldAnomalyScore: score},
		})
	}
	return detections
}

// iTree is a node of a one-dimensional isolation tree.
type iTree struct {
	split       float64
	left, right *iTree
	size        int
}

func growITree(sample []float64, depth, limit int, rng *rand.Rand) *iTree {
	if depth >= limit || len(sample) <= 1 || allEqual(sample) {
		return &iTree{size: len(sample)}
	}

	lo, hi := minMax(sample)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []float64
	for _, v := range sample {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iTree{size: len(sample)}
	}

	return &iTree{
		split: split,
		left:  growITree(left, depth+1, limit, rng),
		right: growITree(right, depth+1, limit, rng),
	}
}

func (t *iTree) pathLength(v float64, depth int) float64 {
	if t.left == nil {
		// External node: add the average depth of an unbuilt subtree.
		return float64(depth) + averagePathLength(t.size)
	}
	if v < t.split {
		return t.left.pathLength(v, depth+1)
	}
	return t.right.pathLength(v, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

func subsample(values []float64, size int, rng *rand.Rand) []float64 {
	if size >= len(values) {
		return values
	}
	idx := rng.Perm(len(values))[:size]
	out := make([]float64, size)
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// =============================================================================
// Local Outlier Factor
// =============================================================================

// LOFConfig configures the local-outlier-factor detector.
type LOFConfig struct {
	// Neighbors is the k used for local density estimation.
	Neighbors int

	// Contamination is the expected fraction of outliers.
	Contamination float64
}

// DefaultLOFConfig returns k=20 at 10% contamination.
func DefaultLOFConfig() LOFConfig {
	return LOFConfig{Neighbors: 20, Contamination: 0.1}
}

// LOF scores each point by the ratio of its neighbors' local reachability
// density to its own; scores well above 1 mark points in sparser
// neighborhoods than their peers. Fully deterministic.
type LOF struct {
	config LOFConfig
}

// NewLOF creates a local-outlier-factor detector.
func NewLOF(config LOFConfig) *LOF {
	defaults := DefaultLOFConfig()
	if config.Neighbors == 0 {
		config.Neighbors = defaults.Neighbors
	}
	if config.Contamination == 0 {
		config.Contamination = defaults.Contamination
	}
	return &LOF{config: config}
}

func (d *LOF) Name() string { return MethodLOF }

func (d *LOF) Detect(values []float64, timestamps []time.Time) []Detection {
	n := len(values)
	k := d.config.Neighbors
	if n < k+1 || hasInvalid(values) {
		return nil
	}

	neighbors := make([][]int, n)
	kDist := make([]float64, n)
	for i := range values {
		neighbors[i], kDist[i] = kNearest(values, i, k)
	}

	// Local reachability density per point.
	lrd := make([]float64, n)
	for i := range values {
		var reachSum float64
		for _, j := range neighbors[i] {
			reachSum += math.Max(kDist[j], math.Abs(values[i]-values[j]))
		}
		if reachSum == 0 {
			lrd[i] = math.Inf(1)
		} else {
			lrd[i] = float64(len(neighbors[i])) / reachSum
		}
	}

	lof := make([]float64, n)
	for i := range values {
		if math.IsInf(lrd[i], 1) {
			lof[i] = 1
			continue
		}
		var ratioSum float64
		for _, j := range neighbors[i] {
			if math.IsInf(lrd[j], 1) {
				ratioSum += 1
			} else {
				ratioSum += lrd[j] / lrd[i]
			}
		}
		lof[i] = ratioSum / float64(len(neighbors[i]))
	}

	cutoff := stats.Percentile(lof, (1-d.config.Contamination)*100)

	var detections []Detection
	for i, factor := range lof {
		if factor < cutoff || factor <= 1 {
			continue
		}
		detections = append(detections, Detection{
			Index:      i,
			Value:      values[i],
			Deviation:  factor,
			Confidence: math.Min(factor/10, 1),
			Method:     MethodLOF,
			Timestamp:  timestampAt(timestamps, i),
			Fields:     map[string]float64{FieldLOFScore: -factor},
		})
	}
	return detections
}

// kNearest returns the indices of the k nearest neighbors of point i (by
// absolute distance, ties broken by index for determinism) and the k-distance.
func kNearest(values []float64, i, k int) ([]int, float64) {
	type neighbor struct {
		idx  int
		dist float64
	}
	all := make([]neighbor, 0, len(values)-1)
	for j, v := range values {
		if j == i {
			continue
		}
		all = append(all, neighbor{idx: j, dist: math.Abs(values[i] - v)})
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].dist != all[b].dist {
			return all[a].dist < all[b].dist
		}
		return all[a].idx < all[b].idx
	})

	if k > len(all) {
		k = len(all)
	}
	idx := make([]int, k)
	for j := 0; j < k; j++ {
		idx[j] = all[j].idx
	}
	return idx, all[k-1].dist
}
