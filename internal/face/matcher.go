package face

import (
	"fmt"
	"math"
)

// DefaultTolerance is used when a caller passes a non-positive tolerance.
const DefaultTolerance = 0.6

// Metric names a distance function between encodings.
type Metric string

const (
	Euclidean Metric = "euclidean"
	Cosine    Metric = "cosine"
)

// DistanceMatcher declares a match when the closest candidate lies within
// tolerance of the reference. Confidence is 1/(1+distance).
type DistanceMatcher struct {
	Metric Metric
}

// NewMatcher validates the metric name.
func NewMatcher(metric string) (DistanceMatcher, error) {
	switch Metric(metric) {
	case "", Euclidean:
		return DistanceMatcher{Metric: Euclidean}, nil
	case Cosine:
		return DistanceMatcher{Metric: Cosine}, nil
	default:
		return DistanceMatcher{}, fmt.Errorf("face: unknown metric %q", metric)
	}
}

// Match implements Matcher.
func (m DistanceMatcher) Match(reference Encoding, candidates []Encoding, tolerance float64) (bool, float64) {
	if len(candidates) == 0 || len(reference) == 0 {
		return false, 0
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	best := math.Inf(1)
	for _, c := range candidates {
		if len(c) != len(reference) {
			continue
		}
		if d := m.distance(reference, c); d < best {
			best = d
		}
	}
	if best > tolerance {
		return false, 0
	}
	return true, 1 / (1 + best)
}

func (m DistanceMatcher) distance(a, b Encoding) float64 {
	if m.Metric == Cosine {
		return CosineDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// EuclideanDistance is the L2 distance between two equal-length vectors.
func EuclideanDistance(a, b Encoding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cosine similarity, in [0, 2].
func CosineDistance(a, b Encoding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb rounding.
	similarity = math.Max(-1, math.Min(1, similarity))
	return 1 - similarity
}
