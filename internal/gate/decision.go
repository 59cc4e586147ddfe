package gate

import "math"

// maxDistance is reported as the best distance when a frame contains no
// candidate faces. Logging only; it never drives a transition by itself.
const maxDistance = 1.0

// Decision is the outcome of evaluating one frame against a reference
// embedding.
type Decision struct {
	Matched      bool
	BestDistance float64
}

// Decide compares every candidate embedding against the reference and
// accepts when the closest one is strictly under threshold. An empty
// candidate set is the normal "face not in view yet" case, not an error.
// Pure function: no state, no side effects.
func Decide(reference []float32, candidates [][]float32, threshold float64) Decision {
	if len(candidates) == 0 {
		return Decision{Matched: false, BestDistance: maxDistance}
	}

	best := math.Inf(1)
	for _, cand := range candidates {
		if d := euclideanDistance(reference, cand); d < best {
			best = d
		}
	}

	return Decision{Matched: best < threshold, BestDistance: best}
}

// euclideanDistance computes the L2 distance between two vectors.
// Mismatched lengths yield +Inf, which never matches.
func euclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
