package predictor

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax converts raw scores into a probability distribution. It shifts by
// log-sum-exp so large logits do not overflow.
func Softmax(scores []float32) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(s)
	}
	if len(out) == 0 {
		return out
	}
	lse := floats.LogSumExp(out)
	for i := range out {
		out[i] = math.Exp(out[i] - lse)
	}
	return out
}

// Argmax returns the index and value of the largest probability. Ties go to
// the lowest index.
func Argmax(probs []float64) (int, float64) {
	idx := floats.MaxIdx(probs)
	return idx, probs[idx]
}
