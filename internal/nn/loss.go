package nn

import (
	"fmt"
	"math"

	"github.com/samcharles93/wrn/internal/tensor"
)

// CrossEntropy returns the mean softmax cross-entropy of logits against
// targets and writes dLoss/dLogits into grad when grad is non-nil.
func CrossEntropy(logits *tensor.Mat, targets []int, grad *tensor.Mat) (float64, error) {
	if logits.R != len(targets) {
		return 0, fmt.Errorf("nn: %d logit rows for %d targets", logits.R, len(targets))
	}
	if logits.R == 0 {
		return 0, nil
	}
	if grad != nil {
		grad.Reshape(logits.R, logits.C)
	}
	probs := make([]float32, logits.C)
	inv := 1 / float32(logits.R)
	var total float64
	for i, y := range targets {
		if y < 0 || y >= logits.C {
			return 0, fmt.Errorf("nn: target %d out of range [0,%d)", y, logits.C)
		}
		tensor.Softmax(probs, logits.Row(i))
		p := float64(probs[y])
		if p < 1e-12 {
			p = 1e-12
		}
		total -= math.Log(p)
		if grad != nil {
			g := grad.Row(i)
			for j, q := range probs {
				g[j] = q * inv
			}
			g[y] -= inv
		}
	}
	return total / float64(logits.R), nil
}

// Correct counts rows whose argmax equals the target.
func Correct(logits *tensor.Mat, targets []int) int {
	n := 0
	for i, y := range targets {
		if tensor.Argmax(logits.Row(i)) == y {
			n++
		}
	}
	return n
}
