// Package meter tracks running averages of training metrics.
package meter

// Average accumulates a weighted mean of observed values.
type Average struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Update records value v observed n times.
func (a *Average) Update(v float64, n int) {
	a.Val = v
	a.Sum += v * float64(n)
	a.Count += n
	if a.Count > 0 {
		a.Avg = a.Sum / float64(a.Count)
	}
}

// Reset clears all accumulated state.
func (a *Average) Reset() {
	*a = Average{}
}
