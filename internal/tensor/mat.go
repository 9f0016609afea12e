package tensor

import (
	"math"
	"math/rand"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; matrices built by
// this package always have Stride == C. Data holds the flattened values.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed r x c matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData wraps existing data. It panics if len(data) != r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Row returns a view of the i‑th row. Writes go through to the matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Reshape resizes m to r x c, reusing the backing array when it is large
// enough. Contents are not preserved in any meaningful layout.
func (m *Mat) Reshape(r, c int) {
	n := r * c
	if cap(m.Data) < n {
		m.Data = make([]float32, n)
	}
	m.Data = m.Data[:n]
	m.R, m.C, m.Stride = r, c, c
}

// Zero clears every element.
func (m *Mat) Zero() {
	clear(m.Data)
}

// CopyFrom copies src into m, reshaping m to match.
func (m *Mat) CopyFrom(src *Mat) {
	m.Reshape(src.R, src.C)
	copy(m.Data, src.Data)
}

// FillRand fills the matrix with reproducible values in (-0.01, 0.01).
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
}

// XavierUniform fills m, interpreted as a fanIn x fanOut weight, with
// samples from U(-a, a) where a = gain*sqrt(6/(fanIn+fanOut)).
func XavierUniform(m *Mat, gain float64, rng *rand.Rand) {
	fan := float64(m.R + m.C)
	if fan == 0 {
		return
	}
	a := gain * math.Sqrt(6.0/fan)
	for i := range m.Data {
		m.Data[i] = float32((rng.Float64()*2 - 1) * a)
	}
}

// AddRowVec adds v to every row of m.
func AddRowVec(m *Mat, v []float32) {
	if len(v) != m.C {
		panic("row vector length mismatch")
	}
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

// SumRows accumulates the column sums of m into dst.
func SumRows(dst []float32, m *Mat) {
	if len(dst) != m.C {
		panic("row vector length mismatch")
	}
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j, v := range row {
			dst[j] += v
		}
	}
}

// Axpy computes y += a*x.
func Axpy(y []float32, a float32, x []float32) {
	if len(x) != len(y) {
		panic("axpy length mismatch")
	}
	for i, v := range x {
		y[i] += a * v
	}
}

// Argmax returns the index of the largest element, the first on ties.
func Argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Softmax writes the softmax of src into dst. dst and src may alias.
func Softmax(dst, src []float32) {
	if len(src) == 0 {
		return
	}
	maxV := src[0]
	for _, v := range src[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v - maxV))
		dst[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range dst[:len(src)] {
		dst[i] *= inv
	}
}
