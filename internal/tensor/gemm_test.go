package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func at(m *Mat, t Transpose, i, j int) float32 {
	if t {
		return m.Data[j*m.Stride+i]
	}
	return m.Data[i*m.Stride+j]
}

func gemmNaive(C, A, B *Mat, ta, tb Transpose, alpha, beta float32) {
	_, k := opDims(A, ta)
	for i := 0; i < C.R; i++ {
		for j := 0; j < C.C; j++ {
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += at(A, ta, i, kk) * at(B, tb, kk, j)
			}
			C.Row(i)[j] = alpha*sum + beta*C.Row(i)[j]
		}
	}
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmMatchesNaive(t *testing.T) {
	tests := []struct {
		name   string
		ta, tb Transpose
	}{
		{"NN", NoTrans, NoTrans},
		{"TN", Trans, NoTrans},
		{"NT", NoTrans, Trans},
		{"TT", Trans, Trans},
	}
	const m, k, n = 50, 70, 45
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var A, B Mat
			if tc.ta {
				A = NewMat(k, m)
			} else {
				A = NewMat(m, k)
			}
			if tc.tb {
				B = NewMat(n, k)
			} else {
				B = NewMat(k, n)
			}
			FillRand(&A, 1)
			FillRand(&B, 2)

			C0 := NewMat(m, n)
			C1 := NewMat(m, n)
			FillRand(&C0, 3)
			copy(C1.Data, C0.Data)

			gemmNaive(&C0, &A, &B, tc.ta, tc.tb, 0.5, 2)
			Gemm(&C1, &A, &B, tc.ta, tc.tb, 0.5, 2, 4)

			if maxAbs := maxAbsDiff(C0.Data, C1.Data); maxAbs > 1e-5 {
				t.Fatalf("max abs diff %g", maxAbs)
			}
		})
	}
}

func TestGemmDimensionMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	A := NewMat(2, 3)
	B := NewMat(4, 2)
	C := NewMat(2, 2)
	Gemm(&C, &A, &B, NoTrans, NoTrans, 1, 0, 1)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	v := []float32{1, 2, 3, 1000}
	out := make([]float32, len(v))
	Softmax(out, v)
	var sum float32
	for _, p := range out {
		sum += p
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Fatalf("softmax sum %f", sum)
	}
	if Argmax(out) != 3 {
		t.Fatalf("argmax %d", Argmax(out))
	}
}

func TestXavierUniformBounds(t *testing.T) {
	m := NewMat(30, 20)
	XavierUniform(&m, math.Sqrt2, rand.New(rand.NewSource(7)))
	bound := float32(math.Sqrt2 * math.Sqrt(6.0/50.0))
	for i, v := range m.Data {
		if v < -bound || v > bound {
			t.Fatalf("value %d out of bounds: %f", i, v)
		}
	}
}

func TestReshapeReusesStorage(t *testing.T) {
	m := NewMat(4, 4)
	p := &m.Data[0]
	m.Reshape(2, 3)
	if &m.Data[0] != p {
		t.Fatal("expected reshape to reuse backing array")
	}
	if m.R != 2 || m.C != 3 || m.Stride != 3 || len(m.Data) != 6 {
		t.Fatalf("unexpected shape %dx%d stride %d len %d", m.R, m.C, m.Stride, len(m.Data))
	}
}
