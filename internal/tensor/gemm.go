package tensor

import (
	"runtime"
)

// Transpose selects whether a GEMM operand is used as stored or transposed.
type Transpose bool

const (
	NoTrans Transpose = false
	Trans   Transpose = true
)

type gemmTask struct {
	C, A, B     *Mat
	transA      Transpose
	transB      Transpose
	alpha, beta float32
	rs, re      int
	done        chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, size)
	}
	for w := 0; w < size; w++ {
		go func() {
			for task := range p.tasks {
				gemmRangeRows(task.C, task.A, task.B, task.transA, task.transB, task.alpha, task.beta, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var gemmWorkPool = newGemmPool()

func opDims(m *Mat, t Transpose) (int, int) {
	if t {
		return m.C, m.R
	}
	return m.R, m.C
}

// Gemm computes C = alpha*op(A)*op(B) + beta*C, splitting the rows of C
// across at most workers goroutines. workers <= 0 uses GOMAXPROCS.
func Gemm(C, A, B *Mat, transA, transB Transpose, alpha, beta float32, workers int) {
	am, ak := opDims(A, transA)
	bk, bn := opDims(B, transB)
	if ak != bk || C.R != am || C.C != bn {
		panic("gemm: dimension mismatch")
	}
	if C.R == 0 || C.C == 0 {
		return
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > C.R {
		workers = C.R
	}
	// Small products are not worth the hand-off.
	if C.R*C.C*ak < 1<<14 {
		workers = 1
	}
	if workers <= 1 {
		gemmRangeRows(C, A, B, transA, transB, alpha, beta, 0, C.R)
		return
	}
	if workers > gemmWorkPool.size {
		workers = gemmWorkPool.size
	}

	chunk := (C.R + workers - 1) / workers

	done := <-gemmWorkPool.doneSlots
	n := 0
	for rs := 0; rs < C.R; rs += chunk {
		re := rs + chunk
		if re > C.R {
			re = C.R
		}
		gemmWorkPool.tasks <- gemmTask{
			C:      C,
			A:      A,
			B:      B,
			transA: transA,
			transB: transB,
			alpha:  alpha,
			beta:   beta,
			rs:     rs,
			re:     re,
			done:   done,
		}
		n++
	}
	for i := 0; i < n; i++ {
		<-done
	}
	gemmWorkPool.doneSlots <- done
}

// gemmRangeRows computes rows [rs, re) of C.
func gemmRangeRows(C, A, B *Mat, transA, transB Transpose, alpha, beta float32, rs, re int) {
	_, k := opDims(A, transA)
	for i := rs; i < re; i++ {
		cRow := C.Data[i*C.Stride : i*C.Stride+C.C]
		switch beta {
		case 0:
			clear(cRow)
		case 1:
		default:
			for j := range cRow {
				cRow[j] *= beta
			}
		}

		if transB {
			// C[i,j] += alpha * dot(opA[i,:], B[j,:])
			for j := range cRow {
				bRow := B.Data[j*B.Stride : j*B.Stride+k]
				var sum float32
				if transA {
					for kk := 0; kk < k; kk++ {
						sum += A.Data[kk*A.Stride+i] * bRow[kk]
					}
				} else {
					aRow := A.Data[i*A.Stride : i*A.Stride+k]
					for kk, a := range aRow {
						sum += a * bRow[kk]
					}
				}
				cRow[j] += alpha * sum
			}
			continue
		}

		// C[i,:] += alpha * opA[i,kk] * B[kk,:]
		for kk := 0; kk < k; kk++ {
			var a float32
			if transA {
				a = A.Data[kk*A.Stride+i]
			} else {
				a = A.Data[i*A.Stride+kk]
			}
			if a == 0 {
				continue
			}
			a *= alpha
			bRow := B.Data[kk*B.Stride : kk*B.Stride+C.C]
			for j, b := range bRow {
				cRow[j] += a * b
			}
		}
	}
}
