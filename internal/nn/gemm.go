package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// matrix wraps a row-major float32 slice for blas32.
func matrix(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// gemm computes c = op(a)·op(b) + beta·c. a and b are described by their
// stored shape, not the transposed one.
func gemm(transA, transB bool, a, b blas32.General, beta float32, c blas32.General) {
	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}
	blas32.Gemm(tA, tB, 1, a, b, beta, c)
}
