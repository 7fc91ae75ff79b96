package tensor

import "fmt"

// MatrixOp describes how a matrix-multiply operand is interpreted.
type MatrixOp int

const (
	// MatrixOpNone treats the operand as a (batched) matrix.
	MatrixOpNone MatrixOp = iota
	// MatrixOpVector treats a rank-1 operand as a vector: a row vector
	// on the left side, a column vector on the right side. The
	// corresponding output dimension is collapsed.
	MatrixOpVector
)

// MatMul computes a matrix product with linear-algebra broadcasting.
//
// Rank-1 operands must be flagged with MatrixOpVector; the missing
// dimension is absorbed rather than broadcast, so (K,)·(K,N) yields
// (N,) and (M,K)·(K,) yields (M,). Leading batch dimensions are
// broadcast right-aligned.
func MatMul(a, b *RawTensor, opA, opB MatrixOp) (*RawTensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("matmul dtype mismatch: %s vs %s", a.DType(), b.DType())
	}
	if !a.DType().IsFloat() {
		return nil, fmt.Errorf("matmul not supported for dtype %s", a.DType())
	}

	aShape, bShape := a.Shape(), b.Shape()

	// Promote flagged vectors to matrices with a size-1 dimension.
	if opA == MatrixOpVector {
		if len(aShape) != 1 {
			return nil, fmt.Errorf("vector operand flag on rank-%d left operand", len(aShape))
		}
		aShape = Shape{1, aShape[0]}
	} else if len(aShape) < 2 {
		return nil, fmt.Errorf("left matmul operand has rank %d; flag rank-1 operands as vectors", len(aShape))
	}
	if opB == MatrixOpVector {
		if len(bShape) != 1 {
			return nil, fmt.Errorf("vector operand flag on rank-%d right operand", len(bShape))
		}
		bShape = Shape{bShape[0], 1}
	} else if len(bShape) < 2 {
		return nil, fmt.Errorf("right matmul operand has rank %d; flag rank-1 operands as vectors", len(bShape))
	}

	m, ka := aShape[len(aShape)-2], aShape[len(aShape)-1]
	kb, n := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if ka != kb {
		return nil, fmt.Errorf("matmul inner dimensions do not match: %v · %v", a.Shape(), b.Shape())
	}

	aBatch := aShape[:len(aShape)-2]
	bBatch := bShape[:len(bShape)-2]
	batch, err := BroadcastShapes(aBatch, bBatch)
	if err != nil {
		return nil, fmt.Errorf("matmul batch dimensions: %w", err)
	}

	outShape := append(batch.Clone(), m, n)
	out, err := NewRaw(outShape, a.DType(), a.Device())
	if err != nil {
		return nil, err
	}

	// Batch strides count whole matrices.
	aStrides := matrixStrides(aBatch, batch, m*ka)
	bStrides := matrixStrides(bBatch, batch, ka*n)

	batches := batch.NumElements()
	idx := make([]int, len(batch))
	for bi := 0; bi < batches; bi++ {
		ao, bo := 0, 0
		for d := range idx {
			ao += idx[d] * aStrides[d]
			bo += idx[d] * bStrides[d]
		}
		switch a.DType() {
		case Float32:
			matmul2d(view[float32](a)[ao:], view[float32](b)[bo:], view[float32](out)[bi*m*n:], m, ka, n)
		case Float64:
			matmul2d(view[float64](a)[ao:], view[float64](b)[bo:], view[float64](out)[bi*m*n:], m, ka, n)
		}

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < batch[d] {
				break
			}
			idx[d] = 0
		}
	}

	// Collapse the dimensions introduced for flagged vectors.
	finalShape := batch.Clone()
	if opA != MatrixOpVector {
		finalShape = append(finalShape, m)
	}
	if opB != MatrixOpVector {
		finalShape = append(finalShape, n)
	}
	out.shape = finalShape
	out.stride = finalShape.ComputeStrides()
	return out, nil
}

// matrixStrides returns batch-dimension strides in units of matSize
// elements, right-aligned against the broadcast batch shape.
func matrixStrides(shape, batch Shape, matSize int) []int {
	elem := broadcastStrides(shape, batch)
	for i := range elem {
		elem[i] *= matSize
	}
	return elem
}

func matmul2d[T float32 | float64](a, b, c []T, m, k, n int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum T
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[p*n+j]
			}
			c[i*n+j] = sum
		}
	}
}
