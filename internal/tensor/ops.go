package tensor

import (
	"fmt"
	"math"
	"unsafe"
)

// Reference kernels. These back the CPU engine and the eager graph
// evaluator; accelerator backends supply their own implementations
// behind the backend interfaces.

func view[T DType](r *RawTensor) []T {
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// broadcastStrides returns per-dimension element strides of shape when
// broadcast against out (right-aligned, stride 0 on expanded dims).
func broadcastStrides(shape, out Shape) []int {
	strides := shape.ComputeStrides()
	result := make([]int, len(out))
	offset := len(out) - len(shape)
	for i := range out {
		j := i - offset
		if j < 0 || shape[j] == 1 && out[i] != 1 {
			result[i] = 0
		} else {
			result[i] = strides[j]
		}
	}
	return result
}

func binaryOp[T DType](a, b, out *RawTensor, f func(T, T) T) {
	av, bv, ov := view[T](a), view[T](b), view[T](out)
	outShape := out.Shape()
	as := broadcastStrides(a.Shape(), outShape)
	bs := broadcastStrides(b.Shape(), outShape)

	n := out.NumElements()
	idx := make([]int, len(outShape))
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		for d := range idx {
			ai += idx[d] * as[d]
			bi += idx[d] * bs[d]
		}
		ov[i] = f(av[ai], bv[bi])

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

type binOpKind int

const (
	opAdd binOpKind = iota
	opSub
	opMul
	opDiv
)

func elementwise(kind binOpKind, a, b *RawTensor) (*RawTensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("dtype mismatch: %s vs %s", a.DType(), b.DType())
	}
	outShape, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	out, err := NewRaw(outShape, a.DType(), a.Device())
	if err != nil {
		return nil, err
	}

	switch a.DType() {
	case Float32:
		binaryOp(a, b, out, pick[float32](kind))
	case Float64:
		binaryOp(a, b, out, pick[float64](kind))
	case Int32:
		binaryOp(a, b, out, pick[int32](kind))
	case Int64:
		binaryOp(a, b, out, pick[int64](kind))
	default:
		return nil, fmt.Errorf("elementwise op not supported for dtype %s", a.DType())
	}
	return out, nil
}

func pick[T float32 | float64 | int32 | int64](kind binOpKind) func(T, T) T {
	switch kind {
	case opAdd:
		return func(x, y T) T { return x + y }
	case opSub:
		return func(x, y T) T { return x - y }
	case opMul:
		return func(x, y T) T { return x * y }
	case opDiv:
		return func(x, y T) T { return x / y }
	default:
		panic("unknown binary op")
	}
}

// Add computes a + b with right-aligned broadcasting.
func Add(a, b *RawTensor) (*RawTensor, error) { return elementwise(opAdd, a, b) }

// Sub computes a - b with right-aligned broadcasting.
func Sub(a, b *RawTensor) (*RawTensor, error) { return elementwise(opSub, a, b) }

// Mul computes a * b with right-aligned broadcasting.
func Mul(a, b *RawTensor) (*RawTensor, error) { return elementwise(opMul, a, b) }

// Div computes a / b with right-aligned broadcasting.
func Div(a, b *RawTensor) (*RawTensor, error) { return elementwise(opDiv, a, b) }

func unaryFloat(x *RawTensor, f func(float64) float64) (*RawTensor, error) {
	out, err := NewRaw(x.Shape(), x.DType(), x.Device())
	if err != nil {
		return nil, err
	}
	switch x.DType() {
	case Float32:
		xv, ov := view[float32](x), view[float32](out)
		for i := range xv {
			ov[i] = float32(f(float64(xv[i])))
		}
	case Float64:
		xv, ov := view[float64](x), view[float64](out)
		for i := range xv {
			ov[i] = f(xv[i])
		}
	default:
		return nil, fmt.Errorf("unary op not supported for dtype %s", x.DType())
	}
	return out, nil
}

// Relu computes max(x, 0).
func Relu(x *RawTensor) (*RawTensor, error) {
	switch x.DType() {
	case Int32, Int64:
		out, err := NewRaw(x.Shape(), x.DType(), x.Device())
		if err != nil {
			return nil, err
		}
		if x.DType() == Int32 {
			xv, ov := view[int32](x), view[int32](out)
			for i := range xv {
				if xv[i] > 0 {
					ov[i] = xv[i]
				}
			}
		} else {
			xv, ov := view[int64](x), view[int64](out)
			for i := range xv {
				if xv[i] > 0 {
					ov[i] = xv[i]
				}
			}
		}
		return out, nil
	default:
		return unaryFloat(x, func(v float64) float64 { return math.Max(v, 0) })
	}
}

// Sigmoid computes 1 / (1 + exp(-x)).
func Sigmoid(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
}

// Tanh computes the hyperbolic tangent of x.
func Tanh(x *RawTensor) (*RawTensor, error) { return unaryFloat(x, math.Tanh) }

// Exp computes e**x.
func Exp(x *RawTensor) (*RawTensor, error) { return unaryFloat(x, math.Exp) }

// Sqrt computes the square root of x.
func Sqrt(x *RawTensor) (*RawTensor, error) { return unaryFloat(x, math.Sqrt) }

// Neg computes -x.
func Neg(x *RawTensor) (*RawTensor, error) {
	switch x.DType() {
	case Int32:
		out, _ := NewRaw(x.Shape(), Int32, x.Device())
		xv, ov := view[int32](x), view[int32](out)
		for i := range xv {
			ov[i] = -xv[i]
		}
		return out, nil
	case Int64:
		out, _ := NewRaw(x.Shape(), Int64, x.Device())
		xv, ov := view[int64](x), view[int64](out)
		for i := range xv {
			ov[i] = -xv[i]
		}
		return out, nil
	default:
		return unaryFloat(x, func(v float64) float64 { return -v })
	}
}

// SumResultType returns the accumulation type for a reduction.
// Integer sums promote to int64, mirroring the framework semantics the
// compiler reproduces.
func SumResultType(dt DataType) (DataType, error) {
	switch dt {
	case Float32, Float64:
		return dt, nil
	case Int32, Int64, Uint8, Bool:
		return Int64, nil
	default:
		return 0, fmt.Errorf("sum not supported for dtype %s", dt)
	}
}

func accumulate(x *RawTensor, i int) (f float64, n int64) {
	switch x.DType() {
	case Float32:
		return float64(view[float32](x)[i]), 0
	case Float64:
		return view[float64](x)[i], 0
	case Int32:
		return 0, int64(view[int32](x)[i])
	case Int64:
		return 0, view[int64](x)[i]
	case Uint8:
		return 0, int64(view[uint8](x)[i])
	case Bool:
		if view[bool](x)[i] {
			return 0, 1
		}
		return 0, 0
	}
	return 0, 0
}

// Sum reduces all elements to a scalar.
func Sum(x *RawTensor) (*RawTensor, error) {
	outType, err := SumResultType(x.DType())
	if err != nil {
		return nil, err
	}
	out, err := NewRaw(Shape{}, outType, x.Device())
	if err != nil {
		return nil, err
	}
	var fsum float64
	var isum int64
	for i := 0; i < x.NumElements(); i++ {
		f, n := accumulate(x, i)
		fsum += f
		isum += n
	}
	switch outType {
	case Float32:
		view[float32](out)[0] = float32(fsum)
	case Float64:
		view[float64](out)[0] = fsum
	case Int64:
		view[int64](out)[0] = isum
	}
	return out, nil
}

// SumDim reduces along one dimension.
func SumDim(x *RawTensor, dim int, keepDim bool) (*RawTensor, error) {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		return nil, fmt.Errorf("sum dimension %d out of range for shape %v", dim, shape)
	}
	outType, err := SumResultType(x.DType())
	if err != nil {
		return nil, err
	}

	outShape := Shape{}
	for i, d := range shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	out, err := NewRaw(outShape, outType, x.Device())
	if err != nil {
		return nil, err
	}

	strides := shape.ComputeStrides()
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	inner := strides[dim]
	reduced := shape[dim]

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var fsum float64
			var isum int64
			base := o*strides[dim]*reduced + in
			for r := 0; r < reduced; r++ {
				f, n := accumulate(x, base+r*inner)
				fsum += f
				isum += n
			}
			oi := o*inner + in
			switch outType {
			case Float32:
				view[float32](out)[oi] = float32(fsum)
			case Float64:
				view[float64](out)[oi] = fsum
			case Int64:
				view[int64](out)[oi] = isum
			}
		}
	}
	return out, nil
}

// Reshape returns a copy of x with a new shape. Element count must match.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	if err := newShape.Validate(); err != nil {
		return nil, err
	}
	if newShape.NumElements() != x.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			x.Shape(), x.NumElements(), newShape, newShape.NumElements())
	}
	out := x.Clone()
	out.shape = newShape.Clone()
	out.stride = newShape.ComputeStrides()
	return out, nil
}

// Transpose permutes dimensions. With no permutation given, the
// dimension order is reversed.
func Transpose(x *RawTensor, perm ...int) (*RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if len(perm) == 0 {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("permutation %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v for rank %d", perm, rank)
		}
		seen[p] = true
		outShape[i] = shape[p]
	}

	out, err := NewRaw(outShape, x.DType(), x.Device())
	if err != nil {
		return nil, err
	}
	elemSize := x.DType().Size()
	inStrides := shape.ComputeStrides()
	n := x.NumElements()
	idx := make([]int, rank)
	for i := 0; i < n; i++ {
		src := 0
		for d := 0; d < rank; d++ {
			src += idx[d] * inStrides[perm[d]]
		}
		copy(out.data[i*elemSize:(i+1)*elemSize], x.data[src*elemSize:(src+1)*elemSize])

		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Cast converts x to a different data type. Integer-to-integer casts go
// through int64 and stay exact; anything involving floats goes through
// float64.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if dtype == String {
		return nil, fmt.Errorf("cannot cast to string")
	}
	if x.DType() == dtype {
		return x.Clone(), nil
	}
	out, err := NewRaw(x.Shape(), dtype, x.Device())
	if err != nil {
		return nil, err
	}
	n := x.NumElements()
	for i := 0; i < n; i++ {
		if x.DType().IsFloat() || dtype.IsFloat() {
			v := readFloat(x, i)
			writeFloat(out, i, v)
		} else {
			v := readInt(x, i)
			writeInt(out, i, v)
		}
	}
	return out, nil
}

func readFloat(x *RawTensor, i int) float64 {
	switch x.DType() {
	case Float32:
		return float64(view[float32](x)[i])
	case Float64:
		return view[float64](x)[i]
	default:
		return float64(readInt(x, i))
	}
}

func readInt(x *RawTensor, i int) int64 {
	switch x.DType() {
	case Int32:
		return int64(view[int32](x)[i])
	case Int64:
		return view[int64](x)[i]
	case Uint8:
		return int64(view[uint8](x)[i])
	case Bool:
		if view[bool](x)[i] {
			return 1
		}
		return 0
	case Float32:
		return int64(view[float32](x)[i])
	case Float64:
		return int64(view[float64](x)[i])
	}
	return 0
}

func writeFloat(out *RawTensor, i int, v float64) {
	switch out.DType() {
	case Float32:
		view[float32](out)[i] = float32(v)
	case Float64:
		view[float64](out)[i] = v
	default:
		writeInt(out, i, int64(v))
	}
}

func writeInt(out *RawTensor, i int, v int64) {
	switch out.DType() {
	case Int32:
		view[int32](out)[i] = int32(v)
	case Int64:
		view[int64](out)[i] = v
	case Uint8:
		view[uint8](out)[i] = uint8(v)
	case Bool:
		view[bool](out)[i] = v != 0
	case Float32:
		view[float32](out)[i] = float32(v)
	case Float64:
		view[float64](out)[i] = float64(v)
	}
}

// AllClose reports whether two tensors match within tolerance.
// Float elements satisfy |a-b| <= atol + rtol*|b|; integer and bool
// tensors must match exactly. Shape or dtype mismatch is never close.
func AllClose(a, b *RawTensor, rtol, atol float64) bool {
	if a.DType() != b.DType() || !a.Shape().Equal(b.Shape()) {
		return false
	}
	if !a.DType().IsFloat() {
		return BitEqual(a, b)
	}
	n := a.NumElements()
	for i := 0; i < n; i++ {
		av, bv := readFloat(a, i), readFloat(b, i)
		if math.IsNaN(av) && math.IsNaN(bv) {
			continue
		}
		if math.Abs(av-bv) > atol+rtol*math.Abs(bv) {
			return false
		}
	}
	return true
}
