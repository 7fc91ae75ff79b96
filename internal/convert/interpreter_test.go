package convert_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/backend/cpu"
	"github.com/born-ml/forge/internal/convert"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

func linearGraph(t *testing.T) *graph.Graph {
	t.Helper()
	w, err := tensor.FromSlice([]float32{1, 0, 0, 1, 1, 1}, tensor.Shape{3, 2}, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{0.5, -0.5}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)
	return &graph.Graph{
		Name:    "linear",
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "mm", OpType: "matmul", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
			{Name: "bias", OpType: "add", Inputs: []string{"h", "b"}, Outputs: []string{"a"}},
			{Name: "act", OpType: "relu", Inputs: []string{"a"}, Outputs: []string{"y"}},
		},
		Parameters: map[string]*tensor.RawTensor{"w": w, "b": b},
	}
}

// compileGraph interprets and builds g with the reference backend and
// returns the running engine.
func compileGraph(t *testing.T, g *graph.Graph, specs []*input.Spec, dtypes []tensor.DataType) (backend.Engine, *convert.Result) {
	t.Helper()
	b := cpu.NewBuilder()
	net := b.NewNetwork()

	res, err := convert.Interpret(g, specs, net, convert.NewRegistry(), dtypes)
	require.NoError(t, err)

	data, err := b.Build(net, backend.BuildConfig{Refittable: true})
	require.NoError(t, err)
	eng, err := cpu.NewRuntime().Deserialize(data)
	require.NoError(t, err)
	return eng, res
}

// TestInterpret_Linear tests that an interpreted engine matches the
// eager evaluator.
func TestInterpret_Linear(t *testing.T) {
	g := linearGraph(t)
	specs := []*input.Spec{input.Static(tensor.Shape{3}, tensor.Float32)}

	eng, res := compileGraph(t, g, specs, nil)
	assert.Equal(t, []string{"x"}, res.InputNames)
	assert.Equal(t, []string{"y"}, res.OutputNames)
	assert.Equal(t, map[string]string{"w": "w", "b": "b"}, res.WeightNameMap)

	x, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)
	got, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)

	want, err := graph.Execute(g, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(got[0], want[0], 1e-6, 1e-6))
}

// TestInterpret_VectorMatmul tests the rank-1 operand edge case
// through the full pipeline: (4,) x (4,3) -> (3,).
func TestInterpret_VectorMatmul(t *testing.T) {
	w, _ := tensor.Ones(tensor.Shape{4, 3}, tensor.Float32, tensor.CPU)
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "mm", OpType: "matmul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}},
		},
		Parameters: map[string]*tensor.RawTensor{"w": w},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{4}, tensor.Float32)}

	eng, _ := compileGraph(t, g, specs, nil)
	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4}, tensor.CPU)
	got, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, got[0].Shape())
	assert.Equal(t, []float32{10, 10, 10}, got[0].AsFloat32())
}

// TestInterpret_UnsupportedOp tests the classified error for missing
// converters.
func TestInterpret_UnsupportedOp(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "c", OpType: "conv2d", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{1}, tensor.Float32)}

	_, err := convert.Interpret(g, specs, cpu.NewBuilder().NewNetwork(), convert.NewRegistry(), nil)
	require.Error(t, err)

	var ce *convert.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, convert.KindUnsupportedOperation, ce.Kind)
	assert.Equal(t, "c", ce.Node)
	assert.Equal(t, "conv2d", ce.Op)
}

// TestInterpret_ShapeMismatch tests the classified error for
// incompatible operands.
func TestInterpret_ShapeMismatch(t *testing.T) {
	w, _ := tensor.Ones(tensor.Shape{4, 3}, tensor.Float32, tensor.CPU)
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "mm", OpType: "matmul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}},
		},
		Parameters: map[string]*tensor.RawTensor{"w": w},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{2, 5}, tensor.Float32)}

	_, err := convert.Interpret(g, specs, cpu.NewBuilder().NewNetwork(), convert.NewRegistry(), nil)
	require.Error(t, err)

	var ce *convert.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, convert.KindShapeMismatch, ce.Kind)
}

// TestInterpret_SpecCountMismatch tests the input arity check.
func TestInterpret_SpecCountMismatch(t *testing.T) {
	g := linearGraph(t)

	_, err := convert.Interpret(g, nil, cpu.NewBuilder().NewNetwork(), convert.NewRegistry(), nil)
	require.Error(t, err)

	var ce *convert.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, convert.KindMalformedGraph, ce.Kind)
}

// TestInterpret_OutputCast tests that a resolved output type
// differing from the converter's output inserts a cast layer.
func TestInterpret_OutputCast(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "s", OpType: "sum", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{4}, tensor.Int32)}

	eng, _ := compileGraph(t, g, specs, []tensor.DataType{tensor.Int32})

	x, _ := tensor.FromSlice([]int32{1, 2, 3, 4}, tensor.Shape{4}, tensor.CPU)
	got, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)
	assert.Equal(t, tensor.Int32, got[0].DType())
	assert.Equal(t, []int32{10}, got[0].AsInt32())
}

// TestInferOutputTypes tests 64-bit promotion surfacing and opt-in
// narrowing.
func TestInferOutputTypes(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "s", OpType: "sum", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{4}, tensor.Int32)}

	dtypes, err := convert.InferOutputTypes(g, specs, tensor.CPU, false)
	require.NoError(t, err)
	assert.Equal(t, []tensor.DataType{tensor.Int64}, dtypes)

	dtypes, err = convert.InferOutputTypes(g, specs, tensor.CPU, true)
	require.NoError(t, err)
	assert.Equal(t, []tensor.DataType{tensor.Int32}, dtypes)
}

// TestInferOutputTypes_UnsupportedOp tests that an operator the
// evaluator has no kernel for is classified as unsupported, not as a
// malformed graph.
func TestInferOutputTypes_UnsupportedOp(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "s", OpType: "softmax", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	specs := []*input.Spec{input.Static(tensor.Shape{3}, tensor.Float32)}

	_, err := convert.InferOutputTypes(g, specs, tensor.CPU, false)
	require.Error(t, err)

	var ce *convert.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, convert.KindUnsupportedOperation, ce.Kind)
	assert.Equal(t, "s", ce.Node)
	assert.Equal(t, "softmax", ce.Op)
}

// TestInferOutputTypes_FloatUntouched tests that 32-bit outputs are
// never narrowed.
func TestInferOutputTypes_FloatUntouched(t *testing.T) {
	g := linearGraph(t)
	specs := []*input.Spec{input.Static(tensor.Shape{3}, tensor.Float32)}

	dtypes, err := convert.InferOutputTypes(g, specs, tensor.CPU, true)
	require.NoError(t, err)
	assert.Equal(t, []tensor.DataType{tensor.Float32}, dtypes)
}

// TestRegistry tests registration and the supported-op listing.
func TestRegistry(t *testing.T) {
	reg := convert.NewRegistry()

	for _, op := range []string{"add", "sub", "mul", "div", "matmul", "relu", "sigmoid", "tanh", "exp", "sqrt", "neg", "reshape", "transpose", "sum", "cast"} {
		_, ok := reg.Get(op)
		assert.True(t, ok, "missing converter for %s", op)
	}
	_, ok := reg.Get("conv2d")
	assert.False(t, ok)
	assert.Contains(t, reg.SupportedOps(), "matmul")
}
