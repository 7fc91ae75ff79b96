package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(data, shape, tensor.CPU)
	require.NoError(t, err)
	return r
}

// linearGraph builds y = relu(x @ w + b).
func linearGraph(t *testing.T) *graph.Graph {
	t.Helper()
	w := mustTensor(t, []float32{1, 0, 0, 1, 1, 1}, tensor.Shape{3, 2})
	b := mustTensor(t, []float32{0.5, -0.5}, tensor.Shape{2})
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

// TestValidate_OK tests a well-formed graph.
func TestValidate_OK(t *testing.T) {
	require.NoError(t, linearGraph(t).Validate())
}

// TestValidate_DanglingReference tests that an undefined input name is
// rejected.
func TestValidate_DanglingReference(t *testing.T) {
	g := linearGraph(t)
	g.Nodes[0].Inputs[1] = "missing"

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangling reference")
}

// TestValidate_DuplicateDefinition tests that redefining a value is
// rejected.
func TestValidate_DuplicateDefinition(t *testing.T) {
	g := linearGraph(t)
	g.Nodes[2].Outputs[0] = "h"

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}

// TestValidate_UnproducedOutput tests that a declared output nothing
// produces is rejected.
func TestValidate_UnproducedOutput(t *testing.T) {
	g := linearGraph(t)
	g.Outputs = []string{"nope"}

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never produced")
}

// TestExecute_Linear tests the eager evaluator end to end.
func TestExecute_Linear(t *testing.T) {
	g := linearGraph(t)
	x := mustTensor(t, []float32{1, 2, 3}, tensor.Shape{3})

	outs, err := graph.Execute(g, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	require.Len(t, outs, 1)

	// x @ w = (4, 5), + b = (4.5, 4.5), relu keeps both.
	assert.Equal(t, tensor.Shape{2}, outs[0].Shape())
	assert.Equal(t, []float32{4.5, 4.5}, outs[0].AsFloat32())
}

// TestExecute_MissingInput tests that an absent feed fails.
func TestExecute_MissingInput(t *testing.T) {
	g := linearGraph(t)

	_, err := graph.Execute(g, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing input")
}

// TestExecute_UnsupportedOp tests the error path for unknown
// operators.
func TestExecute_UnsupportedOp(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "n", OpType: "conv", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	x := mustTensor(t, []float32{1}, tensor.Shape{1})

	_, err := graph.Execute(g, map[string]*tensor.RawTensor{"x": x})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operator")

	var unsup *graph.UnsupportedOpError
	require.True(t, errors.As(err, &unsup))
	assert.Equal(t, "n", unsup.Node)
	assert.Equal(t, "conv", unsup.Op)
}

// TestExecute_SumPromotion tests that an integer sum surfaces as
// int64.
func TestExecute_SumPromotion(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "s", OpType: "sum", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	x, err := tensor.FromSlice([]int32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)

	outs, err := graph.Execute(g, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	assert.Equal(t, tensor.Int64, outs[0].DType())
	assert.Equal(t, []int64{6}, outs[0].AsInt64())
}

// TestExecute_CastAttr tests the cast operator's "to" attribute.
func TestExecute_CastAttr(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "c", OpType: "cast", Inputs: []string{"x"}, Outputs: []string{"y"},
				Attributes: []graph.Attribute{{Name: "to", S: "float64"}}},
		},
	}
	x := mustTensor(t, []float32{1.5}, tensor.Shape{1})

	outs, err := graph.Execute(g, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	assert.Equal(t, tensor.Float64, outs[0].DType())
	assert.Equal(t, []float64{1.5}, outs[0].AsFloat64())
}
