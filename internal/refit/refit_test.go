package refit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/backend/cpu"
	"github.com/born-ml/forge/internal/convert"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/refit"
	"github.com/born-ml/forge/internal/tensor"
)

func linearGraph(t *testing.T, wData, bData []float32) *graph.Graph {
	t.Helper()
	w, err := tensor.FromSlice(wData, tensor.Shape{3, 2}, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.FromSlice(bData, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)
	return &graph.Graph{
		Name:    "linear",
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "mm", OpType: "matmul", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
			{Name: "bias", OpType: "add", Inputs: []string{"h", "b"}, Outputs: []string{"y"}},
		},
		Parameters: map[string]*tensor.RawTensor{"w": w, "b": b},
	}
}

func specs() []*input.Spec {
	return []*input.Spec{input.Static(tensor.Shape{3}, tensor.Float32)}
}

// buildEngine compiles g into a refittable (or not) engine.
func buildEngine(t *testing.T, g *graph.Graph, refittable bool) (backend.Engine, map[string]string) {
	t.Helper()
	b := cpu.NewBuilder()
	net := b.NewNetwork()

	res, err := convert.Interpret(g, specs(), net, convert.NewRegistry(), nil)
	require.NoError(t, err)
	data, err := b.Build(net, backend.BuildConfig{Refittable: refittable})
	require.NoError(t, err)
	eng, err := cpu.NewRuntime().Deserialize(data)
	require.NoError(t, err)
	return eng, res.WeightNameMap
}

// TestRefit_SameWeights tests refitting an engine with its own
// weights.
func TestRefit_SameWeights(t *testing.T) {
	g := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, weightMap := buildEngine(t, g, true)

	res := refit.Refit(eng, g, weightMap, specs(), tensor.CPU)
	assert.Equal(t, refit.Applied, res.Outcome)
	assert.Empty(t, res.Reason)
}

// TestRefit_SameWeightsBitIdentical tests that a refit with unchanged
// weight values leaves the engine's outputs bit-for-bit unchanged.
func TestRefit_SameWeightsBitIdentical(t *testing.T) {
	g := linearGraph(t, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, []float32{0.25, -0.75})
	eng, weightMap := buildEngine(t, g, true)

	x, err := tensor.FromSlice([]float32{1.5, -2.25, 3.125}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	before, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)

	res := refit.Refit(eng, g, weightMap, specs(), tensor.CPU)
	require.Equal(t, refit.Applied, res.Outcome)

	after, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, tensor.BitEqual(before[i], after[i]))
	}
}

// TestRefit_NewWeights tests that refitted outputs match a reference
// evaluation of the updated graph.
func TestRefit_NewWeights(t *testing.T) {
	old := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, weightMap := buildEngine(t, old, true)

	updated := linearGraph(t, []float32{6, 5, 4, 3, 2, 1}, []float32{0, 2})
	res := refit.Refit(eng, updated, weightMap, specs(), tensor.CPU)
	require.Equal(t, refit.Applied, res.Outcome)

	x, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)
	got, err := eng.Run([]*tensor.RawTensor{x})
	require.NoError(t, err)
	want, err := graph.Execute(updated, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(got[0], want[0], 1e-6, 1e-6))
}

// TestRefit_NilWeightMap tests the fallback for engines without a
// weight name map.
func TestRefit_NilWeightMap(t *testing.T) {
	g := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, _ := buildEngine(t, g, true)

	res := refit.Refit(eng, g, nil, specs(), tensor.CPU)
	assert.Equal(t, refit.FallbackRequired, res.Outcome)
	assert.Contains(t, res.Reason, "weight name map")
}

// TestRefit_ShapeMismatch tests fallback when a parameter no longer
// matches its slot.
func TestRefit_ShapeMismatch(t *testing.T) {
	g := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, weightMap := buildEngine(t, g, true)

	bad := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	wrong, _ := tensor.Ones(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	bad.Parameters["w"] = wrong

	res := refit.Refit(eng, bad, weightMap, specs(), tensor.CPU)
	assert.Equal(t, refit.FallbackRequired, res.Outcome)
	assert.Contains(t, res.Reason, "shape")
}

// TestRefit_MissingParameter tests fallback when the graph lost a
// mapped parameter.
func TestRefit_MissingParameter(t *testing.T) {
	g := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, weightMap := buildEngine(t, g, true)

	stripped := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	delete(stripped.Parameters, "b")

	res := refit.Refit(eng, stripped, weightMap, specs(), tensor.CPU)
	assert.Equal(t, refit.FallbackRequired, res.Outcome)
}

// TestRefit_NotRefittableEngine tests fallback when the engine was
// built without refit support.
func TestRefit_NotRefittableEngine(t *testing.T) {
	g := linearGraph(t, []float32{1, 2, 3, 4, 5, 6}, []float32{1, -1})
	eng, weightMap := buildEngine(t, g, false)

	res := refit.Refit(eng, g, weightMap, specs(), tensor.CPU)
	assert.Equal(t, refit.FallbackRequired, res.Outcome)
	assert.Contains(t, res.Reason, "rejected refit")
}
