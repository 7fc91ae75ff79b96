package input_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

// TestStatic tests a fixed-shape spec.
func TestStatic(t *testing.T) {
	s := input.Static(tensor.Shape{2, 3}, tensor.Float32)

	assert.False(t, s.IsDynamic())
	assert.Equal(t, tensor.Shape{2, 3}, s.ShapeFor(input.ModeMin))
	assert.Equal(t, tensor.Shape{2, 3}, s.ShapeFor(input.ModeMax))
}

// TestDynamic tests shape range validation and mode selection.
func TestDynamic(t *testing.T) {
	s, err := input.Dynamic(tensor.Shape{1, 3}, tensor.Shape{4, 3}, tensor.Shape{8, 3}, tensor.Float32)
	require.NoError(t, err)

	assert.True(t, s.IsDynamic())
	assert.Equal(t, tensor.Shape{1, 3}, s.ShapeFor(input.ModeMin))
	assert.Equal(t, tensor.Shape{4, 3}, s.ShapeFor(input.ModeOpt))
	assert.Equal(t, tensor.Shape{8, 3}, s.ShapeFor(input.ModeMax))
}

// TestDynamic_InvalidRange tests that min <= opt <= max is enforced.
func TestDynamic_InvalidRange(t *testing.T) {
	_, err := input.Dynamic(tensor.Shape{4}, tensor.Shape{2}, tensor.Shape{8}, tensor.Float32)
	assert.Error(t, err)

	_, err = input.Dynamic(tensor.Shape{1}, tensor.Shape{2, 2}, tensor.Shape{3}, tensor.Float32)
	assert.Error(t, err)
}

// TestFromTensor tests spec derivation from a concrete tensor.
func TestFromTensor(t *testing.T) {
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, tensor.CPU)
	require.NoError(t, err)

	s, err := input.FromTensor(x, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, s.Shape)
	assert.Equal(t, tensor.Float32, s.DType)
	assert.Same(t, x, s.Tensor)
}

// TestExampleTensor tests that dynamic specs materialize the mode
// shape and concrete specs reuse their tensor.
func TestExampleTensor(t *testing.T) {
	s, err := input.Dynamic(tensor.Shape{1}, tensor.Shape{4}, tensor.Shape{8}, tensor.Int32)
	require.NoError(t, err)

	ex, err := s.ExampleTensor(input.ModeMax, tensor.CPU)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{8}, ex.Shape())
	assert.Equal(t, tensor.Int32, ex.DType())

	x, _ := tensor.FromSlice([]float32{7}, tensor.Shape{1}, tensor.CPU)
	cs, err := input.FromTensor(x, false)
	require.NoError(t, err)
	ex, err = cs.ExampleTensor(input.ModeOpt, tensor.CPU)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, ex.AsFloat32())
}

// TestNormalize_Nested tests recursion over mixed containers.
func TestNormalize_Nested(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, tensor.CPU)
	spec := input.Static(tensor.Shape{3}, tensor.Float32)

	v, err := input.Normalize([]any{
		x,
		map[string]any{"b": spec, "a": x},
	}, false)
	require.NoError(t, err)

	seq, ok := v.(input.Sequence)
	require.True(t, ok)
	require.Len(t, seq, 2)
	_, ok = seq[0].(input.Leaf)
	assert.True(t, ok)
	_, ok = seq[1].(input.Mapping)
	assert.True(t, ok)
}

// TestNormalize_InvalidLeaf tests the type error for unsupported
// leaves.
func TestNormalize_InvalidLeaf(t *testing.T) {
	_, err := input.Normalize(42, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input type")
}

// TestFlatten_Order tests deterministic traversal: sequence order,
// then sorted mapping keys.
func TestFlatten_Order(t *testing.T) {
	s1 := input.Static(tensor.Shape{1}, tensor.Float32)
	s2 := input.Static(tensor.Shape{2}, tensor.Float32)
	s3 := input.Static(tensor.Shape{3}, tensor.Float32)

	v, err := input.Normalize([]any{
		s1,
		map[string]any{"z": s3, "a": s2},
	}, false)
	require.NoError(t, err)

	specs := input.Flatten(v)
	require.Len(t, specs, 3)
	assert.Equal(t, tensor.Shape{1}, specs[0].Shape)
	assert.Equal(t, tensor.Shape{2}, specs[1].Shape)
	assert.Equal(t, tensor.Shape{3}, specs[2].Shape)
}

// TestMaterialize_Structure tests that container structure is
// mirrored.
func TestMaterialize_Structure(t *testing.T) {
	spec := input.Static(tensor.Shape{2}, tensor.Float32)
	v, err := input.Normalize(map[string]any{"x": []any{spec}}, false)
	require.NoError(t, err)

	out, err := input.Materialize(v, input.ModeOpt, tensor.CPU)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	seq, ok := m["x"].([]any)
	require.True(t, ok)
	require.Len(t, seq, 1)
	tens, ok := seq[0].(*tensor.RawTensor)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{2}, tens.Shape())
}
