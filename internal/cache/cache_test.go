package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/forge/internal/cache"
	"github.com/born-ml/forge/internal/engine"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

func sumGraph(t *testing.T, wData []float32) *graph.Graph {
	t.Helper()
	w, err := tensor.FromSlice(wData, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	return &graph.Graph{
		Name:    "weighted-sum",
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []graph.Node{
			{Name: "scale", OpType: "mul", Inputs: []string{"x", "w"}, Outputs: []string{"s"}},
			{Name: "total", OpType: "sum", Inputs: []string{"s"}, Outputs: []string{"y"}},
		},
		Parameters: map[string]*tensor.RawTensor{"w": w},
	}
}

func staticSpecs() []*input.Spec {
	return []*input.Spec{input.Static(tensor.Shape{3}, tensor.Float32)}
}

// TestFingerprint_Deterministic tests that identical structures
// produce identical keys.
func TestFingerprint_Deterministic(t *testing.T) {
	a := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "digest")
	b := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "digest")
	assert.Equal(t, a, b)
}

// TestFingerprint_IgnoresWeightValues tests that changing only
// parameter values keeps the key stable, so cached engines can be
// refitted.
func TestFingerprint_IgnoresWeightValues(t *testing.T) {
	a := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "digest")
	b := cache.Fingerprint(sumGraph(t, []float32{9, 9, 9}), staticSpecs(), "digest")
	assert.Equal(t, a, b)
}

// TestFingerprint_Sensitivity tests that structural changes and
// codegen settings change the key.
func TestFingerprint_Sensitivity(t *testing.T) {
	base := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "digest")

	// Different operator.
	g := sumGraph(t, []float32{1, 2, 3})
	g.Nodes[0].OpType = "add"
	assert.NotEqual(t, base, cache.Fingerprint(g, staticSpecs(), "digest"))

	// Different parameter shape.
	g = sumGraph(t, []float32{1, 2, 3})
	w4, _ := tensor.Ones(tensor.Shape{4}, tensor.Float32, tensor.CPU)
	g.Parameters["w"] = w4
	assert.NotEqual(t, base, cache.Fingerprint(g, staticSpecs(), "digest"))

	// Different input shape.
	other := []*input.Spec{input.Static(tensor.Shape{4}, tensor.Float32)}
	assert.NotEqual(t, base, cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), other, "digest"))

	// Different codegen settings.
	assert.NotEqual(t, base, cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "other"))
}

// TestFingerprint_DynamicSpec tests that a dynamic range keys
// differently from a static shape.
func TestFingerprint_DynamicSpec(t *testing.T) {
	dyn, err := input.Dynamic(tensor.Shape{1}, tensor.Shape{3}, tensor.Shape{8}, tensor.Float32)
	require.NoError(t, err)

	a := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), staticSpecs(), "digest")
	b := cache.Fingerprint(sumGraph(t, []float32{1, 2, 3}), []*input.Spec{dyn}, "digest")
	assert.NotEqual(t, a, b)
}

func fakeResult(size int) *engine.CompiledEngine {
	return engine.New(make([]byte, size), []string{"x"}, []string{"y"}, map[string]string{"w": "w"}, "digest")
}

// TestMemoryCache_RoundTrip tests store and lookup structural
// equality.
func TestMemoryCache_RoundTrip(t *testing.T) {
	c := cache.NewMemoryCache(1 << 20)
	stored := fakeResult(128)
	require.NoError(t, c.Store("fp", stored))

	got, ok, err := c.Lookup("fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, stored.SerializedEngine, got.SerializedEngine)
	assert.Equal(t, stored.WeightNameMap, got.WeightNameMap)
	assert.NotSame(t, stored, got)

	_, ok, err = c.Lookup("other")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemoryCache_Eviction tests least-recently-used eviction under a
// byte budget.
func TestMemoryCache_Eviction(t *testing.T) {
	c := cache.NewMemoryCache(256)
	require.NoError(t, c.Store("a", fakeResult(100)))
	require.NoError(t, c.Store("b", fakeResult(100)))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok, _ := c.Lookup("a")
	require.True(t, ok)

	require.NoError(t, c.Store("c", fakeResult(100)))
	assert.Equal(t, 2, c.Len())

	_, ok, _ = c.Lookup("a")
	assert.True(t, ok)
	_, ok, _ = c.Lookup("b")
	assert.False(t, ok)
	_, ok, _ = c.Lookup("c")
	assert.True(t, ok)
}

// TestMemoryCache_OversizedEntry tests that entries beyond the budget
// are declined without error.
func TestMemoryCache_OversizedEntry(t *testing.T) {
	c := cache.NewMemoryCache(64)
	require.NoError(t, c.Store("big", fakeResult(128)))

	_, ok, err := c.Lookup("big")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// TestDiskCache_RoundTrip tests persistence across cache instances.
func TestDiskCache_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	c, err := cache.NewDiskCache(dir, 1<<20)
	require.NoError(t, err)
	stored := fakeResult(128)
	require.NoError(t, c.Store("fp", stored))
	require.NoError(t, c.Close())

	c, err = cache.NewDiskCache(dir, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	got, ok, err := c.Lookup("fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, stored.SerializedEngine, got.SerializedEngine)
	assert.Equal(t, []string{"x"}, got.InputBindingNames)
	assert.Equal(t, map[string]string{"w": "w"}, got.WeightNameMap)
}

// TestDiskCache_Eviction tests that the oldest entry is dropped when
// the budget is exceeded.
func TestDiskCache_Eviction(t *testing.T) {
	c, err := cache.NewDiskCache(t.TempDir(), 256)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Store("a", fakeResult(100)))
	require.NoError(t, c.Store("b", fakeResult(100)))
	require.NoError(t, c.Store("c", fakeResult(100)))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Lookup("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestDiskCache_Replace tests that restoring an existing fingerprint
// replaces rather than duplicates.
func TestDiskCache_Replace(t *testing.T) {
	c, err := cache.NewDiskCache(t.TempDir(), 1<<20)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Store("fp", fakeResult(64)))
	second := fakeResult(64)
	require.NoError(t, c.Store("fp", second))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := c.Lookup("fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}
