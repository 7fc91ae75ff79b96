// Package backend defines the capability interfaces the compiler
// targets. The engine builder/runtime is an external collaborator; the
// compiler only depends on these contracts. A pure-Go reference
// implementation lives in backend/cpu.
package backend

import (
	"github.com/born-ml/forge/internal/tensor"
)

// TensorHandle identifies a value inside a network under construction.
type TensorHandle interface {
	Name() string
	Shape() tensor.Shape
	DType() tensor.DataType
}

// Layer is one emitted backend layer.
type Layer interface {
	// SetName tags the layer with a diagnostic name.
	SetName(name string)
	NumOutputs() int
	Output(i int) TensorHandle
}

// LayerConfig selects the layer kind and its parameters. Exactly the
// fields relevant to Op are consulted.
type LayerConfig struct {
	// Op is the layer kind: "elementwise", "matmul", "activation",
	// "unary", "shuffle", "reduce" or "cast".
	Op string `json:"op"`

	// Kind selects the sub-operation for elementwise ("add", "sub",
	// "mul", "div"), activation ("relu", "sigmoid", "tanh") and unary
	// ("exp", "sqrt", "neg") layers.
	Kind string `json:"kind,omitempty"`

	// Matmul operand interpretation.
	OpA tensor.MatrixOp `json:"op_a,omitempty"`
	OpB tensor.MatrixOp `json:"op_b,omitempty"`

	// Shuffle: reshape target or transpose permutation.
	Shape []int `json:"shape,omitempty"`
	Perm  []int `json:"perm,omitempty"`

	// Reduce parameters.
	Dim       int  `json:"dim,omitempty"`
	KeepDim   bool `json:"keep_dim,omitempty"`
	ReduceAll bool `json:"reduce_all,omitempty"`

	// Cast target.
	To tensor.DataType `json:"to,omitempty"`
}

// Network accumulates layers during graph interpretation.
type Network interface {
	// AddInput declares an engine input. minShape and maxShape are nil
	// for static inputs; for dynamic inputs shape is the build-time
	// (optimal) shape and min/max bound the run-time shapes.
	AddInput(name string, dtype tensor.DataType, shape, minShape, maxShape tensor.Shape) (TensorHandle, error)

	// AddConstant creates a named weight slot from a tensor. The name
	// is the slot identity the refitter patches by.
	AddConstant(name string, t *tensor.RawTensor) (TensorHandle, error)

	// AddLayer emits a layer over the given inputs.
	AddLayer(cfg LayerConfig, inputs []TensorHandle) (Layer, error)

	// MarkOutput declares a value as an engine output under the given
	// binding name. Order of calls is binding order.
	MarkOutput(h TensorHandle, name string) error
}

// BuildConfig carries the codegen-affecting subset of the compilation
// settings into the builder.
type BuildConfig struct {
	Precisions    []tensor.DataType
	WorkspaceSize int64
	Refittable    bool
	Debug         bool
}

// Builder constructs networks and compiles them to serialized engines.
// Build is the expensive step; it may run internal autotuning.
type Builder interface {
	Name() string
	Device() tensor.Device
	NewNetwork() Network
	Build(n Network, cfg BuildConfig) ([]byte, error)
}

// WeightSlot describes one refittable weight in a built engine.
type WeightSlot struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DataType
}

// Engine is a deserialized, executable engine.
type Engine interface {
	// Run executes the engine on inputs given in binding order and
	// returns outputs in binding order.
	Run(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

	InputNames() []string
	OutputNames() []string

	// WeightSlots lists the refittable weight slots.
	WeightSlots() []WeightSlot

	// Refit replaces weight values in place. Every key must name an
	// existing slot with matching shape and dtype.
	Refit(updates map[string]*tensor.RawTensor) error
}

// Runtime deserializes engines.
type Runtime interface {
	Deserialize(data []byte) (Engine, error)
}
