package cpu

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/tensor"
)

// Builder implements backend.Builder for the reference backend.
type Builder struct{}

// NewBuilder returns the reference builder.
func NewBuilder() *Builder { return &Builder{} }

// Name identifies the backend.
func (b *Builder) Name() string { return "cpu" }

// Device returns the device this builder targets.
func (b *Builder) Device() tensor.Device { return tensor.CPU }

// NewNetwork creates an empty network.
func (b *Builder) NewNetwork() backend.Network {
	return &Network{constData: make(map[int]*tensor.RawTensor)}
}

// Build serializes the recorded network into an engine blob.
func (b *Builder) Build(n backend.Network, cfg backend.BuildConfig) ([]byte, error) {
	net, ok := n.(*Network)
	if !ok {
		return nil, fmt.Errorf("network was not created by this builder")
	}
	if len(net.prog.Outputs) == 0 {
		return nil, fmt.Errorf("network has no marked outputs")
	}
	net.prog.Refittable = cfg.Refittable
	net.prog.Precisions = append([]tensor.DataType(nil), cfg.Precisions...)

	klog.V(2).Infof("building engine: %d layers, %d weight slots, refittable=%v",
		len(net.prog.Layers), len(net.prog.Consts), cfg.Refittable)
	data, err := encode(&net.prog, net.constData)
	if err != nil {
		return nil, fmt.Errorf("engine build failed: %w", err)
	}
	return data, nil
}

// Runtime implements backend.Runtime for the reference backend.
type Runtime struct{}

// NewRuntime returns the reference runtime.
func NewRuntime() *Runtime { return &Runtime{} }

// Deserialize validates and loads a serialized engine.
func (r *Runtime) Deserialize(data []byte) (backend.Engine, error) {
	prog, consts, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &Engine{prog: prog, consts: consts}, nil
}

// Engine is a deserialized reference engine.
type Engine struct {
	prog   *program
	consts map[int]*tensor.RawTensor
}

// InputNames returns the input binding names in order.
func (e *Engine) InputNames() []string {
	names := make([]string, len(e.prog.Inputs))
	for i, in := range e.prog.Inputs {
		names[i] = in.Name
	}
	return names
}

// OutputNames returns the output binding names in order.
func (e *Engine) OutputNames() []string {
	names := make([]string, len(e.prog.Outputs))
	for i, out := range e.prog.Outputs {
		names[i] = out.Name
	}
	return names
}

// WeightSlots lists the engine's refittable weight slots.
func (e *Engine) WeightSlots() []backend.WeightSlot {
	slots := make([]backend.WeightSlot, len(e.prog.Consts))
	for i, c := range e.prog.Consts {
		slots[i] = backend.WeightSlot{
			Name:  c.Name,
			Shape: tensor.Shape(c.Shape).Clone(),
			DType: c.DType,
		}
	}
	return slots
}

// Refit replaces weight values in place.
func (e *Engine) Refit(updates map[string]*tensor.RawTensor) error {
	if !e.prog.Refittable {
		return fmt.Errorf("engine was not built refittable")
	}
	byName := make(map[string]*constRecord, len(e.prog.Consts))
	for i := range e.prog.Consts {
		byName[e.prog.Consts[i].Name] = &e.prog.Consts[i]
	}
	for name, t := range updates {
		c, ok := byName[name]
		if !ok {
			return fmt.Errorf("no weight slot named %q", name)
		}
		if c.DType != t.DType() {
			return fmt.Errorf("weight %q: dtype %s does not match slot %s", name, t.DType(), c.DType)
		}
		if !tensor.Shape(c.Shape).Equal(t.Shape()) {
			return fmt.Errorf("weight %q: shape %v does not match slot %v", name, t.Shape(), c.Shape)
		}
	}
	// All updates validated; patch.
	for name, t := range updates {
		c := byName[name]
		copy(e.consts[c.ID].Data(), t.Data())
	}
	return nil
}

// Run executes the engine program.
func (e *Engine) Run(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != len(e.prog.Inputs) {
		return nil, fmt.Errorf("engine expects %d inputs, got %d", len(e.prog.Inputs), len(inputs))
	}
	values := make(map[int]*tensor.RawTensor, len(e.prog.Values))
	for id, t := range e.consts {
		values[id] = t
	}
	for i, meta := range e.prog.Inputs {
		if err := checkInput(meta, inputs[i]); err != nil {
			return nil, err
		}
		values[meta.ID] = inputs[i]
	}

	for li := range e.prog.Layers {
		rec := &e.prog.Layers[li]
		args := make([]*tensor.RawTensor, len(rec.Inputs))
		for i, id := range rec.Inputs {
			t, ok := values[id]
			if !ok {
				return nil, fmt.Errorf("layer %q: value %d not computed", rec.Name, id)
			}
			args[i] = t
		}
		outs, err := execLayer(rec.Config, args)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", rec.Name, err)
		}
		for i, id := range rec.Outputs {
			values[id] = outs[i]
		}
	}

	result := make([]*tensor.RawTensor, len(e.prog.Outputs))
	for i, out := range e.prog.Outputs {
		t, ok := values[out.ID]
		if !ok {
			return nil, fmt.Errorf("output %q was not computed", out.Name)
		}
		result[i] = t
	}
	return result, nil
}

// checkInput validates a run-time input against the declared binding.
// Static bindings require an exact shape; dynamic bindings require the
// declared rank and per-dimension bounds.
func checkInput(meta valueMeta, t *tensor.RawTensor) error {
	if t.DType() != meta.DType {
		return fmt.Errorf("input %q: dtype %s does not match declared %s", meta.Name, t.DType(), meta.DType)
	}
	shape := t.Shape()
	if len(meta.MinShape) == 0 {
		if !shape.Equal(tensor.Shape(meta.Shape)) {
			return fmt.Errorf("input %q: shape %v does not match declared %v", meta.Name, shape, meta.Shape)
		}
		return nil
	}
	if len(shape) != len(meta.MinShape) {
		return fmt.Errorf("input %q: rank %d does not match declared %d", meta.Name, len(shape), len(meta.MinShape))
	}
	for i := range shape {
		if shape[i] < meta.MinShape[i] || shape[i] > meta.MaxShape[i] {
			return fmt.Errorf("input %q: dimension %d = %d outside declared range [%d, %d]",
				meta.Name, i, shape[i], meta.MinShape[i], meta.MaxShape[i])
		}
	}
	return nil
}

// execLayer executes one program layer on the reference kernels.
func execLayer(cfg backend.LayerConfig, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	one := func(t *tensor.RawTensor, err error) ([]*tensor.RawTensor, error) {
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{t}, nil
	}

	switch cfg.Op {
	case "elementwise":
		switch cfg.Kind {
		case "add":
			return one(tensor.Add(inputs[0], inputs[1]))
		case "sub":
			return one(tensor.Sub(inputs[0], inputs[1]))
		case "mul":
			return one(tensor.Mul(inputs[0], inputs[1]))
		case "div":
			return one(tensor.Div(inputs[0], inputs[1]))
		}
	case "matmul":
		return one(tensor.MatMul(inputs[0], inputs[1], cfg.OpA, cfg.OpB))
	case "activation":
		switch cfg.Kind {
		case "relu":
			return one(tensor.Relu(inputs[0]))
		case "sigmoid":
			return one(tensor.Sigmoid(inputs[0]))
		case "tanh":
			return one(tensor.Tanh(inputs[0]))
		}
	case "unary":
		switch cfg.Kind {
		case "exp":
			return one(tensor.Exp(inputs[0]))
		case "sqrt":
			return one(tensor.Sqrt(inputs[0]))
		case "neg":
			return one(tensor.Neg(inputs[0]))
		}
	case "shuffle":
		if cfg.Shape != nil {
			return one(tensor.Reshape(inputs[0], tensor.Shape(cfg.Shape)))
		}
		return one(tensor.Transpose(inputs[0], cfg.Perm...))
	case "reduce":
		if cfg.ReduceAll {
			return one(tensor.Sum(inputs[0]))
		}
		return one(tensor.SumDim(inputs[0], cfg.Dim, cfg.KeepDim))
	case "cast":
		return one(tensor.Cast(inputs[0], cfg.To))
	}
	return nil, fmt.Errorf("unknown layer op %q (kind %q)", cfg.Op, cfg.Kind)
}
