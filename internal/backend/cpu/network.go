// Package cpu is the pure-Go reference implementation of the backend
// capability interfaces: a recorded-program network, a builder that
// serializes it into the engine format, and a runtime that executes it
// on the reference kernels.
package cpu

import (
	"fmt"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/tensor"
)

// valueMeta describes one value (input, constant or layer output) in
// the recorded program.
type valueMeta struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	DType    tensor.DataType `json:"dtype"`
	Shape    []int           `json:"shape"`
	MinShape []int           `json:"min_shape,omitempty"`
	MaxShape []int           `json:"max_shape,omitempty"`
}

// constRecord locates a weight blob in the engine data section.
type constRecord struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	DType  tensor.DataType `json:"dtype"`
	Shape  []int           `json:"shape"`
	Offset int64           `json:"offset"`
	Size   int64           `json:"size"`
}

type layerRecord struct {
	Name    string              `json:"name"`
	Config  backend.LayerConfig `json:"config"`
	Inputs  []int               `json:"inputs"`
	Outputs []int               `json:"outputs"`
}

type outputRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// program is the engine's instruction stream.
type program struct {
	Inputs     []valueMeta       `json:"inputs"`
	Consts     []constRecord     `json:"consts"`
	Layers     []layerRecord     `json:"layers"`
	Outputs    []outputRecord    `json:"outputs"`
	Values     []valueMeta       `json:"values"`
	Refittable bool              `json:"refittable"`
	Precisions []tensor.DataType `json:"precisions,omitempty"`
}

// Network implements backend.Network by recording a program.
type Network struct {
	prog      program
	constData map[int]*tensor.RawTensor
	nextID    int
}

type handle struct {
	net *Network
	id  int
}

func (h handle) meta() valueMeta        { return h.net.prog.Values[h.id] }
func (h handle) Name() string           { return h.meta().Name }
func (h handle) Shape() tensor.Shape    { return tensor.Shape(h.meta().Shape).Clone() }
func (h handle) DType() tensor.DataType { return h.meta().DType }

type layer struct {
	net *Network
	idx int
}

func (l layer) SetName(name string) { l.net.prog.Layers[l.idx].Name = name }
func (l layer) NumOutputs() int     { return len(l.net.prog.Layers[l.idx].Outputs) }
func (l layer) Output(i int) backend.TensorHandle {
	return handle{net: l.net, id: l.net.prog.Layers[l.idx].Outputs[i]}
}

func (n *Network) newValue(name string, dtype tensor.DataType, shape tensor.Shape) int {
	id := n.nextID
	n.nextID++
	n.prog.Values = append(n.prog.Values, valueMeta{
		ID:    id,
		Name:  name,
		DType: dtype,
		Shape: append([]int(nil), shape...),
	})
	return id
}

// AddInput declares an engine input.
func (n *Network) AddInput(name string, dtype tensor.DataType, shape, minShape, maxShape tensor.Shape) (backend.TensorHandle, error) {
	if dtype == tensor.String {
		return nil, fmt.Errorf("input %q: string tensors are not supported", name)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("input %q: %w", name, err)
	}
	id := n.newValue(name, dtype, shape)
	meta := &n.prog.Values[id]
	meta.MinShape = append([]int(nil), minShape...)
	meta.MaxShape = append([]int(nil), maxShape...)
	n.prog.Inputs = append(n.prog.Inputs, *meta)
	return handle{net: n, id: id}, nil
}

// AddConstant creates a named, refittable weight slot.
func (n *Network) AddConstant(name string, t *tensor.RawTensor) (backend.TensorHandle, error) {
	for _, c := range n.prog.Consts {
		if c.Name == name {
			return nil, fmt.Errorf("constant %q already defined", name)
		}
	}
	id := n.newValue(name, t.DType(), t.Shape())
	n.prog.Consts = append(n.prog.Consts, constRecord{
		ID:    id,
		Name:  name,
		DType: t.DType(),
		Shape: append([]int(nil), t.Shape()...),
		Size:  int64(t.ByteSize()),
	})
	n.constData[id] = t.Clone()
	return handle{net: n, id: id}, nil
}

// AddLayer emits a layer, inferring output metadata from the config
// and input metadata.
func (n *Network) AddLayer(cfg backend.LayerConfig, inputs []backend.TensorHandle) (backend.Layer, error) {
	ids := make([]int, len(inputs))
	metas := make([]valueMeta, len(inputs))
	for i, in := range inputs {
		h, ok := in.(handle)
		if !ok || h.net != n {
			return nil, fmt.Errorf("layer input %d belongs to a different network", i)
		}
		ids[i] = h.id
		metas[i] = h.meta()
	}

	outMetas, err := inferLayer(cfg, metas)
	if err != nil {
		return nil, err
	}

	rec := layerRecord{
		Name:   fmt.Sprintf("layer_%d", len(n.prog.Layers)),
		Config: cfg,
		Inputs: ids,
	}
	for _, om := range outMetas {
		id := n.newValue(om.Name, om.DType, tensor.Shape(om.Shape))
		rec.Outputs = append(rec.Outputs, id)
	}
	n.prog.Layers = append(n.prog.Layers, rec)
	return layer{net: n, idx: len(n.prog.Layers) - 1}, nil
}

// MarkOutput declares an engine output binding.
func (n *Network) MarkOutput(h backend.TensorHandle, name string) error {
	hh, ok := h.(handle)
	if !ok || hh.net != n {
		return fmt.Errorf("output handle belongs to a different network")
	}
	for _, o := range n.prog.Outputs {
		if o.Name == name {
			return fmt.Errorf("output binding %q already declared", name)
		}
	}
	n.prog.Outputs = append(n.prog.Outputs, outputRecord{ID: hh.id, Name: name})
	return nil
}

// inferLayer computes output dtype and shape for a layer from its
// build-time input metadata. Run-time shapes are recomputed from the
// actual inputs, so dynamic dimensions only need to be plausible here.
func inferLayer(cfg backend.LayerConfig, inputs []valueMeta) ([]valueMeta, error) {
	need := func(n int) error {
		if len(inputs) != n {
			return fmt.Errorf("%s layer requires %d inputs, got %d", cfg.Op, n, len(inputs))
		}
		return nil
	}

	switch cfg.Op {
	case "elementwise":
		if err := need(2); err != nil {
			return nil, err
		}
		if inputs[0].DType != inputs[1].DType {
			return nil, fmt.Errorf("elementwise dtype mismatch: %s vs %s", inputs[0].DType, inputs[1].DType)
		}
		switch cfg.Kind {
		case "add", "sub", "mul", "div":
		default:
			return nil, fmt.Errorf("unknown elementwise kind %q", cfg.Kind)
		}
		shape, err := tensor.BroadcastShapes(tensor.Shape(inputs[0].Shape), tensor.Shape(inputs[1].Shape))
		if err != nil {
			return nil, err
		}
		return []valueMeta{{DType: inputs[0].DType, Shape: shape}}, nil

	case "matmul":
		if err := need(2); err != nil {
			return nil, err
		}
		return inferMatMul(cfg, inputs[0], inputs[1])

	case "activation":
		if err := need(1); err != nil {
			return nil, err
		}
		switch cfg.Kind {
		case "relu", "sigmoid", "tanh":
		default:
			return nil, fmt.Errorf("unknown activation kind %q", cfg.Kind)
		}
		return []valueMeta{{DType: inputs[0].DType, Shape: inputs[0].Shape}}, nil

	case "unary":
		if err := need(1); err != nil {
			return nil, err
		}
		switch cfg.Kind {
		case "exp", "sqrt", "neg":
		default:
			return nil, fmt.Errorf("unknown unary kind %q", cfg.Kind)
		}
		return []valueMeta{{DType: inputs[0].DType, Shape: inputs[0].Shape}}, nil

	case "shuffle":
		if err := need(1); err != nil {
			return nil, err
		}
		if cfg.Shape != nil {
			target := tensor.Shape(cfg.Shape)
			if target.NumElements() != tensor.Shape(inputs[0].Shape).NumElements() {
				return nil, fmt.Errorf("cannot reshape %v to %v", inputs[0].Shape, cfg.Shape)
			}
			return []valueMeta{{DType: inputs[0].DType, Shape: cfg.Shape}}, nil
		}
		perm := cfg.Perm
		in := inputs[0].Shape
		if len(perm) != len(in) {
			return nil, fmt.Errorf("permutation %v does not match rank %d", perm, len(in))
		}
		out := make([]int, len(in))
		for i, p := range perm {
			if p < 0 || p >= len(in) {
				return nil, fmt.Errorf("invalid permutation %v", perm)
			}
			out[i] = in[p]
		}
		return []valueMeta{{DType: inputs[0].DType, Shape: out}}, nil

	case "reduce":
		if err := need(1); err != nil {
			return nil, err
		}
		outType, err := tensor.SumResultType(inputs[0].DType)
		if err != nil {
			return nil, err
		}
		if cfg.ReduceAll {
			return []valueMeta{{DType: outType, Shape: []int{}}}, nil
		}
		in := inputs[0].Shape
		dim := cfg.Dim
		if dim < 0 {
			dim += len(in)
		}
		if dim < 0 || dim >= len(in) {
			return nil, fmt.Errorf("reduce dimension %d out of range for shape %v", cfg.Dim, in)
		}
		out := []int{}
		for i, d := range in {
			if i == dim {
				if cfg.KeepDim {
					out = append(out, 1)
				}
				continue
			}
			out = append(out, d)
		}
		return []valueMeta{{DType: outType, Shape: out}}, nil

	case "cast":
		if err := need(1); err != nil {
			return nil, err
		}
		if cfg.To == tensor.String {
			return nil, fmt.Errorf("cannot cast to string")
		}
		return []valueMeta{{DType: cfg.To, Shape: inputs[0].Shape}}, nil

	default:
		return nil, fmt.Errorf("unknown layer op %q", cfg.Op)
	}
}

func inferMatMul(cfg backend.LayerConfig, a, b valueMeta) ([]valueMeta, error) {
	if a.DType != b.DType {
		return nil, fmt.Errorf("matmul dtype mismatch: %s vs %s", a.DType, b.DType)
	}
	aShape := append([]int(nil), a.Shape...)
	bShape := append([]int(nil), b.Shape...)

	if cfg.OpA == tensor.MatrixOpVector {
		if len(aShape) != 1 {
			return nil, fmt.Errorf("vector operand flag on rank-%d left operand", len(aShape))
		}
		aShape = []int{1, aShape[0]}
	} else if len(aShape) < 2 {
		return nil, fmt.Errorf("left matmul operand has rank %d", len(aShape))
	}
	if cfg.OpB == tensor.MatrixOpVector {
		if len(bShape) != 1 {
			return nil, fmt.Errorf("vector operand flag on rank-%d right operand", len(bShape))
		}
		bShape = []int{bShape[0], 1}
	} else if len(bShape) < 2 {
		return nil, fmt.Errorf("right matmul operand has rank %d", len(bShape))
	}

	m, ka := aShape[len(aShape)-2], aShape[len(aShape)-1]
	kb, nn := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if ka != kb {
		return nil, fmt.Errorf("matmul inner dimensions do not match: %v · %v", a.Shape, b.Shape)
	}
	batch, err := tensor.BroadcastShapes(tensor.Shape(aShape[:len(aShape)-2]), tensor.Shape(bShape[:len(bShape)-2]))
	if err != nil {
		return nil, fmt.Errorf("matmul batch dimensions: %w", err)
	}

	out := append([]int(nil), batch...)
	if cfg.OpA != tensor.MatrixOpVector {
		out = append(out, m)
	}
	if cfg.OpB != tensor.MatrixOpVector {
		out = append(out, nn)
	}
	return []valueMeta{{DType: a.DType, Shape: out}}, nil
}
