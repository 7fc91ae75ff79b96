package convert

import (
	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("reshape", convertReshape)
	r.Register("transpose", convertTranspose)
	r.Register("sum", convertSum)
	r.Register("cast", convertCast)
}

func convertReshape(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
	ints := node.GetAttrInts("shape")
	if ints == nil {
		return nil, Unsupportedf(node.Name, node.OpType, "missing shape attribute")
	}
	shape := make([]int, len(ints))
	for i, d := range ints {
		shape[i] = int(d)
	}
	l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: "shuffle", Shape: shape}, inputs)
	if err != nil {
		return nil, err
	}
	return []backend.TensorHandle{l.Output(0)}, nil
}

func convertTranspose(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
	ints := node.GetAttrInts("perm")
	rank := len(inputs[0].Shape())
	perm := make([]int, 0, rank)
	if ints == nil {
		// No permutation reverses the dimension order.
		for i := rank - 1; i >= 0; i-- {
			perm = append(perm, i)
		}
	} else {
		for _, d := range ints {
			perm = append(perm, int(d))
		}
	}
	l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: "shuffle", Perm: perm}, inputs)
	if err != nil {
		return nil, err
	}
	return []backend.TensorHandle{l.Output(0)}, nil
}

func convertSum(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
	cfg := backend.LayerConfig{Op: "reduce"}
	if dim := node.GetAttrInt("dim", -1<<31); dim != -1<<31 {
		cfg.Dim = int(dim)
		cfg.KeepDim = node.GetAttrInt("keepdim", 0) != 0
	} else {
		cfg.ReduceAll = true
	}
	l, err := ctx.EmitLayer(node, cfg, inputs)
	if err != nil {
		return nil, err
	}
	return []backend.TensorHandle{l.Output(0)}, nil
}

func convertCast(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
	name := node.GetAttrString("to", "")
	dt, ok := tensor.ParseDataType(name)
	if !ok || dt == tensor.String {
		return nil, Unsupportedf(node.Name, node.OpType, "invalid cast target %q", name)
	}
	l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: "cast", To: dt}, inputs)
	if err != nil {
		return nil, err
	}
	return []backend.TensorHandle{l.Output(0)}, nil
}
