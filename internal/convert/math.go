package convert

import (
	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/tensor"
)

func (r *Registry) registerMathOps() {
	for _, kind := range []string{"add", "sub", "mul", "div"} {
		r.Register(kind, elementwiseConverter(kind))
	}
	r.Register("matmul", convertMatMul)
}

func elementwiseConverter(kind string) Converter {
	return func(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
		if len(inputs) != 2 {
			return nil, Unsupportedf(node.Name, node.OpType, "expects 2 inputs, got %d", len(inputs))
		}
		l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: "elementwise", Kind: kind}, inputs)
		if err != nil {
			return nil, err
		}
		return []backend.TensorHandle{l.Output(0)}, nil
	}
}

// convertMatMul applies the linear-algebra broadcast rule: a rank-1
// operand is flagged as a vector so its missing dimension is absorbed
// instead of broadcast.
func convertMatMul(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
	if len(inputs) != 2 {
		return nil, Unsupportedf(node.Name, node.OpType, "expects 2 inputs, got %d", len(inputs))
	}
	opA, opB := tensor.MatrixOpNone, tensor.MatrixOpNone
	if len(inputs[0].Shape()) == 1 {
		opA = tensor.MatrixOpVector
	}
	if len(inputs[1].Shape()) == 1 {
		opB = tensor.MatrixOpVector
	}
	l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: "matmul", OpA: opA, OpB: opB}, inputs)
	if err != nil {
		return nil, err
	}
	return []backend.TensorHandle{l.Output(0)}, nil
}
