package convert

import (
	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
)

func (r *Registry) registerActivations() {
	for _, kind := range []string{"relu", "sigmoid", "tanh"} {
		r.Register(kind, singleLayerConverter("activation", kind))
	}
	for _, kind := range []string{"exp", "sqrt", "neg"} {
		r.Register(kind, singleLayerConverter("unary", kind))
	}
}

func singleLayerConverter(op, kind string) Converter {
	return func(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error) {
		if len(inputs) != 1 {
			return nil, Unsupportedf(node.Name, node.OpType, "expects 1 input, got %d", len(inputs))
		}
		l, err := ctx.EmitLayer(node, backend.LayerConfig{Op: op, Kind: kind}, inputs)
		if err != nil {
			return nil, err
		}
		return []backend.TensorHandle{l.Output(0)}, nil
	}
}
