package convert

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

// Result is what interpretation leaves behind besides the populated
// network: binding names in declared order and the weight provenance
// map.
type Result struct {
	InputNames    []string
	OutputNames   []string
	WeightNameMap map[string]string
}

// Interpret walks the graph in definition order and populates the
// network through the registry's converters. outputDTypes, when
// non-nil, declares the engine output types in declared-output order;
// a cast layer is inserted wherever a converter's output type differs.
func Interpret(g *graph.Graph, specs []*input.Spec, net backend.Network, reg *Registry, outputDTypes []tensor.DataType) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, Malformedf("%v", err)
	}
	if len(specs) != len(g.Inputs) {
		return nil, Malformedf("graph declares %d inputs but %d specs were provided", len(g.Inputs), len(specs))
	}
	if outputDTypes != nil && len(outputDTypes) != len(g.Outputs) {
		return nil, Malformedf("graph declares %d outputs but %d output types were resolved", len(g.Outputs), len(outputDTypes))
	}

	ctx := newContext(g, net)
	result := &Result{WeightNameMap: ctx.weightNameMap}

	// Declared graph inputs become engine inputs in declared order.
	for i, name := range g.Inputs {
		spec := specs[i]
		var minShape, maxShape tensor.Shape
		if spec.IsDynamic() {
			minShape, maxShape = spec.MinShape, spec.MaxShape
		}
		h, err := net.AddInput(name, spec.DType, spec.ShapeFor(input.ModeOpt), minShape, maxShape)
		if err != nil {
			return nil, Malformedf("input %q: %v", name, err)
		}
		ctx.values[name] = h
		result.InputNames = append(result.InputNames, name)
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]

		inputs := make([]backend.TensorHandle, len(node.Inputs))
		for j, ref := range node.Inputs {
			h, err := ctx.Resolve(ref)
			if err != nil {
				return nil, attach(err, node)
			}
			inputs[j] = h
		}

		converter, ok := reg.Get(node.OpType)
		if !ok {
			return nil, Unsupportedf(node.Name, node.OpType, "no converter registered")
		}

		klog.V(2).Infof("converting node %q (%s)", node.Name, node.OpType)
		outputs, err := converter(ctx, node, inputs)
		if err != nil {
			return nil, attach(err, node)
		}
		if len(outputs) < len(node.Outputs) {
			return nil, Unsupportedf(node.Name, node.OpType,
				"converter produced %d outputs, node declares %d", len(outputs), len(node.Outputs))
		}
		for j, name := range node.Outputs {
			ctx.values[name] = outputs[j]
		}
	}

	// Declared graph outputs become engine outputs in declared order,
	// cast to the resolved output type where necessary.
	for i, name := range g.Outputs {
		h, ok := ctx.values[name]
		if !ok {
			return nil, Malformedf("declared output %q was not produced", name)
		}
		if outputDTypes != nil && outputDTypes[i] != h.DType() {
			castNode := &graph.Node{Name: name + "_output_cast", OpType: "cast"}
			l, err := ctx.EmitLayer(castNode, backend.LayerConfig{Op: "cast", To: outputDTypes[i]}, []backend.TensorHandle{h})
			if err != nil {
				return nil, err
			}
			h = l.Output(0)
		}
		if err := net.MarkOutput(h, name); err != nil {
			return nil, Malformedf("output %q: %v", name, err)
		}
		result.OutputNames = append(result.OutputNames, name)
	}

	return result, nil
}

// attach fills in node identity on classified errors and wraps
// anything else with it.
func attach(err error, node *graph.Node) error {
	if ce, ok := err.(*Error); ok {
		if ce.Node == "" {
			ce.Node = node.Name
			ce.Op = node.OpType
		}
		return ce
	}
	return fmt.Errorf("node %q (%s): %w", node.Name, node.OpType, err)
}
