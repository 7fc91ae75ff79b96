package convert

import (
	"errors"

	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

// InferOutputTypes resolves the concrete element type of every graph
// output by running the graph once on example inputs materialized for
// the optimal shape mode. 64-bit-wide results can surface from inside
// operators (an integer sum promotes to int64); when truncate is set
// such outputs are narrowed to their 32-bit counterparts for backends
// without 64-bit arithmetic. Narrowing is lossy and only ever applied
// on explicit request.
//
// Non-tensor outputs do not occur here: scalars are rank-0 tensors in
// this graph model. String-typed outputs are rejected.
func InferOutputTypes(g *graph.Graph, specs []*input.Spec, device tensor.Device, truncate bool) ([]tensor.DataType, error) {
	if len(specs) != len(g.Inputs) {
		return nil, Malformedf("graph declares %d inputs but %d specs were provided", len(g.Inputs), len(specs))
	}

	feeds := make(map[string]*tensor.RawTensor, len(specs))
	for i, spec := range specs {
		t, err := spec.ExampleTensor(input.ModeOpt, device)
		if err != nil {
			return nil, Malformedf("input %q: %v", g.Inputs[i], err)
		}
		feeds[g.Inputs[i]] = t
	}

	outputs, err := graph.Execute(g, feeds)
	if err != nil {
		var unsup *graph.UnsupportedOpError
		if errors.As(err, &unsup) {
			return nil, Unsupportedf(unsup.Node, unsup.Op, "no evaluator for operator")
		}
		return nil, Malformedf("example run failed: %v", err)
	}

	dtypes := make([]tensor.DataType, len(outputs))
	for i, out := range outputs {
		dt := out.DType()
		if dt == tensor.String {
			return nil, Malformedf("output %q has unsupported type %s", g.Outputs[i], dt)
		}
		if truncate {
			if narrow, ok := dt.Narrow(); ok {
				dt = narrow
			}
		}
		dtypes[i] = dt
	}
	return dtypes, nil
}
