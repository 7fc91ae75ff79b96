package graph

import (
	"fmt"

	"github.com/born-ml/forge/internal/tensor"
)

// UnsupportedOpError reports an operator the eager evaluator has no
// kernel for, keeping the node identity for callers that classify
// failures.
type UnsupportedOpError struct {
	Node string
	Op   string
}

// Error implements the error interface.
func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("unsupported operator: %s", e.Op)
}

// Execute runs the graph eagerly on the reference kernels and returns
// the declared outputs in order. It is the correctness oracle the
// compiled engine is checked against, and the snapshot run used by the
// output type resolver.
func Execute(g *Graph, feeds map[string]*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	values := make(map[string]*tensor.RawTensor, len(g.Parameters)+len(feeds))
	for name, t := range g.Parameters {
		values[name] = t
	}
	for _, name := range g.Inputs {
		t, ok := feeds[name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
		values[name] = t
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		inputs := make([]*tensor.RawTensor, len(node.Inputs))
		for j, name := range node.Inputs {
			t, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			inputs[j] = t
		}

		outputs, err := evalNode(node, inputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, name := range node.Outputs {
			if j < len(outputs) {
				values[name] = outputs[j]
			}
		}
	}

	result := make([]*tensor.RawTensor, len(g.Outputs))
	for i, name := range g.Outputs {
		t, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		result[i] = t
	}
	return result, nil
}

func evalNode(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	one := func(t *tensor.RawTensor, err error) ([]*tensor.RawTensor, error) {
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{t}, nil
	}

	switch node.OpType {
	case "add":
		return one(tensor.Add(inputs[0], inputs[1]))
	case "sub":
		return one(tensor.Sub(inputs[0], inputs[1]))
	case "mul":
		return one(tensor.Mul(inputs[0], inputs[1]))
	case "div":
		return one(tensor.Div(inputs[0], inputs[1]))
	case "matmul":
		opA, opB := tensor.MatrixOpNone, tensor.MatrixOpNone
		if len(inputs[0].Shape()) == 1 {
			opA = tensor.MatrixOpVector
		}
		if len(inputs[1].Shape()) == 1 {
			opB = tensor.MatrixOpVector
		}
		return one(tensor.MatMul(inputs[0], inputs[1], opA, opB))
	case "relu":
		return one(tensor.Relu(inputs[0]))
	case "sigmoid":
		return one(tensor.Sigmoid(inputs[0]))
	case "tanh":
		return one(tensor.Tanh(inputs[0]))
	case "exp":
		return one(tensor.Exp(inputs[0]))
	case "sqrt":
		return one(tensor.Sqrt(inputs[0]))
	case "neg":
		return one(tensor.Neg(inputs[0]))
	case "reshape":
		ints := node.GetAttrInts("shape")
		if ints == nil {
			return nil, fmt.Errorf("reshape requires a shape attribute")
		}
		shape := make(tensor.Shape, len(ints))
		for i, d := range ints {
			shape[i] = int(d)
		}
		return one(tensor.Reshape(inputs[0], shape))
	case "transpose":
		ints := node.GetAttrInts("perm")
		perm := make([]int, len(ints))
		for i, d := range ints {
			perm[i] = int(d)
		}
		return one(tensor.Transpose(inputs[0], perm...))
	case "sum":
		if dim := node.GetAttrInt("dim", -1<<31); dim != -1<<31 {
			keep := node.GetAttrInt("keepdim", 0) != 0
			return one(tensor.SumDim(inputs[0], int(dim), keep))
		}
		return one(tensor.Sum(inputs[0]))
	case "cast":
		name := node.GetAttrString("to", "")
		dt, ok := tensor.ParseDataType(name)
		if !ok {
			return nil, fmt.Errorf("cast: unknown target type %q", name)
		}
		return one(tensor.Cast(inputs[0], dt))
	default:
		return nil, &UnsupportedOpError{Node: node.Name, Op: node.OpType}
	}
}
