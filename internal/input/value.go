package input

import (
	"fmt"
	"sort"

	"github.com/born-ml/forge/internal/tensor"
)

// Value is a closed sum over the container shapes inputs arrive in:
// a leaf spec, a sequence, or a string-keyed mapping.
type Value interface{ isValue() }

// Leaf holds a single input spec.
type Leaf struct{ Spec *Spec }

// Sequence is an ordered container of values.
type Sequence []Value

// Mapping is a string-keyed container of values.
type Mapping map[string]Value

func (Leaf) isValue()     {}
func (Sequence) isValue() {}
func (Mapping) isValue()  {}

// Normalize recursively wraps an arbitrary mixture of specs, bare
// tensors and nested containers into the Value form, preserving
// container structure. Unsupported leaf types are a type error.
func Normalize(v any, disableMemoryFormatCheck bool) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case *Spec:
		return Leaf{Spec: x}, nil
	case *tensor.RawTensor:
		spec, err := FromTensor(x, disableMemoryFormatCheck)
		if err != nil {
			return nil, err
		}
		return Leaf{Spec: spec}, nil
	case []any:
		seq := make(Sequence, len(x))
		for i, elem := range x {
			nv, err := Normalize(elem, disableMemoryFormatCheck)
			if err != nil {
				return nil, err
			}
			seq[i] = nv
		}
		return seq, nil
	case map[string]any:
		m := make(Mapping, len(x))
		for k, elem := range x {
			nv, err := Normalize(elem, disableMemoryFormatCheck)
			if err != nil {
				return nil, err
			}
			m[k] = nv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("invalid input type %T; allowed: *input.Spec, *tensor.RawTensor, []any, map[string]any", v)
	}
}

// Materialize returns a structurally identical container in which
// every leaf is a concrete tensor for the chosen shape mode, moved to
// the target device. Sequences become []any, mappings map[string]any,
// leaves *tensor.RawTensor.
func Materialize(v Value, mode ShapeMode, device tensor.Device) (any, error) {
	switch x := v.(type) {
	case Leaf:
		return x.Spec.ExampleTensor(mode, device)
	case Sequence:
		out := make([]any, len(x))
		for i, elem := range x {
			m, err := Materialize(elem, mode, device)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case Mapping:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			m, err := Materialize(elem, mode, device)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid value node %T", v)
	}
}

// Flatten returns the specs of all leaves in deterministic order:
// sequence order for sequences, sorted keys for mappings. This is the
// order in which nested inputs bind to declared graph inputs.
func Flatten(v Value) []*Spec {
	var out []*Spec
	switch x := v.(type) {
	case Leaf:
		out = append(out, x.Spec)
	case Sequence:
		for _, elem := range x {
			out = append(out, Flatten(elem)...)
		}
	case Mapping:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, Flatten(x[k])...)
		}
	}
	return out
}
