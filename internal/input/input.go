// Package input canonicalizes the heterogeneous input descriptors a
// graph producer hands the compiler: concrete tensors, dynamic shape
// ranges, and nested containers of either.
package input

import (
	"fmt"

	"github.com/born-ml/forge/internal/tensor"
)

// ShapeMode selects which concrete shape to draw from a dynamic range.
type ShapeMode int

// Shape modes.
const (
	ModeMin ShapeMode = iota
	ModeOpt
	ModeMax
)

// String returns the mode name.
func (m ShapeMode) String() string {
	switch m {
	case ModeMin:
		return "min"
	case ModeOpt:
		return "opt"
	case ModeMax:
		return "max"
	default:
		return "unknown"
	}
}

// Spec describes one graph input: either a concrete tensor (fixed
// shape) or a dynamic shape range with min ≤ opt ≤ max per dimension.
type Spec struct {
	Shape    tensor.Shape // static shape, nil when dynamic
	MinShape tensor.Shape
	OptShape tensor.Shape
	MaxShape tensor.Shape
	DType    tensor.DataType

	// Tensor holds the concrete example tensor when the spec was
	// derived from one.
	Tensor *tensor.RawTensor
}

// Static creates a fixed-shape spec.
func Static(shape tensor.Shape, dtype tensor.DataType) *Spec {
	return &Spec{Shape: shape.Clone(), DType: dtype}
}

// Dynamic creates a dynamic-shape spec. The three shapes must have the
// same rank and satisfy min ≤ opt ≤ max in every dimension.
func Dynamic(minShape, optShape, maxShape tensor.Shape, dtype tensor.DataType) (*Spec, error) {
	if len(minShape) != len(optShape) || len(optShape) != len(maxShape) {
		return nil, fmt.Errorf("dynamic shape ranks differ: min %v, opt %v, max %v", minShape, optShape, maxShape)
	}
	for i := range minShape {
		if minShape[i] > optShape[i] || optShape[i] > maxShape[i] {
			return nil, fmt.Errorf("dimension %d violates min <= opt <= max: %d, %d, %d",
				i, minShape[i], optShape[i], maxShape[i])
		}
	}
	return &Spec{
		MinShape: minShape.Clone(),
		OptShape: optShape.Clone(),
		MaxShape: maxShape.Clone(),
		DType:    dtype,
	}, nil
}

// FromTensor wraps a concrete tensor into a static spec. Unless
// disabled, the tensor's memory layout is checked for row-major
// contiguity.
func FromTensor(t *tensor.RawTensor, disableMemoryFormatCheck bool) (*Spec, error) {
	if !disableMemoryFormatCheck {
		expected := t.Shape().ComputeStrides()
		actual := t.Strides()
		for i := range expected {
			if actual[i] != expected[i] {
				return nil, fmt.Errorf("tensor is not contiguous row-major (strides %v, expected %v)", actual, expected)
			}
		}
	}
	s := Static(t.Shape(), t.DType())
	s.Tensor = t
	return s, nil
}

// IsDynamic reports whether the spec carries a shape range.
func (s *Spec) IsDynamic() bool { return s.Shape == nil }

// ShapeFor returns the concrete shape for a mode. Static specs return
// their fixed shape for every mode.
func (s *Spec) ShapeFor(mode ShapeMode) tensor.Shape {
	if !s.IsDynamic() {
		return s.Shape
	}
	switch mode {
	case ModeMin:
		return s.MinShape
	case ModeMax:
		return s.MaxShape
	default:
		return s.OptShape
	}
}

// ExampleTensor materializes a concrete tensor for the mode on the
// given device. Concrete specs reuse their tensor; dynamic specs get a
// one-filled tensor of the mode shape.
func (s *Spec) ExampleTensor(mode ShapeMode, device tensor.Device) (*tensor.RawTensor, error) {
	if s.Tensor != nil {
		return s.Tensor.ToDevice(device), nil
	}
	return tensor.Ones(s.ShapeFor(mode), s.DType, device)
}
