// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package input provides the public API for describing compilation
// inputs, statically or with dynamic shape ranges, as single specs or
// nested containers of them.
package input

import (
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

// Spec describes one engine input.
type Spec = input.Spec

// Value is a nested container of input specs.
type Value = input.Value

// Container forms.
type (
	Leaf     = input.Leaf
	Sequence = input.Sequence
	Mapping  = input.Mapping
)

// ShapeMode selects which shape of a dynamic spec to materialize.
type ShapeMode = input.ShapeMode

// Shape modes.
const (
	ModeMin ShapeMode = input.ModeMin
	ModeOpt ShapeMode = input.ModeOpt
	ModeMax ShapeMode = input.ModeMax
)

// Static describes a fixed-shape input.
func Static(shape tensor.Shape, dtype tensor.DataType) *Spec {
	return input.Static(shape, dtype)
}

// Dynamic describes an input whose shape may vary between min and max
// at run time, with opt as the shape the builder optimizes for.
func Dynamic(minShape, optShape, maxShape tensor.Shape, dtype tensor.DataType) (*Spec, error) {
	return input.Dynamic(minShape, optShape, maxShape, dtype)
}

// FromTensor derives a static spec from a concrete tensor.
func FromTensor(t *tensor.RawTensor, disableMemoryFormatCheck bool) (*Spec, error) {
	return input.FromTensor(t, disableMemoryFormatCheck)
}

// Normalize converts specs, tensors and nested containers of either
// into a Value tree.
func Normalize(v any, disableMemoryFormatCheck bool) (Value, error) {
	return input.Normalize(v, disableMemoryFormatCheck)
}

// Flatten lists the specs of a Value tree in traversal order.
func Flatten(v Value) []*Spec {
	return input.Flatten(v)
}

// Materialize builds concrete example tensors mirroring the container
// structure of v.
func Materialize(v Value, mode ShapeMode, device tensor.Device) (any, error) {
	return input.Materialize(v, mode, device)
}
