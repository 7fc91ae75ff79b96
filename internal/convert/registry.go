// Package convert translates a computation graph into backend builder
// calls: the converter registry, the conversion context and the graph
// interpreter live here.
package convert

import (
	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
)

// Converter emits backend layers for one operator and returns the
// output tensor handles.
type Converter func(ctx *Context, node *graph.Node, inputs []backend.TensorHandle) ([]backend.TensorHandle, error)

// Registry maps operator identifiers to converters.
type Registry struct {
	converters map[string]Converter
}

// NewRegistry creates a registry with all built-in converters.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()
	return r
}

// Register adds a custom converter.
func (r *Registry) Register(opType string, c Converter) {
	r.converters[opType] = c
}

// Get returns the converter for an operator type.
func (r *Registry) Get(opType string) (Converter, bool) {
	c, ok := r.converters[opType]
	return c, ok
}

// SupportedOps returns all registered operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.converters))
	for op := range r.converters {
		ops = append(ops, op)
	}
	return ops
}
