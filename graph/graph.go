// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides the public API for the computation graphs
// Forge compiles.
package graph

import (
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/tensor"
)

// Graph is a computation graph: named inputs and outputs, parameters,
// and nodes in topological order.
type Graph = graph.Graph

// Node is one operator application.
type Node = graph.Node

// Attribute is a named operator attribute.
type Attribute = graph.Attribute

// Execute evaluates g eagerly on the given feeds and returns the
// outputs in declared order. This is the reference evaluator compiled
// engines are verified against.
func Execute(g *Graph, feeds map[string]*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return graph.Execute(g, feeds)
}
