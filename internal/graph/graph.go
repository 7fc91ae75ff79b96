// Package graph defines the traced computation graph consumed by the
// compiler, and a reference evaluator for it.
package graph

import (
	"fmt"

	"github.com/born-ml/forge/internal/tensor"
)

// Attribute is a named operation attribute.
type Attribute struct {
	Name   string
	I      int64
	F      float32
	S      string
	Ints   []int64
	Floats []float32
}

// Node is one typed operation in the graph. Inputs reference graph
// inputs, parameters, or outputs of earlier nodes by name.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Graph is an ordered sequence of nodes together with its declared
// inputs, outputs and named parameters (weights). The producer must
// supply nodes in definition order.
type Graph struct {
	Name       string
	Inputs     []string
	Outputs    []string
	Nodes      []Node
	Parameters map[string]*tensor.RawTensor
}

// GetAttrInt returns an integer attribute or the default value.
func (n *Node) GetAttrInt(name string, defaultVal int64) int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].I
		}
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func (n *Node) GetAttrInts(name string) []int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].Ints
		}
	}
	return nil
}

// GetAttrFloat returns a float attribute or the default value.
func (n *Node) GetAttrFloat(name string, defaultVal float32) float32 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].F
		}
	}
	return defaultVal
}

// GetAttrString returns a string attribute or the default value.
func (n *Node) GetAttrString(name, defaultVal string) string {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].S
		}
	}
	return defaultVal
}

// Validate checks the structural invariants: every node input resolves
// to a graph input, a parameter, or an output of an earlier node, and
// every declared graph output is produced. Definition order makes
// cycles impossible once this holds.
func (g *Graph) Validate() error {
	defined := make(map[string]bool, len(g.Inputs)+len(g.Parameters))
	for _, name := range g.Inputs {
		if defined[name] {
			return fmt.Errorf("duplicate graph input %q", name)
		}
		defined[name] = true
	}
	for name := range g.Parameters {
		if defined[name] {
			return fmt.Errorf("parameter %q shadows a graph input", name)
		}
		defined[name] = true
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.OpType == "" {
			return fmt.Errorf("node %q has no operator", node.Name)
		}
		for _, in := range node.Inputs {
			if !defined[in] {
				return fmt.Errorf("node %q (%s): dangling reference %q", node.Name, node.OpType, in)
			}
		}
		for _, out := range node.Outputs {
			if defined[out] {
				return fmt.Errorf("node %q (%s): value %q defined twice", node.Name, node.OpType, out)
			}
			defined[out] = true
		}
	}

	for _, out := range g.Outputs {
		if !defined[out] {
			return fmt.Errorf("declared output %q is never produced", out)
		}
	}
	return nil
}
