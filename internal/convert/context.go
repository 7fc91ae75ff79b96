package convert

import (
	"fmt"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
)

// Context is the mutable per-compilation state owned by the
// interpreter: the network under construction, the mapping from graph
// value names to backend tensor handles, and the provenance of weight
// slots. It is not shared across compilations.
type Context struct {
	Network backend.Network

	graph  *graph.Graph
	values map[string]backend.TensorHandle

	// weightNameMap records graph parameter name → backend weight slot
	// name for every constant created during interpretation. The
	// refitter matches slots through it.
	weightNameMap map[string]string

	layerCount int
}

func newContext(g *graph.Graph, net backend.Network) *Context {
	return &Context{
		Network:       net,
		graph:         g,
		values:        make(map[string]backend.TensorHandle),
		weightNameMap: make(map[string]string),
	}
}

// Resolve returns the backend handle for a graph value, creating
// constant handles for parameters lazily on first use and recording
// their provenance.
func (c *Context) Resolve(name string) (backend.TensorHandle, error) {
	if h, ok := c.values[name]; ok {
		return h, nil
	}
	if t, ok := c.graph.Parameters[name]; ok {
		h, err := c.Network.AddConstant(name, t)
		if err != nil {
			return nil, fmt.Errorf("constant %q: %w", name, err)
		}
		c.values[name] = h
		c.weightNameMap[name] = name
		return h, nil
	}
	return nil, Malformedf("unresolvable reference %q", name)
}

// EmitLayer adds a layer, tags it with a name derived from the
// originating node and its operator, and returns it. Layer inference
// failures surface as shape/type-mismatch errors carrying the node
// identity.
func (c *Context) EmitLayer(node *graph.Node, cfg backend.LayerConfig, inputs []backend.TensorHandle) (backend.Layer, error) {
	l, err := c.Network.AddLayer(cfg, inputs)
	if err != nil {
		return nil, ShapeMismatchf(node.Name, node.OpType, "%v", err)
	}
	l.SetName(fmt.Sprintf("%s [%s] #%d", node.Name, node.OpType, c.layerCount))
	c.layerCount++
	return l, nil
}
