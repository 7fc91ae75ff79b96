// Package runtime wraps compiled engines (and the eager fallback) in
// a uniform executable Module.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/backend/cpu"
	"github.com/born-ml/forge/internal/engine"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/tensor"
)

// Module executes a compiled (or fallback) computation. Inputs and
// outputs are positional, in binding order.
type Module interface {
	Execute(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)
	InputNames() []string
	OutputNames() []string
}

// EngineModule runs a deserialized engine through the backend runtime.
// The engine is deserialized once, at construction.
type EngineModule struct {
	result *engine.CompiledEngine
	eng    backend.Engine
	debug  bool
}

// NewEngineModule deserializes the packaged engine with rt.
func NewEngineModule(result *engine.CompiledEngine, rt backend.Runtime, debug bool) (*EngineModule, error) {
	eng, err := rt.Deserialize(result.SerializedEngine)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize engine %s: %w", result.ID, err)
	}
	return &EngineModule{result: result, eng: eng, debug: debug}, nil
}

// WrapEngine adopts an already deserialized engine, typically one that
// was just refitted in memory.
func WrapEngine(result *engine.CompiledEngine, eng backend.Engine, debug bool) *EngineModule {
	return &EngineModule{result: result, eng: eng, debug: debug}
}

func (m *EngineModule) Execute(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != len(m.result.InputBindingNames) {
		return nil, fmt.Errorf("engine %s expects %d inputs, got %d", m.result.ID, len(m.result.InputBindingNames), len(inputs))
	}
	start := time.Now()
	outputs, err := m.eng.Run(inputs)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", m.result.ID, err)
	}
	if m.debug {
		klog.Infof("engine %s ran in %s", m.result.ID, time.Since(start))
	}
	return outputs, nil
}

func (m *EngineModule) InputNames() []string  { return m.result.InputBindingNames }
func (m *EngineModule) OutputNames() []string { return m.result.OutputBindingNames }

// Result exposes the packaged engine this module runs.
func (m *EngineModule) Result() *engine.CompiledEngine { return m.result }

// InterpretedModule runs the serialized engine on the in-process
// reference runtime regardless of which backend built it. Useful for
// debugging a backend against the reference kernels. Deserialization
// is deferred to the first Execute.
type InterpretedModule struct {
	result *engine.CompiledEngine

	mu  sync.Mutex
	eng backend.Engine
}

// NewInterpretedModule wraps the packaged engine without deserializing
// it yet.
func NewInterpretedModule(result *engine.CompiledEngine) *InterpretedModule {
	return &InterpretedModule{result: result}
}

// WrapInterpretedEngine adopts an engine already deserialized on the
// reference runtime, typically one that was just refitted in memory.
// The serialized blob in result is never touched.
func WrapInterpretedEngine(result *engine.CompiledEngine, eng backend.Engine) *InterpretedModule {
	return &InterpretedModule{result: result, eng: eng}
}

func (m *InterpretedModule) engine() (backend.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eng == nil {
		eng, err := cpu.NewRuntime().Deserialize(m.result.SerializedEngine)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize engine %s: %w", m.result.ID, err)
		}
		m.eng = eng
	}
	return m.eng, nil
}

func (m *InterpretedModule) Execute(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	eng, err := m.engine()
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(m.result.InputBindingNames) {
		return nil, fmt.Errorf("engine %s expects %d inputs, got %d", m.result.ID, len(m.result.InputBindingNames), len(inputs))
	}
	klog.V(2).Infof("interpreting engine %s", m.result.ID)
	return eng.Run(inputs)
}

func (m *InterpretedModule) InputNames() []string  { return m.result.InputBindingNames }
func (m *InterpretedModule) OutputNames() []string { return m.result.OutputBindingNames }

// GraphModule evaluates the graph eagerly with the reference
// evaluator. It is the fallback when a graph is too small to compile
// or a build failure is passed through.
type GraphModule struct {
	g *graph.Graph
}

// NewGraphModule wraps g for eager evaluation.
func NewGraphModule(g *graph.Graph) *GraphModule { return &GraphModule{g: g} }

func (m *GraphModule) Execute(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != len(m.g.Inputs) {
		return nil, fmt.Errorf("graph %q expects %d inputs, got %d", m.g.Name, len(m.g.Inputs), len(inputs))
	}
	feeds := make(map[string]*tensor.RawTensor, len(inputs))
	for i, name := range m.g.Inputs {
		feeds[name] = inputs[i]
	}
	return graph.Execute(m.g, feeds)
}

func (m *GraphModule) InputNames() []string  { return m.g.Inputs }
func (m *GraphModule) OutputNames() []string { return m.g.Outputs }
