// Package refit patches new weight values into an already built engine
// and verifies the result numerically before it is trusted. A refit
// that cannot be applied or does not verify is never an error; it is a
// fallback signal telling the caller to rebuild from scratch.
package refit

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/tensor"
)

// Verification tolerances. Engine outputs must match the reference
// evaluation of the refitted graph within these bounds.
const (
	RTol = 5e-3
	ATol = 5e-3
)

// Outcome classifies a refit attempt.
type Outcome int

const (
	// Applied means the engine now carries the new weights and its
	// outputs verified against the reference evaluation.
	Applied Outcome = iota

	// FallbackRequired means the engine must be rebuilt. Reason says
	// why.
	FallbackRequired
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case FallbackRequired:
		return "fallback required"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result reports what a refit attempt did.
type Result struct {
	Outcome Outcome
	Reason  string
}

func fallback(format string, args ...any) Result {
	reason := fmt.Sprintf(format, args...)
	klog.Warningf("engine refit falling back to rebuild: %s", reason)
	return Result{Outcome: FallbackRequired, Reason: reason}
}

// Refit patches the parameters of g into eng using weightNameMap
// (graph parameter name to engine weight slot name) and verifies the
// refitted engine against a reference evaluation of g on example
// inputs derived from specs. Every output must match within RTol/ATol.
//
// The engine is mutated only when every slot resolves and validates;
// a partial patch never happens.
func Refit(eng backend.Engine, g *graph.Graph, weightNameMap map[string]string, specs []*input.Spec, device tensor.Device) Result {
	if weightNameMap == nil {
		return fallback("engine carries no weight name map")
	}

	slots := make(map[string]backend.WeightSlot, len(eng.WeightSlots()))
	for _, s := range eng.WeightSlots() {
		slots[s.Name] = s
	}

	updates := make(map[string]*tensor.RawTensor, len(slots))
	for param, slotName := range weightNameMap {
		t, ok := g.Parameters[param]
		if !ok {
			return fallback("graph has no parameter %q for weight slot %q", param, slotName)
		}
		slot, ok := slots[slotName]
		if !ok {
			return fallback("engine has no weight slot %q for parameter %q", slotName, param)
		}
		if !slot.Shape.Equal(t.Shape()) {
			return fallback("parameter %q shape %v does not match weight slot shape %v", param, t.Shape(), slot.Shape)
		}
		if slot.DType != t.DType() {
			return fallback("parameter %q dtype %s does not match weight slot dtype %s", param, t.DType(), slot.DType)
		}
		updates[slotName] = t
	}
	for name := range slots {
		if _, ok := updates[name]; !ok {
			return fallback("no graph parameter maps to weight slot %q", name)
		}
	}

	if err := eng.Refit(updates); err != nil {
		return fallback("engine rejected refit: %v", err)
	}

	if err := verify(eng, g, specs, device); err != nil {
		return fallback("refit verification failed: %v", err)
	}

	klog.V(1).Infof("refitted %d weights, outputs verified within rtol=%g atol=%g", len(updates), RTol, ATol)
	return Result{Outcome: Applied}
}

// verify runs the refitted engine and the reference evaluator on the
// same example inputs and compares every output tensor. The engine
// output dtype wins when the two differ (the engine may have been
// built with 64-bit outputs narrowed).
func verify(eng backend.Engine, g *graph.Graph, specs []*input.Spec, device tensor.Device) error {
	if len(specs) != len(g.Inputs) {
		return fmt.Errorf("graph declares %d inputs but %d specs were provided", len(g.Inputs), len(specs))
	}

	feeds := make(map[string]*tensor.RawTensor, len(specs))
	inputs := make([]*tensor.RawTensor, len(specs))
	for i, spec := range specs {
		t, err := spec.ExampleTensor(input.ModeOpt, device)
		if err != nil {
			return fmt.Errorf("input %q: %w", g.Inputs[i], err)
		}
		feeds[g.Inputs[i]] = t
		inputs[i] = t
	}

	got, err := eng.Run(inputs)
	if err != nil {
		return fmt.Errorf("engine run failed: %w", err)
	}
	want, err := graph.Execute(g, feeds)
	if err != nil {
		return fmt.Errorf("reference run failed: %w", err)
	}
	if len(got) != len(want) {
		return fmt.Errorf("engine produced %d outputs, reference produced %d", len(got), len(want))
	}

	for i := range got {
		ref := want[i]
		if ref.DType() != got[i].DType() {
			ref, err = tensor.Cast(ref, got[i].DType())
			if err != nil {
				return fmt.Errorf("output %d: %w", i, err)
			}
		}
		if !tensor.AllClose(got[i], ref, RTol, ATol) {
			return fmt.Errorf("output %d diverges from reference beyond rtol=%g atol=%g", i, RTol, ATol)
		}
	}
	return nil
}
