package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
)

// Fingerprint computes the structural cache key for a graph compiled
// under a given input specification and codegen settings digest. Two
// graphs that differ only in parameter values produce the same
// fingerprint, so a cached engine can be refitted with the new values.
// Anything that changes generated code (operator sequence, attributes,
// input shapes and types, parameter shapes, the settings digest) changes
// the fingerprint.
func Fingerprint(g *graph.Graph, specs []*input.Spec, settingsDigest string) string {
	h := sha256.New()

	fmt.Fprintf(h, "inputs %d\n", len(g.Inputs))
	for i, name := range g.Inputs {
		fmt.Fprintf(h, "in %s", name)
		if i < len(specs) {
			writeSpec(h, specs[i])
		}
		io.WriteString(h, "\n")
	}

	params := make([]string, 0, len(g.Parameters))
	for name := range g.Parameters {
		params = append(params, name)
	}
	sort.Strings(params)
	for _, name := range params {
		p := g.Parameters[name]
		// Shapes and types only. Values are refit material, not
		// structure.
		fmt.Fprintf(h, "param %s %s %v\n", name, p.DType(), p.Shape())
	}

	for _, node := range g.Nodes {
		fmt.Fprintf(h, "node %s %v %v", node.OpType, node.Inputs, node.Outputs)
		for _, a := range node.Attributes {
			fmt.Fprintf(h, " %s=%d/%g/%s/%v/%v", a.Name, a.I, a.F, a.S, a.Ints, a.Floats)
		}
		io.WriteString(h, "\n")
	}

	fmt.Fprintf(h, "outputs %v\n", g.Outputs)
	fmt.Fprintf(h, "settings %s\n", settingsDigest)

	return hex.EncodeToString(h.Sum(nil))
}

func writeSpec(w io.Writer, spec *input.Spec) {
	if spec.IsDynamic() {
		fmt.Fprintf(w, " %s dyn %v %v %v", spec.DType, spec.MinShape, spec.OptShape, spec.MaxShape)
		return
	}
	fmt.Fprintf(w, " %s static %v", spec.DType, spec.Shape)
}
