// Package engine defines the Compiled Engine Result: the serialized
// engine plus the metadata needed to execute or refit it.
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CompiledEngine packages one successful build. It is immutable once
// produced.
type CompiledEngine struct {
	// ID uniquely identifies this build.
	ID string `json:"id"`

	// SerializedEngine is the backend's engine blob.
	SerializedEngine []byte `json:"-"`

	// Binding names in declared order.
	InputBindingNames  []string `json:"input_binding_names"`
	OutputBindingNames []string `json:"output_binding_names"`

	// WeightNameMap maps graph parameter names to backend weight slot
	// names. Nil when the engine was built non-refittable or the
	// recorded map failed its smoke test.
	WeightNameMap map[string]string `json:"weight_name_map,omitempty"`

	// SettingsDigest is the codegen-affecting settings digest the
	// engine was built under.
	SettingsDigest string `json:"settings_digest"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates a CompiledEngine with a fresh ID.
func New(serialized []byte, inputNames, outputNames []string, weightMap map[string]string, settingsDigest string) *CompiledEngine {
	return &CompiledEngine{
		ID:                 uuid.NewString(),
		SerializedEngine:   serialized,
		InputBindingNames:  inputNames,
		OutputBindingNames: outputNames,
		WeightNameMap:      weightMap,
		SettingsDigest:     settingsDigest,
		CreatedAt:          time.Now().UTC(),
	}
}

// Size returns the engine blob size in bytes, the unit cache budgets
// are accounted in.
func (e *CompiledEngine) Size() int64 { return int64(len(e.SerializedEngine)) }

// Clone returns a deep copy.
func (e *CompiledEngine) Clone() *CompiledEngine {
	c := *e
	c.SerializedEngine = append([]byte(nil), e.SerializedEngine...)
	c.InputBindingNames = append([]string(nil), e.InputBindingNames...)
	c.OutputBindingNames = append([]string(nil), e.OutputBindingNames...)
	if e.WeightNameMap != nil {
		c.WeightNameMap = make(map[string]string, len(e.WeightNameMap))
		for k, v := range e.WeightNameMap {
			c.WeightNameMap[k] = v
		}
	}
	return &c
}

// MarshalMetadata serializes everything except the engine blob, for
// persisted cache entries.
func (e *CompiledEngine) MarshalMetadata() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine metadata: %w", err)
	}
	return data, nil
}

// UnmarshalMetadata reconstructs a CompiledEngine from persisted
// metadata and the separately stored engine blob.
func UnmarshalMetadata(metadata, serialized []byte) (*CompiledEngine, error) {
	var e CompiledEngine
	if err := json.Unmarshal(metadata, &e); err != nil {
		return nil, fmt.Errorf("failed to parse engine metadata: %w", err)
	}
	e.SerializedEngine = serialized
	return &e, nil
}
