package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/forge/internal/tensor"
)

// Settings controls a compilation. Zero value is not useful; start
// from DefaultSettings.
type Settings struct {
	// EnabledPrecisions lists the element types the builder may compute
	// in. Recorded into the engine; builders with mixed-precision
	// kernels select within this set.
	EnabledPrecisions []tensor.DataType

	// Device the engine is built for.
	Device tensor.Device

	// WorkspaceSize is the builder scratch budget in bytes. Zero lets
	// the builder choose.
	WorkspaceSize int64

	// Debug enables verbose build and execution diagnostics. It never
	// affects generated code.
	Debug bool

	// MakeRefittable builds engines whose weights can be patched later
	// without a rebuild.
	MakeRefittable bool

	// TruncateLongAndDouble narrows 64-bit graph boundary types to
	// their 32-bit counterparts. Off by default because narrowing is
	// lossy.
	TruncateLongAndDouble bool

	// PassThroughBuildFailures downgrades backend build failures to an
	// eager-evaluation fallback instead of failing the compilation.
	// Conversion errors stay fatal either way.
	PassThroughBuildFailures bool

	// MinBlockSize is the smallest node count worth compiling. Graphs
	// below it are served by the eager evaluator.
	MinBlockSize int

	// Engine cache policy.
	CacheBuiltEngines  bool
	ReuseCachedEngines bool

	// UseInterpretedRuntime wraps compiled engines in the in-process
	// interpreted runtime instead of the backend runtime.
	UseInterpretedRuntime bool
}

// DefaultSettings returns the recommended configuration.
func DefaultSettings() Settings {
	return Settings{
		EnabledPrecisions:     []tensor.DataType{tensor.Float32},
		Device:                tensor.CPU,
		WorkspaceSize:         0,
		Debug:                 false,
		MakeRefittable:        false,
		TruncateLongAndDouble: false,
		MinBlockSize:          1,
		CacheBuiltEngines:     true,
		ReuseCachedEngines:    true,
	}
}

// yamlSettings is the on-disk form. Devices and dtypes are names, not
// enum values.
type yamlSettings struct {
	EnabledPrecisions        []string `yaml:"enabled_precisions"`
	Device                   string   `yaml:"device"`
	WorkspaceSize            int64    `yaml:"workspace_size"`
	Debug                    bool     `yaml:"debug"`
	MakeRefittable           bool     `yaml:"make_refittable"`
	TruncateLongAndDouble    bool     `yaml:"truncate_long_and_double"`
	PassThroughBuildFailures bool     `yaml:"pass_through_build_failures"`
	MinBlockSize             int      `yaml:"min_block_size"`
	CacheBuiltEngines        bool     `yaml:"cache_built_engines"`
	ReuseCachedEngines       bool     `yaml:"reuse_cached_engines"`
	UseInterpretedRuntime    bool     `yaml:"use_interpreted_runtime"`
}

// LoadSettings reads settings from a YAML file. Fields absent from the
// file keep their default values.
func LoadSettings(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to open settings: %w", err)
	}
	defer f.Close()
	return ReadSettings(f)
}

// ReadSettings parses YAML settings from r.
func ReadSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	y := yamlSettings{
		WorkspaceSize:      s.WorkspaceSize,
		MinBlockSize:       s.MinBlockSize,
		CacheBuiltEngines:  s.CacheBuiltEngines,
		ReuseCachedEngines: s.ReuseCachedEngines,
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&y); err != nil && err != io.EOF {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	if y.Device != "" {
		d, ok := tensor.ParseDevice(y.Device)
		if !ok {
			return Settings{}, fmt.Errorf("unknown device %q", y.Device)
		}
		s.Device = d
	}
	if y.EnabledPrecisions != nil {
		s.EnabledPrecisions = s.EnabledPrecisions[:0]
		for _, name := range y.EnabledPrecisions {
			dt, ok := tensor.ParseDataType(name)
			if !ok {
				return Settings{}, fmt.Errorf("unknown precision %q", name)
			}
			s.EnabledPrecisions = append(s.EnabledPrecisions, dt)
		}
	}
	s.WorkspaceSize = y.WorkspaceSize
	s.Debug = y.Debug
	s.MakeRefittable = y.MakeRefittable
	s.TruncateLongAndDouble = y.TruncateLongAndDouble
	s.PassThroughBuildFailures = y.PassThroughBuildFailures
	s.MinBlockSize = y.MinBlockSize
	s.CacheBuiltEngines = y.CacheBuiltEngines
	s.ReuseCachedEngines = y.ReuseCachedEngines
	s.UseInterpretedRuntime = y.UseInterpretedRuntime
	return s, nil
}

// CodegenDigest hashes exactly the settings that affect generated
// code. Debug, cache policy, fallback policy and runtime selection are
// excluded: toggling them must not invalidate cached engines.
func (s Settings) CodegenDigest() string {
	h := sha256.New()
	fmt.Fprintf(h, "precisions %v\n", s.EnabledPrecisions)
	fmt.Fprintf(h, "device %s\n", s.Device)
	fmt.Fprintf(h, "workspace %d\n", s.WorkspaceSize)
	fmt.Fprintf(h, "refittable %t\n", s.MakeRefittable)
	fmt.Fprintf(h, "truncate %t\n", s.TruncateLongAndDouble)
	return hex.EncodeToString(h.Sum(nil))
}
