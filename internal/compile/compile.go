// Package compile orchestrates the full pipeline: type inference,
// graph interpretation, engine build, caching and refit, packaging the
// outcome as an executable module.
package compile

import (
	"errors"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/backend"
	"github.com/born-ml/forge/internal/backend/cpu"
	"github.com/born-ml/forge/internal/cache"
	"github.com/born-ml/forge/internal/convert"
	"github.com/born-ml/forge/internal/engine"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
	"github.com/born-ml/forge/internal/refit"
	"github.com/born-ml/forge/internal/runtime"
	"github.com/born-ml/forge/internal/tensor"
)

// Options carries the pluggable collaborators. Zero fields are filled
// with the reference implementations (or, for Cache, left disabled).
type Options struct {
	Builder  backend.Builder
	Runtime  backend.Runtime
	Cache    cache.Cache
	Registry *convert.Registry
}

func (o Options) withDefaults() Options {
	if o.Builder == nil {
		o.Builder = cpu.NewBuilder()
	}
	if o.Runtime == nil {
		o.Runtime = cpu.NewRuntime()
	}
	if o.Registry == nil {
		o.Registry = convert.NewRegistry()
	}
	return o
}

// Builds serialize per device. Builders are not required to tolerate
// concurrent builds against the same device.
var (
	deviceMu    sync.Mutex
	deviceLocks = map[tensor.Device]*sync.Mutex{}
)

func lockDevice(d tensor.Device) func() {
	deviceMu.Lock()
	l, ok := deviceLocks[d]
	if !ok {
		l = &sync.Mutex{}
		deviceLocks[d] = l
	}
	deviceMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Compile lowers g to an engine for the given inputs and settings and
// returns it wrapped as an executable module.
//
// inputs may be a single input description or a nested container of
// them; see input.Normalize for the accepted forms.
//
// Graphs below MinBlockSize are served eagerly. Malformed graphs,
// unsupported operators and shape mismatches are fatal. Backend build
// failures are fatal too by default; PassThroughBuildFailures turns
// them into an eager-evaluation fallback instead. With a cache
// configured, a structurally identical graph is served by refitting
// the cached engine with the current weights; a refit that does not
// verify triggers a fresh build.
func Compile(g *graph.Graph, inputs any, settings Settings, opts Options) (runtime.Module, error) {
	if err := g.Validate(); err != nil {
		return nil, convert.Malformedf("%v", err)
	}
	opts = opts.withDefaults()

	value, err := input.Normalize(inputs, false)
	if err != nil {
		return nil, convert.Malformedf("%v", err)
	}
	specs := input.Flatten(value)

	if len(g.Nodes) < settings.MinBlockSize {
		klog.V(1).Infof("graph %q has %d nodes, below min block size %d, serving eagerly", g.Name, len(g.Nodes), settings.MinBlockSize)
		return runtime.NewGraphModule(g), nil
	}

	digest := settings.CodegenDigest()
	fingerprint := cache.Fingerprint(g, specs, digest)

	if opts.Cache != nil && settings.ReuseCachedEngines {
		if m := reuseCached(fingerprint, g, specs, settings, opts); m != nil {
			return m, nil
		}
	}

	result, eng, err := build(g, specs, digest, settings, opts)
	if err != nil {
		var ce *convert.Error
		if settings.PassThroughBuildFailures && errors.As(err, &ce) && ce.Kind == convert.KindBuildFailure {
			klog.Warningf("build of graph %q failed, falling back to eager evaluation: %v", g.Name, err)
			return runtime.NewGraphModule(g), nil
		}
		return nil, err
	}

	if opts.Cache != nil && settings.CacheBuiltEngines {
		if err := opts.Cache.Store(fingerprint, result); err != nil {
			klog.Warningf("failed to cache engine %s: %v", result.ID, err)
		}
	}

	return wrapModule(result, eng, settings, opts)
}

// ConvertGraph runs the compilation pipeline up to and including the
// engine build, without cache interaction or module wrapping.
func ConvertGraph(g *graph.Graph, inputs any, settings Settings, opts Options) (*engine.CompiledEngine, error) {
	if err := g.Validate(); err != nil {
		return nil, convert.Malformedf("%v", err)
	}
	opts = opts.withDefaults()

	value, err := input.Normalize(inputs, false)
	if err != nil {
		return nil, convert.Malformedf("%v", err)
	}
	result, _, err := build(g, input.Flatten(value), settings.CodegenDigest(), settings, opts)
	return result, err
}

// reuseCached attempts to serve a compilation from the cache. The
// cached engine is refitted with the current graph's weights and
// verified; nil means the caller must build.
func reuseCached(fingerprint string, g *graph.Graph, specs []*input.Spec, settings Settings, opts Options) runtime.Module {
	cached, ok, err := opts.Cache.Lookup(fingerprint)
	if err != nil {
		klog.Warningf("engine cache lookup failed: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	klog.V(1).Infof("cache hit for graph %q (engine %s)", g.Name, cached.ID)

	// Refits share the per-device serialization with builds.
	unlock := lockDevice(settings.Device)
	defer unlock()

	eng, err := executionRuntime(settings, opts).Deserialize(cached.SerializedEngine)
	if err != nil {
		klog.Warningf("cached engine %s failed to deserialize, rebuilding: %v", cached.ID, err)
		return nil
	}
	res := refit.Refit(eng, g, cached.WeightNameMap, specs, settings.Device)
	if res.Outcome != refit.Applied {
		return nil
	}

	m, err := wrapModule(cached, eng, settings, opts)
	if err != nil {
		klog.Warningf("cached engine %s unusable, rebuilding: %v", cached.ID, err)
		return nil
	}
	return m
}

func build(g *graph.Graph, specs []*input.Spec, digest string, settings Settings, opts Options) (*engine.CompiledEngine, backend.Engine, error) {
	unlock := lockDevice(settings.Device)
	defer unlock()

	dtypes, err := convert.InferOutputTypes(g, specs, settings.Device, settings.TruncateLongAndDouble)
	if err != nil {
		return nil, nil, err
	}

	net := opts.Builder.NewNetwork()
	res, err := convert.Interpret(g, specs, net, opts.Registry, dtypes)
	if err != nil {
		return nil, nil, err
	}

	blob, err := opts.Builder.Build(net, backend.BuildConfig{
		Precisions:    settings.EnabledPrecisions,
		WorkspaceSize: settings.WorkspaceSize,
		Refittable:    settings.MakeRefittable,
		Debug:         settings.Debug,
	})
	if err != nil {
		return nil, nil, &convert.Error{Kind: convert.KindBuildFailure, Err: err}
	}

	var weightMap map[string]string
	if settings.MakeRefittable {
		weightMap = res.WeightNameMap
	}
	result := engine.New(blob, res.InputNames, res.OutputNames, weightMap, digest)

	var eng backend.Engine
	if settings.MakeRefittable {
		eng = smokeTestRefit(result, g, specs, settings, opts)
	}
	klog.V(1).Infof("built engine %s for graph %q on %s (%d bytes)", result.ID, g.Name, opts.Builder.Name(), result.Size())
	return result, eng, nil
}

// smokeTestRefit proves a freshly built refittable engine really
// accepts its own weights back. A failure downgrades the engine to
// non-refittable rather than failing the build.
func smokeTestRefit(result *engine.CompiledEngine, g *graph.Graph, specs []*input.Spec, settings Settings, opts Options) backend.Engine {
	eng, err := executionRuntime(settings, opts).Deserialize(result.SerializedEngine)
	if err != nil {
		klog.Warningf("engine %s failed refit smoke test (deserialize): %v", result.ID, err)
		result.WeightNameMap = nil
		return nil
	}
	if res := refit.Refit(eng, g, result.WeightNameMap, specs, settings.Device); res.Outcome != refit.Applied {
		klog.Warningf("engine %s failed refit smoke test, dropping weight name map: %s", result.ID, res.Reason)
		result.WeightNameMap = nil
		return nil
	}
	return eng
}

// executionRuntime is the runtime whose engines the wrapped module
// will run: the reference runtime under the interpreted wrapper, the
// backend runtime otherwise. Refits deserialize through it so an
// engine patched in memory is the one the module executes.
func executionRuntime(settings Settings, opts Options) backend.Runtime {
	if settings.UseInterpretedRuntime {
		return cpu.NewRuntime()
	}
	return opts.Runtime
}

func wrapModule(result *engine.CompiledEngine, eng backend.Engine, settings Settings, opts Options) (runtime.Module, error) {
	if settings.UseInterpretedRuntime {
		if eng != nil {
			return runtime.WrapInterpretedEngine(result, eng), nil
		}
		return runtime.NewInterpretedModule(result), nil
	}
	if eng != nil {
		return runtime.WrapEngine(result, eng, settings.Debug), nil
	}
	return runtime.NewEngineModule(result, opts.Runtime, settings.Debug)
}
