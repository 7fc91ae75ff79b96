// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package compile provides the public entry point of the Forge
// compiler: lower a computation graph to an engine and wrap it as an
// executable module.
package compile

import (
	"github.com/born-ml/forge/internal/compile"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/runtime"
)

// Settings controls a compilation.
type Settings = compile.Settings

// Options carries pluggable collaborators (builder, runtime, cache,
// converter registry).
type Options = compile.Options

// Module is an executable compilation result.
type Module = runtime.Module

// DefaultSettings returns the recommended configuration.
func DefaultSettings() Settings { return compile.DefaultSettings() }

// LoadSettings reads settings from a YAML file.
func LoadSettings(path string) (Settings, error) { return compile.LoadSettings(path) }

// Compile lowers g to an engine for the given inputs and settings and
// returns it wrapped as an executable module.
func Compile(g *graph.Graph, inputs any, settings Settings, opts Options) (Module, error) {
	return compile.Compile(g, inputs, settings, opts)
}
