// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the pure-Go reference backend: a builder and
// runtime that execute engines on the reference kernels.
package cpu

import (
	"github.com/born-ml/forge/internal/backend/cpu"
)

// Builder compiles networks to the reference engine format.
type Builder = cpu.Builder

// Runtime deserializes and executes reference engines.
type Runtime = cpu.Runtime

// NewBuilder creates a reference builder.
func NewBuilder() *Builder { return cpu.NewBuilder() }

// NewRuntime creates a reference runtime.
func NewRuntime() *Runtime { return cpu.NewRuntime() }
