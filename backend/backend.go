// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend exposes the capability interfaces an engine backend
// implements to plug into the Forge compiler.
package backend

import (
	"github.com/born-ml/forge/internal/backend"
)

// Network construction surface.
type (
	TensorHandle = backend.TensorHandle
	Layer        = backend.Layer
	LayerConfig  = backend.LayerConfig
	Network      = backend.Network
)

// Build and execution surface.
type (
	BuildConfig = backend.BuildConfig
	Builder     = backend.Builder
	WeightSlot  = backend.WeightSlot
	Engine      = backend.Engine
	Runtime     = backend.Runtime
)
