//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides a device runtime backed by WebGPU.
//
// Example:
//
//	if !webgpu.IsAvailable() {
//	    return
//	}
//	gpu, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gpu.Release()
//
//	ctx := memory.NewContext(gpu)
package webgpu

import (
	internalwebgpu "github.com/born-ml/syncedmem/internal/backend/webgpu"
	"github.com/born-ml/syncedmem/memory"
)

// Runtime is the WebGPU device runtime.
type Runtime = internalwebgpu.Runtime

// Config controls the WebGPU runtime.
type Config = internalwebgpu.Config

// Compile-time check that Runtime implements memory.Runtime.
var _ memory.Runtime = (*Runtime)(nil)

// New opens the default adapter with DefaultConfig.
// Call Release when done to free GPU resources.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func New() (*Runtime, error) {
	return internalwebgpu.New(internalwebgpu.DefaultConfig())
}

// NewWithConfig opens the default adapter with cfg.
func NewWithConfig(cfg Config) (*Runtime, error) {
	return internalwebgpu.New(cfg)
}

// IsAvailable checks if WebGPU is available on the current system.
//
// Useful for graceful fallback to the simulated runtime:
//
//	var rt memory.Runtime
//	if webgpu.IsAvailable() {
//	    rt, _ = webgpu.New()
//	} else {
//	    rt, _ = sim.New(sim.DefaultConfig())
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
