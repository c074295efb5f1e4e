// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sim provides an in-process simulated device runtime.
//
// Each simulated device has its own address space backed by Go memory. Streams queue their
// work until Synchronize, so the window of an asynchronous copy can be observed. Use it for
// tests and on machines without a GPU.
//
// Example:
//
//	rt, err := sim.New(sim.Config{Devices: 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx := memory.GPUContext(rt, 1, nil, nil)
package sim

import (
	"github.com/born-ml/syncedmem/internal/backend/sim"
	"github.com/born-ml/syncedmem/memory"
)

// Runtime is the simulated device runtime.
type Runtime = sim.Runtime

// Stream is a simulated stream.
type Stream = sim.Stream

// Config controls the simulated runtime.
type Config = sim.Config

// Stats counts runtime activity.
type Stats = sim.Stats

// Compile-time check that Runtime implements memory.Runtime.
var _ memory.Runtime = (*Runtime)(nil)

// New creates a simulated runtime.
func New(cfg Config) (*Runtime, error) {
	return sim.New(cfg)
}

// DefaultConfig returns a single-device runtime without a memory limit.
func DefaultConfig() Config {
	return sim.DefaultConfig()
}
