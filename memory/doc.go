// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package memory provides a lazily synchronized host/device byte buffer.
//
// # Overview
//
// A Buffer holds one logical block of bytes that may live in host memory, device memory,
// or both. Every accessor takes an explicit Context naming the runtime and device to use;
// the buffer allocates and copies only when the requested side is stale:
//   - HostView / MutableHostView return a host slice
//   - DeviceView / MutableDeviceView return a device pointer
//   - AsyncPush starts a host-to-device copy on a stream without waiting
//
// Mutable accessors mark the other side stale. Reading the same side twice never copies.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/syncedmem/backend/sim"
//	    "github.com/born-ml/syncedmem/memory"
//	)
//
//	func main() {
//	    rt, _ := sim.New(sim.DefaultConfig())
//	    ctx := memory.NewContext(rt)
//
//	    buf := memory.New(1024)
//	    defer buf.Release()
//
//	    host := buf.MutableHostView(ctx)
//	    host[0] = 0xAB
//	    ptr := buf.DeviceView(ctx) // Copies host to device once.
//	}
//
// # Ownership
//
// Memory the buffer allocates is freed by Release through the allocator that produced it.
// Memory installed with AttachHost or AttachDevice is borrowed and never freed. A Buffer must
// not be copied by value; use Move to transfer ownership.
//
// # Failures
//
// Allocation failures, runtime errors and device-affinity violations panic with an error
// value. Use errors.Is against the exported sentinels to classify a recovered panic.
package memory
