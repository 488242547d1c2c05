// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import "unsafe"

// Hooks is the configuration surface spec.md §9's design notes call for: a
// re-implementation exposes "{free, malloc, calloc, valloc, pvalloc,
// realloc, memalign, malloc_usable_size}" whose members get assigned at
// init. In the original C runtime these are weak hook-variable globals
// that default to the uninstrumented allocator; InstallMallocHooks is the
// Go analogue of overwriting them with the instrumented versions.
type Hooks struct {
	Free             func(p unsafe.Pointer)
	Malloc           func(size int) unsafe.Pointer
	Calloc           func(n, m int) unsafe.Pointer
	Valloc           func(n int) unsafe.Pointer
	Pvalloc          func(n int) unsafe.Pointer
	Realloc          func(p unsafe.Pointer, n int) unsafe.Pointer
	Memalign         func(align, size int) unsafe.Pointer
	MallocUsableSize func(p unsafe.Pointer) int
}

// InstallMallocHooks overwrites rt.Hooks with the instrumented
// implementations backed by rt.Allocator. Call sites that would otherwise
// reach for the process's uninstrumented malloc/free/etc. family should
// route through rt.Hooks instead once this has run.
func (rt *Runtime) InstallMallocHooks() {
	a := rt.Allocator
	rt.Hooks = Hooks{
		Free:             a.Free,
		Malloc:           a.Malloc,
		Calloc:           a.Calloc,
		Valloc:           a.Valloc,
		Pvalloc:          a.Pvalloc,
		Realloc:          a.Realloc,
		Memalign:         a.Memalign,
		MallocUsableSize: MallocUsableSize,
	}
	log.Debug("installed instrumented allocator hooks")
}
