// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asan implements the runtime component of an address sanitizer: an
// in-process library that detects invalid memory accesses at byte
// granularity by maintaining a shadow map of the process address space and
// intercepting the heap, stack-redzone, and global-variable lifecycle
// events that a cooperating compiler instrumentation pass would otherwise
// emit. See SPEC_FULL.md for the full component breakdown.
package asan

import (
	"math"
	"math/bits"
	"os"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/fenceguard/goasan/internal/backing"
)

var log = logrus.WithField("component", "asan")

const maxInt = math.MaxInt

// Runtime bundles the sanitizer's state behind one object with an explicit
// Init: the mapped-interval registry, the backing store, the allocator and
// its morgue, and the hook table it installs over the process's allocator
// family. Default hands out one shared instance, but nothing prevents
// constructing further Runtimes; each has its own registry, store and
// morgue, while the shadow region itself sits at the fixed Offset and is
// shared by all of them.
type Runtime struct {
	once     sync.Once
	registry shadowRegistry
	store    backing.Store
	Allocator *Allocator
	Hooks     Hooks
}

var (
	defaultRuntime     *Runtime
	defaultRuntimeOnce sync.Once
)

// Default returns the process-wide Runtime, constructing it (but not
// Init-ing it) on first use.
func Default() *Runtime {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime = &Runtime{}
	})
	return defaultRuntime
}

// Init is the one-shot startup hook (spec.md §4.7's __asan_init). It maps
// shadow for: each argv string's backing bytes, each envp string's backing
// bytes, and the caller-supplied stack range, then installs the malloc
// hooks. It is safe to call more than once; only the first call has any
// effect.
//
// Go exposes neither a flat program-image [_base, _end) nor an auxv the way
// the C runtime does, so "map shadow for the image" is translated as:
// map shadow for argv/envp (the closest analogue Go programs actually hand
// the runtime) and for the stack range the caller identifies via
// stackBase/stackSize. See DESIGN.md for this Open Question's resolution.
func (rt *Runtime) Init(argv, envp []string, stackBase, stackSize uintptr) {
	rt.once.Do(func() {
		rt.Allocator = newAllocator(rt, &rt.store)

		for _, s := range argv {
			rt.mapShadowString(s)
		}
		for _, s := range envp {
			rt.mapShadowString(s)
		}
		if stackSize != 0 {
			base := roundDown(stackBase, frameSize)
			rt.mapShadow(base, stackSize)
		}

		rt.InstallMallocHooks()
		log.Info("sanitizer runtime initialized")
	})
}

func (rt *Runtime) mapShadowString(s string) {
	if len(s) == 0 {
		return
	}
	rt.mapShadow(uintptr(unsafe.Pointer(unsafe.StringData(s))), uintptr(len(s)))
}

func pageSize() int { return os.Getpagesize() }

// mulOverflows reports a*b and whether it overflowed the platform int.
func mulOverflows(a, b int) (int, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, true
	}
	return int(lo), false
}

// backingUsableSize reports the size of the backing block behind the
// sanitizer-visible pointer p. The block starts 16 bytes before p (the left
// redzone), and that start is what backing.UnsafeUsableSize needs to find the
// block's page header.
func backingUsableSize(p unsafe.Pointer) int {
	return backing.UnsafeUsableSize(unsafe.Pointer(uintptr(p) - 16))
}

// Close releases the OS mappings backing every allocation this Runtime ever
// made. It is not required before process exit; it exists for tests and
// for long-lived hosts (spec.md's fuzzer driver, §8) that construct and
// discard many Runtimes in one process.
func (rt *Runtime) Close() error {
	return rt.store.Close()
}
