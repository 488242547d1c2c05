// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"testing"
	"unsafe"
)

func TestProbeFaultAddressableWord(t *testing.T) {
	rt := newTestRuntime(t)
	p := rt.Allocator.Malloc(16)
	defer rt.Allocator.Free(p)

	if probeFault(uintptr(p), 16) {
		t.Fatal("addressable range reported as faulting")
	}
}

func TestProbeFaultInsidePoisonedWord(t *testing.T) {
	rt := newTestRuntime(t)
	p := rt.Allocator.Malloc(16)
	rt.Allocator.Free(p)

	if !probeFault(uintptr(p), 1) {
		t.Fatal("access into freed object not reported as faulting")
	}
}

// P6: malloc(13) leaves a 5-byte addressable fragment in word 1; bytes
// [13,16) of that word are unaddressable padding.
func TestProbeFaultPartialByteStraddle(t *testing.T) {
	rt := newTestRuntime(t)
	p := rt.Allocator.Malloc(13)
	defer rt.Allocator.Free(p)

	if probeFault(uintptr(p)+12, 1) {
		t.Fatal("last addressable byte (offset 12) reported as faulting")
	}
	if !probeFault(uintptr(p)+13, 1) {
		t.Fatal("first padding byte (offset 13) not reported as faulting")
	}
	// An access straddling the fragment boundary and into the redzone.
	if !probeFault(uintptr(p)+12, 4) {
		t.Fatal("straddling access into redzone not reported as faulting")
	}
}

func TestProbeFaultZeroSizeNeverFaults(t *testing.T) {
	if probeFault(0, 0) {
		t.Fatal("zero-size access reported as faulting")
	}
}

func TestProbeStoreAndLoadDoNotPanicOnCleanAccess(t *testing.T) {
	rt := newTestRuntime(t)
	p := rt.Allocator.Malloc(32)
	defer rt.Allocator.Free(p)

	ProbeStore(p, 32)
	ProbeLoad(p, 32)
	_ = unsafe.Slice((*byte)(p), 32)
}
