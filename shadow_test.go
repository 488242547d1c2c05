// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import "testing"

func TestShadowFormula(t *testing.T) {
	addr := uintptr(0x1000)
	want := (addr >> 3) + Offset
	if got := Shadow(addr); got != want {
		t.Fatalf("Shadow(%#x) = %#x, want %#x", addr, got, want)
	}
}

func TestShadowRegistryTracksMappedFrames(t *testing.T) {
	var r shadowRegistry
	if r.isMapped(frameSize) {
		t.Fatal("fresh registry reports a frame as mapped")
	}
	r.markMapped(frameSize)
	if !r.isMapped(frameSize) {
		t.Fatal("markMapped did not take effect")
	}
	if r.isMapped(frameSize * 2) {
		t.Fatal("marking one frame mapped a different frame")
	}
}

func TestRoundDownRoundUp(t *testing.T) {
	if got := roundDown(17, 8); got != 16 {
		t.Fatalf("roundDown(17,8) = %d, want 16", got)
	}
	if got := roundUp(17, 8); got != 24 {
		t.Fatalf("roundUp(17,8) = %d, want 24", got)
	}
	if got := roundDown(16, 8); got != 16 {
		t.Fatalf("roundDown(16,8) = %d, want 16", got)
	}
	if got := roundUp(16, 8); got != 16 {
		t.Fatalf("roundUp(16,8) = %d, want 16", got)
	}
}

func TestMapShadowIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	// Mapping the same range twice must not attempt a second MAP_FIXED
	// call over the first (which would otherwise be harmless but is worth
	// pinning down as a no-op through the registry).
	rt.mapShadow(0x1000, 64)
	rt.mapShadow(0x1000, 64)
}

func TestMapShadowZeroSizeIsNoop(t *testing.T) {
	rt := newTestRuntime(t)
	rt.mapShadow(0x1000, 0)
}
