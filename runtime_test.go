// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"math"
	"testing"
)

func TestInitIsIdempotent(t *testing.T) {
	rt := &Runtime{}
	rt.Init(nil, nil, 0, 0)
	a := rt.Allocator

	rt.Init([]string{"unused"}, []string{"UNUSED=1"}, 1, 4096)
	if rt.Allocator != a {
		t.Fatal("second Init call replaced the Allocator")
	}
}

func TestInitMapsArgvAndEnvpShadow(t *testing.T) {
	rt := &Runtime{}
	argv := []string{"prog", "-flag"}
	envp := []string{"HOME=/root"}
	rt.Init(argv, envp, 0, 0)

	for _, s := range argv {
		rt.mapShadowString(s) // must not panic: frame already mapped
	}
	for _, s := range envp {
		rt.mapShadowString(s)
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("Default() returned different Runtime instances")
	}
}

func TestMulOverflows(t *testing.T) {
	cases := []struct {
		a, b     int
		want     int
		overflow bool
	}{
		{3, 4, 12, false},
		{0, math.MaxInt, 0, false},
		{math.MaxInt, 2, 0, true},
		{1 << 32, 1 << 32, 0, true},
	}
	for _, c := range cases {
		got, overflow := mulOverflows(c.a, c.b)
		if overflow != c.overflow {
			t.Fatalf("mulOverflows(%d, %d): overflow=%v, want %v", c.a, c.b, overflow, c.overflow)
		}
		if !overflow && got != c.want {
			t.Fatalf("mulOverflows(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCloseReleasesBackingMemory(t *testing.T) {
	rt := newTestRuntime(t)
	p := rt.Allocator.Malloc(64)
	if p == nil {
		t.Fatal("malloc returned nil")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
