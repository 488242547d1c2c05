// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"github.com/sirupsen/logrus"
)

// Offset is the shadow-memory base address. It is external ABI shared with
// a hypothetical compiler instrumentation pass: Shadow(a) = (a>>3) + Offset,
// per the standard sanitizer layout quoted in
// original_source/libc/log/asan.c.
const Offset = 0x7fff8000

// frameSize is the granularity at which shadow pages are provisioned and at
// which the mapped-interval registry tracks them — the reference shape
// spec.md §4.1 describes uses a single 64 KiB frame for both.
const frameSize = 64 * 1024

// Shadow computes the shadow-memory address covering the 8-byte
// application word containing addr. It performs no bounds check: validity
// is established only by having previously mapped the corresponding shadow
// page via mapShadow.
func Shadow(addr uintptr) uintptr {
	return (addr >> 3) + Offset
}

// shadowRegistry tracks which 64 KiB shadow frames have already been
// mapped. It stands in for spec.md's external `_mmi` mapped-interval
// registry: a process-wide singleton, unsynchronized, because the core
// assumes a single thread touches the shadow region (spec.md §5).
type shadowRegistry struct {
	frames map[uintptr]struct{}
}

func (r *shadowRegistry) isMapped(frame uintptr) bool {
	_, ok := r.frames[frame]
	return ok
}

func (r *shadowRegistry) markMapped(frame uintptr) {
	if r.frames == nil {
		r.frames = map[uintptr]struct{}{}
	}
	r.frames[frame] = struct{}{}
}

func roundDown(n, m uintptr) uintptr { return n &^ (m - 1) }
func roundUp(n, m uintptr) uintptr   { return (n + m - 1) &^ (m - 1) }

// mapShadow ensures shadow memory covering the application range
// [addr, addr+size) is backed by writable pages, provisioning any missing
// 64 KiB frame with a fresh anonymous, fixed mapping. Inability to map a
// shadow page is an infrastructure failure (spec.md §7 category 2): it
// aborts the process, since the sanitizer cannot operate without shadow
// backing.
func (rt *Runtime) mapShadow(addr, size uintptr) {
	if size == 0 {
		return
	}

	a := roundDown(Shadow(addr), frameSize)
	b := roundDown(Shadow(addr+size-1), frameSize)
	for f := a; f <= b; f += frameSize {
		if rt.registry.isMapped(f) {
			continue
		}
		if err := mapFixed(f, frameSize); err != nil {
			log.WithFields(logrus.Fields{"frame": f, "err": err}).Fatal("cannot map shadow frame")
		}
		rt.registry.markMapped(f)
	}
}
