// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import "unsafe"

// probeFault reports whether an access of size bytes starting at addr
// would find any of its covered shadow bytes poisoned. It is the runtime's
// analogue of the inline probe a compiler instrumentation pass would emit
// before every load/store, quoted in original_source/libc/log/asan.c:
//
//	movq %addr,%tmp
//	shrq $3,%tmp
//	cmpb $0,0x7fff8000(%tmp)
//	jnz  abort
//
// generalized here to cover accesses that straddle more than one 8-byte
// shadow granule.
func probeFault(addr uintptr, size int) bool {
	if size <= 0 {
		return false
	}

	first := addr &^ 7
	last := addr + uintptr(size) - 1
	for w := first; w <= last; w += 8 {
		b := *(*int8)(unsafe.Pointer(Shadow(w)))
		if b == 0 {
			continue
		}
		if b < 0 {
			return true
		}

		// Partial granule: bytes [0, b) of this word are addressable;
		// bytes [b, 8) are not. The access faults if it reaches into
		// that unaddressable tail.
		hi := uintptr(7)
		if w+7 > last {
			hi = last - w
		}
		if hi >= uintptr(b) {
			return true
		}
	}
	return false
}

// ProbeLoad is the Go stand-in for a compiler-emitted load probe: it
// checks whether reading size bytes at addr would touch poisoned shadow,
// and if so reports the fault (terminating the process) instead of
// returning.
func ProbeLoad(addr unsafe.Pointer, size int) {
	if probeFault(uintptr(addr), size) {
		ReportLoadN(addr, size)
	}
}

// ProbeStore is the store counterpart of ProbeLoad.
func ProbeStore(addr unsafe.Pointer, size int) {
	if probeFault(uintptr(addr), size) {
		ReportStoreN(addr, size)
	}
}
