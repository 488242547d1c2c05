// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

// Kind tags the reason a shadow byte is poisoned. The numeric values are
// external ABI: a cooperating compiler instrumentation pass would emit
// these same constants into generated code, so they match the standard
// sanitizer palette used by original_source/libc/log/asan.c.
type Kind int8

const (
	// KindAddressable is not a poison kind: it is the zero shadow byte,
	// meaning all 8 bytes of the covered word are addressable.
	KindAddressable Kind = 0

	KindHeapFree           Kind = -1
	KindHeapRelocated      Kind = -2
	KindHeapUnderrun       Kind = -3
	KindHeapOverrun        Kind = -4
	KindGlobalOverrun      Kind = -5
	KindGlobalUnregistered Kind = -6
	KindStackFree          Kind = -7
	KindStackUnderrun      Kind = -8
	KindStackOverrun       Kind = -9
	KindAllocaOverrun      Kind = -10
	KindUnscoped           Kind = -11
)

// describeAccessPoison names the fault a load/store probe hit.
func describeAccessPoison(k Kind) string {
	switch k {
	case KindHeapFree:
		return "heap use after free"
	case KindStackFree:
		return "stack use after release"
	case KindHeapRelocated:
		return "heap use after relocate"
	case KindHeapUnderrun:
		return "heap underrun"
	case KindHeapOverrun:
		return "heap overrun"
	case KindGlobalOverrun:
		return "global overrun"
	case KindGlobalUnregistered:
		return "global unregistered"
	case KindStackUnderrun:
		return "stack underflow"
	case KindStackOverrun:
		return "stack overflow"
	case KindAllocaOverrun:
		return "alloca overflow"
	case KindUnscoped:
		return "unscoped"
	default:
		return "poisoned"
	}
}

// describeFreePoison names the fault hit by a deallocate call that found
// the target already poisoned.
func describeFreePoison(k Kind) string {
	switch k {
	case KindHeapFree:
		return "heap double free"
	case KindHeapRelocated:
		return "free after relocate"
	case KindStackFree:
		return "stack double free"
	default:
		return "invalid pointer"
	}
}

// KindOf decodes a raw shadow byte per spec.md §3/§4.2:
//
//	byte == 0       -> word fully addressable (no Kind; ok reports false)
//	0 < byte < 8    -> first byte bytes addressable, remainder poisoned
//	byte < 0        -> entire word poisoned, tagged with the returned Kind
//
// partial is the number of addressable leading bytes for the 0 < byte < 8
// case; it is 0 otherwise. ok is false only for the fully-addressable and
// partially-addressable cases, i.e. whenever no Kind applies.
func KindOf(b int8) (k Kind, partial int, ok bool) {
	switch {
	case b == 0:
		return KindAddressable, 0, false
	case b > 0 && b < 8:
		return KindAddressable, int(b), false
	default:
		return Kind(b), 0, true
	}
}
