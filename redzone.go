// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import "unsafe"

// shadowByte returns a pointer to the shadow byte for application address
// addr. The shadow region must already be mapped there (mapShadow).
func shadowByte(addr uintptr) *int8 {
	return (*int8)(unsafe.Pointer(Shadow(addr)))
}

// writeShadow paints n shadow bytes starting at shadow address s with the
// given value.
func writeShadow(s uintptr, n int, v int8) {
	if n <= 0 {
		return
	}
	b := unsafe.Slice((*int8)(unsafe.Pointer(s)), n)
	for i := range b {
		b[i] = v
	}
}

// PoisonRedzone paints the redzone band that follows a live object of user
// size size whose total reserved size (including the redzone) is totalSize;
// nothing is painted before addr. The arithmetic is that of spec.md §4.3. addr need not be 8-byte aligned; w is the misalignment
// of addr within its containing 8-byte word, and the partial-byte trick at
// offset a preserves addressability of the trailing fragment of the last
// in-bounds word without losing overrun detection for bytes beyond size.
func PoisonRedzone(addr, size, totalSize uintptr, kind Kind) {
	w := addr & 7
	p := addr - w
	a := w + size
	b := w + totalSize

	s := Shadow(p + a)
	if a&7 != 0 {
		writeShadow(s, 1, int8(a&7))
		s++
	}
	n := int((roundUp(b, 8) - roundUp(a, 8)) / 8)
	writeShadow(s, n, int8(kind))
}
