// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package asan

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapFixed requests a fresh, anonymous, private, read-write page fixed at
// addr — the Go analogue of spec.md's DirectMap(addr, FRAMESIZE,
// PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, -1, 0).
//
// golang.org/x/sys/unix.Mmap does not accept a caller-chosen address, so
// the fixed-address mapping goes through the raw syscall directly, as
// the teacher's backing allocator does for its (non-fixed) mappings.
func mapFixed(addr uintptr, size int) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_FIXED
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size), uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func unmapFixed(addr uintptr, size int) error {
	return unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(addr)), size))
}
