// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

// Modifications (c) 2026 The Fenceguard Authors.

package backing

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mmap(size int) ([]byte, error) {
	flags := unix.MAP_SHARED | unix.MAP_ANON
	prot := unix.PROT_READ | unix.PROT_WRITE
	b, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageMask) != 0 {
		panic("backing: mmap returned a non-page-aligned address")
	}

	return b, nil
}

func unmap(addr unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(addr), size)
	return unix.Munmap(b)
}
