// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import "syscall"

var (
	modkernel32       = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAlloc  = modkernel32.NewProc("VirtualAlloc")
	procVirtualFree   = modkernel32.NewProc("VirtualFree")
	memCommitReserve  = uintptr(0x1000 | 0x2000)
	pageReadWrite     = uintptr(0x04)
	memReleaseDecomit = uintptr(0x8000)
)

// mapFixed requests a fresh, fixed-address, read-write page via
// VirtualAlloc, the Windows analogue of the POSIX MAP_FIXED mapping used
// on other platforms.
func mapFixed(addr uintptr, size int) error {
	r, _, err := procVirtualAlloc.Call(addr, uintptr(size), memCommitReserve, pageReadWrite)
	if r == 0 {
		return err
	}
	return nil
}

func unmapFixed(addr uintptr, size int) error {
	r, _, err := procVirtualFree.Call(addr, 0, memReleaseDecomit)
	if r == 0 {
		return err
	}
	return nil
}
