// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"
)

// FaultExitCode is the process exit status on any detected sanitizer
// fault, per spec.md §6.
const FaultExitCode = 66

// die formats msg straight to stderr, prints a symbolized backtrace, and
// terminates the process. It must not take any lock the allocator takes —
// a corrupted allocator state may be exactly what caused the fault — so it
// writes to os.Stderr directly rather than through the structured logger
// used elsewhere in this package. msg is built by the caller with
// fmt.Sprintf; no fixed-size buffer is used.
func die(msg string) {
	os.Stderr.WriteString(msg)
	printBacktrace(os.Stderr)
	os.Exit(FaultExitCode)
}

// printBacktrace writes a symbolized stack trace using runtime.Callers,
// the idiomatic Go substitute for spec.md's external symbol-table loader
// (PrintBacktraceUsingSymbols against getsymboltable()).
func printBacktrace(w *os.File) {
	var pcs [64]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(w, "    %s\n        %s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
}

// ReportMemoryFault decodes the shadow byte at addr and formats:
//
//	error: <poison description> <size>-byte <load|store> at 0x<addr>
//
// then terminates via die. This is spec.md's report_memory_fault.
func ReportMemoryFault(addr unsafe.Pointer, size int, accessKind string) {
	b := *shadowByte(uintptr(addr))
	k, _, ok := KindOf(b)
	desc := "poisoned"
	if ok {
		desc = describeAccessPoison(k)
	}
	msg := fmt.Sprintf("error: %s %d-byte %s at %#x\n", desc, size, accessKind, uintptr(addr))
	die(msg)
}

// ReportLoadN is the probe failure callback for an instrumented load.
func ReportLoadN(addr unsafe.Pointer, size int) { ReportMemoryFault(addr, size, "load") }

// ReportStoreN is the probe failure callback for an instrumented store.
func ReportStoreN(addr unsafe.Pointer, size int) { ReportMemoryFault(addr, size, "store") }

// reportDeallocateFault formats:
//
//	error: <free-poison description> <signed byte> at 0x<addr>
//
// then terminates via die. This is spec.md's report_deallocate_fault,
// reached from Allocator.deallocate when the shadow byte at the pointer's
// head names a double-free or an invalid pointer.
func (rt *Runtime) reportDeallocateFault(addr unsafe.Pointer, b int8) {
	k, _, ok := KindOf(b)
	desc := "invalid pointer"
	if ok {
		desc = describeFreePoison(k)
	}
	msg := fmt.Sprintf("error: %s %d at %#x\n", desc, b, uintptr(addr))
	die(msg)
}
