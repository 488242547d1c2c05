// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"unsafe"
)

// die calls os.Exit, so it cannot be exercised in-process without killing
// the test binary. The idiomatic Go workaround re-execs the test binary
// itself with a sentinel environment variable selecting one crasher, and
// inspects the child's exit code and stderr.
const faultHelperEnv = "GOASAN_FAULT_TEST_HELPER"

func TestReportMemoryFaultExitsWithFaultCode(t *testing.T) {
	out, err := runFaultHelper(t, "overrun")
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected the helper process to exit with an error, got %v", err)
	}
	if exitErr.ExitCode() != FaultExitCode {
		t.Fatalf("exit code %d, want %d", exitErr.ExitCode(), FaultExitCode)
	}
	if !strings.Contains(out, "heap overrun") {
		t.Fatalf("stderr %q does not mention the fault kind", out)
	}
}

func TestReportDeallocateFaultExitsWithFaultCode(t *testing.T) {
	out, err := runFaultHelper(t, "doublefree")
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected the helper process to exit with an error, got %v", err)
	}
	if exitErr.ExitCode() != FaultExitCode {
		t.Fatalf("exit code %d, want %d", exitErr.ExitCode(), FaultExitCode)
	}
	if !strings.Contains(out, "double free") {
		t.Fatalf("stderr %q does not mention double free", out)
	}
}

func runFaultHelper(t *testing.T, scenario string) (string, error) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=TestFaultHelperProcess")
	cmd.Env = append(os.Environ(), faultHelperEnv+"="+scenario)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// TestFaultHelperProcess is not a real test: it is only ever invoked as a
// subprocess by runFaultHelper, selected by GOASAN_FAULT_TEST_HELPER. When
// that variable is unset it does nothing, so it is a no-op under a normal
// test run.
func TestFaultHelperProcess(t *testing.T) {
	scenario := os.Getenv(faultHelperEnv)
	if scenario == "" {
		return
	}

	rt := &Runtime{}
	rt.Init(nil, nil, 0, 0)

	switch scenario {
	case "overrun":
		p := rt.Allocator.Malloc(8)
		ReportMemoryFault(unsafe.Add(p, 8), 1, "store")
	case "doublefree":
		p := rt.Allocator.Malloc(8)
		rt.Allocator.Free(p)
		rt.Allocator.Free(p)
	}
}
