// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command goasanctl drives the goasan runtime through the end-to-end
// scenarios spec.md §8 describes, so their exit-66 behavior and diagnostic
// text are observable outside of unit tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"unsafe"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/fenceguard/goasan"
)

func main() {
	logrus.SetLevel(logrus.WarnLevel)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&scenarioCmd{}, "")
	flag.Parse()

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

type scenarioCmd struct {
	name string
}

func (*scenarioCmd) Name() string     { return "scenario" }
func (*scenarioCmd) Synopsis() string { return "run one of the spec.md §8 end-to-end fault scenarios" }
func (*scenarioCmd) Usage() string {
	return `scenario -name=<overrun|doublefree|uaf|realloc|callocoverflow|partialbyte>

Drives the named fault scenario against a freshly initialized runtime.
Scenarios that trip a sanitizer fault terminate the process with exit
status 66, printing a diagnostic to stderr first.
`
}

func (c *scenarioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "scenario to run")
}

func (c *scenarioCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt := &goasan.Runtime{}
	rt.Init(os.Args, os.Environ(), 0, 0)

	switch c.name {
	case "overrun":
		p := rt.Allocator.Malloc(10)
		goasan.ProbeStore(unsafe.Add(p, 10), 1)
	case "doublefree":
		p := rt.Allocator.Malloc(8)
		rt.Allocator.Free(p)
		rt.Allocator.Free(p)
	case "uaf":
		p := rt.Allocator.Malloc(32)
		rt.Allocator.Free(p)
		goasan.ProbeLoad(p, 1)
	case "realloc":
		p := rt.Allocator.Malloc(1000)
		q := rt.Allocator.Realloc(p, 2000)
		goasan.ProbeStore(q, 1) // fine
		goasan.ProbeLoad(p, 1) // heap use after relocate
	case "callocoverflow":
		p := rt.Allocator.Calloc((1<<62)/2, 4)
		if p == nil {
			fmt.Println("calloc overflow returned nil, as expected")
			return subcommands.ExitSuccess
		}
		fmt.Println("calloc overflow unexpectedly succeeded")
		return subcommands.ExitFailure
	case "partialbyte":
		p := rt.Allocator.Malloc(13)
		b := unsafe.Slice((*byte)(p), 13)
		for i := range b {
			b[i] = byte(i)
		}
		goasan.ProbeStore(unsafe.Add(p, 13), 1)
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", c.name)
		return subcommands.ExitUsageError
	}

	return subcommands.ExitSuccess
}
