// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/config"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/system"
)

// Spawn implements subcommands.Command for the "spawn" command.
type Spawn struct {
	id         uint
	entry      uint64
	privileged bool
	mappings   bool
	heap       uint
}

// Name implements subcommands.Command.Name.
func (*Spawn) Name() string {
	return "spawn"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Spawn) Synopsis() string {
	return "create and destroy a process with the built-in variant"
}

// Usage implements subcommands.Command.Usage.
func (*Spawn) Usage() string {
	return `spawn [flags] - create a process, print its initial state and page table
usage, destroy it, and check that every frame is returned.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Spawn) SetFlags(f *flag.FlagSet) {
	f.UintVar(&s.id, "id", 1, "process identifier.")
	f.Uint64Var(&s.entry, "entry", 0, "entry point. Zero means the start of the user data region.")
	f.BoolVar(&s.privileged, "privileged", false, "create a kernel mode process.")
	f.BoolVar(&s.mappings, "mappings", false, "print every installed translation.")
	f.UintVar(&s.heap, "heap", 0, "number of heap pages to map, translate and release before destroying the process.")
}

// Execute implements subcommands.Command.Execute.
func (s *Spawn) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if a := conf.Arch(system.Variant); a != system.Variant {
		return Errorf("spawn requires the built-in variant %s, got %s", system.Variant, a)
	}

	alloc, err := conf.NewAllocator()
	if err != nil {
		return Errorf("creating frame allocator: %v", err)
	}
	sys := system.New(alloc, system.Options{UserTrapLogInterval: conf.UserTrapLogInterval})

	entry := memarch.Addr(s.entry)
	if entry == 0 {
		r, ok := sys.MemoryMap().Region(arch.UserData)
		if !ok {
			return Errorf("%s has no user data region", system.Variant)
		}
		entry = r.Range.Start
	}

	baseline := alloc.Used()
	create := sys.CreateProcess
	if s.privileged {
		create = sys.CreatePrivilegedProcess
	}
	p, err := create(arch.ProcessID(s.id), entry)
	if err != nil {
		return Errorf("spawn: %v", err)
	}

	err = s.show(sys, p, alloc.Used()-baseline, alloc.Total())
	if derr := sys.DestroyProcess(p); err == nil {
		err = derr
	}
	if err != nil {
		return Errorf("spawn: %v", err)
	}
	if used := alloc.Used(); used != baseline {
		return Errorf("spawn: %d frames leaked after destroying process %d", used-baseline, p.ID())
	}
	log.Infof("Process %d destroyed, allocator back at %d frames", p.ID(), baseline)
	fmt.Fprintf(stdout, "destroyed, allocator back at baseline (%d frames in use)\n", baseline)
	return subcommands.ExitSuccess
}

// show prints p and exercises its heap.
func (s *Spawn) show(sys *system.System, p *system.Process, used, total uint64) error {
	pt := p.PageTables()
	st := p.CPUState()
	fmt.Fprintf(stdout, "process %d (%s)\n", p.ID(), system.Variant)
	fmt.Fprintf(stdout, "  pc %#x, sp %#x, privileged %t\n", st.PC(), st.StackPointer(), st.Privileged())
	fmt.Fprintf(stdout, "  state %+v\n", *p.State())
	fmt.Fprintf(stdout, "  root %v, %d table frames\n", pt.Root(), pt.Nodes())
	fmt.Fprintf(stdout, "  stack %v, %d frames at %v\n", p.Stack().Range, p.Stack().Frames, p.Stack().Frame)
	fmt.Fprintf(stdout, "  frames in use: %d of %d\n", used, total)
	if s.mappings {
		for _, m := range pt.Mappings() {
			fmt.Fprintf(stdout, "    %v\n", m)
		}
	}
	if s.heap == 0 {
		return nil
	}

	if err := sys.Activate(p); err != nil {
		return err
	}
	ctx := sys.Context(p)
	r, err := ctx.FindFree(uint64(s.heap)*memarch.PageSize, arch.UserHeap)
	if err != nil {
		return err
	}
	if err := ctx.MapRangeSparse(r, memarch.ReadWrite); err != nil {
		return err
	}
	for page := r.Start; page < r.End; page += memarch.PageSize {
		phys, err := sys.Translate(page)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "  heap %v -> %v\n", page, phys)
	}
	return ctx.ReleaseRange(r)
}
