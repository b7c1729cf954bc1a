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

// Package conformance checks the properties every architecture variant must
// hold, independent of which variant the build binds.
package conformance

import (
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/cache"
	"kestrel.dev/kestrel/pkg/arch/trap"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/frame"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Entry is the entry point used for every process created by Check.
const Entry = memarch.Addr(0x400000)

// Variant describes one architecture variant.
type Variant[S any, PS interface {
	*S
	arch.CPUState
}, P arch.Process] struct {
	// Arch is the variant's architecture.
	Arch arch.Arch

	// MemoryMap is the variant's address space template.
	MemoryMap *arch.MemoryMap

	// NewFactory returns a process factory drawing from alloc.
	NewFactory func(alloc pagetables.Allocator) arch.ProcessFactory[P]

	// NewVectorTable returns an empty vector table.
	NewVectorTable func() *trap.Table[S, PS]

	// Cache is the variant's cache controller.
	Cache arch.CacheController

	// Coherent is true if every instruction and data cache operation is
	// a no-op.
	Coherent bool

	// TLB is the translation cache Cache maintains.
	TLB *cache.TLB
}

// Check runs every property against v, drawing frames from a fresh allocator
// of the given size. The returned error joins every violation found.
func Check[S any, PS interface {
	*S
	arch.CPUState
}, P arch.Process](v Variant[S, PS, P], base memarch.Frame, frames uint64) error {
	c := checker[S, PS, P]{v: v, alloc: frame.New(base, frames)}
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"regions", c.regions},
		{"process", c.process},
		{"kernel mappings", c.kernelMappings},
		{"map round trip", c.roundTrip},
		{"failure injection", c.failureInjection},
		{"vectors", c.vectors},
		{"cache", c.cache},
	} {
		if err := step.fn(); err != nil {
			c.errs = append(c.errs, fmt.Errorf("%s: %s: %w", v.Arch, step.name, err))
			continue
		}
		log.Debugf("%s: %s: ok", v.Arch, step.name)
	}
	if used := c.alloc.Used(); used != 0 {
		c.errs = append(c.errs, fmt.Errorf("%s: %d frames still allocated: %v", v.Arch, used, c.alloc.Allocated()))
	}
	return errors.Join(c.errs...)
}

type checker[S any, PS interface {
	*S
	arch.CPUState
}, P arch.Process] struct {
	v     Variant[S, PS, P]
	alloc *frame.Allocator
	errs  []error
}

func (c *checker[S, PS, P]) regions() error {
	rs := c.v.MemoryMap.Regions()
	if len(rs) == 0 {
		return fmt.Errorf("no regions")
	}
	for i := 1; i < len(rs); i++ {
		if rs[i-1].Range.Overlaps(rs[i].Range) || rs[i-1].Range.Start >= rs[i].Range.Start {
			return fmt.Errorf("regions %v and %v out of order or overlapping", rs[i-1], rs[i])
		}
	}
	if c.v.MemoryMap.KernelRange().Overlaps(c.v.MemoryMap.UserRange()) {
		return fmt.Errorf("kernel span %v overlaps user span %v", c.v.MemoryMap.KernelRange(), c.v.MemoryMap.UserRange())
	}
	return nil
}

// process checks that a new process starts at the entry point on top of its
// stack, and that destroying it restores the allocator.
func (c *checker[S, PS, P]) process() error {
	before := c.alloc.Used()
	p, err := c.v.NewFactory(c.alloc).CreateProcess(1, Entry)
	if err != nil {
		return err
	}
	defer p.Release()

	st := p.CPUState()
	if st.PC() != uint64(Entry) {
		return fmt.Errorf("pc %#x, want %v", st.PC(), Entry)
	}
	if sr, ok := c.v.MemoryMap.Region(arch.UserStack); ok && st.StackPointer() != uint64(sr.Range.End) {
		return fmt.Errorf("stack pointer %#x, want %v", st.StackPointer(), sr.Range.End)
	}
	if st.Privileged() {
		return fmt.Errorf("user process starts privileged")
	}
	for _, r := range c.v.MemoryMap.FixedRegions() {
		m, ok := p.AddressSpace().Lookup(r.Range.Start)
		if !ok || m.Translate(r.Range.Start) != r.Physical {
			return fmt.Errorf("fixed region %v translated to %v (%t)", r, m, ok)
		}
	}
	p.Release()
	if after := c.alloc.Used(); after != before {
		return fmt.Errorf("%d frames used after release, want %d", after, before)
	}
	return nil
}

func (c *checker[S, PS, P]) kernelMappings() error {
	f := c.v.NewFactory(c.alloc)
	var want []pagetables.Mapping
	for id := arch.ProcessID(1); id <= 3; id++ {
		p, err := f.CreateProcess(id, Entry)
		if err != nil {
			return err
		}
		defer p.Release()
		var got []pagetables.Mapping
		for _, m := range p.AddressSpace().Mappings() {
			if c.v.MemoryMap.KernelRange().Contains(m.Virtual) {
				got = append(got, m)
			}
		}
		if id == 1 {
			want = got
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			return fmt.Errorf("process %d kernel mappings differ (-first +this):\n%s", id, diff)
		}
	}
	return nil
}

func (c *checker[S, PS, P]) roundTrip() error {
	p, err := c.v.NewFactory(c.alloc).CreateProcess(1, Entry)
	if err != nil {
		return err
	}
	defer p.Release()
	heap, ok := c.v.MemoryMap.Region(arch.UserHeap)
	if !ok {
		return fmt.Errorf("no heap region")
	}
	phys, err := c.alloc.AllocateFrame()
	if err != nil {
		return err
	}
	defer c.alloc.ReleaseFrames(phys, 1)

	as := p.AddressSpace()
	virt := heap.Range.Start
	before := c.alloc.Used()
	var first pagetables.Mapping
	for i := 0; i < 2; i++ {
		if err := as.Map(virt, phys.Address(), memarch.ReadWrite); err != nil {
			return fmt.Errorf("map %d: %w", i, err)
		}
		m, ok := as.Lookup(virt)
		if !ok {
			return fmt.Errorf("map %d: %v not translated", i, virt)
		}
		if i == 0 {
			first = m
		} else if diff := cmp.Diff(first, m); diff != "" {
			return fmt.Errorf("second map differs (-first +second):\n%s", diff)
		}
		if err := as.Unmap(virt); err != nil {
			return fmt.Errorf("unmap %d: %w", i, err)
		}
		if after := c.alloc.Used(); after != before {
			return fmt.Errorf("unmap %d: %d frames used, want %d", i, after, before)
		}
	}
	if err := as.Unmap(virt); !errors.Is(err, archerr.ErrNotMapped) {
		return fmt.Errorf("unmap of unmapped page = %v, want %v", err, archerr.ErrNotMapped)
	}
	return nil
}

// failureInjection exhausts memory at every allocation step of process
// creation and checks that nothing leaks.
func (c *checker[S, PS, P]) failureInjection() error {
	before := c.alloc.Used()
	p, err := c.v.NewFactory(c.alloc).CreateProcess(1, Entry)
	if err != nil {
		return err
	}
	need := c.alloc.Used() - before
	p.Release()

	for budget := uint64(0); budget < need; budget++ {
		_, err := c.v.NewFactory(frame.NewBudgeted(c.alloc, budget)).CreateProcess(1, Entry)
		if !errors.Is(err, archerr.ErrOutOfMemory) {
			return fmt.Errorf("budget %d of %d: got %v, want %v", budget, need, err, archerr.ErrOutOfMemory)
		}
		if after := c.alloc.Used(); after != before {
			return fmt.Errorf("budget %d of %d: %d frames leaked", budget, need, after-before)
		}
	}
	return nil
}

func (c *checker[S, PS, P]) vectors() error {
	t := c.v.NewVectorTable()
	const v = arch.Vector(1)
	var state S
	if err := t.Dispatch(v, &state); !errors.Is(err, archerr.ErrUnhandledTrap) {
		return fmt.Errorf("unregistered dispatch = %v, want %v", err, archerr.ErrUnhandledTrap)
	}

	var first, second int
	if superseded, err := t.Register(v, func(*S) { first++ }); err != nil || superseded {
		return fmt.Errorf("first register = %t, %v", superseded, err)
	}
	if !t.Registered(v) {
		return fmt.Errorf("%s not registered", t.Name(v))
	}
	if superseded, err := t.Register(v, func(*S) { second++ }); err != nil || !superseded {
		return fmt.Errorf("second register = %t, %v", superseded, err)
	}
	if err := t.Dispatch(v, &state); err != nil {
		return err
	}
	if first != 0 || second != 1 {
		return fmt.Errorf("handlers ran %d and %d times, want 0 and 1", first, second)
	}
	if _, err := t.Register(arch.Vector(t.Len()), func(*S) {}); !errors.Is(err, archerr.ErrInvalidVector) {
		return fmt.Errorf("register out of range = %v, want %v", err, archerr.ErrInvalidVector)
	}
	return nil
}

func (c *checker[S, PS, P]) cache() error {
	const addr = memarch.Addr(0x1040)
	for _, ty := range []arch.CacheType{arch.Instruction, arch.Data, arch.Unified} {
		for _, op := range []arch.CacheOperation{
			arch.InvalidateOp(ty),
			arch.CleanInvalidateOp(ty),
			arch.CleanInvalidateAddressOp(ty, addr),
			arch.CleanAddressOp(ty, addr),
			arch.InvalidateAddressOp(ty, addr),
		} {
			err := c.v.Cache.Perform(op)
			if c.v.Coherent && err != nil {
				return fmt.Errorf("%v on coherent cache: %w", op, err)
			}
			if err != nil && !errors.Is(err, archerr.ErrUnsupported) {
				return fmt.Errorf("%v: %w", op, err)
			}
		}
	}
	if err := c.v.Cache.Perform(arch.CleanAddressOp(arch.Translation, addr)); !errors.Is(err, archerr.ErrUnsupported) {
		return fmt.Errorf("%v = %v, want %v", arch.CleanAddressOp(arch.Translation, addr), err, archerr.ErrUnsupported)
	}
	return c.translation()
}

// translation checks that a translation walked before an unmap survives
// until it is invalidated, and no longer.
func (c *checker[S, PS, P]) translation() error {
	p, err := c.v.NewFactory(c.alloc).CreateProcess(1, Entry)
	if err != nil {
		return err
	}
	defer p.Release()
	heap, ok := c.v.MemoryMap.Region(arch.UserHeap)
	if !ok {
		return fmt.Errorf("no heap region")
	}
	phys, err := c.alloc.AllocateFrame()
	if err != nil {
		return err
	}
	defer c.alloc.ReleaseFrames(phys, 1)
	as := p.AddressSpace()
	virt := heap.Range.Start
	if err := as.Map(virt, phys.Address(), memarch.ReadWrite); err != nil {
		return err
	}
	if _, ok := c.v.TLB.Translate(as, virt); !ok {
		return fmt.Errorf("translating %v missed a fresh mapping", virt)
	}
	if err := as.Unmap(virt); err != nil {
		return err
	}
	if _, ok := c.v.TLB.Cached(as.Root(), virt); !ok {
		return fmt.Errorf("translation of %v dropped before invalidation", virt)
	}
	if err := c.v.Cache.Perform(arch.InvalidateTranslationOp(virt)); err != nil {
		return err
	}
	if _, ok := c.v.TLB.Translate(as, virt); ok {
		return fmt.Errorf("stale translation of %v survived invalidation", virt)
	}
	if err := c.v.Cache.Perform(arch.InvalidateOp(arch.Translation)); err != nil {
		return err
	}
	if n := c.v.TLB.Len(); n != 0 {
		return fmt.Errorf("%d translations cached after a full invalidate", n)
	}
	return nil
}
