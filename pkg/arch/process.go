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

package arch

import (
	"errors"
	"fmt"

	"kestrel.dev/kestrel/pkg/atomicbitops"
	"kestrel.dev/kestrel/pkg/cleanup"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Installer is an AddressSpace that can be seeded from a MemoryMap.
type Installer interface {
	AddressSpace

	// MapFixed installs the translations of Fixed region r, using the
	// largest translation size the alignment of r allows.
	MapFixed(r Region) error
}

// Stack is the initial stack of a process, backed by contiguous frames.
type Stack struct {
	// Range is the virtual range of the stack.
	Range memarch.AddrRange

	// Frame is the first backing frame.
	Frame memarch.Frame

	// Frames is the number of backing frames.
	Frames uint64
}

// Top returns the initial stack pointer.
func (s Stack) Top() memarch.Addr {
	return s.Range.End
}

// Release returns the backing frames to alloc.
func (s Stack) Release(alloc pagetables.Allocator) {
	if s.Frames != 0 {
		alloc.ReleaseFrames(s.Frame, s.Frames)
	}
}

// Populate seeds as from mm: every Fixed region is installed and the
// UserStack region is backed by newly allocated frames. On error the stack
// frames are released again; releasing as is left to the caller.
func Populate(mm *MemoryMap, as Installer, alloc pagetables.Allocator) (Stack, error) {
	for _, r := range mm.FixedRegions() {
		if err := as.MapFixed(r); err != nil {
			return Stack{}, fmt.Errorf("installing %v: %w", r.Kind, err)
		}
	}
	sr, ok := mm.Region(UserStack)
	if !ok {
		return Stack{}, nil
	}
	n := memarch.PagesIn(sr.Range.Length())
	f, err := alloc.AllocateFrames(n, 1)
	if err != nil {
		return Stack{}, fmt.Errorf("allocating %d stack frames: %w", n, err)
	}
	stack := Stack{Range: sr.Range, Frame: f, Frames: n}
	cu := cleanup.Make(func() { stack.Release(alloc) })
	defer cu.Clean()
	for i := uint64(0); i < n; i++ {
		virt := sr.Range.Start + memarch.Addr(i*memarch.PageSize)
		if err := as.Map(virt, (f + memarch.Frame(i)).Address(), memarch.ReadWrite); err != nil {
			return Stack{}, fmt.Errorf("mapping stack page %v: %w", virt, err)
		}
	}
	cu.Release()
	return stack, nil
}

// CreateError classifies a failure to build process id. Allocation failures
// of any kind become archerr.ErrOutOfMemory; other errors are kept.
func CreateError(a Arch, id ProcessID, err error) error {
	if errors.Is(err, archerr.ErrOutOfMemory) || errors.Is(err, archerr.ErrOutOfPageTableMemory) {
		return fmt.Errorf("%s: creating process %d: %w: %v", a, id, archerr.ErrOutOfMemory, err)
	}
	return fmt.Errorf("%s: creating process %d: %w", a, id, err)
}

// Image is a process image: register state S and page tables T.
type Image[S any, PS interface {
	*S
	CPUState
}, T Installer] struct {
	arch     Arch
	id       ProcessID
	state    S
	tables   T
	stack    Stack
	alloc    pagetables.Allocator
	released atomicbitops.Bool
}

// ID implements Process.ID.
func (p *Image[S, PS, T]) ID() ProcessID { return p.id }

// State returns the register state the process resumes with.
func (p *Image[S, PS, T]) State() PS { return PS(&p.state) }

// CPUState implements Process.CPUState.
func (p *Image[S, PS, T]) CPUState() CPUState { return PS(&p.state) }

// PageTables returns the process's page tables.
func (p *Image[S, PS, T]) PageTables() T { return p.tables }

// AddressSpace implements Process.AddressSpace.
func (p *Image[S, PS, T]) AddressSpace() AddressSpace { return p.tables }

// Stack returns the initial stack.
func (p *Image[S, PS, T]) Stack() Stack { return p.stack }

// Released returns true once Release has run.
func (p *Image[S, PS, T]) Released() bool { return p.released.Load() }

// Release implements Process.Release. Only the first call has an effect.
func (p *Image[S, PS, T]) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	log.Debugf("%s: releasing process %d: %d table frames, %d stack frames", p.arch, p.id, p.tables.Nodes(), p.stack.Frames)
	p.stack.Release(p.alloc)
	p.tables.Release()
}

// ImageFactory builds Images of one architecture.
type ImageFactory[S any, PS interface {
	*S
	CPUState
}, T Installer] struct {
	// Arch is the architecture built for.
	Arch Arch

	// MemoryMap is the template every process is seeded from.
	MemoryMap *MemoryMap

	// Alloc provides page table and stack frames.
	Alloc pagetables.Allocator

	// NewTables returns empty page tables.
	NewTables func(mm *MemoryMap, alloc pagetables.Allocator) (T, error)

	// NewState returns the initial register state.
	NewState func(entry, stack uint64, privileged bool) S

	// ValidEntry returns true if entry can be executed from.
	ValidEntry func(entry memarch.Addr) bool
}

// CreateProcess implements ProcessFactory.CreateProcess.
func (f *ImageFactory[S, PS, T]) CreateProcess(id ProcessID, entry memarch.Addr) (*Image[S, PS, T], error) {
	return f.create(id, entry, false)
}

// CreatePrivilegedProcess implements ProcessFactory.CreatePrivilegedProcess.
func (f *ImageFactory[S, PS, T]) CreatePrivilegedProcess(id ProcessID, entry memarch.Addr) (*Image[S, PS, T], error) {
	return f.create(id, entry, true)
}

func (f *ImageFactory[S, PS, T]) create(id ProcessID, entry memarch.Addr, privileged bool) (*Image[S, PS, T], error) {
	if !f.ValidEntry(entry) {
		return nil, fmt.Errorf("%s: process %d entry %v: %w", f.Arch, id, entry, archerr.ErrInvalidAddress)
	}
	pt, err := f.NewTables(f.MemoryMap, f.Alloc)
	if err != nil {
		return nil, CreateError(f.Arch, id, err)
	}
	cu := cleanup.Make(pt.Release)
	defer cu.Clean()

	stack, err := Populate(f.MemoryMap, pt, f.Alloc)
	if err != nil {
		return nil, CreateError(f.Arch, id, err)
	}
	p := &Image[S, PS, T]{
		arch:   f.Arch,
		id:     id,
		state:  f.NewState(uint64(entry), uint64(stack.Top()), privileged),
		tables: pt,
		stack:  stack,
		alloc:  f.Alloc,
	}
	cu.Release()
	log.Debugf("%s: created process %d at %v: root %v, %d table frames, %d stack frames", f.Arch, id, entry, pt.Root(), pt.Nodes(), stack.Frames)
	return p, nil
}
