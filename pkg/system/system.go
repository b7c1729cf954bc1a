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

// Package system binds one architecture variant into the set of components
// the rest of the kernel uses: the memory map template, the cache controller,
// the interrupt vector table and the process factory.
//
// The variant is chosen by GOARCH at build time. arm and arm64 builds use the
// ARMv7 and AArch64 variants; every other build uses the x86 variant.
package system

import (
	"errors"
	"fmt"
	"time"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/trap"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
	"kestrel.dev/kestrel/pkg/sync"
)

// DefaultUserTrapLogInterval is the default minimum interval between warnings
// about unhandled user traps on the same vector.
const DefaultUserTrapLogInterval = time.Second

// Options configures a System.
type Options struct {
	// UserTrapLogInterval limits how often an unhandled user trap on one
	// vector is logged. Zero selects DefaultUserTrapLogInterval.
	UserTrapLogInterval time.Duration
}

// System is the architecture layer of a running kernel.
type System struct {
	mm        *arch.MemoryMap
	alloc     pagetables.Allocator
	cache     *Cache
	vectors   *VectorTable
	factory   *Factory
	userTraps *log.KeyedLogger

	mu sync.Mutex

	// active is the process whose address space is current, or nil.
	//
	// +checklocks:mu
	active *Process
}

// New brings up the bound architecture, drawing frames from alloc.
func New(alloc pagetables.Allocator, opts Options) *System {
	if opts.UserTrapLogInterval == 0 {
		opts.UserTrapLogInterval = DefaultUserTrapLogInterval
	}
	s := &System{
		mm:        memoryMap(),
		alloc:     alloc,
		cache:     newCache(),
		vectors:   newVectorTable(),
		factory:   newFactory(alloc),
		userTraps: log.NewKeyedLogger(log.Log(), opts.UserTrapLogInterval),
	}
	log.Infof("Architecture %s: %d regions, kernel %v, user %v, %d vectors", Variant, len(s.mm.Regions()), s.mm.KernelRange(), s.mm.UserRange(), s.vectors.Len())
	return s
}

// Arch returns the bound architecture.
func (s *System) Arch() arch.Arch {
	return Variant
}

// MemoryMap returns the address space template.
func (s *System) MemoryMap() *arch.MemoryMap {
	return s.mm
}

// Cache returns the cache controller.
func (s *System) Cache() *Cache {
	return s.cache
}

// Vectors returns the interrupt vector table.
func (s *System) Vectors() *VectorTable {
	return s.vectors
}

// CreateProcess builds a user process starting at entry.
func (s *System) CreateProcess(id arch.ProcessID, entry memarch.Addr) (*Process, error) {
	p, err := s.factory.CreateProcess(id, entry)
	if err != nil {
		log.Warningf("Process %d not created: %v", id, err)
		return nil, err
	}
	return p, nil
}

// CreatePrivilegedProcess builds a kernel mode process starting at entry.
func (s *System) CreatePrivilegedProcess(id arch.ProcessID, entry memarch.Addr) (*Process, error) {
	p, err := s.factory.CreatePrivilegedProcess(id, entry)
	if err != nil {
		log.Warningf("Privileged process %d not created: %v", id, err)
		return nil, err
	}
	return p, nil
}

// DestroyProcess returns every frame owned by p. If p is active, no address
// space is active afterwards and every cached translation is discarded.
func (s *System) DestroyProcess(p *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.active == p {
		s.active = nil
		err = s.cache.Perform(arch.InvalidateOp(arch.Translation))
	}
	p.Release()
	return err
}

// Context returns the range operations on p's address space.
func (s *System) Context(p *Process) *arch.MemoryContext {
	return arch.NewMemoryContext(s.mm, p.PageTables(), s.alloc, s.cache)
}

// Activate makes p's address space current.
func (s *System) Activate(p *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Context(p).Activate(); err != nil {
		return err
	}
	s.active = p
	return nil
}

// Translate translates virt in the active address space the way the MMU
// does: through the TLB, walking the page tables on a miss.
func (s *System) Translate(virt memarch.Addr) (memarch.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return 0, fmt.Errorf("translating %v: no active address space: %w", virt, archerr.ErrNotMapped)
	}
	m, ok := s.cache.TLB().Translate(s.active.PageTables(), virt)
	if !ok {
		return 0, fmt.Errorf("translating %v: %w", virt, archerr.ErrNotMapped)
	}
	return m.Translate(virt), nil
}

// MapPage maps virt to phys in pt, cleans the data cache for the page so
// the new contents are visible to other observers, and invalidates any
// translation of virt cached before the call.
func (s *System) MapPage(pt *PageTables, virt, phys memarch.Addr, access memarch.AccessType) error {
	if err := pt.Map(virt, phys, access); err != nil {
		return err
	}
	return errors.Join(
		s.cache.Perform(arch.CleanAddressOp(arch.Data, virt)),
		s.cache.Perform(arch.InvalidateTranslationOp(virt)),
	)
}

// UnmapPage removes the translation of virt from pt, writes back and
// discards cached data for the page, then invalidates the cached
// translation of virt. The frame that backed virt may be reused once
// UnmapPage returns nil.
func (s *System) UnmapPage(pt *PageTables, virt memarch.Addr) error {
	if err := pt.Unmap(virt); err != nil {
		return err
	}
	return errors.Join(
		s.cache.Perform(arch.CleanInvalidateAddressOp(arch.Data, virt)),
		s.cache.Perform(arch.InvalidateTranslationOp(virt)),
	)
}

// SyncInstructions makes instructions written at addr visible to instruction
// fetch: the data cache is cleaned before the instruction cache is
// invalidated. Where the instruction cache cannot be invalidated by address
// it is invalidated completely.
func (s *System) SyncInstructions(addr memarch.Addr) error {
	if err := s.cache.Perform(arch.CleanAddressOp(arch.Data, addr)); err != nil {
		return err
	}
	err := s.cache.Perform(arch.InvalidateAddressOp(arch.Instruction, addr))
	if errors.Is(err, archerr.ErrUnsupported) {
		err = s.cache.Perform(arch.InvalidateOp(arch.Instruction))
	}
	return err
}

// RegisterHandler installs h for vector v, replacing any previous handler.
func (s *System) RegisterHandler(v arch.Vector, h trap.Handler[CPUState]) (superseded bool, err error) {
	superseded, err = s.vectors.Register(v, h)
	if err == nil {
		log.Debugf("Registered handler for %s (superseded: %t)", s.vectors.Name(v), superseded)
	}
	return superseded, err
}

// HandleTrap dispatches a trap taken with state. An unhandled trap taken in
// kernel mode panics. An unhandled trap taken in user mode is returned, and
// the caller terminates the process.
func (s *System) HandleTrap(v arch.Vector, state *CPUState) error {
	err := s.vectors.Dispatch(v, state)
	var unhandled *trap.UnhandledError
	if !errors.As(err, &unhandled) {
		return err
	}
	if unhandled.Fatal() {
		log.Warningf("%v at pc %#x, fault address %#x", unhandled, state.PC(), state.FaultAddress())
		panic(fmt.Sprintf("kernel trap: %v", unhandled))
	}
	s.userTraps.For(uint64(v)).Warningf("%v at pc %#x, fault address %#x", unhandled, state.PC(), state.FaultAddress())
	return err
}
