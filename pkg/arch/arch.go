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

// Package arch provides the architecture-neutral contract of the kernel's
// architecture layer: the memory map template, cache maintenance operations,
// trap vectors, CPU state accessors and process construction. Each supported
// architecture implements the contract in its own package (intel, arm and
// arm64); package system binds exactly one of them per build.
package arch

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Arch describes an architecture.
type Arch int

const (
	// Intel is the 32-bit x86 architecture.
	Intel Arch = iota
	// ARM is the 32-bit ARMv7-A architecture.
	ARM
	// ARM64 is the ARMv8-A architecture in AArch64 state.
	ARM64
)

// Arches lists every supported architecture.
var Arches = []Arch{Intel, ARM, ARM64}

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case Intel:
		return "intel"
	case ARM:
		return "arm"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Arch(%d)", a)
	}
}

// ParseArch returns the Arch named s.
func ParseArch(s string) (Arch, error) {
	for _, a := range Arches {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}

// CPUState is the register and fault snapshot captured by trap entry. It is
// owned by the trap entry path for the duration of one dispatch; handlers may
// modify it to change where execution resumes, but must not retain it.
type CPUState interface {
	// PC returns the program counter.
	PC() uint64

	// SetPC sets the program counter.
	SetPC(value uint64)

	// StackPointer returns the stack pointer.
	StackPointer() uint64

	// SetStackPointer sets the stack pointer.
	SetStackPointer(value uint64)

	// ReturnValue returns the system call result register.
	ReturnValue() uint64

	// SetReturnValue sets the system call result register.
	SetReturnValue(value uint64)

	// FaultAddress returns the faulting address recorded by the last
	// memory abort, or zero.
	FaultAddress() uint64

	// Privileged returns true if the state was captured in kernel mode.
	Privileged() bool
}

// AddressSpace is a live set of page tables owned by one process.
type AddressSpace interface {
	// Map installs a translation of the page at virt to the frame at phys.
	// It does not perform cache maintenance.
	Map(virt, phys memarch.Addr, access memarch.AccessType) error

	// Unmap removes the translation of the page at virt.
	Unmap(virt memarch.Addr) error

	// Lookup returns the translation containing virt.
	Lookup(virt memarch.Addr) (pagetables.Mapping, bool)

	// Mappings returns every installed translation ordered by address.
	Mappings() []pagetables.Mapping

	// Root returns the frame of the top level table.
	Root() memarch.Frame

	// Nodes returns the number of frames holding page tables.
	Nodes() uint64

	// Release frees every page table frame. The address space must not be
	// used afterwards.
	Release()
}

// ProcessID identifies a process.
type ProcessID uint32

// Process is an architecture specific process image.
type Process interface {
	// ID returns the process identifier.
	ID() ProcessID

	// AddressSpace returns the process's page tables.
	AddressSpace() AddressSpace

	// CPUState returns the process's register state.
	CPUState() CPUState

	// Release returns every frame owned by the process to the allocator.
	Release()
}

// ProcessFactory builds processes of type P.
//
// Creation is all or nothing: on error no frame allocated by the call
// remains allocated.
type ProcessFactory[P Process] interface {
	// CreateProcess builds a user process that starts executing at entry.
	CreateProcess(id ProcessID, entry memarch.Addr) (P, error)

	// CreatePrivilegedProcess builds a process that starts executing at
	// entry in kernel mode.
	CreatePrivilegedProcess(id ProcessID, entry memarch.Addr) (P, error)
}

// CacheController performs cache maintenance.
type CacheController interface {
	// Perform executes op. It fails with archerr.ErrUnsupported for
	// operation and cache type combinations the hardware cannot service.
	Perform(op CacheOperation) error
}

// Vector is a trap or interrupt vector number.
type Vector uint32

// InterruptController maps vectors to handlers of the trap state S.
type InterruptController[S any] interface {
	// Register installs h for v, replacing any previous handler. It
	// reports whether a previous handler was superseded.
	Register(v Vector, h func(*S)) (superseded bool, err error)

	// Unregister removes the handler for v.
	Unregister(v Vector) (bool, error)

	// Registered returns true if v has a handler.
	Registered(v Vector) bool

	// Dispatch runs the handler for v on state.
	Dispatch(v Vector, state *S) error

	// Len returns the number of vectors.
	Len() int
}
