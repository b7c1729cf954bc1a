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
	"fmt"

	"kestrel.dev/kestrel/pkg/memarch"
)

// RegionKind identifies a region of the virtual address space.
type RegionKind int

// Region kinds. Kernel kinds come first.
const (
	// KernelIO holds device registers.
	KernelIO RegionKind = iota
	// KernelData holds the kernel image and its direct map of memory.
	KernelData
	// KernelPrivate is kernel memory mapped on demand.
	KernelPrivate
	// KernelTemporary is a window for short-lived kernel mappings.
	KernelTemporary
	// VectorPage holds the exception vectors where the hardware requires
	// them at a fixed address.
	VectorPage
	// UserData holds program text and data.
	UserData
	// UserHeap holds the program heap.
	UserHeap
	// UserPrivate holds private anonymous mappings.
	UserPrivate
	// UserShare holds memory shared with other processes.
	UserShare
	// UserArgs holds the program arguments.
	UserArgs
	// UserStack holds the initial stack.
	UserStack
	numRegionKinds
)

var regionKindNames = [...]string{
	KernelIO:        "KernelIO",
	KernelData:      "KernelData",
	KernelPrivate:   "KernelPrivate",
	KernelTemporary: "KernelTemporary",
	VectorPage:      "VectorPage",
	UserData:        "UserData",
	UserHeap:        "UserHeap",
	UserPrivate:     "UserPrivate",
	UserShare:       "UserShare",
	UserArgs:        "UserArgs",
	UserStack:       "UserStack",
}

// String implements fmt.Stringer.
func (k RegionKind) String() string {
	if k >= 0 && k < numRegionKinds {
		return regionKindNames[k]
	}
	return fmt.Sprintf("RegionKind(%d)", int(k))
}

// User returns true if regions of this kind belong to the user part of the
// address space.
func (k RegionKind) User() bool {
	return k >= UserData && k < numRegionKinds
}

// Region is one contiguous range of a memory map.
type Region struct {
	// Kind identifies the region.
	Kind RegionKind

	// Range is the virtual address range.
	Range memarch.AddrRange

	// Fixed is true if the region is mapped to Physical in every address
	// space. Fixed regions cannot be changed through Map.
	Fixed bool

	// Physical is the physical base of a Fixed region.
	Physical memarch.Addr

	// Access is the widest access allowed to translations in the region.
	Access memarch.AccessType

	// Type is the cacheability of translations in the region.
	Type memarch.MemoryType
}

// String implements fmt.Stringer.
func (r Region) String() string {
	s := fmt.Sprintf("%-15s %v %v %s", r.Kind, r.Range, r.Access, r.Type.ShortString())
	if r.Fixed {
		s += fmt.Sprintf(" @%v", r.Physical)
	}
	return s
}

// Translate returns the physical address of virt in a Fixed region.
//
// Precondition: r.Fixed && r.Range.Contains(virt).
func (r Region) Translate(virt memarch.Addr) memarch.Addr {
	return r.Physical + (virt - r.Range.Start)
}
