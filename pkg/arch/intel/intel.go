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

// Package intel implements the architecture layer for 32-bit x86 processors:
// two-level paging with 4 MiB pages for fixed kernel regions, hardware
// coherent caches, and the 256 entry interrupt descriptor table.
package intel

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/sync"
)

// Arch is the architecture implemented by this package.
const Arch = arch.Intel

const (
	kib = 1 << 10
	mib = 1 << 20
)

// maxAddr is the last addressable byte, virtual or physical.
const maxAddr = 1<<32 - 1

func region(kind arch.RegionKind, base, size uint64, access memarch.AccessType) arch.Region {
	return arch.Region{
		Kind:   kind,
		Range:  memarch.AddrRange{Start: memarch.Addr(base), End: memarch.Addr(base + size)},
		Access: access,
		Type:   memarch.MemoryTypeWriteBack,
	}
}

func fixed(r arch.Region, phys uint64, mt memarch.MemoryType) arch.Region {
	r.Fixed = true
	r.Physical = memarch.Addr(phys)
	r.Type = mt
	return r
}

// MemoryMap returns the x86 address space layout: the kernel occupies the
// low 128 MiB and user regions sit between 2 GiB and 3.25 GiB.
var MemoryMap = sync.OnceValue(func() *arch.MemoryMap {
	m, err := arch.NewMemoryMap(Arch.String(),
		fixed(region(arch.KernelIO, 0, 1*mib, memarch.ReadWrite), 0, memarch.MemoryTypeUncached),
		fixed(region(arch.KernelData, 0x400000, 60*mib, memarch.AnyAccess), 0x400000, memarch.MemoryTypeWriteBack),
		region(arch.KernelPrivate, 0x4000000, 64*mib, memarch.ReadWrite),
		region(arch.KernelTemporary, 0x8000000, 4*mib, memarch.ReadWrite),
		region(arch.UserData, 0x80000000, 256*mib, memarch.AnyAccess),
		region(arch.UserPrivate, 0xa0000000, 256*mib, memarch.ReadWrite),
		region(arch.UserHeap, 0xb0000000, 256*mib, memarch.ReadWrite),
		region(arch.UserStack, 0xc0000000, 16*kib, memarch.ReadWrite),
		region(arch.UserArgs, 0xc0400000, 64*kib, memarch.ReadWrite),
		region(arch.UserShare, 0xd0000000, 256*mib, memarch.ReadWrite),
	)
	if err != nil {
		panic(err)
	}
	return m
})
