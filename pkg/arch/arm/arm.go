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

// Package arm implements the architecture layer for ARMv7-A processors:
// short-descriptor translation tables, page granular cache maintenance and
// the eight entry exception vector table.
package arm

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/sync"
)

// Arch is the architecture implemented by this package.
const Arch = arch.ARM

const (
	kib = 1 << 10
	mib = 1 << 20
)

// maxAddr is the last addressable byte, virtual or physical.
const maxAddr = 1<<32 - 1

func region(kind arch.RegionKind, base, end uint64, access memarch.AccessType) arch.Region {
	return arch.Region{
		Kind:   kind,
		Range:  memarch.AddrRange{Start: memarch.Addr(base), End: memarch.Addr(end)},
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

// MemoryMap returns the ARMv7 address space layout: user regions below
// 3 GiB, the kernel above, and the high exception vector page at 0xffff0000.
var MemoryMap = sync.OnceValue(func() *arch.MemoryMap {
	m, err := arch.NewMemoryMap(Arch.String(),
		region(arch.UserData, 0x400000, 0x10000000, memarch.AnyAccess),
		region(arch.UserHeap, 0x10000000, 0x20000000, memarch.ReadWrite),
		region(arch.UserPrivate, 0x20000000, 0x30000000, memarch.ReadWrite),
		region(arch.UserShare, 0x30000000, 0x40000000, memarch.ReadWrite),
		region(arch.UserArgs, 0xbef00000, 0xbef00000+64*kib, memarch.ReadWrite),
		region(arch.UserStack, 0xbeffc000, 0xbf000000, memarch.ReadWrite),
		fixed(region(arch.KernelData, 0xc0000000, 0xc0000000+64*mib, memarch.AnyAccess), 0, memarch.MemoryTypeWriteBack),
		region(arch.KernelPrivate, 0xc4000000, 0xc8000000, memarch.ReadWrite),
		region(arch.KernelTemporary, 0xc8000000, 0xc8000000+1*mib, memarch.ReadWrite),
		fixed(region(arch.KernelIO, 0xf0000000, 0xf1000000, memarch.ReadWrite), 0x3f000000, memarch.MemoryTypeUncached),
		fixed(region(arch.VectorPage, 0xffff0000, 0xffff1000, memarch.ReadExecute), 0, memarch.MemoryTypeWriteBack),
	)
	if err != nil {
		panic(err)
	}
	return m
})
