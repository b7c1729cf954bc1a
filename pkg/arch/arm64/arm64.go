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

// Package arm64 implements the architecture layer for ARMv8-A processors in
// AArch64 state: four level 48-bit translation tables with separate roots for
// the lower (user) and upper (kernel) halves, line granular cache maintenance,
// and the sixteen entry exception vector table.
package arm64

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/sync"
)

// Arch is the architecture implemented by this package.
const Arch = arch.ARM64

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// Address space layout constants.
const (
	lowerTop    = 0x0000ffffffffffff
	upperBottom = 0xffff000000000000
)

// Canonical returns whether addr is translated by either root.
func Canonical(addr memarch.Addr) bool {
	return addr <= lowerTop || addr >= upperBottom
}

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

// MemoryMap returns the AArch64 address space layout: user regions in the
// lower half translated through TTBR0, the kernel at the bottom of the upper
// half translated through TTBR1.
var MemoryMap = sync.OnceValue(func() *arch.MemoryMap {
	m, err := arch.NewMemoryMap(Arch.String(),
		region(arch.UserData, 0x400000, 1*gib-0x400000, memarch.AnyAccess),
		region(arch.UserHeap, 0x40000000, 1*gib, memarch.ReadWrite),
		region(arch.UserPrivate, 0x80000000, 1*gib, memarch.ReadWrite),
		region(arch.UserShare, 0xc0000000, 1*gib, memarch.ReadWrite),
		region(arch.UserArgs, 0xffffffef0000, 64*kib, memarch.ReadWrite),
		region(arch.UserStack, 0xfffffff00000, 64*kib, memarch.ReadWrite),
		fixed(region(arch.KernelData, upperBottom, 1*gib, memarch.AnyAccess), 0, memarch.MemoryTypeWriteBack),
		region(arch.KernelPrivate, upperBottom+0x40000000, 1*gib, memarch.ReadWrite),
		region(arch.KernelTemporary, upperBottom+0x80000000, 2*mib, memarch.ReadWrite),
		fixed(region(arch.KernelIO, upperBottom+0xc0000000, 16*mib, memarch.ReadWrite), 0x3f000000, memarch.MemoryTypeUncached),
	)
	if err != nil {
		panic(err)
	}
	return m
})
