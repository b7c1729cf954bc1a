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

package arm64

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Translation table geometry for the 4 KiB granule.
const (
	entriesPerPage = 512
	levels         = 4

	pgdShift = 39
	pudShift = 30
	pmdShift = 21
	pteShift = 12

	pudSize = 1 << pudShift
	pmdSize = 1 << pmdShift

	addrMask = 0x0000fffffffff000
)

// levelShift is the shift of the address bits indexing each level.
var levelShift = [levels]uint{pgdShift, pudShift, pmdShift, pteShift}

// Descriptor bits.
const (
	valid    = 1 << 0
	table    = 1 << 1 // Table at levels 0-2, page at level 3.
	attrIndx = 1 << 2
	apUser   = 1 << 6
	apRO     = 1 << 7
	shInner  = 3 << 8
	accessed = 1 << 10
	nG       = 1 << 11
	pxn      = 1 << 53
	uxn      = 1 << 54

	attrIndxMask = 7 << 2
)

// MAIR_EL1 attribute indexes.
const (
	mairNormal   = 0 // Normal, inner and outer write-back.
	mairDevice   = 1 // Device-nGnRE.
	mairNoncache = 2 // Normal, non-cacheable.

	// MAIR is the value programmed into MAIR_EL1.
	MAIR = 0xff | 0x04<<8 | 0x44<<16
)

// ptes is one translation table.
type ptes struct {
	entries [entriesPerPage]uint64
	valid   int
}

func (p *ptes) set(i int, v uint64) {
	if p.entries[i]&valid == 0 && v&valid != 0 {
		p.valid++
	} else if p.entries[i]&valid != 0 && v&valid == 0 {
		p.valid--
	}
	p.entries[i] = v
}

func index(virt memarch.Addr, level int) int {
	return int(uint64(virt)>>levelShift[level]) % entriesPerPage
}

func entryBits(access memarch.AccessType, mt memarch.MemoryType, usr bool) uint64 {
	bits := uint64(valid | accessed)
	switch mt {
	case memarch.MemoryTypeWriteBack:
		bits |= mairNormal*attrIndx | shInner
	case memarch.MemoryTypeWriteCombine:
		bits |= mairNoncache * attrIndx
	case memarch.MemoryTypeUncached:
		bits |= mairDevice * attrIndx
	}
	if !access.Write {
		bits |= apRO
	}
	if usr {
		bits |= apUser | nG | pxn
		if !access.Execute {
			bits |= uxn
		}
	} else {
		bits |= uxn
		if !access.Execute {
			bits |= pxn
		}
	}
	return bits
}

func decode(virt memarch.Addr, e uint64, size uint64) pagetables.Mapping {
	usr := e&apUser != 0
	exec := e&pxn == 0
	if usr {
		exec = e&uxn == 0
	}
	mt := memarch.MemoryTypeWriteBack
	switch (e & attrIndxMask) / attrIndx {
	case mairDevice:
		mt = memarch.MemoryTypeUncached
	case mairNoncache:
		mt = memarch.MemoryTypeWriteCombine
	}
	return pagetables.Mapping{
		Virtual:  virt,
		Physical: memarch.Addr(e & addrMask),
		Size:     size,
		Access:   memarch.AccessType{Read: true, Write: e&apRO == 0, Execute: exec},
		Type:     mt,
		User:     usr,
	}
}

// PageTables is a live AArch64 translation table pair.
type PageTables struct {
	mm    *arch.MemoryMap
	nodes *pagetables.Nodes[ptes]

	// lower translates user addresses (TTBR0_EL1) and upper translates
	// kernel addresses (TTBR1_EL1).
	lower, upper         memarch.Frame
	lowerRoot, upperRoot *ptes
}

var _ arch.Installer = (*PageTables)(nil)

// NewPageTables allocates empty lower and upper roots.
func NewPageTables(mm *arch.MemoryMap, alloc pagetables.Allocator) (*PageTables, error) {
	p := &PageTables{
		mm:    mm,
		nodes: pagetables.NewNodes[ptes](alloc, 1, 1),
	}
	var err error
	if p.lower, p.lowerRoot, err = p.nodes.New(); err != nil {
		return nil, err
	}
	if p.upper, p.upperRoot, err = p.nodes.New(); err != nil {
		p.nodes.FreeAll()
		return nil, err
	}
	return p, nil
}

// root returns the root translating virt.
func (p *PageTables) root(virt memarch.Addr) *ptes {
	if virt >= upperBottom {
		return p.upperRoot
	}
	return p.lowerRoot
}

func checkAddrs(virt, phys memarch.Addr) error {
	if !Canonical(virt) {
		return fmt.Errorf("%v is not canonical: %w", virt, archerr.ErrInvalidAddress)
	}
	if phys > lowerTop || !phys.IsPageAligned() {
		return fmt.Errorf("bad physical address %v: %w", phys, archerr.ErrInvalidAddress)
	}
	return nil
}

// Map implements arch.AddressSpace.Map.
func (p *PageTables) Map(virt, phys memarch.Addr, access memarch.AccessType) error {
	if err := checkAddrs(virt, phys); err != nil {
		return err
	}
	r, err := p.mm.CheckMap(virt, access)
	if err != nil {
		return err
	}
	return p.install(virt, phys, levels-1, entryBits(access, r.Type, r.Kind.User()))
}

// install writes a leaf descriptor at level, allocating intermediate tables.
// Tables allocated for a translation that then fails are freed again.
func (p *PageTables) install(virt, phys memarch.Addr, level int, bits uint64) error {
	var allocated []memarch.Frame
	t := p.root(virt)
	for l := 0; l < level; l++ {
		i := index(virt, l)
		e := t.entries[i]
		switch {
		case e&valid == 0:
			f, next, err := p.nodes.New()
			if err != nil {
				p.unwind(virt, allocated)
				return err
			}
			allocated = append(allocated, f)
			t.set(i, uint64(f.Address())|table|valid)
			t = next
		case e&table == 0:
			p.unwind(virt, allocated)
			return fmt.Errorf("%v is inside a block: %w", virt, archerr.ErrInvalidAddress)
		default:
			t = p.nodes.Lookup(memarch.FrameOf(memarch.Addr(e & addrMask)))
		}
	}
	if level == levels-1 {
		bits |= table
	}
	t.set(index(virt, level), uint64(phys)|bits)
	return nil
}

// unwind frees tables allocated by a failed install, deepest first.
func (p *PageTables) unwind(virt memarch.Addr, allocated []memarch.Frame) {
	for i := len(allocated) - 1; i >= 0; i-- {
		p.clearTableEntry(virt, allocated[i])
		p.nodes.Free(allocated[i])
	}
}

// clearTableEntry clears the table descriptor pointing at f on the path to
// virt.
func (p *PageTables) clearTableEntry(virt memarch.Addr, f memarch.Frame) {
	t := p.root(virt)
	for l := 0; l < levels-1; l++ {
		i := index(virt, l)
		e := t.entries[i]
		if e&valid == 0 || e&table == 0 {
			return
		}
		child := memarch.FrameOf(memarch.Addr(e & addrMask))
		if child == f {
			t.set(i, 0)
			return
		}
		t = p.nodes.Lookup(child)
	}
}

// MapFixed implements arch.Installer.MapFixed.
func (p *PageTables) MapFixed(r arch.Region) error {
	bits := entryBits(r.Access, r.Type, false)
	for virt := r.Range.Start; virt < r.Range.End; {
		phys := r.Translate(virt)
		if err := checkAddrs(virt, phys); err != nil {
			return err
		}
		left := uint64(r.Range.End - virt)
		level, size := levels-1, uint64(memarch.PageSize)
		switch {
		case virt.IsAligned(pudSize) && phys.IsAligned(pudSize) && left >= pudSize:
			level, size = 1, pudSize
		case virt.IsAligned(pmdSize) && phys.IsAligned(pmdSize) && left >= pmdSize:
			level, size = 2, pmdSize
		}
		if _, ok := p.Lookup(virt); ok {
			return fmt.Errorf("%v already mapped: %w", virt, archerr.ErrInvalidAddress)
		}
		if err := p.install(virt, phys, level, bits); err != nil {
			return err
		}
		virt += memarch.Addr(size)
	}
	return nil
}

// Unmap implements arch.AddressSpace.Unmap. Tables left empty are returned
// to the allocator.
func (p *PageTables) Unmap(virt memarch.Addr) error {
	if !Canonical(virt) || !virt.IsPageAligned() {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrInvalidAddress)
	}
	if r, ok := p.mm.Find(virt); ok && r.Fixed {
		return fmt.Errorf("unmapping %v in fixed region %v: %w", virt, r.Kind, archerr.ErrInvalidAddress)
	}
	var (
		path   [levels]*ptes
		frames [levels]memarch.Frame
	)
	t := p.root(virt)
	for l := 0; l < levels; l++ {
		path[l] = t
		e := t.entries[index(virt, l)]
		if e&valid == 0 {
			return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrNotMapped)
		}
		if l == levels-1 {
			break
		}
		if e&table == 0 {
			return fmt.Errorf("unmapping %v inside a block: %w", virt, archerr.ErrInvalidAddress)
		}
		frames[l+1] = memarch.FrameOf(memarch.Addr(e & addrMask))
		t = p.nodes.Lookup(frames[l+1])
	}
	path[levels-1].set(index(virt, levels-1), 0)
	// Roots are never freed.
	for l := levels - 1; l > 0 && path[l].valid == 0; l-- {
		path[l-1].set(index(virt, l-1), 0)
		p.nodes.Free(frames[l])
	}
	return nil
}

// Lookup implements arch.AddressSpace.Lookup.
func (p *PageTables) Lookup(virt memarch.Addr) (pagetables.Mapping, bool) {
	if !Canonical(virt) {
		return pagetables.Mapping{}, false
	}
	t := p.root(virt)
	for l := 0; l < levels; l++ {
		e := t.entries[index(virt, l)]
		if e&valid == 0 {
			return pagetables.Mapping{}, false
		}
		size := uint64(1) << levelShift[l]
		if l == levels-1 || e&table == 0 {
			return decode(virt&^memarch.Addr(size-1), e, size), true
		}
		t = p.nodes.Lookup(memarch.FrameOf(memarch.Addr(e & addrMask)))
	}
	panic("unreachable")
}

// Mappings implements arch.AddressSpace.Mappings.
func (p *PageTables) Mappings() []pagetables.Mapping {
	var ms []pagetables.Mapping
	ms = p.walk(ms, p.lowerRoot, 0, 0)
	return p.walk(ms, p.upperRoot, 0, upperBottom)
}

func (p *PageTables) walk(ms []pagetables.Mapping, t *ptes, level int, base memarch.Addr) []pagetables.Mapping {
	for i, e := range t.entries {
		if e&valid == 0 {
			continue
		}
		virt := base | memarch.Addr(i)<<levelShift[level]
		if level == levels-1 || e&table == 0 {
			ms = append(ms, decode(virt, e, uint64(1)<<levelShift[level]))
			continue
		}
		ms = p.walk(ms, p.nodes.Lookup(memarch.FrameOf(memarch.Addr(e&addrMask))), level+1, virt)
	}
	return ms
}

// Root implements arch.AddressSpace.Root. It is the TTBR0_EL1 table; the
// kernel half is translated through UpperRoot.
func (p *PageTables) Root() memarch.Frame {
	return p.lower
}

// UpperRoot returns the TTBR1_EL1 table.
func (p *PageTables) UpperRoot() memarch.Frame {
	return p.upper
}

// Nodes implements arch.AddressSpace.Nodes.
func (p *PageTables) Nodes() uint64 {
	return p.nodes.FrameCount()
}

// Release implements arch.AddressSpace.Release.
func (p *PageTables) Release() {
	if p.lowerRoot == nil {
		return
	}
	p.nodes.FreeAll()
	p.lowerRoot, p.upperRoot = nil, nil
}
