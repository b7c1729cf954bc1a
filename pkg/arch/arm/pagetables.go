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

package arm

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Translation table geometry.
const (
	l1Entries = 4096
	l2Entries = 256

	sectionShift = 20
	sectionSize  = 1 << sectionShift

	// The first level table is 16 KiB and must be 16 KiB aligned.
	l1Frames = 4

	sectionMask = 0xfff00000
	coarseMask  = 0xfffffc00
	smallMask   = 0xfffff000
)

// First level descriptor bits.
const (
	l1Coarse  = 0b01
	l1Section = 0b10
	l1Type    = 0b11

	sectB   = 1 << 2
	sectC   = 1 << 3
	sectXN  = 1 << 4
	sectAP0 = 1 << 10
	sectTEX = 1 << 12
	sectAPX = 1 << 15
	sectNG  = 1 << 17
)

// Second level small page descriptor bits.
const (
	smallXN   = 1 << 0
	smallPage = 1 << 1
	smallB    = 1 << 2
	smallC    = 1 << 3
	smallAP0  = 1 << 4
	smallTEX  = 1 << 6
	smallAPX  = 1 << 9
	smallNG   = 1 << 11
)

// attrs are the access and memory type fields shared by sections and small
// pages, before they are shifted into place.
type attrs struct {
	ap  uint32 // AP[1:0]
	apx bool
	tex uint32
	c   bool
	b   bool
	xn  bool
	ng  bool
}

func encodeAttrs(access memarch.AccessType, mt memarch.MemoryType, usr bool) attrs {
	var a attrs
	switch {
	case usr && access.Write:
		a.ap = 0b11
	case usr:
		a.ap, a.apx = 0b10, true
	case access.Write:
		a.ap = 0b01
	default:
		a.ap, a.apx = 0b01, true
	}
	switch mt {
	case memarch.MemoryTypeWriteBack:
		a.tex, a.c, a.b = 0b001, true, true
	case memarch.MemoryTypeWriteCombine:
		a.tex = 0b001
	case memarch.MemoryTypeUncached:
		// Shared device.
		a.b = true
	}
	a.xn = !access.Execute
	a.ng = usr
	return a
}

func decodeAttrs(a attrs) (memarch.AccessType, memarch.MemoryType, bool) {
	usr := a.ap&0b10 != 0
	access := memarch.AccessType{
		Read:    true,
		Write:   !a.apx,
		Execute: !a.xn,
	}
	mt := memarch.MemoryTypeUncached
	switch {
	case a.tex == 0b001 && a.c && a.b:
		mt = memarch.MemoryTypeWriteBack
	case a.tex == 0b001:
		mt = memarch.MemoryTypeWriteCombine
	}
	return access, mt, usr
}

func bit(set bool, v uint32) uint32 {
	if set {
		return v
	}
	return 0
}

func (a attrs) section() uint32 {
	return l1Section | a.ap*sectAP0 | a.tex*sectTEX | bit(a.apx, sectAPX) |
		bit(a.c, sectC) | bit(a.b, sectB) | bit(a.xn, sectXN) | bit(a.ng, sectNG)
}

func (a attrs) small() uint32 {
	return smallPage | a.ap*smallAP0 | a.tex*smallTEX | bit(a.apx, smallAPX) |
		bit(a.c, smallC) | bit(a.b, smallB) | bit(a.xn, smallXN) | bit(a.ng, smallNG)
}

func sectionAttrs(e uint32) attrs {
	return attrs{
		ap:  (e / sectAP0) & 0b11,
		apx: e&sectAPX != 0,
		tex: (e / sectTEX) & 0b111,
		c:   e&sectC != 0,
		b:   e&sectB != 0,
		xn:  e&sectXN != 0,
		ng:  e&sectNG != 0,
	}
}

func smallAttrs(e uint32) attrs {
	return attrs{
		ap:  (e / smallAP0) & 0b11,
		apx: e&smallAPX != 0,
		tex: (e / smallTEX) & 0b111,
		c:   e&smallC != 0,
		b:   e&smallB != 0,
		xn:  e&smallXN != 0,
		ng:  e&smallNG != 0,
	}
}

// l1Table is the first level translation table.
type l1Table struct {
	entries [l1Entries]uint32
}

// l2Table is a second level (coarse) table. The hardware table is 1 KiB;
// each one is given a frame of its own.
type l2Table struct {
	entries [l2Entries]uint32
	valid   int
}

// PageTables is a live ARMv7 short-descriptor translation table.
type PageTables struct {
	mm   *arch.MemoryMap
	l1   *pagetables.Nodes[l1Table]
	l2   *pagetables.Nodes[l2Table]
	root memarch.Frame
	top  *l1Table
}

var _ arch.Installer = (*PageTables)(nil)

// NewPageTables allocates an empty first level table.
func NewPageTables(mm *arch.MemoryMap, alloc pagetables.Allocator) (*PageTables, error) {
	l1 := pagetables.NewNodes[l1Table](alloc, l1Frames, l1Frames)
	root, top, err := l1.New()
	if err != nil {
		return nil, err
	}
	return &PageTables{
		mm:   mm,
		l1:   l1,
		l2:   pagetables.NewNodes[l2Table](alloc, 1, 1),
		root: root,
		top:  top,
	}, nil
}

func checkAddrs(virt, phys memarch.Addr) error {
	if virt > maxAddr || phys > maxAddr {
		return fmt.Errorf("%v -> %v beyond 32 bits: %w", virt, phys, archerr.ErrInvalidAddress)
	}
	if !phys.IsPageAligned() {
		return fmt.Errorf("physical address %v not page aligned: %w", phys, archerr.ErrInvalidAddress)
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
	return p.install(virt, phys, encodeAttrs(access, r.Type, r.Kind.User()))
}

func (p *PageTables) install(virt, phys memarch.Addr, a attrs) error {
	i := int(virt >> sectionShift)
	e := p.top.entries[i]
	var table *l2Table
	switch e & l1Type {
	case 0:
		f, t, err := p.l2.New()
		if err != nil {
			return err
		}
		p.top.entries[i] = uint32(f.Address()) | l1Coarse
		table = t
	case l1Coarse:
		table = p.l2.Lookup(memarch.FrameOf(memarch.Addr(e & coarseMask)))
	default:
		return fmt.Errorf("%v is inside a section: %w", virt, archerr.ErrInvalidAddress)
	}
	j := int(virt>>memarch.PageShift) % l2Entries
	if table.entries[j] == 0 {
		table.valid++
	}
	table.entries[j] = uint32(phys) | a.small()
	return nil
}

// MapFixed implements arch.Installer.MapFixed.
func (p *PageTables) MapFixed(r arch.Region) error {
	a := encodeAttrs(r.Access, r.Type, false)
	for virt := r.Range.Start; virt < r.Range.End; {
		phys := r.Translate(virt)
		if err := checkAddrs(virt, phys); err != nil {
			return err
		}
		if virt.IsAligned(sectionSize) && phys.IsAligned(sectionSize) && uint64(r.Range.End-virt) >= sectionSize {
			i := int(virt >> sectionShift)
			if p.top.entries[i] != 0 {
				return fmt.Errorf("%v already mapped: %w", virt, archerr.ErrInvalidAddress)
			}
			p.top.entries[i] = uint32(phys) | a.section()
			virt += sectionSize
			continue
		}
		if err := p.install(virt, phys, a); err != nil {
			return err
		}
		virt += memarch.PageSize
	}
	return nil
}

// Unmap implements arch.AddressSpace.Unmap. Second level tables left empty
// are returned to the allocator.
func (p *PageTables) Unmap(virt memarch.Addr) error {
	if virt > maxAddr || !virt.IsPageAligned() {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrInvalidAddress)
	}
	if r, ok := p.mm.Find(virt); ok && r.Fixed {
		return fmt.Errorf("unmapping %v in fixed region %v: %w", virt, r.Kind, archerr.ErrInvalidAddress)
	}
	i := int(virt >> sectionShift)
	e := p.top.entries[i]
	if e&l1Type != l1Coarse {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrNotMapped)
	}
	tf := memarch.FrameOf(memarch.Addr(e & coarseMask))
	table := p.l2.Lookup(tf)
	j := int(virt>>memarch.PageShift) % l2Entries
	if table.entries[j] == 0 {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrNotMapped)
	}
	table.entries[j] = 0
	table.valid--
	if table.valid == 0 {
		p.top.entries[i] = 0
		p.l2.Free(tf)
	}
	return nil
}

func sectionMapping(virt memarch.Addr, e uint32) pagetables.Mapping {
	access, mt, usr := decodeAttrs(sectionAttrs(e))
	return pagetables.Mapping{
		Virtual:  virt,
		Physical: memarch.Addr(e & sectionMask),
		Size:     sectionSize,
		Access:   access,
		Type:     mt,
		User:     usr,
	}
}

func smallMapping(virt memarch.Addr, e uint32) pagetables.Mapping {
	access, mt, usr := decodeAttrs(smallAttrs(e))
	return pagetables.Mapping{
		Virtual:  virt,
		Physical: memarch.Addr(e & smallMask),
		Size:     memarch.PageSize,
		Access:   access,
		Type:     mt,
		User:     usr,
	}
}

// Lookup implements arch.AddressSpace.Lookup.
func (p *PageTables) Lookup(virt memarch.Addr) (pagetables.Mapping, bool) {
	if virt > maxAddr {
		return pagetables.Mapping{}, false
	}
	e := p.top.entries[virt>>sectionShift]
	switch e & l1Type {
	case l1Section:
		return sectionMapping(virt&^(sectionSize-1), e), true
	case l1Coarse:
		table := p.l2.Lookup(memarch.FrameOf(memarch.Addr(e & coarseMask)))
		pte := table.entries[int(virt>>memarch.PageShift)%l2Entries]
		if pte == 0 {
			return pagetables.Mapping{}, false
		}
		return smallMapping(virt.RoundDown(), pte), true
	default:
		return pagetables.Mapping{}, false
	}
}

// Mappings implements arch.AddressSpace.Mappings.
func (p *PageTables) Mappings() []pagetables.Mapping {
	var ms []pagetables.Mapping
	for i, e := range p.top.entries {
		base := memarch.Addr(i) << sectionShift
		switch e & l1Type {
		case l1Section:
			ms = append(ms, sectionMapping(base, e))
		case l1Coarse:
			table := p.l2.Lookup(memarch.FrameOf(memarch.Addr(e & coarseMask)))
			for j, pte := range table.entries {
				if pte != 0 {
					ms = append(ms, smallMapping(base+memarch.Addr(j)<<memarch.PageShift, pte))
				}
			}
		}
	}
	return ms
}

// Root implements arch.AddressSpace.Root. It is the value loaded into TTBR0.
func (p *PageTables) Root() memarch.Frame {
	return p.root
}

// Nodes implements arch.AddressSpace.Nodes.
func (p *PageTables) Nodes() uint64 {
	return p.l1.FrameCount() + p.l2.FrameCount()
}

// Release implements arch.AddressSpace.Release.
func (p *PageTables) Release() {
	if p.top == nil {
		return
	}
	p.l2.FreeAll()
	p.l1.FreeAll()
	p.top = nil
}
