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

package intel

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Paging structure constants.
const (
	entriesPerPage = 1024

	pdeShift = 22
	pteShift = 12

	// largePageSize is the size mapped by a page directory entry with PS.
	largePageSize = 1 << pdeShift

	addrMask = 0xfffff000
)

// Page directory and page table entry bits.
const (
	present      = 1 << 0
	writable     = 1 << 1
	user         = 1 << 2
	writeThrough = 1 << 3
	cacheDisable = 1 << 4
	largePage    = 1 << 7
	global       = 1 << 8
)

// ptes is one page directory or page table.
type ptes struct {
	entries [entriesPerPage]uint32

	// valid is the number of present entries.
	valid int
}

func (p *ptes) set(i int, v uint32) {
	if p.entries[i]&present == 0 && v&present != 0 {
		p.valid++
	} else if p.entries[i]&present != 0 && v&present == 0 {
		p.valid--
	}
	p.entries[i] = v
}

// PageTables is a live x86 two-level page table.
type PageTables struct {
	mm    *arch.MemoryMap
	nodes *pagetables.Nodes[ptes]
	root  memarch.Frame
	dir   *ptes
}

var _ arch.Installer = (*PageTables)(nil)

// NewPageTables allocates an empty page directory.
func NewPageTables(mm *arch.MemoryMap, alloc pagetables.Allocator) (*PageTables, error) {
	nodes := pagetables.NewNodes[ptes](alloc, 1, 1)
	root, dir, err := nodes.New()
	if err != nil {
		return nil, err
	}
	return &PageTables{mm: mm, nodes: nodes, root: root, dir: dir}, nil
}

func entryBits(access memarch.AccessType, mt memarch.MemoryType, usr bool) uint32 {
	bits := uint32(present)
	if access.Write {
		bits |= writable
	}
	if usr {
		bits |= user
	}
	switch mt {
	case memarch.MemoryTypeUncached:
		bits |= cacheDisable | writeThrough
	case memarch.MemoryTypeWriteCombine:
		// Without PAT the closest available type is write-through.
		bits |= writeThrough
	}
	return bits
}

func decode(virt memarch.Addr, e uint32, size uint64) pagetables.Mapping {
	mt := memarch.MemoryTypeWriteBack
	switch {
	case e&cacheDisable != 0:
		mt = memarch.MemoryTypeUncached
	case e&writeThrough != 0:
		mt = memarch.MemoryTypeWriteCombine
	}
	return pagetables.Mapping{
		Virtual:  virt,
		Physical: memarch.Addr(e & addrMask),
		Size:     size,
		// Without NX every readable page is executable.
		Access: memarch.AccessType{Read: true, Write: e&writable != 0, Execute: true},
		Type:   mt,
		User:   e&user != 0,
	}
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
	return p.install(virt, phys, entryBits(access, r.Type, r.Kind.User()))
}

// install writes a 4 KiB translation, allocating the page table if needed.
func (p *PageTables) install(virt, phys memarch.Addr, bits uint32) error {
	pdi := int(virt >> pdeShift)
	pde := p.dir.entries[pdi]
	var table *ptes
	switch {
	case pde&present == 0:
		f, t, err := p.nodes.New()
		if err != nil {
			return err
		}
		// Permissions are enforced by the leaf entries.
		p.dir.set(pdi, uint32(f.Address())|present|writable|user)
		table = t
	case pde&largePage != 0:
		return fmt.Errorf("%v is inside a large page: %w", virt, archerr.ErrInvalidAddress)
	default:
		table = p.nodes.Lookup(memarch.FrameOf(memarch.Addr(pde & addrMask)))
	}
	table.set(int(virt>>pteShift)%entriesPerPage, uint32(phys)|bits)
	return nil
}

// MapFixed implements arch.Installer.MapFixed.
func (p *PageTables) MapFixed(r arch.Region) error {
	bits := entryBits(r.Access, r.Type, false) | global
	for virt := r.Range.Start; virt < r.Range.End; {
		phys := r.Translate(virt)
		if err := checkAddrs(virt, phys); err != nil {
			return err
		}
		if virt.IsAligned(largePageSize) && phys.IsAligned(largePageSize) && uint64(r.Range.End-virt) >= largePageSize {
			if p.dir.entries[virt>>pdeShift]&present != 0 {
				return fmt.Errorf("%v already mapped: %w", virt, archerr.ErrInvalidAddress)
			}
			p.dir.set(int(virt>>pdeShift), uint32(phys)|bits|largePage)
			virt += largePageSize
			continue
		}
		if err := p.install(virt, phys, bits); err != nil {
			return err
		}
		virt += memarch.PageSize
	}
	return nil
}

// Unmap implements arch.AddressSpace.Unmap. Page tables left empty are
// returned to the allocator.
func (p *PageTables) Unmap(virt memarch.Addr) error {
	if virt > maxAddr || !virt.IsPageAligned() {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrInvalidAddress)
	}
	if r, ok := p.mm.Find(virt); ok && r.Fixed {
		return fmt.Errorf("unmapping %v in fixed region %v: %w", virt, r.Kind, archerr.ErrInvalidAddress)
	}
	pdi := int(virt >> pdeShift)
	pde := p.dir.entries[pdi]
	if pde&present == 0 || pde&largePage != 0 {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrNotMapped)
	}
	tf := memarch.FrameOf(memarch.Addr(pde & addrMask))
	table := p.nodes.Lookup(tf)
	pti := int(virt>>pteShift) % entriesPerPage
	if table.entries[pti]&present == 0 {
		return fmt.Errorf("unmapping %v: %w", virt, archerr.ErrNotMapped)
	}
	table.set(pti, 0)
	if table.valid == 0 {
		p.dir.set(pdi, 0)
		p.nodes.Free(tf)
	}
	return nil
}

// Lookup implements arch.AddressSpace.Lookup.
func (p *PageTables) Lookup(virt memarch.Addr) (pagetables.Mapping, bool) {
	if virt > maxAddr {
		return pagetables.Mapping{}, false
	}
	pde := p.dir.entries[virt>>pdeShift]
	if pde&present == 0 {
		return pagetables.Mapping{}, false
	}
	if pde&largePage != 0 {
		return decode(virt&^(largePageSize-1), pde, largePageSize), true
	}
	table := p.nodes.Lookup(memarch.FrameOf(memarch.Addr(pde & addrMask)))
	pte := table.entries[int(virt>>pteShift)%entriesPerPage]
	if pte&present == 0 {
		return pagetables.Mapping{}, false
	}
	return decode(virt.RoundDown(), pte, memarch.PageSize), true
}

// Mappings implements arch.AddressSpace.Mappings.
func (p *PageTables) Mappings() []pagetables.Mapping {
	var ms []pagetables.Mapping
	for pdi, pde := range p.dir.entries {
		if pde&present == 0 {
			continue
		}
		base := memarch.Addr(pdi) << pdeShift
		if pde&largePage != 0 {
			ms = append(ms, decode(base, pde, largePageSize))
			continue
		}
		table := p.nodes.Lookup(memarch.FrameOf(memarch.Addr(pde & addrMask)))
		for pti, pte := range table.entries {
			if pte&present != 0 {
				ms = append(ms, decode(base+memarch.Addr(pti)<<pteShift, pte, memarch.PageSize))
			}
		}
	}
	return ms
}

// Root implements arch.AddressSpace.Root. It is the value loaded into CR3.
func (p *PageTables) Root() memarch.Frame {
	return p.root
}

// Nodes implements arch.AddressSpace.Nodes.
func (p *PageTables) Nodes() uint64 {
	return p.nodes.FrameCount()
}

// Release implements arch.AddressSpace.Release.
func (p *PageTables) Release() {
	if p.dir == nil {
		return
	}
	p.nodes.FreeAll()
	p.dir = nil
}
