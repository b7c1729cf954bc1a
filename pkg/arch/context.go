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

	"kestrel.dev/kestrel/pkg/cleanup"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// MemoryContext operates on one address space in page ranges.
//
// Range operations are all or nothing: if a page in the middle of the range
// fails, the pages already changed by the call are restored. Translation
// maintenance is issued once per call rather than once per page.
type MemoryContext struct {
	mm    *MemoryMap
	as    AddressSpace
	alloc pagetables.Allocator
	cache CacheController
}

// NewMemoryContext returns a context for as, which was built from mm. Frames
// for sparse mappings come from alloc.
func NewMemoryContext(mm *MemoryMap, as AddressSpace, alloc pagetables.Allocator, cache CacheController) *MemoryContext {
	return &MemoryContext{mm: mm, as: as, alloc: alloc, cache: cache}
}

// AddressSpace returns the underlying address space.
func (c *MemoryContext) AddressSpace() AddressSpace {
	return c.as
}

func checkRange(virt memarch.AddrRange) error {
	if !virt.WellFormed() || virt.Length() == 0 || !virt.IsPageAligned() {
		return fmt.Errorf("range %v: %w", virt, archerr.ErrInvalidAddress)
	}
	return nil
}

// pages calls fn for every page of virt, stopping at the first error.
func pages(virt memarch.AddrRange, fn func(page memarch.Addr) error) error {
	for page := virt.Start; page < virt.End; page += memarch.PageSize {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// mappedPage is the translation of one page.
type mappedPage struct {
	page    memarch.Addr
	mapping pagetables.Mapping
}

// mappedPages returns the translations of the mapped pages of virt.
func (c *MemoryContext) mappedPages(virt memarch.AddrRange) []mappedPage {
	var mapped []mappedPage
	pages(virt, func(page memarch.Addr) error {
		if m, ok := c.as.Lookup(page); ok {
			mapped = append(mapped, mappedPage{page: page, mapping: m})
		}
		return nil
	})
	return mapped
}

// checkUnmapped fails if any page of virt is mapped. Range mappings never
// replace translations, so a rollback restores exactly the previous state.
func (c *MemoryContext) checkUnmapped(virt memarch.AddrRange) error {
	if mapped := c.mappedPages(virt); len(mapped) != 0 {
		return fmt.Errorf("mapping %v: %v already mapped: %w", virt, mapped[0].page, archerr.ErrInvalidAddress)
	}
	return nil
}

// Activate makes the address space current. Translations cached for the
// previous address space are discarded.
func (c *MemoryContext) Activate() error {
	if err := c.cache.Perform(InvalidateOp(Translation)); err != nil {
		return fmt.Errorf("activating root %v: %w", c.as.Root(), err)
	}
	log.Debugf("Activated address space at %v", c.as.Root())
	return nil
}

// Access returns the permissions of the page containing virt.
func (c *MemoryContext) Access(virt memarch.Addr) (memarch.AccessType, error) {
	m, ok := c.as.Lookup(virt)
	if !ok {
		return memarch.NoAccess, fmt.Errorf("access of %v: %w", virt, archerr.ErrNotMapped)
	}
	return m.Access, nil
}

// MapRangeContiguous maps every page of virt to consecutive frames starting
// at phys.
func (c *MemoryContext) MapRangeContiguous(virt memarch.AddrRange, phys memarch.Addr, access memarch.AccessType) error {
	if err := checkRange(virt); err != nil {
		return err
	}
	if !phys.IsPageAligned() {
		return fmt.Errorf("physical address %v not page aligned: %w", phys, archerr.ErrInvalidAddress)
	}
	if err := c.checkUnmapped(virt); err != nil {
		return err
	}
	var cu cleanup.Cleanup
	defer cu.Clean()
	if err := pages(virt, func(page memarch.Addr) error {
		if err := c.as.Map(page, phys+(page-virt.Start), access); err != nil {
			return fmt.Errorf("mapping %v of %v: %w", page, virt, err)
		}
		cu.Add(func() { c.as.Unmap(page) })
		return nil
	}); err != nil {
		return err
	}
	cu.Release()
	return c.flush(virt, false)
}

// MapRangeSparse maps every page of virt to a newly allocated frame. The
// frames need not be contiguous.
func (c *MemoryContext) MapRangeSparse(virt memarch.AddrRange, access memarch.AccessType) error {
	if err := checkRange(virt); err != nil {
		return err
	}
	if err := c.checkUnmapped(virt); err != nil {
		return err
	}
	var cu cleanup.Cleanup
	defer cu.Clean()
	if err := pages(virt, func(page memarch.Addr) error {
		f, err := c.alloc.AllocateFrames(1, 1)
		if err != nil {
			return fmt.Errorf("backing %v of %v: %w", page, virt, err)
		}
		cu.Add(func() { c.alloc.ReleaseFrames(f, 1) })
		if err := c.as.Map(page, f.Address(), access); err != nil {
			return fmt.Errorf("mapping %v of %v: %w", page, virt, err)
		}
		cu.Add(func() { c.as.Unmap(page) })
		return nil
	}); err != nil {
		return err
	}
	cu.Release()
	return c.flush(virt, false)
}

// UnmapRange removes the translation of every page of virt. Every page must
// be mapped. The frames are not released.
func (c *MemoryContext) UnmapRange(virt memarch.AddrRange) error {
	if err := checkRange(virt); err != nil {
		return err
	}
	mapped := c.mappedPages(virt)
	if want := memarch.PagesIn(virt.Length()); uint64(len(mapped)) != want {
		return fmt.Errorf("unmapping %v: %d of %d pages mapped: %w", virt, len(mapped), want, archerr.ErrNotMapped)
	}
	if err := c.unmap(virt, mapped); err != nil {
		return err
	}
	return c.flush(virt, true)
}

// ReleaseRange unmaps every mapped page of virt and returns the frames that
// backed them to the allocator. Pages that are not mapped are skipped. The
// frames are released only after their translations are invalidated.
func (c *MemoryContext) ReleaseRange(virt memarch.AddrRange) error {
	if err := checkRange(virt); err != nil {
		return err
	}
	mapped := c.mappedPages(virt)
	if len(mapped) == 0 {
		return nil
	}
	if err := c.unmap(virt, mapped); err != nil {
		return err
	}
	if err := c.flush(virt, true); err != nil {
		return err
	}
	for _, mp := range mapped {
		c.alloc.ReleaseFrames(memarch.FrameOf(mp.mapping.Translate(mp.page)), 1)
	}
	log.Debugf("Released %d frames of %v in address space %v", len(mapped), virt, c.as.Root())
	return nil
}

// unmap removes the translations of mapped, restoring them all if one
// fails.
func (c *MemoryContext) unmap(virt memarch.AddrRange, mapped []mappedPage) error {
	var cu cleanup.Cleanup
	defer cu.Clean()
	for _, mp := range mapped {
		if err := c.as.Unmap(mp.page); err != nil {
			return fmt.Errorf("unmapping %v of %v: %w", mp.page, virt, err)
		}
		cu.Add(func() { c.as.Map(mp.page, mp.mapping.Translate(mp.page), mp.mapping.Access) })
	}
	cu.Release()
	return nil
}

// flush issues the maintenance that follows a change of the translations of
// virt. Unmapped pages are also written back and dropped from the data
// cache.
func (c *MemoryContext) flush(virt memarch.AddrRange, unmapped bool) error {
	single := memarch.PagesIn(virt.Length()) == 1
	var errs []error
	if unmapped {
		op := CleanInvalidateOp(Data)
		if single {
			op = CleanInvalidateAddressOp(Data, virt.Start)
		}
		errs = append(errs, c.cache.Perform(op))
	}
	op := InvalidateOp(Translation)
	if single {
		op = InvalidateTranslationOp(virt.Start)
	}
	errs = append(errs, c.cache.Perform(op))
	return errors.Join(errs...)
}

// FindFree returns the lowest range of size bytes, rounded up to whole
// pages, inside the region of kind k that has no page mapped.
func (c *MemoryContext) FindFree(size uint64, k RegionKind) (memarch.AddrRange, error) {
	r, ok := c.mm.Region(k)
	if !ok {
		return memarch.AddrRange{}, fmt.Errorf("no %v region: %w", k, archerr.ErrInvalidAddress)
	}
	if size == 0 {
		return memarch.AddrRange{}, fmt.Errorf("finding 0 bytes: %w", archerr.ErrInvalidAddress)
	}
	want := memarch.PagesIn(size) * memarch.PageSize
	start := r.Range.Start
	for page := r.Range.Start; page < r.Range.End; page += memarch.PageSize {
		if m, ok := c.as.Lookup(page); ok {
			// Skip past the whole translation.
			next, ok := m.Virtual.AddLength(m.Size)
			if !ok || next >= r.Range.End {
				break
			}
			start = next
			page = next - memarch.PageSize
			continue
		}
		if uint64(page-start)+memarch.PageSize >= want {
			return memarch.AddrRange{Start: start, End: start + memarch.Addr(want)}, nil
		}
	}
	return memarch.AddrRange{}, fmt.Errorf("no %d free bytes in %v: %w", size, k, archerr.ErrOutOfMemory)
}
