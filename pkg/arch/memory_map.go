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
	"sort"

	"github.com/google/btree"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
)

// MemoryMap is the canonical layout of an architecture's virtual address
// space. It is a template that seeds each process's page tables; it is
// immutable once built and safe for concurrent use.
type MemoryMap struct {
	name string

	// regions is ordered by Range.Start.
	regions []Region

	// index orders regions by Range.Start for containing-region lookups.
	index *btree.BTreeG[Region]

	byKind map[RegionKind]Region

	kernel memarch.AddrRange
	user   memarch.AddrRange
}

func regionLess(a, b Region) bool {
	return a.Range.Start < b.Range.Start
}

// NewMemoryMap validates regions and builds a MemoryMap from them. Regions
// must be page aligned and non-empty, must not overlap, must have unique
// kinds, and the span of kernel regions must not overlap the span of user
// regions. Violations wrap archerr.ErrInvalidAddress.
func NewMemoryMap(name string, regions ...Region) (*MemoryMap, error) {
	m := &MemoryMap{
		name:    name,
		regions: append([]Region(nil), regions...),
		index:   btree.NewG(2, regionLess),
		byKind:  make(map[RegionKind]Region, len(regions)),
	}
	sort.Slice(m.regions, func(i, j int) bool { return regionLess(m.regions[i], m.regions[j]) })

	var haveKernel, haveUser bool
	for i, r := range m.regions {
		if !r.Range.WellFormed() || r.Range.Length() == 0 || !r.Range.IsPageAligned() {
			return nil, fmt.Errorf("%s: region %v has bad range %v: %w", name, r.Kind, r.Range, archerr.ErrInvalidAddress)
		}
		if r.Fixed && !r.Physical.IsPageAligned() {
			return nil, fmt.Errorf("%s: region %v has unaligned physical base %v: %w", name, r.Kind, r.Physical, archerr.ErrInvalidAddress)
		}
		if !r.Access.Any() {
			return nil, fmt.Errorf("%s: region %v allows no access: %w", name, r.Kind, archerr.ErrInvalidAddress)
		}
		if _, dup := m.byKind[r.Kind]; dup {
			return nil, fmt.Errorf("%s: duplicate region %v: %w", name, r.Kind, archerr.ErrInvalidAddress)
		}
		if i > 0 && m.regions[i-1].Range.Overlaps(r.Range) {
			return nil, fmt.Errorf("%s: region %v overlaps %v: %w", name, r.Kind, m.regions[i-1].Kind, archerr.ErrInvalidAddress)
		}
		m.byKind[r.Kind] = r
		m.index.ReplaceOrInsert(r)
		if r.Kind.User() {
			m.user = spanUnion(m.user, r.Range, haveUser)
			haveUser = true
		} else {
			m.kernel = spanUnion(m.kernel, r.Range, haveKernel)
			haveKernel = true
		}
	}
	if haveKernel && haveUser && m.kernel.Overlaps(m.user) {
		return nil, fmt.Errorf("%s: kernel span %v overlaps user span %v: %w", name, m.kernel, m.user, archerr.ErrInvalidAddress)
	}
	return m, nil
}

func spanUnion(span, r memarch.AddrRange, have bool) memarch.AddrRange {
	if !have {
		return r
	}
	return span.Union(r)
}

// Name returns the name of the architecture the map describes.
func (m *MemoryMap) Name() string {
	return m.name
}

// Regions returns the regions ordered by base address.
func (m *MemoryMap) Regions() []Region {
	return append([]Region(nil), m.regions...)
}

// Region returns the region of the given kind.
func (m *MemoryMap) Region(kind RegionKind) (Region, bool) {
	r, ok := m.byKind[kind]
	return r, ok
}

// Find returns the region containing addr.
func (m *MemoryMap) Find(addr memarch.Addr) (Region, bool) {
	var (
		found Region
		ok    bool
	)
	m.index.DescendLessOrEqual(Region{Range: memarch.AddrRange{Start: addr}}, func(r Region) bool {
		found, ok = r, r.Range.Contains(addr)
		return false
	})
	return found, ok
}

// KernelRange returns the smallest range covering every kernel region.
func (m *MemoryMap) KernelRange() memarch.AddrRange {
	return m.kernel
}

// UserRange returns the smallest range covering every user region.
func (m *MemoryMap) UserRange() memarch.AddrRange {
	return m.user
}

// FixedRegions returns the regions mapped identically in every address
// space, ordered by base address.
func (m *MemoryMap) FixedRegions() []Region {
	var fixed []Region
	for _, r := range m.regions {
		if r.Fixed {
			fixed = append(fixed, r)
		}
	}
	return fixed
}

// CheckMap returns the region that a page translation at virt with the given
// access would be installed in. It fails with archerr.ErrInvalidAddress if
// virt is not page aligned, lies outside every region or in a Fixed region,
// or if access is empty or exceeds what the region allows.
func (m *MemoryMap) CheckMap(virt memarch.Addr, access memarch.AccessType) (Region, error) {
	if !virt.IsPageAligned() {
		return Region{}, fmt.Errorf("%v is not page aligned: %w", virt, archerr.ErrInvalidAddress)
	}
	r, ok := m.Find(virt)
	if !ok {
		return Region{}, fmt.Errorf("%v is outside the %s memory map: %w", virt, m.name, archerr.ErrInvalidAddress)
	}
	if r.Fixed {
		return Region{}, fmt.Errorf("%v is in fixed region %v: %w", virt, r.Kind, archerr.ErrInvalidAddress)
	}
	if !access.Any() {
		return Region{}, fmt.Errorf("mapping %v with no access: %w", virt, archerr.ErrInvalidAddress)
	}
	if !r.Access.SupersetOf(access) {
		return Region{}, fmt.Errorf("access %v exceeds %v allowed in %v: %w", access, r.Access, r.Kind, archerr.ErrInvalidAddress)
	}
	return r, nil
}
