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

package cache

import (
	"fmt"

	"github.com/google/btree"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/atomicbitops"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
	"kestrel.dev/kestrel/pkg/sync"
)

// Walker is the page table walk a TLB miss falls back to.
type Walker interface {
	// Root identifies the address space; entries of different roots
	// never alias.
	Root() memarch.Frame

	// Lookup returns the translation containing virt.
	Lookup(virt memarch.Addr) (pagetables.Mapping, bool)
}

// entry is one cached translation, keyed by address space root and the page
// that missed.
type entry struct {
	root    memarch.Frame
	page    memarch.Addr
	mapping pagetables.Mapping
}

func entryLess(a, b entry) bool {
	if a.root != b.root {
		return a.root < b.root
	}
	return a.page < b.page
}

// TLB is a translation lookaside buffer. Once a translation has been walked
// it is served from the TLB until invalidated, even if the page tables
// change underneath it.
type TLB struct {
	mu sync.Mutex

	// +checklocks:mu
	entries *btree.BTreeG[entry]

	hits   atomicbitops.Uint64
	misses atomicbitops.Uint64
}

// NewTLB returns an empty TLB.
func NewTLB() *TLB {
	return &TLB{entries: btree.NewG(2, entryLess)}
}

// Translate returns the translation of virt in w, walking w on a miss and
// caching the result.
func (t *TLB) Translate(w Walker, virt memarch.Addr) (pagetables.Mapping, bool) {
	key := entry{root: w.Root(), page: virt.RoundDown()}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries.Get(key); ok {
		t.hits.Add(1)
		return e.mapping, true
	}
	t.misses.Add(1)
	m, ok := w.Lookup(virt)
	if !ok {
		return pagetables.Mapping{}, false
	}
	key.mapping = m
	t.entries.ReplaceOrInsert(key)
	return m, true
}

// Cached returns the translation of virt cached for root, if any.
func (t *TLB) Cached(root memarch.Frame, virt memarch.Addr) (pagetables.Mapping, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries.Get(entry{root: root, page: virt.RoundDown()})
	return e.mapping, ok
}

// InvalidatePage discards every entry whose translation covers addr, in
// all address spaces, and returns how many were discarded.
func (t *TLB) InvalidatePage(addr memarch.Addr) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []entry
	t.entries.Ascend(func(e entry) bool {
		if e.page == addr.RoundDown() || e.mapping.Contains(addr) {
			stale = append(stale, e)
		}
		return true
	})
	for _, e := range stale {
		t.entries.Delete(e)
	}
	return len(stale)
}

// InvalidateAll discards every entry.
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Clear(false)
}

// Len returns the number of cached translations.
func (t *TLB) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// Hits returns the number of translations served from the TLB.
func (t *TLB) Hits() uint64 { return t.hits.Load() }

// Misses returns the number of translations that walked the page tables.
func (t *TLB) Misses() uint64 { return t.misses.Load() }

// Apply performs op, which must target arch.Translation. Entries are never
// dirty, so the cleaning kinds reduce to their invalidating part and
// CleanAddress has nothing to do.
func (t *TLB) Apply(op arch.CacheOperation) {
	if op.Type != arch.Translation {
		panic(fmt.Sprintf("TLB asked to perform %v", op))
	}
	switch op.Kind {
	case arch.Invalidate, arch.CleanInvalidate:
		t.InvalidateAll()
	case arch.InvalidateAddress, arch.CleanInvalidateAddress:
		t.InvalidatePage(op.Addr)
	case arch.CleanAddress:
	default:
		panic(fmt.Sprintf("unknown cache operation %v", op.Kind))
	}
}
