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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/frame"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

func newAllocator() *frame.Allocator {
	// 16 MiB of memory starting at 16 MiB.
	return frame.New(0x1000, 4096)
}

func TestMemoryMap(t *testing.T) {
	m := MemoryMap()
	if m != MemoryMap() {
		t.Errorf("MemoryMap() not memoized")
	}
	rs := m.Regions()
	for i := 1; i < len(rs); i++ {
		if rs[i-1].Range.Overlaps(rs[i].Range) {
			t.Errorf("%v overlaps %v", rs[i-1], rs[i])
		}
	}
	if m.KernelRange().Overlaps(m.UserRange()) {
		t.Errorf("kernel %v overlaps user %v", m.KernelRange(), m.UserRange())
	}
	if len(rs) != 10 {
		t.Errorf("got %d regions, want 10", len(rs))
	}
}

func TestFixedMappings(t *testing.T) {
	pt, err := NewPageTables(MemoryMap(), newAllocator())
	if err != nil {
		t.Fatalf("NewPageTables failed: %v", err)
	}
	for _, r := range MemoryMap().FixedRegions() {
		if err := pt.MapFixed(r); err != nil {
			t.Fatalf("MapFixed(%v) failed: %v", r, err)
		}
	}
	// KernelIO needs one page table, KernelData uses 4 MiB pages.
	if got := pt.Nodes(); got != 2 {
		t.Errorf("Nodes() = %d, want 2", got)
	}
	m, ok := pt.Lookup(0x812345)
	if !ok || m.Size != 1<<22 || m.Translate(0x812345) != 0x812345 || m.User {
		t.Errorf("Lookup(0x812345) = %v, %v; want 4 MiB kernel identity mapping", m, ok)
	}
	m, ok = pt.Lookup(0xb8000)
	if !ok || m.Size != memarch.PageSize || m.Type != memarch.MemoryTypeUncached {
		t.Errorf("Lookup(0xb8000) = %v, %v; want uncached 4 KiB mapping", m, ok)
	}
	if _, ok := pt.Lookup(0x100000); ok {
		t.Errorf("Lookup(0x100000) found a mapping past KernelIO")
	}
	pt.Release()
}

func TestMapUnmapRoundTrip(t *testing.T) {
	alloc := newAllocator()
	pt, err := NewPageTables(MemoryMap(), alloc)
	if err != nil {
		t.Fatalf("NewPageTables failed: %v", err)
	}
	defer pt.Release()
	base := alloc.Used()

	const virt, phys = 0xa0001000, 0x2000000
	if err := pt.Map(virt, phys, memarch.ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	first := pt.Mappings()
	want := []pagetables.Mapping{{
		Virtual:  virt,
		Physical: phys,
		Size:     memarch.PageSize,
		Access:   memarch.AccessType{Read: true, Write: true, Execute: true},
		Type:     memarch.MemoryTypeWriteBack,
		User:     true,
	}}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("Mappings() mismatch (-want +got):\n%s", diff)
	}
	if err := pt.Unmap(virt); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if got := alloc.Used(); got != base {
		t.Errorf("allocator used %d frames after unmap, want %d", got, base)
	}
	if err := pt.Unmap(virt); !errors.Is(err, archerr.ErrNotMapped) {
		t.Errorf("second Unmap = %v, want %v", err, archerr.ErrNotMapped)
	}
	if err := pt.Map(virt, phys, memarch.ReadWrite); err != nil {
		t.Fatalf("second Map failed: %v", err)
	}
	if diff := cmp.Diff(first, pt.Mappings()); diff != "" {
		t.Errorf("Mappings() after round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMapErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		virt   memarch.Addr
		phys   memarch.Addr
		access memarch.AccessType
		want   error
	}{
		{"outside regions", 0x20000000, 0x1000, memarch.Read, archerr.ErrInvalidAddress},
		{"fixed region", 0x400000, 0x1000, memarch.Read, archerr.ErrInvalidAddress},
		{"beyond 32 bits", 0x100000000, 0x1000, memarch.Read, archerr.ErrInvalidAddress},
		{"physical beyond 32 bits", 0x80000000, 0x100000000, memarch.Read, archerr.ErrInvalidAddress},
		{"unaligned", 0x80000010, 0x1000, memarch.Read, archerr.ErrInvalidAddress},
		{"no rights", 0x80000000, 0x1000, memarch.NoAccess, archerr.ErrInvalidAddress},
		{"execute in stack", 0xc0000000, 0x1000, memarch.ReadExecute, archerr.ErrInvalidAddress},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pt, err := NewPageTables(MemoryMap(), newAllocator())
			if err != nil {
				t.Fatalf("NewPageTables failed: %v", err)
			}
			defer pt.Release()
			if err := pt.Map(tc.virt, tc.phys, tc.access); !errors.Is(err, tc.want) {
				t.Errorf("Map(%v, %v, %v) = %v, want %v", tc.virt, tc.phys, tc.access, err, tc.want)
			}
		})
	}
}

func TestMapOutOfPageTableMemory(t *testing.T) {
	alloc := frame.NewBudgeted(newAllocator(), 1)
	pt, err := NewPageTables(MemoryMap(), alloc)
	if err != nil {
		t.Fatalf("NewPageTables failed: %v", err)
	}
	defer pt.Release()
	if err := pt.Map(0x80000000, 0x1000000, memarch.Read); !errors.Is(err, archerr.ErrOutOfPageTableMemory) {
		t.Errorf("Map = %v, want %v", err, archerr.ErrOutOfPageTableMemory)
	}
	if len(pt.Mappings()) != 0 {
		t.Errorf("failed Map left mappings: %v", pt.Mappings())
	}
}

func TestCreateProcess(t *testing.T) {
	alloc := newAllocator()
	f := NewFactory(alloc)
	base := alloc.Free()

	p, err := f.CreateProcess(1, 0x400000)
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}
	s := p.State()
	if s.PC() != 0x400000 {
		t.Errorf("PC() = %#x, want 0x400000", s.PC())
	}
	stack, _ := MemoryMap().Region(arch.UserStack)
	if s.StackPointer() != uint64(stack.Range.End) {
		t.Errorf("StackPointer() = %#x, want %v", s.StackPointer(), stack.Range.End)
	}
	if s.Privileged() {
		t.Errorf("user process state is privileged")
	}
	if p.PageTables().Root() == 0 {
		t.Errorf("process has no page table root")
	}
	m, ok := p.PageTables().Lookup(stack.Range.Start)
	if !ok || !m.User || memarch.FrameOf(m.Physical) != p.Stack().Frame {
		t.Errorf("stack not mapped to its frames: %v, %v", m, ok)
	}
	// Root, KernelIO table, stack table and four stack pages.
	if got := base - alloc.Free(); got != 7 {
		t.Errorf("process holds %d frames, want 7", got)
	}

	p.Release()
	if got := alloc.Free(); got != base {
		t.Errorf("Free() = %d after release, want %d", got, base)
	}
	// A second release must not free the frames again.
	p.Release()
	if !p.Released() || alloc.Free() != base {
		t.Errorf("second Release: released=%v free=%d, want true and %d", p.Released(), alloc.Free(), base)
	}
}

func TestCreatePrivilegedProcess(t *testing.T) {
	f := NewFactory(newAllocator())
	p, err := f.CreatePrivilegedProcess(2, 0x401000)
	if err != nil {
		t.Fatalf("CreatePrivilegedProcess failed: %v", err)
	}
	defer p.Release()
	if !p.State().Privileged() || p.State().CS != KernelCS {
		t.Errorf("state %+v not privileged", p.State())
	}
}

func TestKernelMappingsIdentical(t *testing.T) {
	f := NewFactory(newAllocator())
	kernel := MemoryMap().KernelRange()
	var views [][]pagetables.Mapping
	for id := arch.ProcessID(1); id <= 3; id++ {
		p, err := f.CreateProcess(id, 0x80000000)
		if err != nil {
			t.Fatalf("CreateProcess(%d) failed: %v", id, err)
		}
		defer p.Release()
		var ks []pagetables.Mapping
		for _, m := range p.PageTables().Mappings() {
			if kernel.Contains(m.Virtual) {
				ks = append(ks, m)
			}
		}
		views = append(views, ks)
	}
	for i := 1; i < len(views); i++ {
		if diff := cmp.Diff(views[0], views[i]); diff != "" {
			t.Errorf("process %d kernel mappings differ (-first +got):\n%s", i+1, diff)
		}
	}
}

func TestCreateProcessFailureReleasesEverything(t *testing.T) {
	for budget := uint64(0); budget < 7; budget++ {
		alloc := newAllocator()
		f := NewFactory(frame.NewBudgeted(alloc, budget))
		if _, err := f.CreateProcess(1, 0x400000); !errors.Is(err, archerr.ErrOutOfMemory) {
			t.Errorf("budget %d: CreateProcess = %v, want %v", budget, err, archerr.ErrOutOfMemory)
		}
		if got := alloc.Used(); got != 0 {
			t.Errorf("budget %d: %d frames leaked", budget, got)
		}
	}
}

func TestCreateProcessBadEntry(t *testing.T) {
	f := NewFactory(newAllocator())
	if _, err := f.CreateProcess(1, 0x100000000); !errors.Is(err, archerr.ErrInvalidAddress) {
		t.Errorf("CreateProcess = %v, want %v", err, archerr.ErrInvalidAddress)
	}
}

func TestCacheNoop(t *testing.T) {
	c := NewCache()
	for _, typ := range []arch.CacheType{arch.Instruction, arch.Data, arch.Unified} {
		for _, op := range []arch.CacheOperation{
			arch.InvalidateOp(typ),
			arch.CleanInvalidateOp(typ),
			arch.CleanInvalidateAddressOp(typ, 0x1000),
			arch.CleanAddressOp(typ, 0x1000),
			arch.InvalidateAddressOp(typ, 0x1000),
		} {
			if err := c.Perform(op); err != nil {
				t.Errorf("Perform(%v) = %v, want nil", op, err)
			}
		}
	}
	if err := c.Perform(arch.CleanAddressOp(arch.Translation, 0x1000)); !errors.Is(err, archerr.ErrUnsupported) {
		t.Errorf("CleanAddress(Translation) = %v, want %v", err, archerr.ErrUnsupported)
	}
}

func TestTLBStaleUntilInvalidated(t *testing.T) {
	alloc := newAllocator()
	pt, err := NewPageTables(MemoryMap(), alloc)
	if err != nil {
		t.Fatalf("NewPageTables failed: %v", err)
	}
	defer pt.Release()
	c := NewCache()
	tlb := c.TLB()

	const virt, phys = 0xa0001000, 0x2000000
	if err := pt.Map(virt, phys, memarch.ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if m, ok := tlb.Translate(pt, virt+0x10); !ok || m.Translate(virt+0x10) != phys+0x10 {
		t.Fatalf("Translate = %v, %v; want %#x", m, ok, phys+0x10)
	}
	if err := pt.Unmap(virt); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	// invlpg has not run, so the old translation is still served.
	if _, ok := tlb.Translate(pt, virt); !ok {
		t.Fatalf("TLB dropped the translation without an invalidate")
	}
	if tlb.Hits() != 1 || tlb.Misses() != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", tlb.Hits(), tlb.Misses())
	}
	if err := c.Perform(arch.InvalidateTranslationOp(virt)); err != nil {
		t.Fatalf("InvalidateTranslation failed: %v", err)
	}
	if _, ok := tlb.Translate(pt, virt); ok {
		t.Errorf("translation of %#x survived invlpg", virt)
	}

	// A 4 MiB kernel page is flushed by any address inside it.
	kd, _ := MemoryMap().Region(arch.KernelData)
	if err := pt.MapFixed(kd); err != nil {
		t.Fatalf("MapFixed(%v) failed: %v", kd, err)
	}
	if _, ok := tlb.Translate(pt, 0x400000); !ok {
		t.Fatalf("Translate(0x400000) missed the kernel mapping")
	}
	if err := c.Perform(arch.InvalidateTranslationOp(0x7ff000)); err != nil {
		t.Fatalf("InvalidateTranslation failed: %v", err)
	}
	if tlb.Len() != 0 {
		t.Errorf("%d entries after invalidating inside a large page, want 0", tlb.Len())
	}
}

func TestVectors(t *testing.T) {
	tbl := NewVectorTable()
	if tbl.Len() != 256 {
		t.Errorf("Len() = %d, want 256", tbl.Len())
	}
	for v, want := range map[arch.Vector]string{
		PageFault:   "PageFault",
		IRQBase + 1: "IRQ1",
		Syscall:     "Syscall",
		0x80:        "vector 128",
	} {
		if got := tbl.Name(v); got != want {
			t.Errorf("Name(%d) = %q, want %q", v, got, want)
		}
	}
	tbl.Register(Syscall, func(s *State) { s.SetReturnValue(42) })
	s := newState(0x80000000, 0xc0004000, false)
	if err := tbl.Dispatch(Syscall, &s); err != nil || s.EAX != 42 {
		t.Errorf("Dispatch(Syscall) = %v, EAX = %d", err, s.EAX)
	}
}
