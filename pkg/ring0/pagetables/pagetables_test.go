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

package pagetables

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
)

// fakeAllocator hands out frames from a bump pointer and fails once limit
// frames are outstanding.
type fakeAllocator struct {
	next  memarch.Frame
	used  uint64
	limit uint64
}

func (a *fakeAllocator) AllocateFrames(count, align uint64) (memarch.Frame, error) {
	if a.used+count > a.limit {
		return 0, fmt.Errorf("%d frames: %w", count, archerr.ErrOutOfMemory)
	}
	if rem := uint64(a.next) % align; rem != 0 {
		a.next += memarch.Frame(align - rem)
	}
	f := a.next
	a.next += memarch.Frame(count)
	a.used += count
	return f, nil
}

func (a *fakeAllocator) ReleaseFrames(_ memarch.Frame, count uint64) {
	a.used -= count
}

type node [4]uint32

func TestNodes(t *testing.T) {
	a := &fakeAllocator{next: 1, limit: 8}
	n := NewNodes[node](a, 2, 2)

	f1, p1, err := n.New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	p1[3] = 7
	f2, _, err := n.New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if f1%2 != 0 || f2%2 != 0 {
		t.Errorf("frames %v, %v not aligned to 2", f1, f2)
	}
	if got := n.Lookup(f1)[3]; got != 7 {
		t.Errorf("Lookup(%v)[3] = %d, want 7", f1, got)
	}
	if diff := cmp.Diff([]memarch.Frame{f1, f2}, n.Frames()); diff != "" {
		t.Errorf("Frames() mismatch (-want +got):\n%s", diff)
	}
	if got := n.FrameCount(); got != 4 || a.used != 4 {
		t.Errorf("FrameCount() = %d, allocator used = %d; want 4, 4", got, a.used)
	}

	n.Free(f1)
	if n.Len() != 1 || a.used != 2 {
		t.Errorf("after Free: Len() = %d, used = %d; want 1, 2", n.Len(), a.used)
	}
	n.FreeAll()
	if n.Len() != 0 || a.used != 0 {
		t.Errorf("after FreeAll: Len() = %d, used = %d; want 0, 0", n.Len(), a.used)
	}
}

func TestNodesExhausted(t *testing.T) {
	a := &fakeAllocator{limit: 1}
	n := NewNodes[node](a, 1, 1)
	if _, _, err := n.New(); err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	_, _, err := n.New()
	if !errors.Is(err, archerr.ErrOutOfPageTableMemory) {
		t.Errorf("New() = %v, want %v", err, archerr.ErrOutOfPageTableMemory)
	}
	if errors.Is(err, archerr.ErrOutOfMemory) {
		t.Errorf("New() = %v also matches %v", err, archerr.ErrOutOfMemory)
	}
}

func TestMappingTranslate(t *testing.T) {
	m := Mapping{Virtual: 0x400000, Physical: 0x1000000, Size: 0x400000}
	if !m.Contains(0x7fffff) || m.Contains(0x800000) || m.Contains(0x3fffff) {
		t.Errorf("Contains gave wrong answers for %v", m)
	}
	if got, want := m.Translate(0x401234), memarch.Addr(0x1001234); got != want {
		t.Errorf("Translate() = %v, want %v", got, want)
	}
}
