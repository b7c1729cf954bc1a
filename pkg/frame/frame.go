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

// Package frame implements a bitmap-backed physical frame allocator.
package frame

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/bitmap"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/sync"
)

// Allocator hands out frames from a contiguous physical range.
//
// Allocator implements pagetables.Allocator.
type Allocator struct {
	// base is the first frame managed by the allocator. Immutable.
	base memarch.Frame

	mu sync.Mutex

	// used has one bit per frame, set while the frame is allocated or
	// reserved.
	//
	// +checklocks:mu
	used bitmap.Bitmap
}

// New returns an allocator managing frames [base, base+frames).
func New(base memarch.Frame, frames uint64) *Allocator {
	if frames == 0 || frames > uint64(bitmap.MaxBitEntryLimit) {
		panic(fmt.Sprintf("invalid frame count %d", frames))
	}
	return &Allocator{
		base: base,
		used: bitmap.New(uint32(frames)),
	}
}

// Reserve marks frames [f, f+count) allocated, for ranges owned by firmware or
// the kernel image.
func (a *Allocator) Reserve(f memarch.Frame, count uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	begin, end, ok := a.indexes(f, count)
	if !ok {
		return fmt.Errorf("reserving %d frames at %v: %w", count, f, archerr.ErrInvalidAddress)
	}
	a.used.AddRange(begin, end)
	return nil
}

// AllocateFrame allocates a single frame.
func (a *Allocator) AllocateFrame() (memarch.Frame, error) {
	return a.AllocateFrames(1, 1)
}

// AllocateFrames implements pagetables.Allocator.AllocateFrames.
func (a *Allocator) AllocateFrames(count, align uint64) (memarch.Frame, error) {
	if count == 0 || align == 0 || count > uint64(a.used.Size()) || align > uint64(a.used.Size()) {
		return 0, fmt.Errorf("allocating %d frames aligned to %d: %w", count, align, archerr.ErrOutOfMemory)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	// Alignment is of physical frame numbers, so search relative to base.
	skew := uint32(uint64(a.base) % align)
	first, err := a.firstRun(uint32(count), uint32(align), skew)
	if err != nil {
		return 0, fmt.Errorf("allocating %d frames aligned to %d: %w", count, align, archerr.ErrOutOfMemory)
	}
	a.used.AddRange(first, first+uint32(count))
	return a.base + memarch.Frame(first), nil
}

// firstRun finds count free frames whose physical frame number is a
// multiple of align.
//
// +checklocks:mu
func (a *Allocator) firstRun(count, align, skew uint32) (uint32, error) {
	if skew == 0 {
		return a.used.FirstZeroRun(count, align)
	}
	// Index i is aligned when (skew + i) % align == 0.
	i := align - skew
	for ; uint64(i)+uint64(count) <= uint64(a.used.Size()); i += align {
		if a.used.CountRange(i, i+count) == 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no run of %d frames", count)
}

// ReleaseFrames implements pagetables.Allocator.ReleaseFrames.
//
// Releasing a frame that is not allocated is a fatal accounting error.
func (a *Allocator) ReleaseFrames(f memarch.Frame, count uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	begin, end, ok := a.indexes(f, count)
	if !ok {
		panic(fmt.Sprintf("releasing %d frames at %v outside allocator range", count, f))
	}
	if got := a.used.CountRange(begin, end); got != end-begin {
		panic(fmt.Sprintf("releasing %d frames at %v: only %d allocated", count, f, got))
	}
	a.used.ClearRange(begin, end)
}

// Total returns the number of frames managed.
func (a *Allocator) Total() uint64 {
	return uint64(a.used.Size())
}

// Used returns the number of allocated or reserved frames.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(a.used.GetNumOnes())
}

// Free returns the number of available frames.
func (a *Allocator) Free() uint64 {
	return a.Total() - a.Used()
}

// IsAllocated returns whether frame f is allocated or reserved.
func (a *Allocator) IsAllocated(f memarch.Frame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	begin, _, ok := a.indexes(f, 1)
	return ok && a.used.IsSet(begin)
}

// Allocated returns every allocated or reserved frame in ascending order.
func (a *Allocator) Allocated() []memarch.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	bits := a.used.ToSlice()
	frames := make([]memarch.Frame, len(bits))
	for i, b := range bits {
		frames[i] = a.base + memarch.Frame(b)
	}
	return frames
}

// +checklocks:mu
func (a *Allocator) indexes(f memarch.Frame, count uint64) (uint32, uint32, bool) {
	if f < a.base || count == 0 {
		return 0, 0, false
	}
	begin := uint64(f - a.base)
	end := begin + count
	if end < begin || end > uint64(a.used.Size()) {
		return 0, 0, false
	}
	return uint32(begin), uint32(end), true
}
