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

package frame

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
	"kestrel.dev/kestrel/pkg/sync"
)

// Budgeted forwards to another allocator until a fixed number of frames has
// been handed out, then fails every allocation with archerr.ErrOutOfMemory.
// Releases do not restore the budget.
//
// It is used to exhaust memory at a chosen step of a multi-allocation
// operation.
type Budgeted struct {
	next pagetables.Allocator

	mu        sync.Mutex
	remaining uint64
	failures  int
}

// NewBudgeted returns an allocator that serves at most budget frames from
// next.
func NewBudgeted(next pagetables.Allocator, budget uint64) *Budgeted {
	return &Budgeted{next: next, remaining: budget}
}

// AllocateFrames implements pagetables.Allocator.AllocateFrames.
func (b *Budgeted) AllocateFrames(count, align uint64) (memarch.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count > b.remaining {
		b.failures++
		return 0, fmt.Errorf("frame budget exhausted (%d left, %d wanted): %w", b.remaining, count, archerr.ErrOutOfMemory)
	}
	f, err := b.next.AllocateFrames(count, align)
	if err != nil {
		return 0, err
	}
	b.remaining -= count
	return f, nil
}

// ReleaseFrames implements pagetables.Allocator.ReleaseFrames.
func (b *Budgeted) ReleaseFrames(f memarch.Frame, count uint64) {
	b.next.ReleaseFrames(f, count)
}

// Failures returns the number of allocations refused for lack of budget.
func (b *Budgeted) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
