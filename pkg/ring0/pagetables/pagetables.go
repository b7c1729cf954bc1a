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

// Package pagetables provides the architecture-neutral pieces of the live
// page-table implementations: the frame allocation capability consumed by
// every variant, and an arena of page-table nodes indexed by the physical
// frame that backs them.
package pagetables

import (
	"fmt"
	"sort"

	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
)

// Allocator is the physical frame allocation capability.
//
// AllocateFrames returns the first of count contiguous frames, aligned to a
// multiple of align frames. Failures wrap archerr.ErrOutOfMemory.
type Allocator interface {
	AllocateFrames(count, align uint64) (memarch.Frame, error)
	ReleaseFrames(f memarch.Frame, count uint64)
}

// Nodes is an arena of page-table nodes of type T. Each node occupies span
// contiguous frames aligned to align frames, and is found again through the
// physical address stored in its parent entry.
type Nodes[T any] struct {
	alloc Allocator
	span  uint64
	align uint64
	nodes map[memarch.Frame]*T
}

// NewNodes returns an empty arena.
func NewNodes[T any](alloc Allocator, span, align uint64) *Nodes[T] {
	if span == 0 || align == 0 {
		panic(fmt.Sprintf("invalid node span %d align %d", span, align))
	}
	return &Nodes[T]{
		alloc: alloc,
		span:  span,
		align: align,
		nodes: make(map[memarch.Frame]*T),
	}
}

// New allocates a zeroed node. Failures wrap archerr.ErrOutOfPageTableMemory.
func (n *Nodes[T]) New() (memarch.Frame, *T, error) {
	f, err := n.alloc.AllocateFrames(n.span, n.align)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", archerr.ErrOutOfPageTableMemory, err)
	}
	node := new(T)
	n.nodes[f] = node
	return f, node, nil
}

// Lookup returns the node backed by frame f.
//
// Precondition: f was returned by New and has not been freed.
func (n *Nodes[T]) Lookup(f memarch.Frame) *T {
	node, ok := n.nodes[f]
	if !ok {
		panic(fmt.Sprintf("no page table node at frame %v", f))
	}
	return node
}

// Free returns the node backed by frame f to the allocator.
func (n *Nodes[T]) Free(f memarch.Frame) {
	if _, ok := n.nodes[f]; !ok {
		panic(fmt.Sprintf("freeing unknown page table node at frame %v", f))
	}
	delete(n.nodes, f)
	n.alloc.ReleaseFrames(f, n.span)
}

// FreeAll returns every node to the allocator.
func (n *Nodes[T]) FreeAll() {
	for _, f := range n.Frames() {
		n.Free(f)
	}
}

// Len returns the number of live nodes.
func (n *Nodes[T]) Len() int {
	return len(n.nodes)
}

// FrameCount returns the number of frames held by live nodes.
func (n *Nodes[T]) FrameCount() uint64 {
	return uint64(len(n.nodes)) * n.span
}

// Frames returns the frames of all live nodes in ascending order.
func (n *Nodes[T]) Frames() []memarch.Frame {
	fs := make([]memarch.Frame, 0, len(n.nodes))
	for f := range n.nodes {
		fs = append(fs, f)
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i] < fs[j] })
	return fs
}

// Mapping is one installed leaf translation.
type Mapping struct {
	// Virtual is the first virtual address translated.
	Virtual memarch.Addr

	// Physical is the physical address Virtual translates to.
	Physical memarch.Addr

	// Size is the number of bytes covered by the leaf entry.
	Size uint64

	// Access is the access permitted through the translation.
	Access memarch.AccessType

	// Type is the cacheability of the translation.
	Type memarch.MemoryType

	// User is true if the translation is reachable from user mode.
	User bool
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	mode := "kernel"
	if m.User {
		mode = "user"
	}
	return fmt.Sprintf("%v+%#x -> %v %v %s %s", m.Virtual, m.Size, m.Physical, m.Access, m.Type.ShortString(), mode)
}

// Contains returns whether addr falls within the mapping.
func (m Mapping) Contains(addr memarch.Addr) bool {
	return addr >= m.Virtual && uint64(addr-m.Virtual) < m.Size
}

// Translate returns the physical address for addr.
//
// Precondition: m.Contains(addr).
func (m Mapping) Translate(addr memarch.Addr) memarch.Addr {
	return m.Physical + (addr - m.Virtual)
}
