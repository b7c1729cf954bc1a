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

// Package cache models the line state of a non-coherent cache, so that the
// effect of maintenance operations on individual lines can be observed.
package cache

import (
	"fmt"

	"github.com/google/btree"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/sync"
)

// line is one cached line, keyed by its line aligned address.
type line struct {
	addr  memarch.Addr
	dirty bool
}

func lineLess(a, b line) bool {
	return a.addr < b.addr
}

// Lines is the set of lines held by one cache.
type Lines struct {
	// lineSize is the line size in bytes. Immutable.
	lineSize uint64

	mu sync.Mutex

	// +checklocks:mu
	lines *btree.BTreeG[line]

	// writebacks counts dirty lines written back to memory.
	//
	// +checklocks:mu
	writebacks uint64
}

// NewLines returns an empty cache with the given line size, which must be a
// power of two.
func NewLines(lineSize uint64) *Lines {
	if lineSize == 0 || lineSize&(lineSize-1) != 0 {
		panic(fmt.Sprintf("line size %d is not a power of two", lineSize))
	}
	return &Lines{
		lineSize: lineSize,
		lines:    btree.NewG(2, lineLess),
	}
}

// LineSize returns the line size in bytes.
func (l *Lines) LineSize() uint64 {
	return l.lineSize
}

// Block returns the size aligned block of memory containing addr. size must
// be a power of two no smaller than the line size.
func (l *Lines) Block(addr memarch.Addr, size uint64) memarch.AddrRange {
	start := addr &^ memarch.Addr(size-1)
	return memarch.AddrRange{Start: start, End: start + memarch.Addr(size)}
}

func (l *Lines) align(addr memarch.Addr) memarch.Addr {
	return addr &^ memarch.Addr(l.lineSize-1)
}

// Fill brings the line containing addr into the cache, clean.
func (l *Lines) Fill(addr memarch.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.align(addr)
	if _, ok := l.lines.Get(line{addr: a}); !ok {
		l.lines.ReplaceOrInsert(line{addr: a})
	}
}

// Write marks the line containing addr cached and dirty.
func (l *Lines) Write(addr memarch.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines.ReplaceOrInsert(line{addr: l.align(addr), dirty: true})
}

// Cached returns whether the line containing addr is in the cache.
func (l *Lines) Cached(addr memarch.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.lines.Get(line{addr: l.align(addr)})
	return ok
}

// Dirty returns whether the line containing addr is cached and dirty.
func (l *Lines) Dirty(addr memarch.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lines.Get(line{addr: l.align(addr)})
	return ok && ln.dirty
}

// Len returns the number of cached lines.
func (l *Lines) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines.Len()
}

// Writebacks returns the number of lines written back so far.
func (l *Lines) Writebacks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writebacks
}

// inRange returns the lines overlapping r.
//
// +checklocks:mu
func (l *Lines) inRange(r memarch.AddrRange) []line {
	var found []line
	l.lines.AscendRange(line{addr: l.align(r.Start)}, line{addr: r.End}, func(ln line) bool {
		found = append(found, ln)
		return true
	})
	return found
}

// Clean writes back the dirty lines overlapping r and returns how many were
// written.
func (l *Lines) Clean(r memarch.AddrRange) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ln := range l.inRange(r) {
		if ln.dirty {
			l.lines.ReplaceOrInsert(line{addr: ln.addr})
			l.writebacks++
			n++
		}
	}
	return n
}

// Invalidate discards the lines overlapping r without writing them back and
// returns how many were discarded.
func (l *Lines) Invalidate(r memarch.AddrRange) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	found := l.inRange(r)
	for _, ln := range found {
		l.lines.Delete(ln)
	}
	return len(found)
}

// CleanInvalidate writes back then discards the lines overlapping r.
func (l *Lines) CleanInvalidate(r memarch.AddrRange) {
	l.Clean(r)
	l.Invalidate(r)
}

// CleanAll writes back every dirty line.
func (l *Lines) CleanAll() {
	l.Clean(everything)
}

// InvalidateAll discards every line.
func (l *Lines) InvalidateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines.Clear(false)
}

// CleanInvalidateAll writes back every dirty line and empties the cache.
func (l *Lines) CleanInvalidateAll() {
	l.CleanAll()
	l.InvalidateAll()
}

var everything = memarch.AddrRange{Start: 0, End: ^memarch.Addr(0)}
