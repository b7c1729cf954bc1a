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

// Package trap implements interrupt vector tables: registration of kernel
// handlers for CPU exceptions and interrupts, and dispatch from trap entry.
//
// A Table is read by Dispatch on any CPU without locks. Registration stores
// the handler with an atomic pointer write, so a handler is visible to every
// CPU once Register returns. Registration is expected during bring-up, but
// concurrent Register and Dispatch calls are safe; a dispatch racing with a
// replacement runs either the old or the new handler, never both.
package trap

import (
	"fmt"
	"sync/atomic"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/atomicbitops"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/sync"
)

// Handler handles a trap. It may modify state to change where execution
// resumes, but must not retain it after returning.
type Handler[S any] = func(state *S)

// slot holds one vector. Slots are padded so that dispatch counters of
// different vectors do not share a cache line.
type slot[S any] struct {
	handler atomic.Pointer[Handler[S]]
	count   atomicbitops.Uint64
	_       sync.CacheLinePad
}

// Table maps vectors in [0, Len()) to at most one handler each.
//
// S is the architecture's CPU state; P constrains *S to report the privilege
// level the trap was taken from.
type Table[S any, P interface {
	*S
	Privileged() bool
}] struct {
	arch  arch.Arch
	names func(arch.Vector) string
	slots []slot[S]
}

// NewTable returns a table with vectors slots, all unregistered. names
// returns the human readable name of a vector and may be nil.
func NewTable[S any, P interface {
	*S
	Privileged() bool
}](a arch.Arch, vectors int, names func(arch.Vector) string) *Table[S, P] {
	if vectors <= 0 {
		panic(fmt.Sprintf("invalid vector count %d", vectors))
	}
	return &Table[S, P]{
		arch:  a,
		names: names,
		slots: make([]slot[S], vectors),
	}
}

// Len returns the number of vectors.
func (t *Table[S, P]) Len() int {
	return len(t.slots)
}

// Arch returns the architecture of the table.
func (t *Table[S, P]) Arch() arch.Arch {
	return t.arch
}

// Name returns the name of vector v.
func (t *Table[S, P]) Name(v arch.Vector) string {
	if t.names != nil {
		if n := t.names(v); n != "" {
			return n
		}
	}
	return fmt.Sprintf("vector %d", v)
}

func (t *Table[S, P]) slot(v arch.Vector) (*slot[S], error) {
	if uint64(v) >= uint64(len(t.slots)) {
		return nil, fmt.Errorf("%s vector %d (of %d): %w", t.arch, v, len(t.slots), archerr.ErrInvalidVector)
	}
	return &t.slots[v], nil
}

// Register installs h for vector v, replacing any handler already there. The
// replaced handler is never invoked again; superseded reports whether there
// was one.
func (t *Table[S, P]) Register(v arch.Vector, h Handler[S]) (superseded bool, err error) {
	if h == nil {
		panic("trap: nil handler")
	}
	s, err := t.slot(v)
	if err != nil {
		return false, err
	}
	return s.handler.Swap(&h) != nil, nil
}

// Unregister removes the handler for vector v and reports whether there was
// one. Dispatches of v that start afterwards are unhandled.
func (t *Table[S, P]) Unregister(v arch.Vector) (bool, error) {
	s, err := t.slot(v)
	if err != nil {
		return false, err
	}
	return s.handler.Swap(nil) != nil, nil
}

// Registered returns whether vector v has a handler.
func (t *Table[S, P]) Registered(v arch.Vector) bool {
	s, err := t.slot(v)
	return err == nil && s.handler.Load() != nil
}

// Count returns the number of dispatches of vector v.
func (t *Table[S, P]) Count(v arch.Vector) uint64 {
	s, err := t.slot(v)
	if err != nil {
		return 0
	}
	return s.count.Load()
}

// Dispatch runs the handler for vector v on state. If no handler is
// registered it returns an *UnhandledError; out of range vectors fail with
// archerr.ErrInvalidVector.
func (t *Table[S, P]) Dispatch(v arch.Vector, state *S) error {
	s, err := t.slot(v)
	if err != nil {
		return err
	}
	s.count.Add(1)
	h := s.handler.Load()
	if h == nil {
		return &UnhandledError{
			Arch:   t.arch,
			Vector: v,
			Name:   t.Name(v),
			Kernel: P(state).Privileged(),
		}
	}
	(*h)(state)
	return nil
}

// UnhandledError is returned by Dispatch for vectors without a handler.
type UnhandledError struct {
	Arch   arch.Arch
	Vector arch.Vector
	Name   string

	// Kernel is true if the trap was taken in kernel mode.
	Kernel bool
}

// Error implements error.Error.
func (e *UnhandledError) Error() string {
	mode := "user"
	if e.Kernel {
		mode = "kernel"
	}
	return fmt.Sprintf("%s: unhandled %s trap %d (%s)", e.Arch, mode, e.Vector, e.Name)
}

// Is implements errors.Is, matching archerr.ErrUnhandledTrap.
func (e *UnhandledError) Is(target error) bool {
	return target == archerr.ErrUnhandledTrap
}

// Fatal returns whether the trap must stop the kernel rather than only the
// faulting process.
func (e *UnhandledError) Fatal() bool {
	return e.Kernel
}
