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

// Package atomicbitops provides extensions to the sync/atomic package.
//
// All read-modify-write operations implemented by this package have
// acquire-release memory ordering (like sync/atomic).
//
// The fields of the types in this package are unexported so that callers
// cannot bypass the atomic accessors.
package atomicbitops

import (
	"sync/atomic"

	"kestrel.dev/kestrel/pkg/sync"
)

// Uint64 is an atomic uint64 that is guaranteed to be 64-bit aligned, even
// on 32-bit systems.
//
// Don't add fields to this struct. It is important that it remain the same
// size as its builtin analogue.
type Uint64 struct {
	_     sync.NoCopy
	value atomic.Uint64
}

// Load is analogous to atomic.LoadUint64.
//
//go:nosplit
func (u *Uint64) Load() uint64 {
	return u.value.Load()
}

// Add is analogous to atomic.AddUint64.
//
//go:nosplit
func (u *Uint64) Add(v uint64) uint64 {
	return u.value.Add(v)
}

// Bool is an atomic Boolean, with value 0 indicating false and 1 indicating
// true.
//
// The default value is false.
type Bool struct {
	_     sync.NoCopy
	value uint32
}

// Load is analogous to atomic.LoadBool, if such a thing existed.
//
//go:nosplit
func (b *Bool) Load() bool {
	return atomic.LoadUint32(&b.value) == 1
}

// CompareAndSwap is analogous to atomic.CompareAndSwapBool, if such a thing
// existed.
//
//go:nosplit
func (b *Bool) CompareAndSwap(oldVal, newVal bool) bool {
	var o, n uint32
	if oldVal {
		o = 1
	}
	if newVal {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&b.value, o, n)
}
