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
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Process is an x86 process image.
type Process = arch.Image[State, *State, *PageTables]

// Factory builds x86 processes.
type Factory = arch.ImageFactory[State, *State, *PageTables]

var (
	_ arch.Process                  = (*Process)(nil)
	_ arch.ProcessFactory[*Process] = (*Factory)(nil)
)

// NewFactory returns a factory drawing frames from alloc.
func NewFactory(alloc pagetables.Allocator) *Factory {
	return &Factory{
		Arch:       Arch,
		MemoryMap:  MemoryMap(),
		Alloc:      alloc,
		NewTables:  NewPageTables,
		NewState:   newState,
		ValidEntry: validEntry,
	}
}

// validEntry returns true if entry is a 32-bit linear address.
func validEntry(entry memarch.Addr) bool {
	return entry <= maxAddr
}
