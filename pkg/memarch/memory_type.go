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

package memarch

import "fmt"

// MemoryType specifies the cacheability of a mapping.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is ordinary cacheable memory:
	//
	// - x86: Write-back (PCD=0, PWT=0)
	//
	// - ARM: Normal, inner/outer write-back
	//
	// This must be the zero value for MemoryType.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeWriteCombine is uncached memory that permits write
	// buffering:
	//
	// - x86: without PAT the closest encoding is write-through (PWT=1)
	//
	// - ARM: Normal non-cacheable
	MemoryTypeWriteCombine

	// MemoryTypeUncached is device memory:
	//
	// - x86: Uncacheable (PCD=1, PWT=1)
	//
	// - ARM: Device-nGnRE (ARM64), shared device (ARMv7)
	MemoryTypeUncached

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeWriteCombine:
		return "WriteCombine"
	case MemoryTypeUncached:
		return "Uncached"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WB"
	case MemoryTypeWriteCombine:
		return "WC"
	case MemoryTypeUncached:
		return "UC"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
