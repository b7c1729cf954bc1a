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

// Package memarch provides the address, frame and protection types shared by
// every architecture variant.
//
// All supported variants use 4 KiB base pages. Addresses are always carried
// as 64-bit values; 32-bit variants reject anything above their address
// width when it is installed.
package memarch

import (
	"fmt"
)

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// PageMask masks the offset within a base page.
	PageMask = PageSize - 1
)

// Addr represents a virtual or physical address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageMask)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// IsAligned returns true if v is a multiple of align, which must be a power
// of two.
func (v Addr) IsAligned(align uint64) bool {
	return uint64(v)&(align-1) == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uint64 is
	// wider than Addr.
	ok = end >= v && uint64(end-v) == length
	return
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// Frame is a physical frame number, i.e. a physical address shifted right by
// PageShift.
type Frame uint64

// Address returns the physical address of the first byte of the frame.
func (f Frame) Address() Addr {
	return Addr(f) << PageShift
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("pfn:%#x", uint64(f))
}

// FrameOf returns the frame containing the physical address a.
func FrameOf(a Addr) Frame {
	return Frame(a >> PageShift)
}

// PagesIn returns the number of base pages spanned by length bytes, rounding
// up.
func PagesIn(length uint64) uint64 {
	return (length + PageMask) >> PageShift
}
