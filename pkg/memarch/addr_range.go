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

// AddrRange is a range of Addrs.
//
// The range is half-open: [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// WellFormed returns true if r.Start <= r.End.
func (r AddrRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r AddrRange) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true if r contains x.
func (r AddrRange) Contains(x Addr) bool {
	return r.Start <= x && x < r.End
}

// IsSupersetOf returns true if r is a superset of other.
func (r AddrRange) IsSupersetOf(other AddrRange) bool {
	return r.Start <= other.Start && r.End >= other.End
}

// Overlaps returns true if r and other overlap.
func (r AddrRange) Overlaps(other AddrRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// IsPageAligned returns true if both r.Start and r.End are page-aligned.
func (r AddrRange) IsPageAligned() bool {
	return r.Start.IsPageAligned() && r.End.IsPageAligned()
}

// Union returns the smallest range containing both r and other.
func (r AddrRange) Union(other AddrRange) AddrRange {
	if r.Length() == 0 {
		return other
	}
	if other.Length() == 0 {
		return r
	}
	u := r
	if other.Start < u.Start {
		u.Start = other.Start
	}
	if other.End > u.End {
		u.End = other.End
	}
	return u
}

// String implements fmt.Stringer.String.
func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
