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

import "testing"

func TestAddLength(t *testing.T) {
	for _, tc := range []struct {
		start  Addr
		length uint64
		end    Addr
		ok     bool
	}{
		{0x1000, 0x1000, 0x2000, true},
		{0, 0, 0, true},
		{^Addr(0) - 0xfff, 0x1000, 0, false},
	} {
		end, ok := tc.start.AddLength(tc.length)
		if ok != tc.ok || (ok && end != tc.end) {
			t.Errorf("%v.AddLength(%#x) = (%v, %t), want (%v, %t)", tc.start, tc.length, end, ok, tc.end, tc.ok)
		}
	}
}

func TestRoundUp(t *testing.T) {
	if got, ok := Addr(0x1001).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp(0x1001) = (%v, %t), want (0x2000, true)", got, ok)
	}
	if _, ok := (^Addr(0)).RoundUp(); ok {
		t.Errorf("RoundUp(max) did not report overflow")
	}
}

func TestFrameConversion(t *testing.T) {
	f := FrameOf(0x12345678)
	if f != 0x12345 {
		t.Errorf("FrameOf(0x12345678) = %v, want pfn:0x12345", f)
	}
	if got := f.Address(); got != 0x12345000 {
		t.Errorf("Address() = %v, want 0x12345000", got)
	}
}

func TestRangeOverlaps(t *testing.T) {
	a := AddrRange{0x1000, 0x3000}
	for _, tc := range []struct {
		b    AddrRange
		want bool
	}{
		{AddrRange{0x3000, 0x4000}, false},
		{AddrRange{0x2000, 0x4000}, true},
		{AddrRange{0x0, 0x1000}, false},
		{AddrRange{0x0, 0x8000}, true},
	} {
		if got := a.Overlaps(tc.b); got != tc.want {
			t.Errorf("%v.Overlaps(%v) = %t, want %t", a, tc.b, got, tc.want)
		}
	}
}

func TestAccessSuperset(t *testing.T) {
	if !ReadWrite.SupersetOf(Read) {
		t.Errorf("rw- should be a superset of r--")
	}
	if ReadWrite.SupersetOf(ReadExecute) {
		t.Errorf("rw- should not be a superset of r-x")
	}
	if got := AnyAccess.String(); got != "rwx" {
		t.Errorf("String() = %q, want rwx", got)
	}
	if got := Write.Effective(); got != ReadWrite {
		t.Errorf("Effective(-w-) = %v, want rw-", got)
	}
}
