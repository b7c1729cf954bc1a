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

package arch

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
)

func rng(start, length uint64) memarch.AddrRange {
	return memarch.AddrRange{Start: memarch.Addr(start), End: memarch.Addr(start + length)}
}

func testRegions() []Region {
	return []Region{
		{Kind: UserStack, Range: rng(0xc0000000, 0x4000), Access: memarch.ReadWrite},
		{Kind: KernelData, Range: rng(0x400000, 0x400000), Fixed: true, Physical: 0x400000, Access: memarch.AnyAccess},
		{Kind: UserData, Range: rng(0x80000000, 0x1000000), Access: memarch.AnyAccess},
	}
}

func TestNewMemoryMap(t *testing.T) {
	m, err := NewMemoryMap("test", testRegions()...)
	if err != nil {
		t.Fatalf("NewMemoryMap failed: %v", err)
	}
	var kinds []RegionKind
	for _, r := range m.Regions() {
		kinds = append(kinds, r.Kind)
	}
	if diff := cmp.Diff([]RegionKind{KernelData, UserData, UserStack}, kinds); diff != "" {
		t.Errorf("Regions() order mismatch (-want +got):\n%s", diff)
	}
	if got, want := m.KernelRange(), rng(0x400000, 0x400000); got != want {
		t.Errorf("KernelRange() = %v, want %v", got, want)
	}
	if got, want := m.UserRange(), (memarch.AddrRange{Start: 0x80000000, End: 0xc0004000}); got != want {
		t.Errorf("UserRange() = %v, want %v", got, want)
	}
	if fixed := m.FixedRegions(); len(fixed) != 1 || fixed[0].Kind != KernelData {
		t.Errorf("FixedRegions() = %v, want only KernelData", fixed)
	}
	if r, ok := m.Region(UserStack); !ok || r.Range.Start != 0xc0000000 {
		t.Errorf("Region(UserStack) = %v, %v", r, ok)
	}
}

func TestNewMemoryMapInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		regions []Region
	}{
		{
			name:    "unaligned",
			regions: []Region{{Kind: UserData, Range: rng(0x1001, 0x1000), Access: memarch.Read}},
		},
		{
			name:    "empty",
			regions: []Region{{Kind: UserData, Range: rng(0x1000, 0), Access: memarch.Read}},
		},
		{
			name:    "no access",
			regions: []Region{{Kind: UserData, Range: rng(0x1000, 0x1000)}},
		},
		{
			name: "overlap",
			regions: []Region{
				{Kind: UserData, Range: rng(0x1000, 0x2000), Access: memarch.Read},
				{Kind: UserHeap, Range: rng(0x2000, 0x1000), Access: memarch.Read},
			},
		},
		{
			name: "duplicate kind",
			regions: []Region{
				{Kind: UserData, Range: rng(0x1000, 0x1000), Access: memarch.Read},
				{Kind: UserData, Range: rng(0x4000, 0x1000), Access: memarch.Read},
			},
		},
		{
			name: "interleaved spans",
			regions: []Region{
				{Kind: UserData, Range: rng(0x1000, 0x1000), Access: memarch.Read},
				{Kind: KernelData, Range: rng(0x4000, 0x1000), Access: memarch.Read},
				{Kind: UserStack, Range: rng(0x8000, 0x1000), Access: memarch.Read},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMemoryMap(tc.name, tc.regions...); !errors.Is(err, archerr.ErrInvalidAddress) {
				t.Errorf("NewMemoryMap() = %v, want %v", err, archerr.ErrInvalidAddress)
			}
		})
	}
}

func TestFind(t *testing.T) {
	m, err := NewMemoryMap("test", testRegions()...)
	if err != nil {
		t.Fatalf("NewMemoryMap failed: %v", err)
	}
	for _, tc := range []struct {
		addr memarch.Addr
		want RegionKind
		ok   bool
	}{
		{addr: 0x0, ok: false},
		{addr: 0x400000, want: KernelData, ok: true},
		{addr: 0x7fffff, want: KernelData, ok: true},
		{addr: 0x800000, ok: false},
		{addr: 0x80123000, want: UserData, ok: true},
		{addr: 0xc0003fff, want: UserStack, ok: true},
		{addr: 0xc0004000, ok: false},
	} {
		r, ok := m.Find(tc.addr)
		if ok != tc.ok || (ok && r.Kind != tc.want) {
			t.Errorf("Find(%v) = %v, %v; want %v, %v", tc.addr, r.Kind, ok, tc.want, tc.ok)
		}
	}
}

func TestCheckMap(t *testing.T) {
	m, err := NewMemoryMap("test", testRegions()...)
	if err != nil {
		t.Fatalf("NewMemoryMap failed: %v", err)
	}
	if r, err := m.CheckMap(0xc0001000, memarch.ReadWrite); err != nil || r.Kind != UserStack {
		t.Errorf("CheckMap(stack, rw) = %v, %v", r.Kind, err)
	}
	for _, tc := range []struct {
		name   string
		addr   memarch.Addr
		access memarch.AccessType
	}{
		{"unaligned", 0xc0001004, memarch.Read},
		{"outside", 0x1000, memarch.Read},
		{"fixed", 0x401000, memarch.Read},
		{"no access", 0xc0001000, memarch.NoAccess},
		{"too wide", 0xc0001000, memarch.AnyAccess},
	} {
		if _, err := m.CheckMap(tc.addr, tc.access); !errors.Is(err, archerr.ErrInvalidAddress) {
			t.Errorf("%s: CheckMap(%v, %v) = %v, want %v", tc.name, tc.addr, tc.access, err, archerr.ErrInvalidAddress)
		}
	}
}

func TestCacheOperation(t *testing.T) {
	if InvalidateOp(Data).AddressScoped() || CleanInvalidateOp(Unified).AddressScoped() {
		t.Errorf("whole-cache operation reported as address scoped")
	}
	op := CleanAddressOp(Data, 0x1040)
	if !op.AddressScoped() {
		t.Errorf("%v not address scoped", op)
	}
	if got, want := op.String(), "CleanAddress(Data, 0x1040)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseArch(t *testing.T) {
	for _, a := range Arches {
		got, err := ParseArch(a.String())
		if err != nil || got != a {
			t.Errorf("ParseArch(%q) = %v, %v", a.String(), got, err)
		}
	}
	if _, err := ParseArch("sparc"); err == nil {
		t.Errorf("ParseArch(sparc) succeeded")
	}
}
