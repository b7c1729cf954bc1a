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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 63, 64, 129} {
		b.Add(i)
	}
	b.Add(64)
	if got := b.GetNumOnes(); got != 4 {
		t.Errorf("GetNumOnes() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint32{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Remove(63)
	b.Remove(63)
	if b.IsSet(63) || b.GetNumOnes() != 3 {
		t.Errorf("after Remove(63): IsSet = %v, ones = %d", b.IsSet(63), b.GetNumOnes())
	}
}

func TestFirstZero(t *testing.T) {
	b := New(70)
	b.AddRange(0, 66)
	if z, err := b.FirstZero(0); err != nil || z != 66 {
		t.Errorf("FirstZero(0) = %d, %v; want 66", z, err)
	}
	b.AddRange(66, 70)
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
}

func TestFirstZeroRun(t *testing.T) {
	for _, tc := range []struct {
		name  string
		set   [][2]uint32
		count uint32
		align uint32
		want  uint32
		fail  bool
	}{
		{name: "empty", count: 4, align: 1, want: 0},
		{name: "skip hole", set: [][2]uint32{{0, 1}, {3, 4}}, count: 3, align: 1, want: 4},
		{name: "aligned", set: [][2]uint32{{0, 1}}, count: 4, align: 4, want: 4},
		{name: "tail", set: [][2]uint32{{0, 60}}, count: 4, align: 1, want: 60},
		{name: "too big", set: [][2]uint32{{0, 60}}, count: 5, align: 1, fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := New(64)
			for _, r := range tc.set {
				b.AddRange(r[0], r[1])
			}
			got, err := b.FirstZeroRun(tc.count, tc.align)
			if tc.fail {
				if err == nil {
					t.Fatalf("FirstZeroRun(%d, %d) = %d, want error", tc.count, tc.align, got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("FirstZeroRun(%d, %d) = %d, %v; want %d", tc.count, tc.align, got, err, tc.want)
			}
		})
	}
}

func TestClearRange(t *testing.T) {
	b := New(200)
	b.AddRange(10, 150)
	b.ClearRange(20, 140)
	if got, want := b.GetNumOnes(), uint32(20); got != want {
		t.Errorf("GetNumOnes() = %d, want %d", got, want)
	}
	if got := b.CountRange(0, 200); got != 20 {
		t.Errorf("CountRange(0, 200) = %d, want 20", got)
	}
}
