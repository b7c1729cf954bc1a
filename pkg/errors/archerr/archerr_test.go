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

package archerr

import (
	"fmt"
	"testing"

	kerrors "kestrel.dev/kestrel/pkg/errors"
)

type trapError struct{}

func (trapError) Error() string        { return "trap" }
func (trapError) Is(target error) bool { return target == ErrUnhandledTrap }

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want kerrors.Kind
	}{
		{nil, kerrors.KindUnknown},
		{fmt.Errorf("plain"), kerrors.KindUnknown},
		{ErrNotMapped, kerrors.KindNotMapped},
		{fmt.Errorf("map %#x: %w", 0x1000, ErrInvalidAddress), kerrors.KindInvalidAddress},
		{fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrOutOfPageTableMemory)), kerrors.KindOutOfPageTableMemory},
		{trapError{}, kerrors.KindUnhandledTrap},
	} {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestKindsDistinct(t *testing.T) {
	seen := make(map[kerrors.Kind]bool)
	for _, e := range all {
		if seen[e.Kind()] {
			t.Errorf("kind %v reported by more than one error", e.Kind())
		}
		seen[e.Kind()] = true
	}
}
