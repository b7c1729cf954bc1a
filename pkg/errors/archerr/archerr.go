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

// Package archerr contains the failure kinds of the architecture layer
// exported as error interface pointers. Call sites wrap them with %w and
// callers classify with errors.Is or KindOf.
package archerr

import (
	"errors"

	kerrors "kestrel.dev/kestrel/pkg/errors"
)

// The following errors are the complete failure taxonomy of the layer.
var (
	ErrInvalidAddress       = kerrors.New(kerrors.KindInvalidAddress, "invalid address")
	ErrNotMapped            = kerrors.New(kerrors.KindNotMapped, "address not mapped")
	ErrOutOfPageTableMemory = kerrors.New(kerrors.KindOutOfPageTableMemory, "out of page table memory")
	ErrOutOfMemory          = kerrors.New(kerrors.KindOutOfMemory, "out of memory")
	ErrInvalidVector        = kerrors.New(kerrors.KindInvalidVector, "invalid vector")
	ErrUnsupported          = kerrors.New(kerrors.KindUnsupported, "operation not supported")
	ErrUnhandledTrap        = kerrors.New(kerrors.KindUnhandledTrap, "unhandled trap")
)

var all = []*kerrors.Error{
	ErrInvalidAddress,
	ErrNotMapped,
	ErrOutOfPageTableMemory,
	ErrOutOfMemory,
	ErrInvalidVector,
	ErrUnsupported,
	ErrUnhandledTrap,
}

// KindOf returns the failure kind carried by err, looking through wrapping.
// It returns KindUnknown for nil and for errors from outside this taxonomy.
func KindOf(err error) kerrors.Kind {
	if err == nil {
		return kerrors.KindUnknown
	}
	var e *kerrors.Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	for _, sentinel := range all {
		if errors.Is(err, sentinel) {
			return sentinel.Kind()
		}
	}
	return kerrors.KindUnknown
}
