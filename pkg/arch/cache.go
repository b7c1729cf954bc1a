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
	"fmt"

	"kestrel.dev/kestrel/pkg/memarch"
)

// CacheType selects the cache a maintenance operation applies to.
type CacheType int

const (
	// Instruction is the instruction cache.
	Instruction CacheType = iota
	// Data is the data cache.
	Data
	// Unified is a combined instruction and data cache.
	Unified
	// Translation is the translation lookaside buffer. Its entries are
	// never dirty, so only the invalidating kinds apply; CleanAddress is
	// rejected.
	Translation
)

// String implements fmt.Stringer.
func (t CacheType) String() string {
	switch t {
	case Instruction:
		return "Instruction"
	case Data:
		return "Data"
	case Unified:
		return "Unified"
	case Translation:
		return "Translation"
	default:
		return fmt.Sprintf("CacheType(%d)", int(t))
	}
}

// CacheOpKind is a cache maintenance operation.
type CacheOpKind int

const (
	// Invalidate discards the whole cache without writing it back.
	Invalidate CacheOpKind = iota
	// CleanInvalidate writes back then discards the whole cache.
	CleanInvalidate
	// CleanInvalidateAddress writes back then discards the lines at an
	// address.
	CleanInvalidateAddress
	// CleanAddress writes back the lines at an address.
	CleanAddress
	// InvalidateAddress discards the lines at an address.
	InvalidateAddress
)

// String implements fmt.Stringer.
func (k CacheOpKind) String() string {
	switch k {
	case Invalidate:
		return "Invalidate"
	case CleanInvalidate:
		return "CleanInvalidate"
	case CleanInvalidateAddress:
		return "CleanInvalidateAddress"
	case CleanAddress:
		return "CleanAddress"
	case InvalidateAddress:
		return "InvalidateAddress"
	default:
		return fmt.Sprintf("CacheOpKind(%d)", int(k))
	}
}

// CacheOperation is one cache maintenance request. Addr is only meaningful
// for the address-scoped kinds; the amount of memory affected around it is
// defined by each architecture.
type CacheOperation struct {
	Kind CacheOpKind
	Type CacheType
	Addr memarch.Addr
}

// AddressScoped returns true if the operation applies at Addr rather than to
// the whole cache.
func (op CacheOperation) AddressScoped() bool {
	switch op.Kind {
	case CleanInvalidateAddress, CleanAddress, InvalidateAddress:
		return true
	default:
		return false
	}
}

// Valid returns true if Kind and Type name a known operation and cache.
func (op CacheOperation) Valid() bool {
	return op.Kind >= Invalidate && op.Kind <= InvalidateAddress && op.Type >= Instruction && op.Type <= Translation
}

// String implements fmt.Stringer.
func (op CacheOperation) String() string {
	if op.AddressScoped() {
		return fmt.Sprintf("%v(%v, %v)", op.Kind, op.Type, op.Addr)
	}
	return fmt.Sprintf("%v(%v)", op.Kind, op.Type)
}

// InvalidateOp returns an Invalidate of the whole cache t.
func InvalidateOp(t CacheType) CacheOperation {
	return CacheOperation{Kind: Invalidate, Type: t}
}

// CleanInvalidateOp returns a CleanInvalidate of the whole cache t.
func CleanInvalidateOp(t CacheType) CacheOperation {
	return CacheOperation{Kind: CleanInvalidate, Type: t}
}

// CleanInvalidateAddressOp returns a CleanInvalidateAddress of addr in t.
func CleanInvalidateAddressOp(t CacheType, addr memarch.Addr) CacheOperation {
	return CacheOperation{Kind: CleanInvalidateAddress, Type: t, Addr: addr}
}

// CleanAddressOp returns a CleanAddress of addr in t.
func CleanAddressOp(t CacheType, addr memarch.Addr) CacheOperation {
	return CacheOperation{Kind: CleanAddress, Type: t, Addr: addr}
}

// InvalidateTranslationOp returns an InvalidateAddress of the translation
// of addr. It must be performed after a page table entry covering addr
// changes and before the frame it translated to is reused.
func InvalidateTranslationOp(addr memarch.Addr) CacheOperation {
	return InvalidateAddressOp(Translation, addr)
}

// InvalidateAddressOp returns an InvalidateAddress of addr in t.
func InvalidateAddressOp(t CacheType, addr memarch.Addr) CacheOperation {
	return CacheOperation{Kind: InvalidateAddress, Type: t, Addr: addr}
}
