// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for the
// architecture layer.
package errors

import "fmt"

// Kind classifies a failure. Every failure path in the architecture layer
// reports exactly one Kind.
type Kind uint8

// Failure kinds.
const (
	// KindUnknown is never produced by this layer; it is what KindOf reports
	// for foreign errors.
	KindUnknown Kind = iota
	KindInvalidAddress
	KindNotMapped
	KindOutOfPageTableMemory
	KindOutOfMemory
	KindInvalidVector
	KindUnsupported
	KindUnhandledTrap
)

var kindNames = [...]string{
	KindUnknown:              "Unknown",
	KindInvalidAddress:       "InvalidAddress",
	KindNotMapped:            "NotMapped",
	KindOutOfPageTableMemory: "OutOfPageTableMemory",
	KindOutOfMemory:          "OutOfMemory",
	KindInvalidVector:        "InvalidVector",
	KindUnsupported:          "Unsupported",
	KindUnhandledTrap:        "UnhandledTrap",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Error represents a failure kind with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the underlying Kind value.
func (e *Error) Kind() Kind { return e.kind }
