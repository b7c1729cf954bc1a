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

package intel

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/trap"
)

// Vectors is the number of interrupt descriptor table entries.
const Vectors = 256

// Exception vectors.
const (
	DivideError arch.Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRange
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtection
	PageFault
	_
	X87FloatingPoint
	AlignmentCheck
	MachineCheck
	SIMDFloatingPoint
)

// Remapped PIC interrupts and the system call gate.
const (
	IRQBase arch.Vector = 0x20
	IRQs                = 16
	Syscall arch.Vector = 0x90
)

var exceptionNames = [...]string{
	DivideError:               "DivideError",
	Debug:                     "Debug",
	NMI:                       "NMI",
	Breakpoint:                "Breakpoint",
	Overflow:                  "Overflow",
	BoundRange:                "BoundRange",
	InvalidOpcode:             "InvalidOpcode",
	DeviceNotAvailable:        "DeviceNotAvailable",
	DoubleFault:               "DoubleFault",
	CoprocessorSegmentOverrun: "CoprocessorSegmentOverrun",
	InvalidTSS:                "InvalidTSS",
	SegmentNotPresent:         "SegmentNotPresent",
	StackSegmentFault:         "StackSegmentFault",
	GeneralProtection:         "GeneralProtection",
	PageFault:                 "PageFault",
	X87FloatingPoint:          "X87FloatingPoint",
	AlignmentCheck:            "AlignmentCheck",
	MachineCheck:              "MachineCheck",
	SIMDFloatingPoint:         "SIMDFloatingPoint",
}

// VectorName returns the name of v, or "" for unassigned vectors.
func VectorName(v arch.Vector) string {
	switch {
	case int(v) < len(exceptionNames):
		return exceptionNames[v]
	case v >= IRQBase && v < IRQBase+IRQs:
		return fmt.Sprintf("IRQ%d", v-IRQBase)
	case v == Syscall:
		return "Syscall"
	default:
		return ""
	}
}

// VectorTable is the x86 interrupt vector table.
type VectorTable = trap.Table[State, *State]

var _ arch.InterruptController[State] = (*VectorTable)(nil)

// NewVectorTable returns a table with every vector unregistered.
func NewVectorTable() *VectorTable {
	return trap.NewTable[State, *State](Arch, Vectors, VectorName)
}
