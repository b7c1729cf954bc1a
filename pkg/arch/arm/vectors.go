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

package arm

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/trap"
)

// Exception vectors, in vector table order.
const (
	Reset arch.Vector = iota
	UndefinedInstruction
	SupervisorCall
	PrefetchAbort
	DataAbort
	Reserved
	IRQ
	FIQ

	// Vectors is the number of exception vectors.
	Vectors = int(iota)
)

var vectorNames = [...]string{
	Reset:                "Reset",
	UndefinedInstruction: "UndefinedInstruction",
	SupervisorCall:       "SupervisorCall",
	PrefetchAbort:        "PrefetchAbort",
	DataAbort:            "DataAbort",
	Reserved:             "Reserved",
	IRQ:                  "IRQ",
	FIQ:                  "FIQ",
}

// VectorName returns the name of v.
func VectorName(v arch.Vector) string {
	if int(v) < len(vectorNames) {
		return vectorNames[v]
	}
	return ""
}

// VectorTable is the ARMv7 exception vector table.
type VectorTable = trap.Table[State, *State]

var _ arch.InterruptController[State] = (*VectorTable)(nil)

// NewVectorTable returns a table with every vector unregistered.
func NewVectorTable() *VectorTable {
	return trap.NewTable[State, *State](Arch, Vectors, VectorName)
}
