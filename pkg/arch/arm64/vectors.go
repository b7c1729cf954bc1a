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

package arm64

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/trap"
)

// Exception kinds within each group of the vector table.
const (
	Sync arch.Vector = iota
	IRQ
	FIQ
	SError
)

// Vector table groups, by where the exception was taken from.
const (
	CurrentSP0 arch.Vector = iota * 4
	CurrentSPx
	Lower64
	Lower32
)

// Vectors is the number of exception vectors.
const Vectors = 16

var (
	kindNames  = [...]string{"Sync", "IRQ", "FIQ", "SError"}
	groupNames = [...]string{"CurrentSP0", "CurrentSPx", "Lower64", "Lower32"}
)

// VectorName returns the name of v, such as "Lower64Sync".
func VectorName(v arch.Vector) string {
	if v >= Vectors {
		return ""
	}
	return groupNames[v/4] + kindNames[v%4]
}

// VectorTable is the AArch64 exception vector table.
type VectorTable = trap.Table[State, *State]

var _ arch.InterruptController[State] = (*VectorTable)(nil)

// NewVectorTable returns a table with every vector unregistered.
func NewVectorTable() *VectorTable {
	return trap.NewTable[State, *State](Arch, Vectors, VectorName)
}
