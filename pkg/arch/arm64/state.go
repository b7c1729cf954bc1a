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

// PSTATE values for the initial state of a process.
const (
	// PstateEL0t is EL0 using SP_EL0.
	PstateEL0t = 0x0

	// PstateEL1h is EL1 using SP_EL1.
	PstateEL1h = 0x5

	pstateELMask = 0xc
)

// State is the register frame saved by the exception entry stubs.
type State struct {
	Regs   [31]uint64
	Sp     uint64
	Pc     uint64
	Pstate uint64

	// Esr is ESR_EL1, the exception syndrome.
	Esr uint64

	// Far is FAR_EL1, the faulting virtual address.
	Far uint64
}

func newState(entry, stack uint64, privileged bool) State {
	s := State{Pc: entry, Sp: stack, Pstate: PstateEL0t}
	if privileged {
		s.Pstate = PstateEL1h
	}
	return s
}

// PC implements arch.CPUState.PC.
func (s *State) PC() uint64 { return s.Pc }

// SetPC implements arch.CPUState.SetPC.
func (s *State) SetPC(v uint64) { s.Pc = v }

// StackPointer implements arch.CPUState.StackPointer.
func (s *State) StackPointer() uint64 { return s.Sp }

// SetStackPointer implements arch.CPUState.SetStackPointer.
func (s *State) SetStackPointer(v uint64) { s.Sp = v }

// ReturnValue implements arch.CPUState.ReturnValue.
func (s *State) ReturnValue() uint64 { return s.Regs[0] }

// SetReturnValue implements arch.CPUState.SetReturnValue.
func (s *State) SetReturnValue(v uint64) { s.Regs[0] = v }

// FaultAddress implements arch.CPUState.FaultAddress.
func (s *State) FaultAddress() uint64 { return s.Far }

// Privileged implements arch.CPUState.Privileged.
func (s *State) Privileged() bool { return s.Pstate&pstateELMask != 0 }
