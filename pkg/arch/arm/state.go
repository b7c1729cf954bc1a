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

// Processor modes held in CPSR[4:0].
const (
	ModeUser   = 0x10
	ModeSystem = 0x1f
	modeMask   = 0x1f
)

// Register numbers with dedicated roles.
const (
	SP = 13
	LR = 14
	PC = 15
)

// State is the register frame saved by the exception entry stubs.
type State struct {
	// Regs holds R0 to R15.
	Regs [16]uint32

	// CPSR is the saved program status register.
	CPSR uint32

	// FAR and FSR describe the last data or prefetch abort.
	FAR, FSR uint32
}

func newState(entry, stack uint64, privileged bool) State {
	var s State
	s.Regs[PC] = uint32(entry)
	s.Regs[SP] = uint32(stack)
	s.CPSR = ModeUser
	if privileged {
		s.CPSR = ModeSystem
	}
	return s
}

// PC implements arch.CPUState.PC.
func (s *State) PC() uint64 { return uint64(s.Regs[PC]) }

// SetPC implements arch.CPUState.SetPC.
func (s *State) SetPC(v uint64) { s.Regs[PC] = uint32(v) }

// StackPointer implements arch.CPUState.StackPointer.
func (s *State) StackPointer() uint64 { return uint64(s.Regs[SP]) }

// SetStackPointer implements arch.CPUState.SetStackPointer.
func (s *State) SetStackPointer(v uint64) { s.Regs[SP] = uint32(v) }

// ReturnValue implements arch.CPUState.ReturnValue.
func (s *State) ReturnValue() uint64 { return uint64(s.Regs[0]) }

// SetReturnValue implements arch.CPUState.SetReturnValue.
func (s *State) SetReturnValue(v uint64) { s.Regs[0] = uint32(v) }

// FaultAddress implements arch.CPUState.FaultAddress.
func (s *State) FaultAddress() uint64 { return uint64(s.FAR) }

// Privileged implements arch.CPUState.Privileged.
func (s *State) Privileged() bool { return s.CPSR&modeMask != ModeUser }
