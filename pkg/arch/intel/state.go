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

// Segment selectors installed in the GDT.
const (
	KernelCS = 0x08
	KernelSS = 0x10
	UserCS   = 0x1b
	UserSS   = 0x23
)

// EFLAGS bits.
const (
	eflagsReserved = 1 << 1
	eflagsIF       = 1 << 9
)

// State is the register frame pushed by the trap entry stubs.
type State struct {
	// General purpose registers, in pushad order.
	EDI, ESI, EBP, ESPDummy, EBX, EDX, ECX, EAX uint32

	// Vector is the interrupt vector number.
	Vector uint32

	// Error is the CPU supplied error code, or zero.
	Error uint32

	// Interrupt frame pushed by the CPU. ESP and SS are only valid for
	// traps taken from user mode.
	EIP, CS, EFLAGS, ESP, SS uint32

	// CR2 holds the faulting linear address of the last page fault.
	CR2 uint32
}

func newState(entry, stack uint64, privileged bool) State {
	s := State{
		EIP:    uint32(entry),
		ESP:    uint32(stack),
		EFLAGS: eflagsReserved | eflagsIF,
		CS:     UserCS,
		SS:     UserSS,
	}
	if privileged {
		s.CS, s.SS = KernelCS, KernelSS
	}
	return s
}

// PC implements arch.CPUState.PC.
func (s *State) PC() uint64 { return uint64(s.EIP) }

// SetPC implements arch.CPUState.SetPC.
func (s *State) SetPC(v uint64) { s.EIP = uint32(v) }

// StackPointer implements arch.CPUState.StackPointer.
func (s *State) StackPointer() uint64 { return uint64(s.ESP) }

// SetStackPointer implements arch.CPUState.SetStackPointer.
func (s *State) SetStackPointer(v uint64) { s.ESP = uint32(v) }

// ReturnValue implements arch.CPUState.ReturnValue.
func (s *State) ReturnValue() uint64 { return uint64(s.EAX) }

// SetReturnValue implements arch.CPUState.SetReturnValue.
func (s *State) SetReturnValue(v uint64) { s.EAX = uint32(v) }

// FaultAddress implements arch.CPUState.FaultAddress.
func (s *State) FaultAddress() uint64 { return uint64(s.CR2) }

// Privileged implements arch.CPUState.Privileged. The requested privilege
// level of CS is 3 in user mode.
func (s *State) Privileged() bool { return s.CS&3 != 3 }
