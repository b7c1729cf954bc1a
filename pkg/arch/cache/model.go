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

package cache

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
)

// Model is a split instruction and data cache with a TLB.
type Model struct {
	Instruction *Lines
	Data        *Lines
	TLB         *TLB
}

// NewModel returns an empty model with the given line size.
func NewModel(lineSize uint64) Model {
	return Model{
		Instruction: NewLines(lineSize),
		Data:        NewLines(lineSize),
		TLB:         NewTLB(),
	}
}

// targets returns the caches selected by t.
func (m Model) targets(t arch.CacheType) []*Lines {
	switch t {
	case arch.Instruction:
		return []*Lines{m.Instruction}
	case arch.Data:
		return []*Lines{m.Data}
	case arch.Unified:
		return []*Lines{m.Instruction, m.Data}
	default:
		panic(fmt.Sprintf("unknown cache type %v", t))
	}
}

// Apply performs op. Address-scoped operations affect the lines overlapping
// block, which the caller derives from op.Addr at its granularity.
func (m Model) Apply(op arch.CacheOperation, block memarch.AddrRange) {
	if op.Type == arch.Translation {
		m.TLB.Apply(op)
		return
	}
	for _, l := range m.targets(op.Type) {
		switch op.Kind {
		case arch.Invalidate:
			l.InvalidateAll()
		case arch.CleanInvalidate:
			l.CleanInvalidateAll()
		case arch.CleanInvalidateAddress:
			l.CleanInvalidate(block)
		case arch.CleanAddress:
			l.Clean(block)
		case arch.InvalidateAddress:
			l.Invalidate(block)
		default:
			panic(fmt.Sprintf("unknown cache operation %v", op.Kind))
		}
	}
}
