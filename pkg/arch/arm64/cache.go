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
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/cache"
	"kestrel.dev/kestrel/pkg/errors/archerr"
	"kestrel.dev/kestrel/pkg/memarch"
)

// LineSize is the cache line size reported by CTR_EL0 on the supported
// cores.
const LineSize = 64

// Cache is the AArch64 cache controller. Address scoped operations act on
// exactly the line containing the address (DC CVAC, DC CIVAC, DC IVAC,
// IC IVAU).
type Cache struct {
	model cache.Model
}

var _ arch.CacheController = (*Cache)(nil)

// NewCache returns a controller with empty caches.
func NewCache() *Cache {
	return &Cache{model: cache.NewModel(LineSize)}
}

// DataLines returns the data cache line state.
func (c *Cache) DataLines() *cache.Lines { return c.model.Data }

// InstructionLines returns the instruction cache line state.
func (c *Cache) InstructionLines() *cache.Lines { return c.model.Instruction }

// TLB returns the unified TLB.
func (c *Cache) TLB() *cache.TLB { return c.model.TLB }

// Perform implements arch.CacheController.Perform.
//
// There are no by-address operations on unified caches, and instruction
// cache lines can only be invalidated by address, never cleaned.
// Translation operations are TLBI VMALLE1 and TLBI VAE1; the TLB cannot be
// cleaned.
func (c *Cache) Perform(op arch.CacheOperation) error {
	if !op.Valid() || (op.Type == arch.Translation && op.Kind == arch.CleanAddress) {
		return fmt.Errorf("%s: %v: %w", Arch, op, archerr.ErrUnsupported)
	}
	if op.AddressScoped() && op.Type != arch.Translation {
		if op.Type == arch.Unified || (op.Kind == arch.CleanAddress && op.Type == arch.Instruction) {
			return fmt.Errorf("%s: %v: %w", Arch, op, archerr.ErrUnsupported)
		}
	}
	c.model.Apply(op, c.model.Data.Block(op.Addr, LineSize))
	return nil
}

// CleanData writes back the data cache line containing addr.
func (c *Cache) CleanData(addr memarch.Addr) error {
	return c.Perform(arch.CleanAddressOp(arch.Data, addr))
}
