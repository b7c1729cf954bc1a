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
	"kestrel.dev/kestrel/pkg/arch/cache"
	"kestrel.dev/kestrel/pkg/errors/archerr"
)

// Cache is the x86 cache controller. The instruction and data caches are
// coherent with instruction fetch and DMA, so their operations succeed
// without doing anything. The TLB is not kept coherent with page table
// writes: Translation operations reload CR3 or execute invlpg.
type Cache struct {
	tlb *cache.TLB
}

var _ arch.CacheController = (*Cache)(nil)

// NewCache returns a controller with an empty TLB.
func NewCache() *Cache {
	return &Cache{tlb: cache.NewTLB()}
}

// TLB returns the TLB.
func (c *Cache) TLB() *cache.TLB { return c.tlb }

// Perform implements arch.CacheController.Perform.
func (c *Cache) Perform(op arch.CacheOperation) error {
	if !op.Valid() || (op.Type == arch.Translation && op.Kind == arch.CleanAddress) {
		return fmt.Errorf("%s: %v: %w", Arch, op, archerr.ErrUnsupported)
	}
	if op.Type == arch.Translation {
		c.tlb.Apply(op)
	}
	return nil
}
