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

package conformance

import (
	"context"

	"golang.org/x/sync/errgroup"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/arm"
	"kestrel.dev/kestrel/pkg/arch/arm64"
	"kestrel.dev/kestrel/pkg/arch/intel"
	"kestrel.dev/kestrel/pkg/memarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Intel returns the x86 variant.
func Intel() Variant[intel.State, *intel.State, *intel.Process] {
	c := intel.NewCache()
	return Variant[intel.State, *intel.State, *intel.Process]{
		Arch:      intel.Arch,
		MemoryMap: intel.MemoryMap(),
		NewFactory: func(alloc pagetables.Allocator) arch.ProcessFactory[*intel.Process] {
			return intel.NewFactory(alloc)
		},
		NewVectorTable: intel.NewVectorTable,
		Cache:          c,
		TLB:            c.TLB(),
		Coherent:       true,
	}
}

// ARM returns the ARMv7 variant.
func ARM() Variant[arm.State, *arm.State, *arm.Process] {
	c := arm.NewCache()
	return Variant[arm.State, *arm.State, *arm.Process]{
		Arch:      arm.Arch,
		MemoryMap: arm.MemoryMap(),
		NewFactory: func(alloc pagetables.Allocator) arch.ProcessFactory[*arm.Process] {
			return arm.NewFactory(alloc)
		},
		NewVectorTable: arm.NewVectorTable,
		Cache:          c,
		TLB:            c.TLB(),
	}
}

// ARM64 returns the AArch64 variant.
func ARM64() Variant[arm64.State, *arm64.State, *arm64.Process] {
	c := arm64.NewCache()
	return Variant[arm64.State, *arm64.State, *arm64.Process]{
		Arch:      arm64.Arch,
		MemoryMap: arm64.MemoryMap(),
		NewFactory: func(alloc pagetables.Allocator) arch.ProcessFactory[*arm64.Process] {
			return arm64.NewFactory(alloc)
		},
		NewVectorTable: arm64.NewVectorTable,
		Cache:          c,
		TLB:            c.TLB(),
	}
}

// CheckAll runs Check against every variant concurrently, each with its own
// allocator. It returns the first failure.
func CheckAll(ctx context.Context, base memarch.Frame, frames uint64) error {
	g, ctx := errgroup.WithContext(ctx)
	check := func(fn func() error) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	check(func() error { return Check(Intel(), base, frames) })
	check(func() error { return Check(ARM(), base, frames) })
	check(func() error { return Check(ARM64(), base, frames) })
	return g.Wait()
}
