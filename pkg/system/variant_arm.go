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

//go:build arm

package system

import (
	"kestrel.dev/kestrel/pkg/arch/arm"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Variant is the architecture bound into this build.
const Variant = arm.Arch

// Types of the bound architecture.
type (
	CPUState    = arm.State
	Process     = arm.Process
	PageTables  = arm.PageTables
	Cache       = arm.Cache
	VectorTable = arm.VectorTable
	Factory     = arm.Factory
)

var memoryMap = arm.MemoryMap

func newCache() *Cache {
	return arm.NewCache()
}

func newVectorTable() *VectorTable {
	return arm.NewVectorTable()
}

func newFactory(alloc pagetables.Allocator) *Factory {
	return arm.NewFactory(alloc)
}
