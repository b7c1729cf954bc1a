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

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/pkg/arch/conformance"
	"kestrel.dev/kestrel/pkg/config"
	"kestrel.dev/kestrel/pkg/memarch"
)

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct{}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "check every architecture variant"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest - check the memory map, page table, process, vector and cache
properties of every variant concurrently.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Selftest) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Selftest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	base := memarch.FrameOf(memarch.Addr(conf.MemoryBase))
	if err := conformance.CheckAll(ctx, base, conf.MemoryFrames); err != nil {
		return Errorf("selftest failed:\n%v", err)
	}
	fmt.Fprintln(stdout, "selftest passed")
	return subcommands.ExitSuccess
}
