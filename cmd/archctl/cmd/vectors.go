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
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/config"
)

// Vectors implements subcommands.Command for the "vectors" command.
type Vectors struct {
	all bool
}

// Name implements subcommands.Command.Name.
func (*Vectors) Name() string {
	return "vectors"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Vectors) Synopsis() string {
	return "list the interrupt vectors of an architecture variant"
}

// Usage implements subcommands.Command.Usage.
func (*Vectors) Usage() string {
	return `vectors [flags] - list the named vectors of the selected variant.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Vectors) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&v.all, "all", false, "include vectors with no architectural name.")
}

// Execute implements subcommands.Command.Execute.
func (v *Vectors) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	sel := selected(conf)

	fmt.Fprintf(stdout, "%s: %d vectors\n", sel.arch, sel.vectors)
	for i := 0; i < sel.vectors; i++ {
		name := sel.vectorName(arch.Vector(i))
		if name == "" {
			if !v.all {
				continue
			}
			name = "-"
		}
		fmt.Fprintf(stdout, "%#04x\t%s\n", i, name)
	}
	return subcommands.ExitSuccess
}
