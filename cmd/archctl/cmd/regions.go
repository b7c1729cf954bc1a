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
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/config"
)

// Regions implements subcommands.Command for the "regions" command.
type Regions struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "print the memory map of an architecture variant"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return `regions [flags] - print the regions of the selected variant's address space template.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regions) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.format, "format", "text", "output format: text, json or yaml.")
}

// regionInfo is the serialized form of an arch.Region.
type regionInfo struct {
	Kind     string `json:"kind" yaml:"kind"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Fixed    bool   `json:"fixed" yaml:"fixed"`
	Physical string `json:"physical,omitempty" yaml:"physical,omitempty"`
	Access   string `json:"access" yaml:"access"`
	Type     string `json:"type" yaml:"type"`
}

type mapInfo struct {
	Arch    string       `json:"arch" yaml:"arch"`
	Kernel  string       `json:"kernel" yaml:"kernel"`
	User    string       `json:"user" yaml:"user"`
	Regions []regionInfo `json:"regions" yaml:"regions"`
}

func newMapInfo(mm *arch.MemoryMap) mapInfo {
	info := mapInfo{
		Arch:   mm.Name(),
		Kernel: mm.KernelRange().String(),
		User:   mm.UserRange().String(),
	}
	for _, r := range mm.Regions() {
		ri := regionInfo{
			Kind:   r.Kind.String(),
			Start:  r.Range.Start.String(),
			End:    r.Range.End.String(),
			Fixed:  r.Fixed,
			Access: r.Access.String(),
			Type:   r.Type.ShortString(),
		}
		if r.Fixed {
			ri.Physical = r.Physical.String()
		}
		info.Regions = append(info.Regions, ri)
	}
	return info
}

// Execute implements subcommands.Command.Execute.
func (r *Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	info := newMapInfo(selected(conf).memoryMap())

	switch r.format {
	case "text":
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintf(w, "%s: kernel %s, user %s\n", info.Arch, info.Kernel, info.User)
		fmt.Fprintln(w, "KIND\tSTART\tEND\tACCESS\tTYPE\tPHYSICAL")
		for _, ri := range info.Regions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ri.Kind, ri.Start, ri.End, ri.Access, ri.Type, ri.Physical)
		}
		if err := w.Flush(); err != nil {
			return Errorf("writing regions: %v", err)
		}
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return Errorf("encoding regions: %v", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return Errorf("encoding regions: %v", err)
		}
		if err := enc.Close(); err != nil {
			return Errorf("encoding regions: %v", err)
		}
	default:
		return Errorf("invalid format %q, must be text, json or yaml", r.format)
	}
	return subcommands.ExitSuccess
}
