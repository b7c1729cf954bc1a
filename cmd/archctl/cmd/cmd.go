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

// Package cmd holds implementations of the archctl commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/arm"
	"kestrel.dev/kestrel/pkg/arch/arm64"
	"kestrel.dev/kestrel/pkg/arch/intel"
	"kestrel.dev/kestrel/pkg/config"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/system"
)

// stdout is where command output is written.
var stdout io.Writer = os.Stdout

// Errorf logs an error to the log and to stderr, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

// variant is the static description of one architecture variant.
type variant struct {
	arch       arch.Arch
	memoryMap  func() *arch.MemoryMap
	vectors    int
	vectorName func(arch.Vector) string
}

var variants = map[arch.Arch]variant{
	arch.Intel: {arch.Intel, intel.MemoryMap, intel.Vectors, intel.VectorName},
	arch.ARM:   {arch.ARM, arm.MemoryMap, arm.Vectors, arm.VectorName},
	arch.ARM64: {arch.ARM64, arm64.MemoryMap, arm64.Vectors, arm64.VectorName},
}

// selected returns the variant configured in conf, defaulting to the variant
// bound into this build.
func selected(conf *config.Config) variant {
	return variants[conf.Arch(system.Variant)]
}
