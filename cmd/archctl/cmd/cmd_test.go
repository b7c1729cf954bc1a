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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/config"
	"kestrel.dev/kestrel/pkg/system"
)

func newConfig(t *testing.T, flags ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(flags); err != nil {
		t.Fatalf("Parse(%v): %v", flags, err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

// run executes c with the given arguments and returns its output.
func run(t *testing.T, c subcommands.Command, conf *config.Config, args ...string) (string, subcommands.ExitStatus) {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	status := c.Execute(context.Background(), f, conf)
	return buf.String(), status
}

func TestRegionsText(t *testing.T) {
	for _, a := range arch.Arches {
		t.Run(a.String(), func(t *testing.T) {
			out, status := run(t, new(Regions), newConfig(t, "--variant="+a.String()))
			if status != subcommands.ExitSuccess {
				t.Fatalf("regions exited with %v", status)
			}
			for _, r := range variants[a].memoryMap().Regions() {
				if !strings.Contains(out, r.Kind.String()) {
					t.Errorf("output does not mention %v:\n%s", r.Kind, out)
				}
			}
		})
	}
}

func TestRegionsEncoded(t *testing.T) {
	conf := newConfig(t, "--variant=arm")
	want := newMapInfo(variants[arch.ARM].memoryMap())

	out, status := run(t, new(Regions), conf, "--format=json")
	if status != subcommands.ExitSuccess {
		t.Fatalf("regions exited with %v", status)
	}
	var got mapInfo
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal JSON: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}

	out, status = run(t, new(Regions), conf, "--format=yaml")
	if status != subcommands.ExitSuccess {
		t.Fatalf("regions exited with %v", status)
	}
	got = mapInfo{}
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal YAML: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("YAML mismatch (-want +got):\n%s", diff)
	}

	if _, status := run(t, new(Regions), conf, "--format=xml"); status != subcommands.ExitFailure {
		t.Errorf("regions --format=xml exited with %v, want %v", status, subcommands.ExitFailure)
	}
}

func TestVectors(t *testing.T) {
	out, status := run(t, new(Vectors), newConfig(t, "--variant=arm64"))
	if status != subcommands.ExitSuccess {
		t.Fatalf("vectors exited with %v", status)
	}
	for _, name := range []string{"CurrentSP0Sync", "Lower64Sync", "Lower32SError"} {
		if !strings.Contains(out, name) {
			t.Errorf("output does not list %s:\n%s", name, out)
		}
	}

	named, _ := run(t, new(Vectors), newConfig(t, "--variant=intel"))
	all, _ := run(t, new(Vectors), newConfig(t, "--variant=intel"), "--all")
	if n := strings.Count(all, "\n"); n != 257 {
		t.Errorf("vectors --all printed %d lines, want 257", n)
	}
	if strings.Count(named, "\n") >= strings.Count(all, "\n") {
		t.Errorf("unnamed vectors listed without --all")
	}
}

func TestSpawn(t *testing.T) {
	for _, privileged := range []bool{false, true} {
		args := []string{"--id=5", "--mappings"}
		if privileged {
			args = append(args, "--privileged")
		}
		out, status := run(t, new(Spawn), newConfig(t, "--memory-frames=1024", "--reserved-frames=16"), args...)
		if status != subcommands.ExitSuccess {
			t.Fatalf("spawn %v exited with %v:\n%s", args, status, out)
		}
		if !strings.Contains(out, "process 5") || !strings.Contains(out, "back at baseline (16 frames in use)") {
			t.Errorf("spawn %v output:\n%s", args, out)
		}
	}
}

func TestSpawnHeap(t *testing.T) {
	out, status := run(t, new(Spawn), newConfig(t, "--memory-frames=1024"), "--heap=3")
	if status != subcommands.ExitSuccess {
		t.Fatalf("spawn --heap=3 exited with %v:\n%s", status, out)
	}
	if got := strings.Count(out, "  heap "); got != 3 {
		t.Errorf("spawn --heap=3 printed %d heap pages, want 3:\n%s", got, out)
	}
	if !strings.Contains(out, "back at baseline (0 frames in use)") {
		t.Errorf("heap frames not returned:\n%s", out)
	}
}

func TestSpawnOutOfMemory(t *testing.T) {
	conf := newConfig(t, "--memory-frames=2")
	if _, status := run(t, new(Spawn), conf); status != subcommands.ExitFailure {
		t.Errorf("spawn with two frames exited with %v, want %v", status, subcommands.ExitFailure)
	}
}

func TestSpawnOtherVariant(t *testing.T) {
	for _, a := range arch.Arches {
		if a == system.Variant {
			continue
		}
		if _, status := run(t, new(Spawn), newConfig(t, "--variant="+a.String())); status != subcommands.ExitFailure {
			t.Errorf("spawn for %v exited with %v, want %v", a, status, subcommands.ExitFailure)
		}
	}
}

func TestSelftest(t *testing.T) {
	out, status := run(t, new(Selftest), newConfig(t, "--memory-frames=4096"))
	if status != subcommands.ExitSuccess {
		t.Fatalf("selftest exited with %v", status)
	}
	if !strings.Contains(out, "passed") {
		t.Errorf("selftest output: %q", out)
	}
}
