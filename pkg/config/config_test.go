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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/memarch"
)

func newFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archctl.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if got := c.Arch(arch.ARM); got != arch.ARM {
		t.Errorf("Arch(arm) = %v with no variant, want arm", got)
	}
}

func TestFromFlags(t *testing.T) {
	fs := newFlags(t)
	for name, val := range map[string]string{
		"debug":                  "true",
		"memory-frames":          "123",
		"log-format":             "json",
		"user-trap-log-interval": "5s",
		"variant":                "arm64",
	} {
		if err := fs.Set(name, val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}
	c, err := NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		MemoryBase:          0x100000,
		MemoryFrames:        123,
		LogFormat:           "json",
		Debug:               true,
		UserTrapLogInterval: 5 * time.Second,
		Variant:             "arm64",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
	if got := c.Arch(arch.Intel); got != arch.ARM64 {
		t.Errorf("Arch() = %v, want arm64", got)
	}
}

func TestToFlags(t *testing.T) {
	c, err := NewFromFlags(newFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Debug = true
	c.MemoryFrames = 512
	c.UserTrapLogInterval = time.Minute

	want := []string{
		"--memory-frames=512",
		"--debug=true",
		"--user-trap-log-interval=1m0s",
	}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFile(t *testing.T) {
	path := writeFile(t, `
memory_base = 0x200000
memory_frames = 1024
reserved_frames = 16
log_format = "json"
variant = "arm"
`)
	fs := newFlags(t)
	if err := fs.Set("config", path); err != nil {
		t.Fatal(err)
	}
	// Explicit flags win over the file.
	if err := fs.Set("memory-frames", "2048"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		MemoryBase:          0x200000,
		MemoryFrames:        2048,
		ReservedFrames:      16,
		LogFormat:           "json",
		DebugLogFormat:      "text",
		UserTrapLogInterval: time.Second,
		Variant:             "arm",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		want     string
	}{
		{name: "unknown key", contents: "memory = 1\n", want: "unknown keys"},
		{name: "syntax", contents: "memory_frames = \n", want: "loading"},
		{name: "invalid value", contents: "log_format = \"xml\"\n", want: "invalid log format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFlags(t)
			if err := fs.Set("config", writeFile(t, tc.contents)); err != nil {
				t.Fatal(err)
			}
			_, err := NewFromFlags(fs)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
	}{
		{name: "unaligned base", flags: map[string]string{"memory-base": "4097"}},
		{name: "no frames", flags: map[string]string{"memory-frames": "0"}},
		{name: "too many frames", flags: map[string]string{"memory-frames": "2147483648"}},
		{name: "all reserved", flags: map[string]string{"memory-frames": "8", "reserved-frames": "8"}},
		{name: "log format", flags: map[string]string{"log-format": "xml"}},
		{name: "debug log format", flags: map[string]string{"debug-log-format": "xml"}},
		{name: "negative interval", flags: map[string]string{"user-trap-log-interval": "-1s"}},
		{name: "variant", flags: map[string]string{"variant": "mips"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFlags(t)
			for name, val := range tc.flags {
				if err := fs.Set(name, val); err != nil {
					t.Fatalf("Flag set: %v", err)
				}
			}
			if _, err := NewFromFlags(fs); err == nil {
				t.Errorf("NewFromFlags(%v) succeeded, want error", tc.flags)
			}
		})
	}
}

func TestNewAllocator(t *testing.T) {
	fs := newFlags(t)
	if err := fs.Set("memory-frames", "64"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Set("reserved-frames", "4"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.NewAllocator()
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	if a.Total() != 64 || a.Used() != 4 {
		t.Errorf("allocator has %d frames, %d used, want 64, 4", a.Total(), a.Used())
	}
	f, err := a.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame failed: %v", err)
	}
	if want := memarch.FrameOf(0x100000) + 4; f != want {
		t.Errorf("first frame = %v, want %v", f, want)
	}
}
