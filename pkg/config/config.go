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

// Package config provides basic infrastructure to set configuration settings
// for archctl. Settings come from an optional TOML file and from command line
// flags; a flag set explicitly on the command line overrides the file.
package config

import (
	"fmt"
	"time"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/bitmap"
	"kestrel.dev/kestrel/pkg/frame"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/memarch"
)

// Config holds configuration that is not part of any single command.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and the key used in the file.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// MemoryBase is the physical address of the first frame handed to the
	// frame allocator. It must be page aligned.
	MemoryBase uint64 `flag:"memory-base" toml:"memory_base"`

	// MemoryFrames is the number of frames managed by the frame allocator.
	MemoryFrames uint64 `flag:"memory-frames" toml:"memory_frames"`

	// ReservedFrames is the number of frames at MemoryBase withheld from
	// allocation, for firmware and the kernel image.
	ReservedFrames uint64 `flag:"reserved-frames" toml:"reserved_frames"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is a file that receives a copy of every log message, in
	// addition to standard error.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the format of DebugLog: text or json.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// UserTrapLogInterval is the minimum interval between warnings about
	// unhandled user traps on one vector.
	UserTrapLogInterval time.Duration `flag:"user-trap-log-interval" toml:"user_trap_log_interval"`

	// Variant selects the architecture variant inspected by commands that
	// do not depend on the build. Empty means the built-in variant.
	Variant string `flag:"variant" toml:"variant"`
}

func (c *Config) validate() error {
	if !memarch.Addr(c.MemoryBase).IsPageAligned() {
		return fmt.Errorf("memory base %#x is not page aligned", c.MemoryBase)
	}
	if c.MemoryFrames == 0 {
		return fmt.Errorf("memory-frames must be positive")
	}
	if c.MemoryFrames > uint64(bitmap.MaxBitEntryLimit) {
		return fmt.Errorf("memory-frames (%d) must be at most %d", c.MemoryFrames, bitmap.MaxBitEntryLimit)
	}
	if c.ReservedFrames >= c.MemoryFrames {
		return fmt.Errorf("reserved-frames (%d) must be less than memory-frames (%d)", c.ReservedFrames, c.MemoryFrames)
	}
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		switch f {
		case "text", "json":
		default:
			return fmt.Errorf("invalid log format %q, must be text or json", f)
		}
	}
	if c.UserTrapLogInterval < 0 {
		return fmt.Errorf("user-trap-log-interval must not be negative, got %v", c.UserTrapLogInterval)
	}
	if c.Variant != "" {
		if _, err := arch.ParseArch(c.Variant); err != nil {
			return err
		}
	}
	return nil
}

// Arch returns the configured variant, or def when none is configured.
func (c *Config) Arch(def arch.Arch) arch.Arch {
	if c.Variant == "" {
		return def
	}
	a, err := arch.ParseArch(c.Variant)
	if err != nil {
		// validate rejects unknown variants.
		panic(err)
	}
	return a
}

// NewAllocator returns a frame allocator over the configured memory with the
// reserved frames already taken.
func (c *Config) NewAllocator() (*frame.Allocator, error) {
	base := memarch.FrameOf(memarch.Addr(c.MemoryBase))
	a := frame.New(base, c.MemoryFrames)
	if c.ReservedFrames > 0 {
		if err := a.Reserve(base, c.ReservedFrames); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Log logs the configuration at Info level.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("\t\tMemory: %d frames at %#x, %d reserved", c.MemoryFrames, c.MemoryBase, c.ReservedFrames)
	log.Infof("\t\tLogFormat: %s, Debug: %t", c.LogFormat, c.Debug)
	if c.DebugLog != "" {
		log.Infof("\t\tDebugLog: %s (%s)", c.DebugLog, c.DebugLogFormat)
	}
	log.Infof("\t\tUserTrapLogInterval: %v", c.UserTrapLogInterval)
	if c.Variant != "" {
		log.Infof("\t\tVariant: %s", c.Variant)
	}
}
