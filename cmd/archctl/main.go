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

// Binary archctl inspects and exercises the architecture layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/cmd/archctl/cmd"
	"kestrel.dev/kestrel/pkg/config"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/system"
)

const delimString = "**************** archctl ****************"

func main() {
	os.Exit(run())
}

// run sets up archctl and executes the subcommand. It returns the exit code
// rather than exiting so that deferred cleanups run.
func run() int {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archctl: %v\n", err)
		return 128
	}

	// Set up logging.
	var e log.Emitter = newEmitter(conf.LogFormat, os.Stderr)
	if conf.DebugLog != "" {
		f, err := os.OpenFile(conf.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "archctl: error opening debug log file in %q: %v\n", conf.DebugLog, err)
			return 128
		}
		defer f.Close()
		e = &log.MultiEmitter{e, newEmitter(conf.DebugLogFormat, f)}
	}
	log.SetTarget(e)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Infof(delimString)
	log.Infof("Variant %s, %s, %s/%s, %d CPUs", system.Variant, runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	return int(subcmdCode)
}

// forEachCmd invokes the passed callback for each command supported by
// archctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Regions), "")
	cb(new(cmd.Vectors), "")
	cb(new(cmd.Spawn), "")

	const debugGroup = "debug"
	cb(new(cmd.Selftest), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	panic(fmt.Sprintf("invalid log format %q, must be text or json", format))
}
