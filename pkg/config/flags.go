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
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML configuration file. Flags set on the command line take precedence over the file.")

	// Memory flags.
	flagSet.Uint64("memory-base", 0x100000, "physical address of the first allocatable frame.")
	flagSet.Uint64("memory-frames", 16384, "number of frames managed by the frame allocator.")
	flagSet.Uint64("reserved-frames", 0, "number of frames at memory-base withheld from allocation.")

	// Debugging flags.
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. The file is appended to.")
	flagSet.String("debug-log-format", "text", "log format for --debug-log: text (default) or json.")
	flagSet.Duration("user-trap-log-interval", time.Second, "minimum interval between warnings about unhandled user traps on one vector.")

	flagSet.String("variant", "", "architecture variant to inspect: intel, arm or arm64. Empty means the built-in variant.")
}

// NewFromFlags creates a new Config. Values start at the flag defaults, are
// replaced by the file named by --config, if any, and finally by every flag
// set explicitly in flagSet.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()

	fields := make(map[string]int)
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fields[name] = i
		obj.Field(i).Set(reflect.ValueOf(get(fl)))
	}

	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.load(fl.Value.String()); err != nil {
			return nil, err
		}
		flagSet.Visit(func(fl *flag.Flag) {
			if i, ok := fields[fl.Name]; ok {
				obj.Field(i).Set(reflect.ValueOf(get(fl)))
			}
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) load(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("loading %s: unknown keys %v", path, undecoded)
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func get(fl *flag.Flag) any {
	g, ok := fl.Value.(flag.Getter)
	if !ok {
		panic(fmt.Sprintf("Flag %q cannot be read", fl.Name))
	}
	return g.Get()
}

func getVal(field reflect.Value) string {
	if str, ok := field.Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
