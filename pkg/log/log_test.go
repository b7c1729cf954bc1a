// Copyright 2018 Google LLC
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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.Warningf("shown %d", 2)
	if len(tw.lines) != 2 {
		t.Fatalf("got lines %v, want 2 lines", tw.lines)
	}
	l.SetLevel(Debug)
	l.Debugf("now shown")
	if len(tw.lines) != 3 {
		t.Errorf("got lines %v, want 3 lines", tw.lines)
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "vector %d", 14)
	if len(tw.lines) != 1 {
		t.Fatalf("got lines %v, want 1 line", tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0304 05:06:07.000008 ") {
		t.Errorf("unexpected header in %q", line)
	}
	if !strings.HasSuffix(line, "] vector 14\n") {
		t.Errorf("unexpected message in %q", line)
	}
}

type countingLogger struct {
	n int
}

func (c *countingLogger) Debugf(string, ...any)   { c.n++ }
func (c *countingLogger) Infof(string, ...any)    { c.n++ }
func (c *countingLogger) Warningf(string, ...any) { c.n++ }
func (c *countingLogger) IsLogging(Level) bool    { return true }

func TestRateLimitedLogger(t *testing.T) {
	c := &countingLogger{}
	rl := RateLimitedLogger(c, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("fault %d", i)
	}
	if c.n != 1 {
		t.Errorf("rate limited logger emitted %d messages, want 1", c.n)
	}
}

func TestKeyedLogger(t *testing.T) {
	c := &countingLogger{}
	k := NewKeyedLogger(c, time.Hour)
	for i := 0; i < 4; i++ {
		k.For(3).Warningf("vector 3")
		k.For(14).Warningf("vector 14")
	}
	if c.n != 2 {
		t.Errorf("keyed logger emitted %d messages, want 2", c.n)
	}
}

func TestMultiEmitter(t *testing.T) {
	text, js := &testWriter{}, &testWriter{}
	m := &MultiEmitter{GoogleEmitter{&Writer{Next: text}}, JSONEmitter{&Writer{Next: js}}}
	l := BasicLogger{Level: Info, Emitter: m}
	l.Infof("trap %d", 3)
	if len(text.lines) != 1 || !strings.HasSuffix(text.lines[0], "] trap 3\n") {
		t.Errorf("text emitter got %v", text.lines)
	}
	if len(js.lines) != 1 || !strings.Contains(js.lines[0], `"msg":"trap 3"`) {
		t.Errorf("json emitter got %v", js.lines)
	}
}
