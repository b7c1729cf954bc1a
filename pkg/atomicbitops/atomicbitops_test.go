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

package atomicbitops

import (
	"runtime"
	"testing"

	"kestrel.dev/kestrel/pkg/sync"
)

func TestUint64Add(t *testing.T) {
	var (
		u  Uint64
		wg sync.WaitGroup
	)
	n := runtime.GOMAXPROCS(0) * 4
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				u.Add(1)
			}
		}()
	}
	wg.Wait()
	if got, want := u.Load(), uint64(n*1000); got != want {
		t.Errorf("Load() = %d, want %d", got, want)
	}
}

func TestBoolCompareAndSwapOnce(t *testing.T) {
	var (
		b   Bool
		wg  sync.WaitGroup
		won Uint64
	)
	if b.Load() {
		t.Fatalf("zero Bool.Load() = true")
	}
	n := runtime.GOMAXPROCS(0) * 4
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CompareAndSwap(false, true) {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := won.Load(); got != 1 {
		t.Errorf("%d goroutines won CompareAndSwap(false, true), want 1", got)
	}
	if !b.Load() {
		t.Errorf("Load() = false after a successful swap")
	}
	if !b.CompareAndSwap(true, false) || b.Load() {
		t.Errorf("CompareAndSwap(true, false) did not clear the value")
	}
}
