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

package conformance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/arch/intel"
	"kestrel.dev/kestrel/pkg/errors/archerr"
)

const (
	testBase   = 0x10000
	testFrames = 4096
)

func TestIntel(t *testing.T) {
	if err := Check(Intel(), testBase, testFrames); err != nil {
		t.Error(err)
	}
}

func TestARM(t *testing.T) {
	if err := Check(ARM(), testBase, testFrames); err != nil {
		t.Error(err)
	}
}

func TestARM64(t *testing.T) {
	if err := Check(ARM64(), testBase, testFrames); err != nil {
		t.Error(err)
	}
}

func TestCheckAll(t *testing.T) {
	if err := CheckAll(context.Background(), testBase, testFrames); err != nil {
		t.Error(err)
	}
}

func TestCheckAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CheckAll(ctx, testBase, testFrames); !errors.Is(err, context.Canceled) {
		t.Errorf("CheckAll() = %v, want %v", err, context.Canceled)
	}
}

// A variant whose process creation cannot succeed must be reported.
func TestCheckReportsFailure(t *testing.T) {
	v := Intel()
	if err := Check(v, testBase, 1); !errors.Is(err, archerr.ErrOutOfMemory) {
		t.Errorf("Check() with one frame = %v, want %v", err, archerr.ErrOutOfMemory)
	}
	if v.Arch != intel.Arch {
		t.Errorf("Arch = %v, want %v", v.Arch, intel.Arch)
	}
}

// skipTLB accepts translation maintenance without performing it.
type skipTLB struct {
	arch.CacheController
}

func (s skipTLB) Perform(op arch.CacheOperation) error {
	if op.Type == arch.Translation && op.Kind != arch.CleanAddress {
		return nil
	}
	return s.CacheController.Perform(op)
}

func TestCheckReportsStaleTranslation(t *testing.T) {
	v := ARM64()
	v.Cache = skipTLB{v.Cache}
	err := Check(v, testBase, testFrames)
	if err == nil || !strings.Contains(err.Error(), "survived invalidation") {
		t.Errorf("Check() with an ignored TLB = %v, want a stale translation", err)
	}
}
