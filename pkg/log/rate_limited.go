// Copyright 2022 The gVisor Authors.
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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Warningf(format, v...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// KeyedLogger hands out one rate limited Logger per key, so a noisy key (for
// example, a single trap vector) cannot starve messages for the others.
type KeyedLogger struct {
	logger Logger
	every  time.Duration

	mu      sync.Mutex
	loggers map[uint64]Logger
}

// NewKeyedLogger returns a KeyedLogger that logs to logger no more than once
// per every for each key.
func NewKeyedLogger(logger Logger, every time.Duration) *KeyedLogger {
	return &KeyedLogger{
		logger:  logger,
		every:   every,
		loggers: make(map[uint64]Logger),
	}
}

// For returns the Logger for key.
func (k *KeyedLogger) For(key uint64) Logger {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.loggers[key]
	if !ok {
		l = RateLimitedLogger(k.logger, k.every)
		k.loggers[key] = l
	}
	return l
}
