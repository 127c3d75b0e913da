// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

// Timer is the timer type returned by Clock.Timer.
type Timer = bclock.Timer

// MonotonicTime is a reading of a monotonic time line. Queue wait and run
// durations are measured with it so that wall clock steps do not skew them.
type MonotonicTime time.Duration

// Sub returns the duration m-start.
func (m MonotonicTime) Sub(start MonotonicTime) time.Duration {
	return time.Duration(m - start)
}

// Clock is the time source of the worker pool, the dispatcher and the
// transaction coordinator.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return system{bclock.New()}
}

type system struct {
	bclock.Clock
}

func (system) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a Clock that only moves on Add or Set. Its monotonic time is the
// mock time since the unix epoch.
type Mock struct {
	*bclock.Mock
}

// NewMock returns a Mock set to the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// Mono implements Clock.
func (m *Mock) Mono() MonotonicTime {
	return MonotonicTime(m.Now().Sub(time.Unix(0, 0)))
}

// SinceMono returns the monotonic time elapsed on c since start.
func SinceMono(c Clock, start MonotonicTime) time.Duration {
	return c.Mono().Sub(start)
}
