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

package workerpool

import (
	"context"
	"time"
)

// TaskFunc is a unit of work run by the pool. The context is cancelled when
// the task is interrupted or the pool is shut down forcibly.
type TaskFunc func(ctx context.Context) error

// Priorities of tasks, a lower value runs first.
const (
	PriorityHigh   = 0
	PriorityNormal = 50
	PriorityLow    = 100
)

// Executor runs tasks on a bounded set of workers.
// Components that only need to hand off work depend on this interface
// instead of *Pool.
type Executor interface {
	// Execute runs the task at some point in the future. Failures are
	// logged and counted but not reported to the caller.
	Execute(task TaskFunc, opts ...TaskOption) error
	// Submit is like Execute but returns a Future to observe the outcome.
	Submit(task TaskFunc, opts ...TaskOption) (*Future, error)
	// Schedule runs the task once after the delay.
	Schedule(task TaskFunc, delay time.Duration, opts ...TaskOption) (*ScheduledFuture, error)
	// ScheduleAtFixedRate runs the task after initialDelay and then every period.
	ScheduleAtFixedRate(
		task TaskFunc, initialDelay, period time.Duration, opts ...TaskOption,
	) (*ScheduledFuture, error)
}

type taskOptions struct {
	priority int
	name     string
}

func newTaskOptions(opts []TaskOption) taskOptions {
	o := taskOptions{priority: PriorityNormal, name: "anonymous"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TaskOption configures a task.
type TaskOption func(*taskOptions)

// WithPriority sets the priority of a task.
func WithPriority(priority int) TaskOption {
	return func(o *taskOptions) {
		o.priority = priority
	}
}

// WithName sets the name used in logs and errors.
func WithName(name string) TaskOption {
	return func(o *taskOptions) {
		o.name = name
	}
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	ActiveCount        int64
	HighestActiveCount int64
	PoolSize           int64
	CompletedCount     int64
	FailedCount        int64
	QueueDepth         int64
}
