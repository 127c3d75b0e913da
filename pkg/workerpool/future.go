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
	"sync"

	"github.com/pingcap/errors"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

// TaskState is the state of a submitted task.
type TaskState int

// All task states.
const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

var taskStateNames = map[TaskState]string{
	TaskQueued:    "queued",
	TaskRunning:   "running",
	TaskCompleted: "completed",
	TaskFailed:    "failed",
	TaskCancelled: "cancelled",
}

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s TaskState) terminated() bool {
	return s >= TaskCompleted
}

// Future is the pending result of a submitted task.
type Future struct {
	name string
	done chan struct{}

	mu          sync.Mutex
	state       TaskState
	err         error
	interrupted bool
	cancelRun   context.CancelFunc
}

func newFuture(name string) *Future {
	return &Future{
		name: name,
		done: make(chan struct{}),
	}
}

// Done is closed once the task has finished, failed or been cancelled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// State returns the current state of the task.
func (f *Future) State() TaskState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error of a finished task. It returns nil before the
// task finishes.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-f.done:
		return f.Err()
	}
}

// Cancel prevents a queued task from running. A running task is only
// interrupted, by cancelling its context, when mayInterrupt is true.
// It returns false if the task could not be cancelled.
func (f *Future) Cancel(mayInterrupt bool) bool {
	f.mu.Lock()
	switch {
	case f.state == TaskQueued:
		f.finishLocked(TaskCancelled, cerrors.ErrTaskCancelled.GenWithStackByArgs(f.name))
		f.mu.Unlock()
		return true
	case f.state == TaskRunning && mayInterrupt:
		f.interrupted = true
		cancel := f.cancelRun
		f.mu.Unlock()
		cancel()
		return true
	default:
		f.mu.Unlock()
		return false
	}
}

// start moves a queued task to running. It returns false if the task has
// been cancelled while it was queued.
func (f *Future) start(cancel context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != TaskQueued {
		return false
	}
	f.state = TaskRunning
	f.cancelRun = cancel
	return true
}

func (f *Future) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.interrupted:
		if err == nil {
			err = cerrors.ErrTaskCancelled.GenWithStackByArgs(f.name)
		}
		f.finishLocked(TaskCancelled, err)
	case err != nil:
		f.finishLocked(TaskFailed, err)
	default:
		f.finishLocked(TaskCompleted, nil)
	}
}

func (f *Future) finishLocked(state TaskState, err error) {
	if f.state.terminated() {
		return
	}
	f.state = state
	f.err = err
	f.cancelRun = nil
	close(f.done)
}
