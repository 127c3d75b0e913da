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
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/clock"
	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// ScheduledFuture is the handle of a delayed or periodic task.
//
// A periodic task never runs concurrently with itself. A tick that fires
// while the previous run is in progress is dropped, or under the coalesce
// overrun policy turned into a single extra run right after it.
// A periodic task stops when a run fails or when it is cancelled.
type ScheduledFuture struct {
	pool   *Pool
	fn     TaskFunc
	period time.Duration
	opts   taskOptions
	done   chan struct{}

	mu        sync.Mutex
	timer     *clock.Timer
	nextFire  time.Time
	finished  bool
	cancelled bool
	running   bool
	pending   bool
	current   *Future
	err       error
	runs      int64
	skipped   int64
}

func newScheduledFuture(p *Pool, fn TaskFunc, period time.Duration, opts taskOptions) *ScheduledFuture {
	return &ScheduledFuture{
		pool:   p,
		fn:     fn,
		period: period,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

func (sf *ScheduledFuture) arm(delay time.Duration) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.finished {
		return
	}
	sf.nextFire = sf.pool.clock.Now().Add(delay)
	sf.timer = sf.pool.clock.AfterFunc(delay, sf.fire)
}

func (sf *ScheduledFuture) fire() {
	sf.mu.Lock()
	if sf.finished {
		sf.mu.Unlock()
		return
	}
	if sf.period > 0 {
		now := sf.pool.clock.Now()
		sf.nextFire = sf.nextFire.Add(sf.period)
		for !sf.nextFire.After(now) {
			sf.nextFire = sf.nextFire.Add(sf.period)
		}
		sf.timer = sf.pool.clock.AfterFunc(sf.nextFire.Sub(now), sf.fire)
		if sf.running {
			if sf.pool.overrun == config.OverrunCoalesce {
				sf.pending = true
			} else {
				sf.skipped++
				sf.pool.metrics.skippedTicks.Inc()
				log.Debug("periodic task still running, tick skipped",
					zap.String("pool", sf.pool.name),
					zap.String("task", sf.opts.name))
			}
			sf.mu.Unlock()
			return
		}
	}
	sf.running = true
	sf.mu.Unlock()
	sf.submit()
}

// submit must be called with running set.
func (sf *ScheduledFuture) submit() {
	t := newTask(sf.runOnce, sf.opts)
	sf.mu.Lock()
	if sf.finished {
		sf.running = false
		sf.mu.Unlock()
		return
	}
	sf.current = t.future
	sf.mu.Unlock()

	if err := sf.pool.enqueue(t); err != nil {
		sf.mu.Lock()
		sf.running = false
		sf.mu.Unlock()
		sf.complete(err)
	}
}

func (sf *ScheduledFuture) runOnce(ctx context.Context) error {
	// Cancel may have landed between the tick and the run being queued.
	sf.mu.Lock()
	if sf.finished {
		sf.running = false
		sf.mu.Unlock()
		return nil
	}
	sf.mu.Unlock()

	err := sf.call(ctx)

	sf.mu.Lock()
	sf.running = false
	sf.runs++
	if sf.period == 0 || err != nil {
		sf.mu.Unlock()
		sf.complete(err)
		return err
	}
	rerun := sf.pending && !sf.finished
	sf.pending = false
	sf.running = rerun
	sf.mu.Unlock()

	if rerun {
		sf.submit()
	}
	return nil
}

func (sf *ScheduledFuture) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrTaskPanicked.GenWithStackByArgs(sf.opts.name, r)
		}
	}()
	return sf.fn(ctx)
}

func (sf *ScheduledFuture) complete(err error) {
	sf.mu.Lock()
	if sf.finished {
		sf.mu.Unlock()
		return
	}
	sf.finished = true
	sf.err = err
	if sf.timer != nil {
		sf.timer.Stop()
	}
	close(sf.done)
	sf.mu.Unlock()
	sf.pool.unregister(sf)
}

// Cancel stops further runs of the task. A run in progress is interrupted
// only if mayInterrupt is true. It returns false if the task has already
// finished or been cancelled.
func (sf *ScheduledFuture) Cancel(mayInterrupt bool) bool {
	sf.mu.Lock()
	if sf.finished {
		sf.mu.Unlock()
		return false
	}
	sf.finished = true
	sf.cancelled = true
	sf.err = cerrors.ErrTaskCancelled.GenWithStackByArgs(sf.opts.name)
	if sf.timer != nil {
		sf.timer.Stop()
	}
	var current *Future
	if sf.running {
		current = sf.current
	}
	close(sf.done)
	sf.mu.Unlock()

	sf.pool.unregister(sf)
	if current != nil {
		current.Cancel(mayInterrupt)
	}
	return true
}

// Done is closed when the task will not run again.
func (sf *ScheduledFuture) Done() <-chan struct{} {
	return sf.done
}

// Err returns the error that finished the task, nil for a successful
// one-shot task.
func (sf *ScheduledFuture) Err() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.err
}

// Wait blocks until the task will not run again or ctx is done.
func (sf *ScheduledFuture) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-sf.done:
		return sf.Err()
	}
}

// IsCancelled returns true if Cancel stopped the task.
func (sf *ScheduledFuture) IsCancelled() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.cancelled
}

// Runs returns the number of finished runs.
func (sf *ScheduledFuture) Runs() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.runs
}

// Skipped returns the number of ticks dropped by the skip overrun policy.
func (sf *ScheduledFuture) Skipped() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.skipped
}

// Delay returns the time left until the next run.
func (sf *ScheduledFuture) Delay() time.Duration {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.nextFire.Sub(sf.pool.clock.Now())
}
