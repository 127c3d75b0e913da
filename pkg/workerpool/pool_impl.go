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

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/clock"
	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

type poolState int

const (
	poolRunning poolState = iota
	poolShutdown
	poolTerminated
)

type task struct {
	fn         TaskFunc
	name       string
	priority   int
	seq        uint64
	enqueuedAt clock.MonotonicTime
	future     *Future
}

// taskLess orders ready tasks by priority, then enqueue time, then
// submission sequence.
func taskLess(a, b *task) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.enqueuedAt != b.enqueuedAt {
		return a.enqueuedAt < b.enqueuedAt
	}
	return a.seq < b.seq
}

func newTask(fn TaskFunc, o taskOptions) *task {
	return &task{
		fn:       fn,
		name:     o.name,
		priority: o.priority,
		future:   newFuture(o.name),
	}
}

// idleWorker is a parked worker waiting for a task to be handed over.
// The channel is closed when the pool shuts down.
type idleWorker struct {
	taskCh chan *task
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithClock sets the clock used for keep-alive and scheduled tasks.
func WithClock(clk clock.Clock) PoolOption {
	return func(p *Pool) {
		p.clock = clk
	}
}

// Pool is a bounded worker pool running prioritized, delayed and periodic
// tasks. Workers are started on demand up to MaxWorkers and exit after
// being idle for KeepAlive.
type Pool struct {
	name       string
	maxWorkers int
	keepAlive  time.Duration
	overrun    string
	clock      clock.Clock

	// ctx is the parent of every task context, ShutdownNow cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      poolState
	ready      *btree.BTreeG[*task]
	idle       []*idleWorker
	workers    int
	nextSeq    uint64
	scheduled  map[*ScheduledFuture]struct{}
	terminated chan struct{}

	active        atomic.Int64
	highestActive atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64

	metrics *poolMetrics
}

var _ Executor = (*Pool)(nil)

// NewPool creates a pool. No worker is started until the first task
// is submitted.
func NewPool(cfg *config.SchedulerConfig, opts ...PoolOption) (*Pool, error) {
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		keepAlive:  time.Duration(cfg.KeepAlive),
		overrun:    cfg.PeriodicOverrun,
		clock:      clock.New(),
		ctx:        ctx,
		cancel:     cancel,
		ready:      btree.NewG[*task](8, taskLess),
		scheduled:  make(map[*ScheduledFuture]struct{}),
		terminated: make(chan struct{}),
		metrics:    newPoolMetrics(cfg.Name),
	}
	for _, opt := range opts {
		opt(p)
	}
	log.Info("worker pool created",
		zap.String("pool", p.name),
		zap.Int("maxWorkers", p.maxWorkers),
		zap.Duration("keepAlive", p.keepAlive),
		zap.String("periodicOverrun", p.overrun))
	return p, nil
}

// Name returns the name of the pool.
func (p *Pool) Name() string {
	return p.name
}

// Execute implements Executor.
func (p *Pool) Execute(fn TaskFunc, opts ...TaskOption) error {
	_, err := p.Submit(fn, opts...)
	return err
}

// Submit implements Executor.
func (p *Pool) Submit(fn TaskFunc, opts ...TaskOption) (*Future, error) {
	t := newTask(fn, newTaskOptions(opts))
	if err := p.enqueue(t); err != nil {
		return nil, err
	}
	return t.future, nil
}

func (p *Pool) enqueue(t *task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolRunning {
		return cerrors.ErrExecutorRejected.GenWithStackByArgs(p.name)
	}
	p.nextSeq++
	t.seq = p.nextSeq
	t.enqueuedAt = p.clock.Mono()

	// Workers only park when the ready queue is empty, so a parked worker
	// can take the task directly.
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		w.taskCh <- t
		return nil
	}
	if p.workers < p.maxWorkers {
		p.workers++
		p.metrics.poolSize.Set(float64(p.workers))
		go p.runWorker(t)
		return nil
	}
	p.ready.ReplaceOrInsert(t)
	p.metrics.queueDepth.Set(float64(p.ready.Len()))
	return nil
}

func (p *Pool) runWorker(t *task) {
	for t != nil {
		p.runTask(t)
		t = p.nextTask()
	}
}

// nextTask returns the next task for a worker that just became free,
// parking the worker if nothing is ready. It returns nil when the worker
// should exit.
func (p *Pool) nextTask() *task {
	p.mu.Lock()
	if t, ok := p.ready.DeleteMin(); ok {
		p.metrics.queueDepth.Set(float64(p.ready.Len()))
		p.mu.Unlock()
		return t
	}
	if p.state != poolRunning {
		p.exitWorkerLocked()
		p.mu.Unlock()
		return nil
	}
	w := &idleWorker{taskCh: make(chan *task, 1)}
	p.idle = append(p.idle, w)
	p.mu.Unlock()

	timer := p.clock.Timer(p.keepAlive)
	defer timer.Stop()

	select {
	case t, ok := <-w.taskCh:
		if ok {
			return t
		}
	case <-timer.C:
		p.mu.Lock()
		if p.removeIdleLocked(w) {
			p.exitWorkerLocked()
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		// A task or the shutdown signal was handed over concurrently.
		if t, ok := <-w.taskCh; ok {
			return t
		}
	}

	p.mu.Lock()
	p.exitWorkerLocked()
	p.mu.Unlock()
	return nil
}

func (p *Pool) removeIdleLocked(w *idleWorker) bool {
	for i, idle := range p.idle {
		if idle == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) exitWorkerLocked() {
	p.workers--
	p.metrics.poolSize.Set(float64(p.workers))
	p.tryTerminateLocked()
}

func (p *Pool) tryTerminateLocked() {
	if p.state != poolShutdown || p.workers > 0 || p.ready.Len() > 0 {
		return
	}
	p.state = poolTerminated
	p.cancel()
	close(p.terminated)
	cleanupPoolMetrics(p.name)
	log.Info("worker pool terminated",
		zap.String("pool", p.name),
		zap.Int64("completed", p.completed.Load()),
		zap.Int64("failed", p.failed.Load()))
}

func (p *Pool) runTask(t *task) {
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if !t.future.start(cancel) {
		// cancelled while queued
		return
	}
	p.metrics.waitDuration.Observe(clock.SinceMono(p.clock, t.enqueuedAt).Seconds())

	active := p.active.Inc()
	p.metrics.activeWorkers.Set(float64(active))
	for {
		highest := p.highestActive.Load()
		if active <= highest || p.highestActive.CompareAndSwap(highest, active) {
			break
		}
	}

	err := p.safeRun(ctx, t)

	p.metrics.activeWorkers.Set(float64(p.active.Dec()))
	p.completed.Inc()
	if err != nil {
		p.failed.Inc()
		p.metrics.failed.Inc()
		log.Warn("task failed",
			zap.String("pool", p.name),
			zap.String("task", t.name),
			zap.Error(err))
	} else {
		p.metrics.succeeded.Inc()
	}
	t.future.finish(err)
}

func (p *Pool) safeRun(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				zap.String("pool", p.name),
				zap.String("task", t.name),
				zap.Any("recover", r),
				zap.Stack("stack"))
			err = cerrors.ErrTaskPanicked.GenWithStackByArgs(t.name, r)
		}
	}()
	return t.fn(ctx)
}

// Schedule implements Executor.
func (p *Pool) Schedule(fn TaskFunc, delay time.Duration, opts ...TaskOption) (*ScheduledFuture, error) {
	if delay < 0 {
		delay = 0
	}
	sf := newScheduledFuture(p, fn, 0, newTaskOptions(opts))
	if err := p.register(sf); err != nil {
		return nil, err
	}
	sf.arm(delay)
	return sf, nil
}

// ScheduleAtFixedRate implements Executor.
func (p *Pool) ScheduleAtFixedRate(
	fn TaskFunc, initialDelay, period time.Duration, opts ...TaskOption,
) (*ScheduledFuture, error) {
	if period <= 0 {
		return nil, cerrors.ErrInvalidArgument.GenWithStackByArgs("period must be positive")
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	sf := newScheduledFuture(p, fn, period, newTaskOptions(opts))
	if err := p.register(sf); err != nil {
		return nil, err
	}
	sf.arm(initialDelay)
	return sf, nil
}

func (p *Pool) register(sf *ScheduledFuture) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != poolRunning {
		return cerrors.ErrExecutorRejected.GenWithStackByArgs(p.name)
	}
	p.scheduled[sf] = struct{}{}
	return nil
}

func (p *Pool) unregister(sf *ScheduledFuture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scheduled, sf)
}

// Shutdown stops accepting tasks and cancels delayed and periodic tasks
// that have not started. Queued tasks still run.
func (p *Pool) Shutdown() {
	p.shutdown(false)
}

// ShutdownNow is like Shutdown, but also drops queued tasks and cancels
// the context of running tasks. It returns the number of dropped tasks.
func (p *Pool) ShutdownNow() int {
	return p.shutdown(true)
}

func (p *Pool) shutdown(now bool) int {
	p.mu.Lock()
	if p.state == poolRunning {
		p.state = poolShutdown
		for _, w := range p.idle {
			close(w.taskCh)
		}
		p.idle = nil
		log.Info("worker pool shutting down",
			zap.String("pool", p.name),
			zap.Bool("now", now),
			zap.Int("queued", p.ready.Len()))
	}
	scheduled := p.scheduled
	p.scheduled = make(map[*ScheduledFuture]struct{})

	var dropped []*task
	if now {
		for p.ready.Len() > 0 {
			t, _ := p.ready.DeleteMin()
			dropped = append(dropped, t)
		}
		p.metrics.queueDepth.Set(0)
	}
	p.tryTerminateLocked()
	p.mu.Unlock()

	for sf := range scheduled {
		sf.Cancel(now)
	}
	for _, t := range dropped {
		t.future.Cancel(false)
	}
	if now {
		p.cancel()
	}
	return len(dropped)
}

// AwaitTermination blocks until all tasks have finished after a shutdown,
// or the timeout elapses. It returns true if the pool has terminated.
func (p *Pool) AwaitTermination(timeout time.Duration) bool {
	timer := p.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-p.terminated:
		return true
	case <-timer.C:
		return false
	}
}

// Wait is like AwaitTermination but bounded by ctx.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// IsShutdown returns true once Shutdown or ShutdownNow has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != poolRunning
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	poolSize := int64(p.workers)
	queueDepth := int64(p.ready.Len())
	p.mu.Unlock()
	return Stats{
		ActiveCount:        p.active.Load(),
		HighestActiveCount: p.highestActive.Load(),
		PoolSize:           poolSize,
		CompletedCount:     p.completed.Load(),
		FailedCount:        p.failed.Load(),
		QueueDepth:         queueDepth,
	}
}
