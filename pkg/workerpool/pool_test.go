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
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/fedquery/engine/pkg/clock"
	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

func newTestPool(t *testing.T, maxWorkers int, opts ...PoolOption) *Pool {
	cfg := config.NewDefaultSchedulerConfig()
	cfg.Name = t.Name()
	cfg.MaxWorkers = maxWorkers
	return newTestPoolWithConfig(t, cfg, opts...)
}

func newTestPoolWithConfig(t *testing.T, cfg *config.SchedulerConfig, opts ...PoolOption) *Pool {
	p, err := NewPool(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.ShutdownNow()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, p.Wait(ctx))
	})
	return p
}

// blocker returns a task that runs until release is closed.
func blocker(started chan<- struct{}, release <-chan struct{}) TaskFunc {
	return func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
}

func TestPoolRunsAllTasks(t *testing.T) {
	t.Parallel()

	const (
		maxWorkers = 4
		numTasks   = 100
	)
	p := newTestPool(t, maxWorkers)

	var (
		running    atomic.Int64
		maxRunning atomic.Int64
		sum        atomic.Int64
	)
	futures := make([]*Future, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		i := i
		f, err := p.Submit(func(ctx context.Context) error {
			cur := running.Inc()
			defer running.Dec()
			for {
				m := maxRunning.Load()
				if cur <= m || maxRunning.CompareAndSwap(m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond * time.Duration(rand.Intn(3)))
			sum.Add(int64(i + 1))
			return nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, f := range futures {
		require.NoError(t, f.Wait(ctx))
		require.Equal(t, TaskCompleted, f.State())
	}
	require.Equal(t, int64(numTasks*(numTasks+1)/2), sum.Load())
	require.LessOrEqual(t, maxRunning.Load(), int64(maxWorkers))

	stats := p.Stats()
	require.Equal(t, int64(numTasks), stats.CompletedCount)
	require.Equal(t, int64(0), stats.FailedCount)
	require.Equal(t, int64(0), stats.QueueDepth)
	require.LessOrEqual(t, stats.HighestActiveCount, int64(maxWorkers))
	require.LessOrEqual(t, stats.PoolSize, int64(maxWorkers))
}

func TestPoolPriorityOrder(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, p.Execute(blocker(started, release)))
	<-started

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) TaskFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	submits := []struct {
		name     string
		priority int
	}{
		{"low", PriorityLow},
		{"normal", PriorityNormal},
		{"high-1", PriorityHigh},
		{"normal-2", PriorityNormal},
		{"high-2", PriorityHigh},
	}
	futures := make([]*Future, 0, len(submits))
	for _, s := range submits {
		f, err := p.Submit(record(s.name), WithPriority(s.priority), WithName(s.name))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.Equal(t, int64(len(submits)), p.Stats().QueueDepth)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, f := range futures {
		require.NoError(t, f.Wait(ctx))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high-1", "high-2", "normal", "normal-2", "low"}, order)
}

func TestPoolTaskFailureIsIsolated(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f1, err := p.Submit(func(ctx context.Context) error {
		return errors.New("task error")
	})
	require.NoError(t, err)
	f2, err := p.Submit(func(ctx context.Context) error {
		panic("boom")
	}, WithName("panicky"))
	require.NoError(t, err)
	f3, err := p.Submit(func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	require.ErrorContains(t, f1.Wait(ctx), "task error")
	require.Equal(t, TaskFailed, f1.State())
	err = f2.Wait(ctx)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrTaskPanicked))
	require.ErrorContains(t, err, "panicky")
	require.NoError(t, f3.Wait(ctx))

	stats := p.Stats()
	require.Equal(t, int64(3), stats.CompletedCount)
	require.Equal(t, int64(2), stats.FailedCount)
	require.Equal(t, int64(1), stats.PoolSize)
}

func TestPoolCancelQueuedTask(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, p.Execute(blocker(started, release)))
	<-started

	var ran atomic.Bool
	f, err := p.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.True(t, f.Cancel(false))
	require.False(t, f.Cancel(false))
	require.Equal(t, TaskCancelled, f.State())
	require.True(t, cerrors.ErrorIs(f.Err(), cerrors.ErrTaskCancelled))

	// The pool still processes tasks queued after the cancelled one.
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f2, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, f2.Wait(ctx))
	require.False(t, ran.Load())
}

func TestPoolInterruptRunningTask(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 2)
	started := make(chan struct{})
	f, err := p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	<-started

	require.False(t, f.Cancel(false))
	require.Equal(t, TaskRunning, f.State())
	require.True(t, f.Cancel(true))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = f.Wait(ctx)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrTaskCancelled))
	require.Equal(t, TaskCancelled, f.State())
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, p.Execute(blocker(started, release)))
	<-started

	var done atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Execute(func(ctx context.Context) error {
			done.Inc()
			return nil
		}))
	}

	p.Shutdown()
	require.True(t, p.IsShutdown())
	err := p.Execute(func(ctx context.Context) error { return nil })
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrExecutorRejected))
	_, err = p.Schedule(func(ctx context.Context) error { return nil }, time.Second)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrExecutorRejected))
	require.False(t, p.AwaitTermination(10*time.Millisecond))

	close(release)
	require.True(t, p.AwaitTermination(10*time.Second))
	require.Equal(t, int64(5), done.Load())
	require.Equal(t, int64(6), p.Stats().CompletedCount)
	require.Equal(t, int64(0), p.Stats().PoolSize)
}

func TestPoolShutdownNow(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	started := make(chan struct{})
	running, err := p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errors.Trace(ctx.Err())
	})
	require.NoError(t, err)
	<-started

	var queued []*Future
	for i := 0; i < 3; i++ {
		f, err := p.Submit(func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		queued = append(queued, f)
	}

	require.Equal(t, 3, p.ShutdownNow())
	require.True(t, p.AwaitTermination(10*time.Second))
	for _, f := range queued {
		require.Equal(t, TaskCancelled, f.State())
		require.True(t, cerrors.ErrorIs(f.Err(), cerrors.ErrTaskCancelled))
	}
	require.True(t, cerrors.IsContextCanceledErr(running.Err()))
	require.Equal(t, int64(1), p.Stats().FailedCount)
}

func TestPoolShutdownIdle(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		f, err := p.Submit(func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		require.NoError(t, f.Wait(ctx))
	}
	require.Greater(t, p.Stats().PoolSize, int64(0))

	p.Shutdown()
	require.NoError(t, p.Wait(ctx))
	require.Equal(t, int64(0), p.Stats().PoolSize)
	// Shutting down again is a no-op.
	p.Shutdown()
	require.Equal(t, 0, p.ShutdownNow())
}

func TestPoolKeepAlive(t *testing.T) {
	t.Parallel()

	mockClock := clock.NewMock()
	cfg := config.NewDefaultSchedulerConfig()
	cfg.Name = t.Name()
	cfg.MaxWorkers = 2
	cfg.KeepAlive = config.TomlDuration(time.Minute)
	p := newTestPoolWithConfig(t, cfg, WithClock(mockClock))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, f.Wait(ctx))
	require.Equal(t, int64(1), p.Stats().PoolSize)

	require.Eventually(t, func() bool {
		mockClock.Add(time.Minute)
		return p.Stats().PoolSize == 0
	}, 5*time.Second, 10*time.Millisecond)

	// A new task starts a new worker.
	f, err = p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, f.Wait(ctx))
}

func TestPoolAwaitTerminationTimeout(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, 1)
	require.False(t, p.AwaitTermination(10*time.Millisecond))
	p.Shutdown()
	require.True(t, p.AwaitTermination(time.Second))
}

func TestNewPoolRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultSchedulerConfig()
	cfg.MaxWorkers = 0
	_, err := NewPool(cfg)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrInvalidConfig))

	cfg = config.NewDefaultSchedulerConfig()
	cfg.PeriodicOverrun = "burst"
	_, err = NewPool(cfg)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrInvalidConfig))
}
