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

package dispatch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/edwingeng/deque"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/retry"
	"github.com/fedquery/engine/pkg/txn"
	"github.com/fedquery/engine/pkg/workerpool"
)

const (
	openBackoffBaseDelay = 10 * time.Millisecond
	openBackoffMaxDelay  = time.Second
)

// workItem drives one atomic request. At most one fetch is in flight at a
// time, fetched batches wait in a queue until the consumer pulls them.
type workItem struct {
	d         *Dispatcher
	id        AtomicRequestID
	req       *AtomicRequestMessage
	source    Source
	fetchSize int

	mu         sync.Mutex
	exec       Execution
	columns    []string
	batches    deque.Deque
	fetching   bool
	end        bool
	cancelled  bool
	closed     bool
	execClosed bool
	err        error
	produced   int64
	changed    chan struct{}
}

func newWorkItem(d *Dispatcher, req *AtomicRequestMessage, source Source, fetchSize int) *workItem {
	return &workItem{
		d:         d,
		id:        req.ID,
		req:       req,
		source:    source,
		fetchSize: fetchSize,
		batches:   deque.NewDeque(),
		changed:   make(chan struct{}),
	}
}

func (w *workItem) signalLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// startFetchLocked hands a fetch of the next batch to the pool.
func (w *workItem) startFetchLocked() {
	w.fetching = true
	err := w.d.pool.Execute(w.fetch,
		workerpool.WithName("fetch-"+w.id.String()),
		workerpool.WithPriority(workerpool.PriorityNormal))
	if err != nil {
		w.fetching = false
		w.failLocked(err)
	}
}

func (w *workItem) failLocked(err error) {
	w.err = cerrors.WrapError(cerrors.ErrSourceExecution, err, w.id, w.req.SourceName)
	w.end = true
	requestCounter.WithLabelValues(w.req.SourceName, "failed").Inc()
	log.Warn("atomic request failed",
		zap.Stringer("requestID", w.id),
		zap.String("source", w.req.SourceName),
		zap.Error(err))
	w.signalLocked()
}

func (w *workItem) fetch(ctx context.Context) error {
	w.mu.Lock()
	exec := w.exec
	w.mu.Unlock()

	if exec == nil {
		var err error
		exec, err = w.open(ctx)
		if err != nil {
			w.mu.Lock()
			w.fetching = false
			if !w.cancelled && !w.closed {
				w.failLocked(err)
			} else {
				w.signalLocked()
			}
			w.mu.Unlock()
			return nil
		}
		if !w.onOpened(exec) {
			return nil
		}
	}

	start := w.d.clock.Now()
	rows, end, err := exec.FetchNext(ctx, w.fetchSize)
	fetchDuration.WithLabelValues(w.req.SourceName).Observe(w.d.clock.Since(start).Seconds())
	fetchedRowsCounter.WithLabelValues(w.req.SourceName).Add(float64(len(rows)))
	w.onFetched(rows, end, err)
	return nil
}

func (w *workItem) open(ctx context.Context) (Execution, error) {
	w.mu.Lock()
	w.req.ProcessingAt = w.d.clock.Now()
	ectx := &ExecutionContext{
		RequestID:         w.id,
		SessionID:         w.req.SessionID,
		FetchSize:         w.fetchSize,
		Transactional:     w.req.IsTransactional(),
		UseResultSetCache: w.req.UseResultSetCache,
		Payload:           w.req.ExecutionPayload,
	}
	w.mu.Unlock()

	var exec Execution
	err := retry.Do(ctx, func() error {
		var err error
		exec, err = w.source.OpenExecution(ctx, w.req.Command, ectx)
		if err != nil {
			log.Debug("open execution failed",
				zap.Stringer("requestID", w.id),
				zap.String("source", w.req.SourceName),
				zap.Error(err))
		}
		return err
	},
		retry.WithMaxTries(w.d.cfg.OpenRetries),
		retry.WithBackoffBaseDelay(openBackoffBaseDelay),
		retry.WithBackoffMaxDelay(openBackoffMaxDelay),
		retry.WithIsRetryableErr(cerrors.IsRetryableError),
		retry.WithNotify(func(err error, attempt int, next time.Duration) {
			log.Warn("open execution failed, retrying",
				zap.Stringer("requestID", w.id),
				zap.String("source", w.req.SourceName),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return exec, nil
}

// onOpened stores the execution. It returns false if the request was
// closed or cancelled while the execution was being opened.
func (w *workItem) onOpened(exec Execution) bool {
	w.mu.Lock()
	w.exec = exec
	w.columns = exec.Columns()
	switch {
	case w.closed:
		w.fetching = false
		w.execClosed = true
		w.mu.Unlock()
		w.logCloseErr(exec.Close())
		return false
	case w.cancelled:
		w.fetching = false
		w.signalLocked()
		w.mu.Unlock()
		exec.Cancel()
		return false
	}
	w.mu.Unlock()
	return true
}

func (w *workItem) onFetched(rows [][]interface{}, end bool, err error) {
	w.mu.Lock()
	w.fetching = false
	if w.closed {
		w.mu.Unlock()
		w.logCloseErr(w.closeExecution())
		return
	}
	if w.cancelled {
		// Rows fetched after the cancel are dropped.
		w.signalLocked()
		w.mu.Unlock()
		return
	}

	implicitClose := false
	switch {
	case err != nil && (w.produced+int64(len(rows)) == 0 || !w.req.SupportsPartialResults):
		w.failLocked(err)
	case err != nil:
		w.produced += int64(len(rows))
		warning := cerrors.WrapError(cerrors.ErrSourceExecution, err, w.id, w.req.SourceName)
		batch := w.newBatchLocked(rows)
		batch.FinalRow = w.produced - 1
		batch.RequestClosed = true
		batch.Warnings = append(batch.Warnings, warning)
		w.batches.PushBack(batch)
		w.end = true
		requestCounter.WithLabelValues(w.req.SourceName, "warned").Inc()
		log.Warn("source failed mid-stream, returning partial results",
			zap.Stringer("requestID", w.id),
			zap.String("source", w.req.SourceName),
			zap.Int64("rows", w.produced),
			zap.Error(err))
		w.signalLocked()
	default:
		w.produced += int64(len(rows))
		if end {
			if closer, ok := w.source.(ImplicitCloser); ok && closer.SupportsImplicitClose() {
				implicitClose = true
			}
		}
		if len(rows) > 0 || (end && w.produced > 0) {
			batch := w.newBatchLocked(rows)
			if end {
				batch.FinalRow = w.produced - 1
				batch.RequestClosed = true
				batch.SupportsImplicitClose = implicitClose
			}
			w.batches.PushBack(batch)
		}
		w.end = end
		w.signalLocked()
	}
	w.mu.Unlock()

	if implicitClose {
		w.logCloseErr(w.closeExecution())
	}
}

func (w *workItem) newBatchLocked(rows [][]interface{}) *AtomicResultsMessage {
	return &AtomicResultsMessage{
		Rows:            rows,
		DataTypes:       w.columns,
		FinalRow:        FinalRowUnknown,
		IsTransactional: w.req.IsTransactional(),
	}
}

func (w *workItem) next(ctx context.Context) (*AtomicResultsMessage, error) {
	var timeout <-chan time.Time
	if d := time.Duration(w.d.cfg.NextTimeout); d > 0 {
		timer := w.d.clock.Timer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		w.mu.Lock()
		switch {
		case w.closed:
			w.mu.Unlock()
			return nil, cerrors.ErrRequestClosed.GenWithStackByArgs(w.id)
		case w.cancelled:
			w.mu.Unlock()
			return nil, cerrors.ErrRequestCancelled.GenWithStackByArgs(w.id)
		case w.err != nil:
			err := w.err
			w.mu.Unlock()
			return nil, err
		case !w.batches.Empty():
			batch := w.batches.PopFront().(*AtomicResultsMessage)
			if w.d.cfg.Prefetch && !w.end && !w.fetching {
				w.startFetchLocked()
			}
			w.mu.Unlock()
			return batch, nil
		case w.end:
			w.mu.Unlock()
			return nil, io.EOF
		}

		if !w.fetching {
			w.startFetchLocked()
			if w.err != nil {
				w.mu.Unlock()
				continue
			}
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-timeout:
			return nil, cerrors.ErrResultsTimeout.GenWithStackByArgs(w.id)
		case <-changed:
		}
	}
}

func (w *workItem) cancel() {
	w.mu.Lock()
	if w.cancelled || w.closed || w.end {
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	w.batches = deque.NewDeque()
	exec := w.exec
	w.signalLocked()
	w.mu.Unlock()

	if exec != nil {
		exec.Cancel()
	}
	requestCounter.WithLabelValues(w.req.SourceName, "cancelled").Inc()
	log.Info("atomic request cancelled",
		zap.Stringer("requestID", w.id),
		zap.String("source", w.req.SourceName))
}

// close returns true on the first call.
func (w *workItem) close() (bool, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, nil
	}
	w.closed = true
	w.batches = deque.NewDeque()
	fetching := w.fetching
	w.signalLocked()
	w.mu.Unlock()

	if fetching {
		// The fetch in flight closes the execution when it returns.
		return true, nil
	}
	return true, w.closeExecution()
}

func (w *workItem) closeExecution() error {
	w.mu.Lock()
	if w.exec == nil || w.execClosed {
		w.mu.Unlock()
		return nil
	}
	w.execClosed = true
	exec := w.exec
	w.mu.Unlock()
	return errors.Trace(exec.Close())
}

func (w *workItem) logCloseErr(err error) {
	if err != nil {
		log.Warn("close execution failed",
			zap.Stringer("requestID", w.id),
			zap.String("source", w.req.SourceName),
			zap.Error(err))
	}
}

// participant binds a transactional request to its transaction.
type participant struct {
	w *workItem
}

var (
	_ txn.Synchronization = (*participant)(nil)
	_ txn.Canceler        = (*participant)(nil)
)

func (p *participant) execution() (TransactionalExecution, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if p.w.err != nil {
		return nil, p.w.err
	}
	if p.w.cancelled {
		return nil, cerrors.ErrRequestCancelled.GenWithStackByArgs(p.w.id)
	}
	te, _ := p.w.exec.(TransactionalExecution)
	return te, nil
}

// BeforeCompletion implements txn.Synchronization.
func (p *participant) BeforeCompletion(ctx context.Context) error {
	te, err := p.execution()
	if err != nil || te == nil {
		return err
	}
	return errors.Trace(te.Prepare(ctx))
}

// AfterCompletion implements txn.Synchronization.
func (p *participant) AfterCompletion(outcome txn.Outcome) error {
	p.w.mu.Lock()
	te, _ := p.w.exec.(TransactionalExecution)
	p.w.mu.Unlock()
	if te == nil {
		return nil
	}
	if outcome == txn.OutcomeCommitted {
		return errors.Trace(te.Commit())
	}
	return errors.Trace(te.Rollback())
}

// Cancel implements txn.Canceler.
func (p *participant) Cancel() {
	p.w.cancel()
}
