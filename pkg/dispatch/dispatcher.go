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
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/clock"
	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/txn"
	"github.com/fedquery/engine/pkg/workerpool"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used for timestamps and the next timeout.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clk
	}
}

// Handle refers to a submitted request.
type Handle struct {
	item *workItem
}

// ID returns the id of the request.
func (h *Handle) ID() AtomicRequestID {
	return h.item.id
}

// Request returns the submitted request.
func (h *Handle) Request() *AtomicRequestMessage {
	return h.item.req
}

// Dispatcher runs atomic requests against sources and streams their
// results back in batches. All source calls run on the pool.
type Dispatcher struct {
	cfg     *config.DispatcherConfig
	pool    workerpool.Executor
	sources *SourceRegistry
	clock   clock.Clock

	executionCount atomic.Int64

	mu       sync.Mutex
	requests map[AtomicRequestID]*workItem
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	cfg *config.DispatcherConfig,
	pool workerpool.Executor,
	sources *SourceRegistry,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		pool:     pool,
		sources:  sources,
		clock:    clock.New(),
		requests: make(map[AtomicRequestID]*workItem),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewRequestID returns an id with a fresh execution count.
func (d *Dispatcher) NewRequestID(requestID string, nodeID int) AtomicRequestID {
	return AtomicRequestID{
		RequestID:      requestID,
		NodeID:         nodeID,
		ExecutionCount: d.executionCount.Inc(),
	}
}

// Submit starts running the request. It fails fast if the source is not
// registered or does not answer a ping. The execution is opened and the
// first batch fetched in the background.
func (d *Dispatcher) Submit(ctx context.Context, req *AtomicRequestMessage) (*Handle, error) {
	fetchSize := req.FetchSize
	if fetchSize == 0 {
		fetchSize = d.cfg.FetchSize
	}
	if fetchSize < 1 {
		return nil, cerrors.ErrInvalidFetchSize.GenWithStackByArgs(fetchSize)
	}
	req.FetchSize = fetchSize
	if req.Txn != nil && !req.Txn.IsActive() {
		return nil, cerrors.ErrTxnNotActive.GenWithStackByArgs(req.Txn.ID(), req.Txn.Status())
	}

	source, err := d.sources.Get(req.SourceName)
	if err != nil {
		return nil, err
	}
	if pinger, ok := source.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			requestCounter.WithLabelValues(req.SourceName, "failed").Inc()
			return nil, cerrors.WrapError(cerrors.ErrSourceUnavailable, err, req.SourceName)
		}
	}
	if req.ID.ExecutionCount == 0 {
		req.ID = d.NewRequestID(req.ID.RequestID, req.ID.NodeID)
	}
	req.SubmittedAt = d.clock.Now()

	w := newWorkItem(d, req, source, fetchSize)
	d.mu.Lock()
	if _, ok := d.requests[req.ID]; ok {
		d.mu.Unlock()
		return nil, cerrors.ErrDuplicateRequest.GenWithStackByArgs(req.ID)
	}
	d.requests[req.ID] = w
	d.mu.Unlock()

	if req.Txn != nil {
		err := req.Txn.AddSynchronization(&participant{w: w},
			txn.WithName(req.SourceName+"/"+req.ID.String()))
		if err != nil {
			d.remove(req.ID)
			return nil, err
		}
	}

	w.mu.Lock()
	w.startFetchLocked()
	err = w.err
	w.mu.Unlock()
	if err != nil {
		d.remove(req.ID)
		return nil, err
	}

	activeRequestsGauge.Inc()
	requestCounter.WithLabelValues(req.SourceName, "submitted").Inc()
	log.Debug("atomic request submitted",
		zap.Stringer("requestID", req.ID),
		zap.String("source", req.SourceName),
		zap.Int("fetchSize", fetchSize),
		zap.Bool("transactional", req.IsTransactional()),
		zap.Bool("partialResults", req.SupportsPartialResults))
	return &Handle{item: w}, nil
}

// Next returns the next batch of the request. It blocks until the batch is
// fetched, ctx is done or the configured next timeout elapses. It returns
// io.EOF after the final batch.
func (d *Dispatcher) Next(ctx context.Context, h *Handle) (*AtomicResultsMessage, error) {
	return h.item.next(ctx)
}

// Cancel aborts the request. Batches not handed out yet are dropped.
// It is a no-op if the request has finished, been cancelled or closed.
func (d *Dispatcher) Cancel(h *Handle) {
	h.item.cancel()
}

// Close releases the execution of the request. It is safe to call more
// than once, after Cancel and after the final batch.
func (d *Dispatcher) Close(h *Handle) error {
	first, err := h.item.close()
	if first {
		d.remove(h.item.id)
		activeRequestsGauge.Dec()
		log.Debug("atomic request closed",
			zap.Stringer("requestID", h.item.id),
			zap.Error(err))
	}
	return err
}

// Lookup returns the handle of an open request.
func (d *Dispatcher) Lookup(id AtomicRequestID) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.requests[id]
	if !ok {
		return nil, cerrors.ErrRequestNotFound.GenWithStackByArgs(id)
	}
	return &Handle{item: w}, nil
}

// ActiveRequests returns the number of requests that are not closed.
func (d *Dispatcher) ActiveRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *Dispatcher) remove(id AtomicRequestID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.requests, id)
}
