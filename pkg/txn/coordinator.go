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

package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/clock"
	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// Status is the state of a transaction.
type Status int

// All transaction states.
const (
	StatusNotStarted Status = iota
	StatusRunning
	// StatusPreparing is set while before-completion hooks are visited.
	StatusPreparing
	StatusCommitting
	StatusAborting
	StatusEnded
)

var statusNames = map[Status]string{
	StatusNotStarted: "not-started",
	StatusRunning:    "running",
	StatusPreparing:  "preparing",
	StatusCommitting: "committing",
	StatusAborting:   "aborting",
	StatusEnded:      "ended",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Completion is the result of a finished transaction. Cause is the first
// error that forced a rollback, if any.
type Completion struct {
	Outcome Outcome
	Cause   error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock driving the transaction timeout.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// Coordinator runs the two-phase completion of one transaction across all
// participants registered with it.
//
// Before-completion visits records in (order, registration) order and
// keeps going after a failure. After-completion notifies every record in
// reverse registration order. Both phases run at most once.
type Coordinator struct {
	id      string
	clock   clock.Clock
	timeout time.Duration
	onEnd   func(*Coordinator)

	mu           sync.Mutex
	status       Status
	records      *btree.BTreeG[*record]
	registered   []*record
	cursor       *record
	nextSeq      uint64
	beforeCalled bool
	prepareDone  bool
	afterCalled  bool
	problem      bool
	rollbackOnly bool
	ending       bool
	cause        error
	completion   *Completion
	startedAt    time.Time
	timer        *clock.Timer

	// prepared is closed once the before-completion walk has finished.
	prepared chan struct{}
	ended    chan struct{}
}

// NewCoordinator creates a transaction in the not-started state.
func NewCoordinator(id string, cfg *config.TxnConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:      id,
		clock:   clock.New(),
		timeout: time.Duration(cfg.Timeout),
		records:  btree.NewG[*record](8, recordLess),
		prepared: make(chan struct{}),
		ended:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the transaction id.
func (c *Coordinator) ID() string {
	return c.id
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsActive returns true if participants can still join the transaction.
func (c *Coordinator) IsActive() bool {
	return c.Status() == StatusRunning
}

// Done is closed once the transaction has ended.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ended
}

// Start moves the transaction to running and arms the timeout.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusNotStarted {
		return cerrors.ErrTxnNotActive.GenWithStackByArgs(c.id, c.status)
	}
	c.status = StatusRunning
	c.startedAt = c.clock.Now()
	if c.timeout > 0 {
		c.timer = c.clock.AfterFunc(c.timeout, c.onTimeout)
	}
	log.Debug("transaction started",
		zap.String("txnID", c.id),
		zap.Duration("timeout", c.timeout))
	return nil
}

// AddSynchronization registers a participant. It is accepted while the
// transaction is running. While before-completion is in progress, a record
// that sorts at or before the record being processed is rejected.
func (c *Coordinator) AddSynchronization(s Synchronization, opts ...SyncOption) error {
	r := &record{sync: s, order: OrderDefault}
	for _, opt := range opts {
		opt(r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusRunning:
	case StatusPreparing:
		if c.rollbackOnly {
			return cerrors.ErrTxnRollbackOnly.GenWithStackByArgs(c.id)
		}
		if c.prepareDone {
			return cerrors.ErrSynchronizationRejected.GenWithStackByArgs(c.id, "before completion has finished")
		}
	default:
		return cerrors.ErrTxnNotActive.GenWithStackByArgs(c.id, c.status)
	}

	c.nextSeq++
	r.seq = c.nextSeq
	if r.name == "" {
		r.name = fmt.Sprintf("participant-%d", r.seq)
	}
	if c.cursor != nil && !recordLess(c.cursor, r) {
		return cerrors.ErrSynchronizationRejected.GenWithStackByArgs(c.id,
			fmt.Sprintf("%s with order %d sorts before the record being prepared", r.name, r.order))
	}
	c.records.ReplaceOrInsert(r)
	c.registered = append(c.registered, r)
	registeredSynchronizations.Inc()
	return nil
}

// BeforeCompletion visits every record once in order. The first error is
// kept as the deferred cause and the remaining records are still visited.
// It returns false if any record failed or the transaction can no longer
// commit. Calls after the first wait for the first walk to finish and
// return its result without visiting records again; they return false if
// ctx is done before that.
func (c *Coordinator) BeforeCompletion(ctx context.Context) bool {
	c.mu.Lock()
	if c.beforeCalled {
		c.mu.Unlock()
		select {
		case <-c.prepared:
		case <-ctx.Done():
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.problem
	}
	c.beforeCalled = true
	switch c.status {
	case StatusRunning:
		c.status = StatusPreparing
	case StatusPreparing:
	default:
		c.problem = true
		close(c.prepared)
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	defer close(c.prepared)

	for {
		r := c.advanceCursor()
		if r == nil {
			break
		}
		err := c.prepare(ctx, r)

		c.mu.Lock()
		r.prepared = true
		if err != nil {
			c.problem = true
			if c.cause == nil {
				c.cause = err
			}
		}
		c.mu.Unlock()
		if err != nil {
			participantFailures.WithLabelValues("before").Inc()
			log.Warn("participant failed to prepare, transaction will roll back",
				zap.String("txnID", c.id),
				zap.String("participant", r.name),
				zap.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.problem
}

// advanceCursor moves the cursor to the record after it and returns that
// record, or nil when every record has been visited.
func (c *Coordinator) advanceCursor() *record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *record
	if c.cursor == nil {
		next, _ = c.records.Min()
	} else {
		c.records.AscendGreaterOrEqual(c.cursor, func(r *record) bool {
			if r == c.cursor {
				return true
			}
			next = r
			return false
		})
	}
	if next == nil {
		c.prepareDone = true
		return nil
	}
	c.cursor = next
	return next
}

func (c *Coordinator) prepare(ctx context.Context, r *record) (err error) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("participant panicked in before completion",
				zap.String("txnID", c.id),
				zap.String("participant", r.name),
				zap.Any("recover", v),
				zap.Stack("stack"))
			err = cerrors.ErrParticipantPanicked.GenWithStackByArgs(c.id, v)
		}
	}()
	return errors.Trace(r.sync.BeforeCompletion(ctx))
}

// AfterCompletion notifies every record of the outcome in reverse
// registration order. Failures are logged and do not stop the walk.
// Calls after the first have no effect.
func (c *Coordinator) AfterCompletion(outcome Outcome) {
	c.mu.Lock()
	if c.afterCalled {
		c.mu.Unlock()
		return
	}
	c.afterCalled = true
	records := make([]*record, len(c.registered))
	copy(records, c.registered)
	c.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if err := c.notify(r, outcome); err != nil {
			participantFailures.WithLabelValues("after").Inc()
			log.Warn("participant failed in after completion",
				zap.String("txnID", c.id),
				zap.String("participant", r.name),
				zap.Stringer("outcome", outcome),
				zap.Error(err))
		}
	}
}

func (c *Coordinator) notify(r *record, outcome Outcome) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = cerrors.ErrParticipantPanicked.GenWithStackByArgs(c.id, v)
		}
	}()
	return errors.Trace(r.sync.AfterCompletion(outcome))
}

// End tries to commit the transaction. Any failure in before-completion,
// a cancel or a timeout turns the outcome into a rollback. Calling End on
// a transaction that already ended returns its completion.
func (c *Coordinator) End(ctx context.Context) (*Completion, error) {
	c.mu.Lock()
	switch {
	case c.status == StatusRunning, c.status == StatusPreparing && !c.ending:
		c.status = StatusPreparing
		c.ending = true
	case c.status == StatusNotStarted:
		c.mu.Unlock()
		return nil, cerrors.ErrTxnNotActive.GenWithStackByArgs(c.id, StatusNotStarted)
	default:
		// Another End, Cancel or the timeout is completing the transaction.
		c.mu.Unlock()
		return c.waitEnded(ctx)
	}
	c.mu.Unlock()

	ok := c.BeforeCompletion(ctx)

	c.mu.Lock()
	outcome := OutcomeCommitted
	if !ok || c.rollbackOnly {
		outcome = OutcomeRolledBack
		c.status = StatusAborting
		if c.cause == nil {
			c.cause = cerrors.ErrTxnRollbackOnly.GenWithStackByArgs(c.id)
		}
	} else {
		c.status = StatusCommitting
	}
	c.mu.Unlock()

	c.AfterCompletion(outcome)
	return c.finish(outcome), nil
}

// Cancel rolls back a running transaction. During before-completion it
// marks the transaction rollback only. It is a no-op otherwise.
func (c *Coordinator) Cancel() {
	c.cancelWithCause(nil)
}

func (c *Coordinator) cancelWithCause(cause error) {
	c.mu.Lock()
	if cause != nil && c.cause == nil && c.status <= StatusPreparing {
		c.cause = cause
	}
	switch c.status {
	case StatusRunning:
		c.status = StatusAborting
		c.mu.Unlock()
	case StatusPreparing:
		c.rollbackOnly = true
		c.mu.Unlock()
		log.Info("transaction marked rollback only",
			zap.String("txnID", c.id))
		c.cancelParticipants()
		return
	default:
		c.mu.Unlock()
		return
	}

	log.Info("transaction cancelled, rolling back",
		zap.String("txnID", c.id),
		zap.Error(cause))
	c.cancelParticipants()
	c.AfterCompletion(OutcomeRolledBack)
	c.finish(OutcomeRolledBack)
}

// cancelParticipants cancels the records that have not finished preparing.
func (c *Coordinator) cancelParticipants() {
	c.mu.Lock()
	var cancelers []Canceler
	for _, r := range c.registered {
		if r.prepared {
			continue
		}
		if canceler, ok := r.sync.(Canceler); ok {
			cancelers = append(cancelers, canceler)
		}
	}
	c.mu.Unlock()
	for _, canceler := range cancelers {
		canceler.Cancel()
	}
}

func (c *Coordinator) onTimeout() {
	log.Warn("transaction timed out",
		zap.String("txnID", c.id),
		zap.Duration("timeout", c.timeout))
	c.cancelWithCause(cerrors.ErrTxnTimeout.GenWithStackByArgs(c.id, c.timeout))
}

// finish moves the transaction to ended. Only the first call has effect.
func (c *Coordinator) finish(outcome Outcome) *Completion {
	c.mu.Lock()
	if c.status == StatusEnded {
		completion := c.completion
		c.mu.Unlock()
		return completion
	}
	c.status = StatusEnded
	if c.timer != nil {
		c.timer.Stop()
	}
	var cause error
	if outcome == OutcomeRolledBack {
		cause = c.cause
	}
	c.completion = &Completion{Outcome: outcome, Cause: cause}
	completion := c.completion
	duration := c.clock.Since(c.startedAt)
	close(c.ended)
	c.mu.Unlock()

	completedTxns.WithLabelValues(outcome.String()).Inc()
	txnDuration.Observe(duration.Seconds())
	log.Info("transaction ended",
		zap.String("txnID", c.id),
		zap.Stringer("outcome", outcome),
		zap.Duration("duration", duration),
		zap.Error(cause))
	if c.onEnd != nil {
		c.onEnd(c)
	}
	return completion
}

func (c *Coordinator) waitEnded(ctx context.Context) (*Completion, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-c.ended:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completion, nil
}

// Completion returns the completion of an ended transaction, nil before.
func (c *Coordinator) Completion() *Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completion
}
