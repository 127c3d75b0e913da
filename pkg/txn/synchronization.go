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
)

// Outcome is the final result of a transaction.
type Outcome int

// All outcomes.
const (
	OutcomeCommitted Outcome = iota
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Synchronization is a participant of a transaction.
type Synchronization interface {
	// BeforeCompletion prepares the participant. An error forces the
	// transaction to roll back.
	BeforeCompletion(ctx context.Context) error
	// AfterCompletion tells the participant the outcome. Errors are
	// logged only.
	AfterCompletion(outcome Outcome) error
}

// Canceler is implemented by participants whose in-flight work can be
// aborted when the transaction is cancelled or times out.
type Canceler interface {
	Cancel()
}

// SyncFuncs adapts plain functions to Synchronization. Nil functions are
// skipped.
type SyncFuncs struct {
	Before func(ctx context.Context) error
	After  func(outcome Outcome) error
	// OnCancel, if set, makes the participant a Canceler.
	OnCancel func()
}

// BeforeCompletion implements Synchronization.
func (s *SyncFuncs) BeforeCompletion(ctx context.Context) error {
	if s.Before == nil {
		return nil
	}
	return s.Before(ctx)
}

// AfterCompletion implements Synchronization.
func (s *SyncFuncs) AfterCompletion(outcome Outcome) error {
	if s.After == nil {
		return nil
	}
	return s.After(outcome)
}

// Cancel implements Canceler.
func (s *SyncFuncs) Cancel() {
	if s.OnCancel != nil {
		s.OnCancel()
	}
}

// OrderDefault is the order of a record registered without WithOrder.
// Records of the same order are visited in registration order.
const OrderDefault = 0

// SyncOption configures a registered synchronization.
type SyncOption func(*record)

// WithOrder places the record relative to records of other orders,
// a lower order is prepared first.
func WithOrder(order int) SyncOption {
	return func(r *record) {
		r.order = order
	}
}

// WithName sets the participant name used in logs.
func WithName(name string) SyncOption {
	return func(r *record) {
		r.name = name
	}
}

// record is one registered synchronization.
type record struct {
	sync  Synchronization
	name  string
	order int
	seq   uint64

	prepared bool
}

func recordLess(a, b *record) bool {
	if a.order != b.order {
		return a.order < b.order
	}
	return a.seq < b.seq
}
