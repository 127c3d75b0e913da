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

package memsource

import (
	"context"
	"strings"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/config"
	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// Table is a named set of rows.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Event is one transaction callback received by the source.
type Event struct {
	Kind      string // prepare, commit or rollback
	RequestID dispatch.AtomicRequestID
	Table     string
}

// Source serves tables held in memory. The command of a request is the
// name of the table to scan.
type Source struct {
	name string

	mu          sync.RWMutex
	tables      map[string]*Table
	failAfter   int
	unavailable bool
	prepareErr  error
	events      []Event

	opened atomic.Int64
}

var (
	_ dispatch.Source         = (*Source)(nil)
	_ dispatch.Pinger         = (*Source)(nil)
	_ dispatch.ImplicitCloser = (*Source)(nil)
)

// New creates an empty source.
func New(name string) *Source {
	return &Source{
		name:      name,
		tables:    make(map[string]*Table),
		failAfter: -1,
	}
}

// NewFromConfig creates a source seeded with the tables of cfg.
func NewFromConfig(cfg *config.SourceConfig) *Source {
	s := New(cfg.Name)
	for _, table := range cfg.Tables {
		s.CreateTable(table.Name, table.Columns, table.Rows...)
	}
	return s
}

// Name returns the name of the source.
func (s *Source) Name() string {
	return s.name
}

// CreateTable creates or replaces a table.
func (s *Source) CreateTable(name string, columns []string, rows ...[]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &Table{Columns: columns, Rows: rows}
}

// Insert appends rows to an existing table.
func (s *Source) Insert(table string, rows ...[]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return cerrors.ErrTableNotFound.GenWithStackByArgs(table, s.name)
	}
	t.Rows = append(t.Rows, rows...)
	return nil
}

// FailAfter makes every execution fail once it has produced n rows.
// A negative n disables the failure.
func (s *Source) FailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// SetUnavailable makes Ping fail.
func (s *Source) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// FailPrepare makes the prepare phase of transactional executions fail.
func (s *Source) FailPrepare(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareErr = err
}

// Events returns the transaction callbacks received so far.
func (s *Source) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// Opened returns the number of executions opened.
func (s *Source) Opened() int64 {
	return s.opened.Load()
}

// Ping implements dispatch.Pinger.
func (s *Source) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return errors.Errorf("memory source %s is marked unavailable", s.name)
	}
	return nil
}

// SupportsImplicitClose implements dispatch.ImplicitCloser.
func (s *Source) SupportsImplicitClose() bool {
	return true
}

// OpenExecution implements dispatch.Source. The execution scans a snapshot
// of the table taken at open time.
func (s *Source) OpenExecution(
	ctx context.Context, command string, ectx *dispatch.ExecutionContext,
) (dispatch.Execution, error) {
	name := strings.TrimSpace(command)
	s.mu.RLock()
	t, ok := s.tables[name]
	if !ok {
		s.mu.RUnlock()
		return nil, cerrors.ErrTableNotFound.GenWithStackByArgs(name, s.name)
	}
	e := &execution{
		source:    s,
		table:     name,
		requestID: ectx.RequestID,
		columns:   t.Columns,
		rows:      t.Rows[:len(t.Rows):len(t.Rows)],
		failAfter: s.failAfter,
	}
	s.mu.RUnlock()

	s.opened.Inc()
	log.Debug("memory execution opened",
		zap.String("source", s.name),
		zap.String("table", name),
		zap.Stringer("requestID", ectx.RequestID),
		zap.Int("rows", len(e.rows)))
	if ectx.Transactional {
		return &txnExecution{execution: e}, nil
	}
	return e, nil
}

func (s *Source) record(kind string, e *execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Kind: kind, RequestID: e.requestID, Table: e.table})
}

type execution struct {
	source    *Source
	table     string
	requestID dispatch.AtomicRequestID
	columns   []string
	rows      [][]interface{}
	failAfter int
	pos       int

	cancelled atomic.Bool
	closed    atomic.Bool
}

func (e *execution) Columns() []string {
	return e.columns
}

func (e *execution) FetchNext(ctx context.Context, max int) ([][]interface{}, bool, error) {
	if e.closed.Load() {
		return nil, false, cerrors.ErrRequestClosed.GenWithStackByArgs(e.requestID)
	}
	var batch [][]interface{}
	for len(batch) < max && e.pos < len(e.rows) {
		if e.cancelled.Load() {
			return nil, false, cerrors.ErrRequestCancelled.GenWithStackByArgs(e.requestID)
		}
		if err := ctx.Err(); err != nil {
			return nil, false, errors.Trace(err)
		}
		if e.failAfter >= 0 && e.pos >= e.failAfter {
			return batch, false, errors.Errorf("memory source %s failed after %d rows of table %s",
				e.source.name, e.pos, e.table)
		}
		batch = append(batch, e.rows[e.pos])
		e.pos++
	}
	return batch, e.pos >= len(e.rows), nil
}

func (e *execution) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *execution) Cancel() {
	e.cancelled.Store(true)
}

// txnExecution records the transaction callbacks it receives.
type txnExecution struct {
	*execution
}

var _ dispatch.TransactionalExecution = (*txnExecution)(nil)

func (e *txnExecution) Prepare(ctx context.Context) error {
	e.source.record("prepare", e.execution)
	e.source.mu.RLock()
	err := e.source.prepareErr
	e.source.mu.RUnlock()
	return err
}

func (e *txnExecution) Commit() error {
	e.source.record("commit", e.execution)
	return nil
}

func (e *txnExecution) Rollback() error {
	e.source.record("rollback", e.execution)
	return nil
}
