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

package sqlsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"sync"

	dmysql "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// Source runs SQL commands against a database/sql connection pool.
type Source struct {
	name string
	db   *sql.DB
}

var (
	_ dispatch.Source = (*Source)(nil)
	_ dispatch.Pinger = (*Source)(nil)
)

// Open connects to a MySQL compatible database.
func Open(name, dsn string) (*Source, error) {
	cfg, err := dmysql.ParseDSN(dsn)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrInvalidConfig, err, "source "+name+": bad dsn")
	}
	connector, err := dmysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return New(name, sql.OpenDB(connector)), nil
}

// New wraps an open database handle.
func New(name string, db *sql.DB) *Source {
	return &Source{name: name, db: db}
}

// Close closes the database handle.
func (s *Source) Close() error {
	return errors.Trace(s.db.Close())
}

// Ping implements dispatch.Pinger.
func (s *Source) Ping(ctx context.Context) error {
	return errors.Trace(s.db.PingContext(ctx))
}

// OpenExecution implements dispatch.Source. A transactional request runs
// its query in a database transaction that stays open until the request's
// transaction completes.
func (s *Source) OpenExecution(
	ctx context.Context, command string, ectx *dispatch.ExecutionContext,
) (dispatch.Execution, error) {
	// The query outlives the open call, it is bound to the execution.
	queryCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &execution{source: s, requestID: ectx.RequestID, cancel: cancel}

	var err error
	if ectx.Transactional {
		e.tx, err = s.db.BeginTx(queryCtx, nil)
		if err != nil {
			cancel()
			return nil, s.classify(err)
		}
		e.rows, err = e.tx.QueryContext(queryCtx, command)
	} else {
		e.rows, err = s.db.QueryContext(queryCtx, command)
	}
	if err != nil {
		if e.tx != nil {
			_ = e.tx.Rollback()
		}
		cancel()
		return nil, s.classify(err)
	}

	types, err := e.rows.ColumnTypes()
	if err != nil {
		_ = e.rows.Close()
		if e.tx != nil {
			_ = e.tx.Rollback()
		}
		cancel()
		return nil, errors.Trace(err)
	}
	for _, tp := range types {
		name := strings.ToLower(tp.DatabaseTypeName())
		if name == "" {
			name = "unknown"
		}
		e.columns = append(e.columns, name)
	}

	log.Debug("sql execution opened",
		zap.String("source", s.name),
		zap.Stringer("requestID", ectx.RequestID),
		zap.Bool("transactional", e.tx != nil))
	if e.tx != nil {
		return &txnExecution{execution: e}, nil
	}
	return e, nil
}

// classify marks connection failures as transient so that opening the
// execution is retried.
func (s *Source) classify(err error) error {
	if isConnectionError(err) {
		return cerrors.WrapError(cerrors.ErrSourceTransient, err, s.name)
	}
	return errors.Trace(err)
}

func isConnectionError(err error) bool {
	cause := errors.Cause(err)
	return cause == driver.ErrBadConn || cause == dmysql.ErrInvalidConn
}

type execution struct {
	source    *Source
	requestID dispatch.AtomicRequestID
	columns   []string
	rows      *sql.Rows
	tx        *sql.Tx
	cancel    context.CancelFunc

	cancelled atomic.Bool
	closeOnce sync.Once
	closeErr  error
	fetchErr  error
}

func (e *execution) Columns() []string {
	return e.columns
}

func (e *execution) FetchNext(ctx context.Context, max int) ([][]interface{}, bool, error) {
	stop := context.AfterFunc(ctx, e.cancel)
	defer stop()

	var batch [][]interface{}
	n := len(e.columns)
	for len(batch) < max {
		if !e.rows.Next() {
			if err := e.rows.Err(); err != nil {
				e.fetchErr = e.failure(err)
				return batch, false, e.fetchErr
			}
			return batch, true, nil
		}
		values := make([]interface{}, n)
		dest := make([]interface{}, n)
		for i := range values {
			dest[i] = &values[i]
		}
		if err := e.rows.Scan(dest...); err != nil {
			e.fetchErr = errors.Trace(err)
			return batch, false, e.fetchErr
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		batch = append(batch, values)
	}
	return batch, false, nil
}

func (e *execution) failure(err error) error {
	if e.cancelled.Load() {
		return cerrors.ErrRequestCancelled.GenWithStackByArgs(e.requestID)
	}
	return errors.Trace(err)
}

func (e *execution) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = errors.Trace(e.rows.Close())
		if e.tx == nil {
			e.cancel()
		}
	})
	return e.closeErr
}

// Cancel aborts the query in flight.
func (e *execution) Cancel() {
	e.cancelled.Store(true)
	e.cancel()
}

type txnExecution struct {
	*execution
}

var _ dispatch.TransactionalExecution = (*txnExecution)(nil)

// Prepare fails if the query did not run to completion.
func (e *txnExecution) Prepare(ctx context.Context) error {
	if e.cancelled.Load() {
		return cerrors.ErrRequestCancelled.GenWithStackByArgs(e.requestID)
	}
	return e.fetchErr
}

func (e *txnExecution) Commit() error {
	defer e.cancel()
	if err := e.Close(); err != nil {
		log.Warn("close rows before commit failed",
			zap.String("source", e.source.name),
			zap.Stringer("requestID", e.requestID),
			zap.Error(err))
	}
	return errors.Trace(e.tx.Commit())
}

func (e *txnExecution) Rollback() error {
	defer e.cancel()
	if err := e.Close(); err != nil {
		log.Warn("close rows before rollback failed",
			zap.String("source", e.source.name),
			zap.Stringer("requestID", e.requestID),
			zap.Error(err))
	}
	err := e.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return errors.Trace(err)
}
