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

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

// fakeSource serves rows [i, "row-i"] for i in [0, numRows).
type fakeSource struct {
	numRows int
	// failAt makes FetchNext fail once this many rows were produced,
	// a negative value disables it.
	failAt int
	// transientOpenFailures is the number of OpenExecution calls that fail
	// with a retryable error before one succeeds.
	transientOpenFailures int64
	pingErr               error
	// gate, if set, blocks every FetchNext until it is closed or the
	// execution is cancelled.
	gate          chan struct{}
	implicitClose bool
	prepareErr    error

	opens atomic.Int64

	mu    sync.Mutex
	execs []*fakeExecution
}

func newFakeSource(numRows int) *fakeSource {
	return &fakeSource{numRows: numRows, failAt: -1}
}

func (s *fakeSource) OpenExecution(ctx context.Context, command string, ectx *ExecutionContext) (Execution, error) {
	if s.opens.Inc() <= s.transientOpenFailures {
		return nil, cerrors.ErrSourceTransient.GenWithStackByArgs("fake")
	}
	e := &fakeExecution{source: s, cancelCh: make(chan struct{})}
	s.mu.Lock()
	s.execs = append(s.execs, e)
	s.mu.Unlock()
	return e, nil
}

func (s *fakeSource) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *fakeSource) SupportsImplicitClose() bool {
	return s.implicitClose
}

func (s *fakeSource) lastExecution() *fakeExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.execs) == 0 {
		return nil
	}
	return s.execs[len(s.execs)-1]
}

type fakeExecution struct {
	source *fakeSource
	pos    int

	cancelOnce sync.Once
	cancelCh   chan struct{}
	cancelled  atomic.Bool
	closed     atomic.Int64
	prepared   atomic.Bool
	committed  atomic.Bool
	rolledBack atomic.Bool
}

func (e *fakeExecution) Columns() []string {
	return []string{"integer", "string"}
}

func (e *fakeExecution) FetchNext(ctx context.Context, max int) ([][]interface{}, bool, error) {
	if e.source.gate != nil {
		select {
		case <-e.source.gate:
		case <-e.cancelCh:
			return nil, false, errors.Trace(context.Canceled)
		case <-ctx.Done():
			return nil, false, errors.Trace(ctx.Err())
		}
	}
	var rows [][]interface{}
	for len(rows) < max && e.pos < e.source.numRows {
		if e.source.failAt >= 0 && e.pos >= e.source.failAt {
			return rows, false, errors.New("fake source broke")
		}
		rows = append(rows, []interface{}{e.pos, "row"})
		e.pos++
	}
	if e.source.failAt >= 0 && e.pos >= e.source.failAt && e.pos < e.source.numRows {
		return rows, false, errors.New("fake source broke")
	}
	return rows, e.pos >= e.source.numRows, nil
}

func (e *fakeExecution) Close() error {
	e.closed.Inc()
	return nil
}

func (e *fakeExecution) Cancel() {
	e.cancelled.Store(true)
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

func (e *fakeExecution) Prepare(ctx context.Context) error {
	e.prepared.Store(true)
	return e.source.prepareErr
}

func (e *fakeExecution) Commit() error {
	e.committed.Store(true)
	return nil
}

func (e *fakeExecution) Rollback() error {
	e.rolledBack.Store(true)
	return nil
}
