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
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/fedquery/engine/pkg/config"
	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

func numbers(n int) [][]interface{} {
	rows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []interface{}{i})
	}
	return rows
}

func open(t *testing.T, s *Source, table string, transactional bool) dispatch.Execution {
	exec, err := s.OpenExecution(context.Background(), table, &dispatch.ExecutionContext{
		RequestID:     dispatch.AtomicRequestID{RequestID: "r", NodeID: 1, ExecutionCount: 1},
		Transactional: transactional,
	})
	require.NoError(t, err)
	return exec
}

func TestScanInBatches(t *testing.T) {
	t.Parallel()

	s := New("mem")
	s.CreateTable("numbers", []string{"integer"}, numbers(5)...)
	exec := open(t, s, " numbers ", false)
	require.Equal(t, []string{"integer"}, exec.Columns())

	ctx := context.Background()
	rows, end, err := exec.FetchNext(ctx, 2)
	require.NoError(t, err)
	require.False(t, end)
	require.Equal(t, numbers(2), rows)
	rows, end, err = exec.FetchNext(ctx, 2)
	require.NoError(t, err)
	require.False(t, end)
	require.Len(t, rows, 2)
	rows, end, err = exec.FetchNext(ctx, 2)
	require.NoError(t, err)
	require.True(t, end)
	require.Equal(t, [][]interface{}{{4}}, rows)

	require.NoError(t, exec.Close())
	_, _, err = exec.FetchNext(ctx, 2)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrRequestClosed))
	require.Equal(t, int64(1), s.Opened())
}

func TestSnapshotAtOpen(t *testing.T) {
	t.Parallel()

	s := New("mem")
	s.CreateTable("numbers", []string{"integer"}, numbers(2)...)
	exec := open(t, s, "numbers", false)
	require.NoError(t, s.Insert("numbers", []interface{}{2}))

	rows, end, err := exec.FetchNext(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, end)
	require.Len(t, rows, 2)

	require.True(t, cerrors.ErrorIs(s.Insert("missing", []interface{}{1}), cerrors.ErrTableNotFound))
	_, err = s.OpenExecution(context.Background(), "missing", &dispatch.ExecutionContext{})
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrTableNotFound))
}

func TestFailAfterAndCancel(t *testing.T) {
	t.Parallel()

	s := New("mem")
	s.CreateTable("numbers", []string{"integer"}, numbers(10)...)
	s.FailAfter(3)
	exec := open(t, s, "numbers", false)
	rows, _, err := exec.FetchNext(context.Background(), 5)
	require.Error(t, err)
	require.Len(t, rows, 3)

	s.FailAfter(-1)
	exec = open(t, s, "numbers", false)
	exec.Cancel()
	_, _, err = exec.FetchNext(context.Background(), 5)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrRequestCancelled))

	exec = open(t, s, "numbers", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = exec.FetchNext(ctx, 5)
	require.True(t, cerrors.IsContextCanceledErr(err))
}

func TestPingAndTransactions(t *testing.T) {
	t.Parallel()

	s := NewFromConfig(&config.SourceConfig{
		Name: "mem",
		Type: config.SourceTypeMemory,
		Tables: []*config.TableConfig{{
			Name:    "regions",
			Columns: []string{"integer", "string"},
			Rows:    [][]interface{}{{int64(1), "emea"}},
		}},
	})
	require.Equal(t, "mem", s.Name())
	require.NoError(t, s.Ping(context.Background()))
	s.SetUnavailable(true)
	require.Error(t, s.Ping(context.Background()))
	s.SetUnavailable(false)

	exec := open(t, s, "regions", false)
	_, ok := exec.(dispatch.TransactionalExecution)
	require.False(t, ok)

	exec = open(t, s, "regions", true)
	te, ok := exec.(dispatch.TransactionalExecution)
	require.True(t, ok)
	require.NoError(t, te.Prepare(context.Background()))
	require.NoError(t, te.Commit())
	s.FailPrepare(errors.New("disk full"))
	require.ErrorContains(t, te.Prepare(context.Background()), "disk full")
	require.NoError(t, te.Rollback())

	var kinds []string
	for _, ev := range s.Events() {
		require.Equal(t, "regions", ev.Table)
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []string{"prepare", "commit", "prepare", "rollback"}, kinds)
}
