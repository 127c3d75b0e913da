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

package kvsource

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/fedquery/engine/pkg/config"
	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/workerpool"
)

func newMemSource(t *testing.T) *Source {
	s, err := OpenStorage("profiles", storage.NewMemStorage())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Put(map[string]string{
		"user/1":  "ann",
		"user/2":  "bob",
		"user/3":  "cy",
		"group/1": "admins",
	}))
	return s
}

func TestPrefixScan(t *testing.T) {
	t.Parallel()

	s := newMemSource(t)
	require.NoError(t, s.Ping(context.Background()))
	exec, err := s.OpenExecution(context.Background(), "user/", &dispatch.ExecutionContext{})
	require.NoError(t, err)
	require.Equal(t, []string{"string", "string"}, exec.Columns())

	// Writes after open are not visible to the scan.
	require.NoError(t, s.Put(map[string]string{"user/4": "dee"}))

	ctx := context.Background()
	rows, end, err := exec.FetchNext(ctx, 2)
	require.NoError(t, err)
	require.False(t, end)
	require.Equal(t, [][]interface{}{{"user/1", "ann"}, {"user/2", "bob"}}, rows)
	rows, end, err = exec.FetchNext(ctx, 2)
	require.NoError(t, err)
	require.True(t, end)
	require.Equal(t, [][]interface{}{{"user/3", "cy"}}, rows)

	require.NoError(t, exec.Close())
	require.NoError(t, exec.Close())
	_, _, err = exec.FetchNext(ctx, 2)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrRequestClosed))
}

func TestCancelAndClosedSource(t *testing.T) {
	t.Parallel()

	s, err := OpenStorage("profiles", storage.NewMemStorage())
	require.NoError(t, err)
	require.NoError(t, s.Put(map[string]string{"a": "1"}))

	exec, err := s.OpenExecution(context.Background(), "", &dispatch.ExecutionContext{})
	require.NoError(t, err)
	exec.Cancel()
	_, _, err = exec.FetchNext(context.Background(), 1)
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrRequestCancelled))
	require.NoError(t, exec.Close())

	require.NoError(t, s.Close())
	require.True(t, cerrors.ErrorIs(s.Ping(context.Background()), cerrors.ErrSourceClosed))
	_, err = s.OpenExecution(context.Background(), "", &dispatch.ExecutionContext{})
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrSourceClosed))
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "profiles")
	s, err := Open("profiles", dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(map[string]string{"k": "v"}))
	require.NoError(t, s.Close())

	s, err = Open("profiles", dir)
	require.NoError(t, err)
	defer s.Close()
	exec, err := s.OpenExecution(context.Background(), "k", &dispatch.ExecutionContext{})
	require.NoError(t, err)
	rows, end, err := exec.FetchNext(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, end)
	require.Equal(t, [][]interface{}{{"k", "v"}}, rows)
	require.NoError(t, exec.Close())
}

func TestThroughDispatcher(t *testing.T) {
	t.Parallel()

	s, err := OpenStorage("profiles", storage.NewMemStorage())
	require.NoError(t, err)
	defer s.Close()
	kvs := make(map[string]string)
	for i := 0; i < 25; i++ {
		kvs[fmt.Sprintf("user/%03d", i)] = fmt.Sprintf("name-%d", i)
	}
	require.NoError(t, s.Put(kvs))

	poolCfg := config.NewDefaultSchedulerConfig()
	poolCfg.Name = t.Name()
	pool, err := workerpool.NewPool(poolCfg)
	require.NoError(t, err)
	defer func() {
		pool.Shutdown()
		require.True(t, pool.AwaitTermination(5*time.Second))
	}()
	registry := dispatch.NewSourceRegistry()
	require.NoError(t, registry.Register("profiles", s))
	d := dispatch.NewDispatcher(config.NewDefaultDispatcherConfig(), pool, registry)

	h, err := d.Submit(context.Background(), &dispatch.AtomicRequestMessage{
		ID:         d.NewRequestID("scan", 1),
		SourceName: "profiles",
		Command:    "user/",
		FetchSize:  10,
	})
	require.NoError(t, err)

	var keys []string
	var last *dispatch.AtomicResultsMessage
	for {
		batch, err := d.Next(context.Background(), h)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, row := range batch.Rows {
			keys = append(keys, row[0].(string))
		}
		last = batch
	}
	require.Len(t, keys, 25)
	require.Equal(t, "user/000", keys[0])
	require.Equal(t, "user/024", keys[24])
	require.Equal(t, int64(24), last.FinalRow)
	require.True(t, last.SupportsImplicitClose)
	require.NoError(t, d.Close(h))
}
