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

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

var columns = []string{"string", "string"}

// Source scans a leveldb database. The command of a request is a key
// prefix, every matching entry is returned as a [key, value] row.
type Source struct {
	name string
	db   *leveldb.DB
}

var (
	_ dispatch.Source         = (*Source)(nil)
	_ dispatch.Pinger         = (*Source)(nil)
	_ dispatch.ImplicitCloser = (*Source)(nil)
)

// Open opens or creates the database in dir.
func Open(name, dir string) (*Source, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("leveldb source opened", zap.String("source", name), zap.String("dir", dir))
	return &Source{name: name, db: db}, nil
}

// OpenStorage opens the database on an existing storage, for example
// storage.NewMemStorage().
func OpenStorage(name string, stor storage.Storage) (*Source, error) {
	db, err := leveldb.Open(stor, &opt.Options{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Source{name: name, db: db}, nil
}

// Close closes the database.
func (s *Source) Close() error {
	return errors.Trace(s.db.Close())
}

// Put writes the entries in one batch.
func (s *Source) Put(kvs map[string]string) error {
	batch := leveldb.MakeBatch(len(kvs))
	for k, v := range kvs {
		batch.Put([]byte(k), []byte(v))
	}
	return errors.Trace(s.db.Write(batch, nil))
}

// Ping implements dispatch.Pinger.
func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.db.GetProperty("leveldb.stats"); err != nil {
		if err == leveldb.ErrClosed {
			return cerrors.ErrSourceClosed.GenWithStackByArgs(s.name)
		}
		return errors.Trace(err)
	}
	return nil
}

// SupportsImplicitClose implements dispatch.ImplicitCloser.
func (s *Source) SupportsImplicitClose() bool {
	return true
}

// OpenExecution implements dispatch.Source. The scan reads a snapshot taken
// at open time.
func (s *Source) OpenExecution(
	ctx context.Context, command string, ectx *dispatch.ExecutionContext,
) (dispatch.Execution, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		if err == leveldb.ErrClosed {
			return nil, cerrors.ErrSourceClosed.GenWithStackByArgs(s.name)
		}
		return nil, errors.Trace(err)
	}
	return &execution{
		requestID: ectx.RequestID,
		snap:      snap,
		iter:      snap.NewIterator(util.BytesPrefix([]byte(command)), nil),
	}, nil
}

type execution struct {
	requestID dispatch.AtomicRequestID
	snap      *leveldb.Snapshot
	iter      iterator.Iterator
	closed    bool

	cancelled atomic.Bool
}

func (e *execution) Columns() []string {
	return columns
}

func (e *execution) FetchNext(ctx context.Context, max int) ([][]interface{}, bool, error) {
	if e.closed {
		return nil, false, cerrors.ErrRequestClosed.GenWithStackByArgs(e.requestID)
	}
	var rows [][]interface{}
	for len(rows) < max {
		if e.cancelled.Load() {
			return nil, false, cerrors.ErrRequestCancelled.GenWithStackByArgs(e.requestID)
		}
		if err := ctx.Err(); err != nil {
			return nil, false, errors.Trace(err)
		}
		if !e.iter.Next() {
			if err := e.iter.Error(); err != nil {
				return rows, false, errors.Trace(err)
			}
			return rows, true, nil
		}
		// Key and Value are only valid until the next call to Next.
		rows = append(rows, []interface{}{string(e.iter.Key()), string(e.iter.Value())})
	}
	return rows, false, nil
}

func (e *execution) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.iter.Release()
	e.snap.Release()
	return nil
}

func (e *execution) Cancel() {
	e.cancelled.Store(true)
}
