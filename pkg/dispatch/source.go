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
	"sort"
	"sync"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

// ExecutionContext describes the request a source execution serves.
type ExecutionContext struct {
	RequestID         AtomicRequestID
	SessionID         string
	FetchSize         int
	Transactional     bool
	UseResultSetCache bool
	Payload           interface{}
}

// Source is a backend that runs commands.
type Source interface {
	// OpenExecution starts running the command. Errors the caller may
	// retry should be classified as ErrSourceTransient.
	OpenExecution(ctx context.Context, command string, ectx *ExecutionContext) (Execution, error)
}

// Execution is one running command of a source.
//
// FetchNext is never called concurrently with itself. Cancel may be called
// at any time from any goroutine.
type Execution interface {
	// Columns returns the declared type of each column.
	Columns() []string
	// FetchNext returns up to max rows. end is true when no row follows the
	// returned ones. Rows returned together with an error were produced
	// before the failure.
	FetchNext(ctx context.Context, max int) (rows [][]interface{}, end bool, err error)
	Close() error
	Cancel()
}

// Pinger is implemented by sources that can check they are reachable
// before a request is accepted.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransactionalExecution is implemented by executions that take part in
// the transaction of their request.
type TransactionalExecution interface {
	Execution
	Prepare(ctx context.Context) error
	Commit() error
	Rollback() error
}

// ImplicitCloser is implemented by sources whose executions can be closed
// as soon as they reach end of data.
type ImplicitCloser interface {
	SupportsImplicitClose() bool
}

// SourceRegistry maps source names to sources.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]Source)}
}

// Register adds a source.
func (r *SourceRegistry) Register(name string, source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		return cerrors.ErrSourceAlreadyExists.GenWithStackByArgs(name)
	}
	r.sources[name] = source
	return nil
}

// Get returns the source registered under name.
func (r *SourceRegistry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[name]
	if !ok {
		return nil, cerrors.ErrSourceNotFound.GenWithStackByArgs(name)
	}
	return source, nil
}

// Names returns the sorted names of all registered sources.
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
