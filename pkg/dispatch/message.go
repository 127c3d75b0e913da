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
	"fmt"
	"time"

	"github.com/fedquery/engine/pkg/txn"
)

// FinalRowUnknown is the FinalRow of a batch before the source reported
// end of data.
const FinalRowUnknown int64 = -1

// AtomicRequestID identifies one execution of one plan node. The
// execution count is assigned by the Dispatcher and never reused.
type AtomicRequestID struct {
	RequestID      string
	NodeID         int
	ExecutionCount int64
}

func (id AtomicRequestID) String() string {
	return fmt.Sprintf("%s.%d.%d", id.RequestID, id.NodeID, id.ExecutionCount)
}

// AtomicRequestMessage is one sub-plan to run against one source.
type AtomicRequestMessage struct {
	ID         AtomicRequestID
	SourceName string
	Command    string
	// FetchSize is the maximum number of rows per batch, 0 means the
	// dispatcher default.
	FetchSize int
	// Txn binds the request to a running transaction.
	Txn *txn.Coordinator

	UseResultSetCache      bool
	SupportsPartialResults bool
	// ExecutionPayload is handed to the source untouched.
	ExecutionPayload interface{}
	SessionID        string

	SubmittedAt  time.Time
	ProcessingAt time.Time
}

// IsTransactional returns true if the request is bound to a transaction.
func (m *AtomicRequestMessage) IsTransactional() bool {
	return m.Txn != nil
}

// AtomicResultsMessage is one batch of rows of a request.
type AtomicResultsMessage struct {
	Rows [][]interface{}
	// DataTypes are the declared column types, parallel to each row.
	DataTypes []string
	// FinalRow is the index of the last row of the whole result once it is
	// known, FinalRowUnknown before.
	FinalRow int64

	SupportsImplicitClose bool
	// RequestClosed means no further batch follows this one.
	RequestClosed   bool
	IsTransactional bool
	// Warnings are non-fatal source failures, such as a mid-stream error
	// turned into a partial result.
	Warnings []error
}

// IsFinal returns true if the batch is the last one of the request.
func (m *AtomicResultsMessage) IsFinal() bool {
	return m.RequestClosed
}
