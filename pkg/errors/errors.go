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

package errors

import (
	"github.com/pingcap/errors"
)

// all federated query runtime errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error",
		errors.RFCCodeText("FEDQ:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("FEDQ:ErrInvalidArgument"),
	)

	// config related errors
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("FEDQ:ErrDecodeConfigFile"),
	)
	ErrConfigUnknownItem = errors.Normalize(
		"config contains unknown configuration options: %s",
		errors.RFCCodeText("FEDQ:ErrConfigUnknownItem"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("FEDQ:ErrInvalidConfig"),
	)

	// worker pool related errors
	ErrExecutorRejected = errors.Normalize(
		"task rejected, worker pool %s has been shut down",
		errors.RFCCodeText("FEDQ:ErrExecutorRejected"),
	)
	ErrTaskCancelled = errors.Normalize(
		"task %s has been cancelled",
		errors.RFCCodeText("FEDQ:ErrTaskCancelled"),
	)
	ErrTaskPanicked = errors.Normalize(
		"task %s panicked: %v",
		errors.RFCCodeText("FEDQ:ErrTaskPanicked"),
	)

	// dispatch related errors
	ErrInvalidFetchSize = errors.Normalize(
		"invalid fetch size %d, must be at least 1",
		errors.RFCCodeText("FEDQ:ErrInvalidFetchSize"),
	)
	ErrSourceNotFound = errors.Normalize(
		"source %s is not registered",
		errors.RFCCodeText("FEDQ:ErrSourceNotFound"),
	)
	ErrSourceAlreadyExists = errors.Normalize(
		"source %s is already registered",
		errors.RFCCodeText("FEDQ:ErrSourceAlreadyExists"),
	)
	ErrSourceUnavailable = errors.Normalize(
		"source %s is unavailable",
		errors.RFCCodeText("FEDQ:ErrSourceUnavailable"),
	)
	ErrSourceExecution = errors.Normalize(
		"execution of request %s against source %s failed",
		errors.RFCCodeText("FEDQ:ErrSourceExecution"),
	)
	ErrSourceTransient = errors.Normalize(
		"transient failure of source %s",
		errors.RFCCodeText("FEDQ:ErrSourceTransient"),
	)
	ErrDuplicateRequest = errors.Normalize(
		"request %s is already open",
		errors.RFCCodeText("FEDQ:ErrDuplicateRequest"),
	)
	ErrRequestNotFound = errors.Normalize(
		"request %s is not found",
		errors.RFCCodeText("FEDQ:ErrRequestNotFound"),
	)
	ErrRequestCancelled = errors.Normalize(
		"request %s has been cancelled",
		errors.RFCCodeText("FEDQ:ErrRequestCancelled"),
	)
	ErrRequestClosed = errors.Normalize(
		"request %s has been closed",
		errors.RFCCodeText("FEDQ:ErrRequestClosed"),
	)
	ErrResultsTimeout = errors.Normalize(
		"timed out waiting for results of request %s",
		errors.RFCCodeText("FEDQ:ErrResultsTimeout"),
	)

	// transaction related errors
	ErrTxnNotActive = errors.Normalize(
		"transaction %s is not active, state: %s",
		errors.RFCCodeText("FEDQ:ErrTxnNotActive"),
	)
	ErrTxnAlreadyExists = errors.Normalize(
		"transaction %s already exists",
		errors.RFCCodeText("FEDQ:ErrTxnAlreadyExists"),
	)
	ErrTxnTimeout = errors.Normalize(
		"transaction %s timed out after %s",
		errors.RFCCodeText("FEDQ:ErrTxnTimeout"),
	)
	ErrTxnRollbackOnly = errors.Normalize(
		"transaction %s has been marked rollback only",
		errors.RFCCodeText("FEDQ:ErrTxnRollbackOnly"),
	)
	ErrSynchronizationRejected = errors.Normalize(
		"synchronization rejected by transaction %s: %s",
		errors.RFCCodeText("FEDQ:ErrSynchronizationRejected"),
	)
	ErrParticipantPanicked = errors.Normalize(
		"participant of transaction %s panicked: %v",
		errors.RFCCodeText("FEDQ:ErrParticipantPanicked"),
	)

	// source adapter related errors
	ErrTableNotFound = errors.Normalize(
		"table %s is not found in source %s",
		errors.RFCCodeText("FEDQ:ErrTableNotFound"),
	)
	ErrSourceClosed = errors.Normalize(
		"source %s has been closed",
		errors.RFCCodeText("FEDQ:ErrSourceClosed"),
	)
	ErrUnsupportedSourceType = errors.Normalize(
		"unsupported source type %s",
		errors.RFCCodeText("FEDQ:ErrUnsupportedSourceType"),
	)

	// engine related errors
	ErrInvalidPlan = errors.Normalize(
		"invalid plan %s: %s",
		errors.RFCCodeText("FEDQ:ErrInvalidPlan"),
	)
)
