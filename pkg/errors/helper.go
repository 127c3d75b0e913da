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
	"context"

	"github.com/pingcap/errors"
)

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// ErrorIs reports whether any error in the chain of err carries the same
// RFC code as target. Unlike (*errors.Error).Equal it also matches errors
// produced by WrapError, whose root cause is the wrapped error.
func ErrorIs(err error, target *errors.Error) bool {
	for err != nil {
		if rfcErr, ok := err.(*errors.Error); ok && rfcErr.RFCCode() == target.RFCCode() {
			return true
		}
		err = next(err)
	}
	return false
}

// IsContextCanceledErr checks if the error is caused by a cancelled or
// expired context.
func IsContextCanceledErr(err error) bool {
	for err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return true
		}
		err = next(err)
	}
	return false
}

// retryableErrors lists errors that a caller may retry after a backoff.
var retryableErrors = []*errors.Error{
	ErrSourceTransient,
	ErrResultsTimeout,
}

// IsRetryableError checks whether the error is safe to retry.
func IsRetryableError(err error) bool {
	if err == nil || IsContextCanceledErr(err) {
		return false
	}
	for _, e := range retryableErrors {
		if ErrorIs(err, e) {
			return true
		}
	}
	return false
}

func next(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Cause() error }:
		return e.Cause()
	default:
		return nil
	}
}
