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
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	var (
		rfcErr = ErrSourceExecution
		err    = errors.New("connection refused")
	)
	require.Nil(t, WrapError(rfcErr, nil, "req", "mysql"))

	wrapped := WrapError(rfcErr, err, "req", "mysql")
	require.Regexp(t, "execution of request req against source mysql failed", wrapped.Error())
	require.True(t, ErrorIs(wrapped, ErrSourceExecution))
	require.False(t, ErrorIs(wrapped, ErrSourceUnavailable))
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{errors.New("test"), false},
		{ErrSourceTransient.GenWithStackByArgs("mysql"), true},
		{WrapError(ErrSourceTransient, errors.New("bad conn"), "mysql"), true},
		{ErrResultsTimeout.GenWithStackByArgs("req"), true},
		{ErrExecutorRejected.GenWithStackByArgs("pool"), false},
		{errors.Trace(context.Canceled), false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, IsRetryableError(tc.err), "%v", tc.err)
	}
}

func TestIsContextCanceledErr(t *testing.T) {
	t.Parallel()

	require.True(t, IsContextCanceledErr(context.Canceled))
	require.True(t, IsContextCanceledErr(errors.Trace(context.DeadlineExceeded)))
	require.False(t, IsContextCanceledErr(errors.New("other")))
	require.False(t, IsContextCanceledErr(nil))
}
