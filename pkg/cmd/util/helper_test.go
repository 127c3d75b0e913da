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

package util

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

func TestParseNode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input   string
		source  string
		command string
		valid   bool
	}{
		{input: "orders=select * from orders", source: "orders", command: "select * from orders", valid: true},
		{input: " kv =user/", source: "kv", command: "user/", valid: true},
		{input: "kv=a=b", source: "kv", command: "a=b", valid: true},
		{input: "kv=", source: "kv", command: "", valid: true},
		{input: "orders", valid: false},
		{input: "=select 1", valid: false},
	}
	for _, tc := range testCases {
		source, command, err := ParseNode(tc.input)
		if !tc.valid {
			require.True(t, cerrors.ErrorIs(err, cerrors.ErrInvalidArgument), tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.source, source, tc.input)
		require.Equal(t, tc.command, command, tc.input)
	}
}

func TestJSONPrint(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	var b bytes.Buffer
	cmd.SetOut(&b)
	require.NoError(t, JSONPrint(cmd, map[string]int{"rows": 3}))
	require.Equal(t, "{\n  \"rows\": 3\n}\n", b.String())
}

func TestSignalContext(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()
	cancel()
	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
