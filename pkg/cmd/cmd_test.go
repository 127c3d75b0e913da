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

package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Parallel()

	cmd := NewCmd()
	AddFedqCommands(cmd)
	sub, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)
	require.Equal(t, "query", sub.Name())
	require.NotNil(t, sub.Flags().Lookup("transactional"))
	require.NotNil(t, sub.Flags().Lookup("fetch-size"))
}
