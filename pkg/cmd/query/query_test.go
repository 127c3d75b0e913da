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

package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

const testConfig = `
[scheduler]
name = "cli-test"
max-workers = 2

[dispatcher]
fetch-size = 2

[[sources]]
name = "static"
type = "memory"

[[sources.tables]]
name = "regions"
columns = ["integer", "string"]
rows = [[1, "emea"], [2, "apac"], [3, "amer"]]

[[sources.tables]]
name = "tiers"
columns = ["string"]
rows = [["gold"]]

[[sources]]
name = "profiles"
type = "leveldb"
path = "%s"
`

func writeConfig(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "fedq.toml")
	content := fmt.Sprintf(testConfig, filepath.Join(dir, "profiles"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runQuery(t *testing.T, args ...string) (*output, error) {
	cmd := NewCmdQuery()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "warn"))
	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	res := &output{}
	require.NoError(t, json.Unmarshal(out.Bytes(), res))
	return res, nil
}

func TestQueryCommand(t *testing.T) {
	path := writeConfig(t)
	res, err := runQuery(t,
		"--config", path,
		"--node", "static=regions",
		"--node", "static=tiers",
		"--request-id", "q-1",
		"--transactional")
	require.NoError(t, err)
	require.Equal(t, "q-1", res.RequestID)
	require.Equal(t, "committed", res.Outcome)
	require.Len(t, res.Nodes, 2)
	require.Equal(t, 1, res.Nodes[0].NodeID)
	require.Equal(t, []string{"integer", "string"}, res.Nodes[0].Columns)
	require.Len(t, res.Nodes[0].Rows, 3)
	require.Equal(t, "apac", res.Nodes[0].Rows[1][1])
	require.Equal(t, [][]interface{}{{"gold"}}, res.Nodes[1].Rows)
}

func TestQueryCommandFlags(t *testing.T) {
	path := writeConfig(t)
	res, err := runQuery(t,
		"--config", path,
		"--node", "profiles=user/",
		"--fetch-size", "1",
		"--status-addr", "127.0.0.1:0",
		"--stats-interval", "1ms")
	require.NoError(t, err)
	require.NotEmpty(t, res.RequestID)
	require.Empty(t, res.Outcome)
	require.Len(t, res.Nodes, 1)
	require.Empty(t, res.Nodes[0].Rows)

	_, err = runQuery(t, "--config", path, "--node", "static=missing")
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrTableNotFound))

	_, err = runQuery(t, "--config", path, "--node", "nowhere")
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrInvalidArgument))

	_, err = runQuery(t, "--config", path, "--node", "static=regions", "--fetch-size", "-3")
	require.Error(t, err)
}
