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

package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/source/kvsource"
	"github.com/fedquery/engine/pkg/source/memsource"
	"github.com/fedquery/engine/pkg/source/sqlsource"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	set, err := Build([]*config.SourceConfig{
		{Name: "static", Type: config.SourceTypeMemory},
		{Name: "profiles", Type: config.SourceTypeLevelDB, Path: filepath.Join(t.TempDir(), "kv")},
		{Name: "orders", Type: config.SourceTypeMySQL, DSN: "root@tcp(127.0.0.1:3306)/orders"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"orders", "profiles", "static"}, set.Registry.Names())

	src, err := set.Registry.Get("static")
	require.NoError(t, err)
	require.IsType(t, &memsource.Source{}, src)
	src, err = set.Registry.Get("profiles")
	require.NoError(t, err)
	require.IsType(t, &kvsource.Source{}, src)
	src, err = set.Registry.Get("orders")
	require.NoError(t, err)
	require.IsType(t, &sqlsource.Source{}, src)

	require.NoError(t, set.Close())
	require.NoError(t, set.Close())
}

func TestBuildFailureClosesOpened(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "kv")
	_, err := Build([]*config.SourceConfig{
		{Name: "profiles", Type: config.SourceTypeLevelDB, Path: dir},
		{Name: "cache", Type: "redis"},
	})
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrUnsupportedSourceType))

	// The leveldb lock was released, the directory can be opened again.
	s, err := kvsource.Open("profiles", dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Build([]*config.SourceConfig{
		{Name: "a", Type: config.SourceTypeMemory},
		{Name: "a", Type: config.SourceTypeMemory},
	})
	require.True(t, cerrors.ErrorIs(err, cerrors.ErrSourceAlreadyExists))
}
