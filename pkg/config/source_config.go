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

package config

import (
	"fmt"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

// Source types.
const (
	SourceTypeMemory  = "memory"
	SourceTypeMySQL   = "mysql"
	SourceTypeLevelDB = "leveldb"
)

// SourceConfig describes one federated source.
type SourceConfig struct {
	Name string `toml:"name" json:"name"`
	Type string `toml:"type" json:"type"`
	// DSN is the data source name of a mysql source.
	DSN string `toml:"dsn" json:"dsn"`
	// Path is the directory of a leveldb source.
	Path string `toml:"path" json:"path"`
	// Tables seeds a memory source.
	Tables []*TableConfig `toml:"tables" json:"tables"`
}

// TableConfig is a table of a memory source.
type TableConfig struct {
	Name    string          `toml:"name" json:"name"`
	Columns []string        `toml:"columns" json:"columns"`
	Rows    [][]interface{} `toml:"rows" json:"rows"`
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *SourceConfig) ValidateAndAdjust() error {
	if c.Name == "" {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("source name must not be empty")
	}
	if len(c.Tables) > 0 && c.Type != SourceTypeMemory {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("source %s: tables are only supported by type %s", c.Name, SourceTypeMemory))
	}
	switch c.Type {
	case SourceTypeMemory:
		for _, table := range c.Tables {
			if table.Name == "" {
				return cerrors.ErrInvalidConfig.GenWithStackByArgs(
					fmt.Sprintf("source %s: table name must not be empty", c.Name))
			}
			for _, row := range table.Rows {
				if len(row) != len(table.Columns) {
					return cerrors.ErrInvalidConfig.GenWithStackByArgs(
						fmt.Sprintf("source %s: row of table %s has %d values, expected %d",
							c.Name, table.Name, len(row), len(table.Columns)))
				}
			}
		}
	case SourceTypeMySQL:
		if c.DSN == "" {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs(
				fmt.Sprintf("source %s: dsn is required for type %s", c.Name, c.Type))
		}
	case SourceTypeLevelDB:
		if c.Path == "" {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs(
				fmt.Sprintf("source %s: path is required for type %s", c.Name, c.Type))
		}
	default:
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("source %s: unknown type %q", c.Name, c.Type))
	}
	return nil
}
