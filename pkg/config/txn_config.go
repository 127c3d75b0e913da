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
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// TxnConfig configs the transaction coordinator.
type TxnConfig struct {
	// Timeout rolls back a transaction that has not ended in time,
	// 0 disables the timeout.
	Timeout TomlDuration `toml:"timeout" json:"timeout"`
}

// NewDefaultTxnConfig returns the default transaction config.
func NewDefaultTxnConfig() *TxnConfig {
	return &TxnConfig{}
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *TxnConfig) ValidateAndAdjust() error {
	if c.Timeout < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("transaction timeout must not be negative")
	}
	return nil
}
