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

// DefaultFetchSize is the number of rows pulled from a source per batch
// when a request does not ask for a specific fetch size.
const DefaultFetchSize = 512

// DispatcherConfig configs the atomic request dispatcher.
type DispatcherConfig struct {
	FetchSize int `toml:"fetch-size" json:"fetch-size"`
	// NextTimeout bounds how long a consumer waits for a batch, 0 means
	// waiting until the caller's context is done.
	NextTimeout TomlDuration `toml:"next-timeout" json:"next-timeout"`
	// Prefetch starts fetching the next batch as soon as one is handed out.
	Prefetch bool `toml:"prefetch" json:"prefetch"`
	// OpenRetries is the number of attempts to open an execution when the
	// source reports a transient failure.
	OpenRetries int `toml:"open-retries" json:"open-retries"`
}

// NewDefaultDispatcherConfig returns the default dispatcher config.
func NewDefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		FetchSize:   DefaultFetchSize,
		OpenRetries: 1,
	}
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *DispatcherConfig) ValidateAndAdjust() error {
	if c.FetchSize == 0 {
		c.FetchSize = DefaultFetchSize
	}
	if c.FetchSize < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("fetch-size must be larger than 0")
	}
	if c.NextTimeout < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("next-timeout must not be negative")
	}
	if c.OpenRetries <= 0 {
		c.OpenRetries = 1
	}
	return nil
}
