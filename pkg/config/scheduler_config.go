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
	"time"

	cerrors "github.com/fedquery/engine/pkg/errors"
)

const (
	// OverrunSkip drops a periodic tick that fires while the previous run
	// of the same task is still in progress.
	OverrunSkip = "skip"
	// OverrunCoalesce remembers missed ticks and runs the task once more
	// as soon as the in-progress run finishes.
	OverrunCoalesce = "coalesce"

	defaultPoolName   = "fedq-worker"
	defaultMaxWorkers = 64
	defaultKeepAlive  = 60 * time.Second
)

// SchedulerConfig configs the worker pool.
type SchedulerConfig struct {
	Name            string       `toml:"name" json:"name"`
	MaxWorkers      int          `toml:"max-workers" json:"max-workers"`
	KeepAlive       TomlDuration `toml:"keep-alive" json:"keep-alive"`
	PeriodicOverrun string       `toml:"periodic-overrun" json:"periodic-overrun"`
}

// NewDefaultSchedulerConfig returns the default worker pool config.
func NewDefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:            defaultPoolName,
		MaxWorkers:      defaultMaxWorkers,
		KeepAlive:       TomlDuration(defaultKeepAlive),
		PeriodicOverrun: OverrunSkip,
	}
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *SchedulerConfig) ValidateAndAdjust() error {
	if c.Name == "" {
		c.Name = defaultPoolName
	}
	if c.MaxWorkers <= 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("max-workers must be larger than 0")
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = TomlDuration(defaultKeepAlive)
	}
	switch c.PeriodicOverrun {
	case "":
		c.PeriodicOverrun = OverrunSkip
	case OverrunSkip, OverrunCoalesce:
	default:
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("periodic-overrun must be %q or %q, got %q", OverrunSkip, OverrunCoalesce, c.PeriodicOverrun))
	}
	return nil
}
