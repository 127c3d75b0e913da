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
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TomlDuration is a duration that is decoded from and encoded to a toml
// string such as "1m30s".
type TomlDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *TomlDuration) UnmarshalText(text []byte) error {
	stdDuration, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d TomlDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the configuration of a federated query runtime.
type Config struct {
	Log         *logutil.Config   `toml:"log" json:"log"`
	StatusAddr  string            `toml:"status-addr" json:"status-addr"`
	Scheduler   *SchedulerConfig  `toml:"scheduler" json:"scheduler"`
	Dispatcher  *DispatcherConfig `toml:"dispatcher" json:"dispatcher"`
	Transaction *TxnConfig        `toml:"transaction" json:"transaction"`
	Sources     []*SourceConfig   `toml:"sources" json:"sources"`
}

// GetDefaultConfig returns a default config.
func GetDefaultConfig() *Config {
	return &Config{
		Log: &logutil.Config{
			Level: "info",
		},
		Scheduler:   NewDefaultSchedulerConfig(),
		Dispatcher:  NewDefaultDispatcherConfig(),
		Transaction: NewDefaultTxnConfig(),
	}
}

// ValidateAndAdjust verifies and adjusts every section of the config.
func (c *Config) ValidateAndAdjust() error {
	if c.Log == nil {
		c.Log = &logutil.Config{}
	}
	c.Log.Adjust()

	if c.Scheduler == nil {
		c.Scheduler = NewDefaultSchedulerConfig()
	}
	if err := c.Scheduler.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if c.Dispatcher == nil {
		c.Dispatcher = NewDefaultDispatcherConfig()
	}
	if err := c.Dispatcher.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if c.Transaction == nil {
		c.Transaction = NewDefaultTxnConfig()
	}
	if err := c.Transaction.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}

	names := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if err := src.ValidateAndAdjust(); err != nil {
			return errors.Trace(err)
		}
		if _, ok := names[src.Name]; ok {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("duplicate source name " + src.Name)
		}
		names[src.Name] = struct{}{}
	}
	return nil
}

// String implements fmt.Stringer.
func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.Error("marshal config to json", zap.Reflect("config", c), logutil.ShortError(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}

// LoadFile decodes a toml file strictly on top of the default config and
// validates the result. Any item that is not mapped into Config is an error.
func LoadFile(path string) (*Config, error) {
	cfg := GetDefaultConfig()
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrDecodeConfigFile, err)
	}
	if err := checkUndecodedItems(metaData); err != nil {
		return nil, err
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadString is like LoadFile but reads the toml content from data.
func LoadString(data string) (*Config, error) {
	cfg := GetDefaultConfig()
	metaData, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrDecodeConfigFile, err)
	}
	if err := checkUndecodedItems(metaData); err != nil {
		return nil, err
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return cerrors.ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
