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
	"io"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/config"
	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/logutil"
	"github.com/fedquery/engine/pkg/source/kvsource"
	"github.com/fedquery/engine/pkg/source/memsource"
	"github.com/fedquery/engine/pkg/source/sqlsource"
)

// Set is the sources built from a config.
type Set struct {
	Registry *dispatch.SourceRegistry
	closers  []io.Closer
}

// Build creates and registers every configured source. Sources opened
// before a failure are closed.
func Build(cfgs []*config.SourceConfig) (*Set, error) {
	set := &Set{Registry: dispatch.NewSourceRegistry()}
	for _, cfg := range cfgs {
		src, closer, err := build(cfg)
		if err == nil {
			err = set.Registry.Register(cfg.Name, src)
			if err != nil && closer != nil {
				err = multierr.Append(err, closer.Close())
			}
		}
		if err != nil {
			return nil, multierr.Append(err, set.Close())
		}
		if closer != nil {
			set.closers = append(set.closers, closer)
		}
		log.Info("source registered",
			zap.String("name", cfg.Name),
			zap.String("type", cfg.Type),
			zap.String("dsn", logutil.HideSensitive(cfg.DSN)),
			zap.String("path", cfg.Path))
	}
	return set, nil
}

func build(cfg *config.SourceConfig) (dispatch.Source, io.Closer, error) {
	switch cfg.Type {
	case config.SourceTypeMemory:
		return memsource.NewFromConfig(cfg), nil, nil
	case config.SourceTypeMySQL:
		s, err := sqlsource.Open(cfg.Name, cfg.DSN)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return s, s, nil
	case config.SourceTypeLevelDB:
		s, err := kvsource.Open(cfg.Name, cfg.Path)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return s, s, nil
	default:
		return nil, nil, cerrors.ErrUnsupportedSourceType.GenWithStackByArgs(cfg.Type)
	}
}

// Close closes every source that holds resources.
func (s *Set) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}
	s.closers = nil
	return err
}
