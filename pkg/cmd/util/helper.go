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
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/logutil"
)

// InitCmd initializes the logger.
func InitCmd(cmd *cobra.Command, logCfg *logutil.Config) error {
	if err := logutil.InitLogger(logCfg); err != nil {
		cmd.PrintErrf("init logger error %v\n", errors.ErrorStack(err))
		return errors.Trace(err)
	}
	log.Info("init log", zap.String("file", logCfg.File), zap.String("level", logCfg.Level))
	return nil
}

// SignalContext returns a context that is cancelled on the first
// termination signal. The returned stop function releases the signal
// handler.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
}

// ParseNode parses an access node flag in the form source=command.
func ParseNode(s string) (source, command string, err error) {
	source, command, ok := strings.Cut(s, "=")
	source = strings.TrimSpace(source)
	if !ok || source == "" {
		return "", "", cerrors.ErrInvalidArgument.GenWithStackByArgs(
			"node must be in the form source=command, got " + s)
	}
	return source, command, nil
}

// JSONPrint will output the data in JSON format.
func JSONPrint(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	cmd.Printf("%s\n", data)
	return nil
}

// CheckErr prints the error and exits.
func CheckErr(err error) {
	if err != nil && cerrors.IsContextCanceledErr(err) {
		log.Info("interrupted", zap.Error(err))
		os.Exit(130)
	}
	cobra.CheckErr(err)
}
