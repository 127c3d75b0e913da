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
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/cmd/util"
	"github.com/fedquery/engine/pkg/config"
	"github.com/fedquery/engine/pkg/dispatch"
	"github.com/fedquery/engine/pkg/engine"
	"github.com/fedquery/engine/pkg/logutil"
	"github.com/fedquery/engine/pkg/source"
	"github.com/fedquery/engine/pkg/txn"
	"github.com/fedquery/engine/pkg/workerpool"
)

const shutdownTimeout = 10 * time.Second

// options defines flags for the `query` command.
type options struct {
	configFile    string
	nodes         []string
	requestID     string
	transactional bool
	partial       bool
	fetchSize     int
	statusAddr    string
	logLevel      string
	statsInterval time.Duration
}

// newOptions creates new options for the `query` command.
func newOptions() *options {
	return &options{}
}

// addFlags binds the flags of the `query` command.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configFile, "config", "", "Path of the configuration file")
	cmd.Flags().StringArrayVar(&o.nodes, "node", nil,
		"Access node in the form source=command, repeat for more nodes")
	cmd.Flags().StringVar(&o.requestID, "request-id", "", "Request id of the query, generated if empty")
	cmd.Flags().BoolVar(&o.transactional, "transactional", false, "Run all nodes in one transaction")
	cmd.Flags().BoolVar(&o.partial, "partial", false, "Return partial results when a source fails mid-stream")
	cmd.Flags().IntVar(&o.fetchSize, "fetch-size", 0, "Rows per batch, overrides dispatcher.fetch-size")
	cmd.Flags().StringVar(&o.statusAddr, "status-addr", "", "Serve prometheus metrics on this address")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "log level (etc: debug|info|warn|error)")
	cmd.Flags().DurationVar(&o.statsInterval, "stats-interval", 0, "Log worker pool stats at this interval, 0 disables")
	_ = cmd.MarkFlagRequired("node")
}

func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg = config.GetDefaultConfig()
		err = cfg.ValidateAndAdjust()
	}
	if err != nil {
		return nil, err
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "fetch-size":
			cfg.Dispatcher.FetchSize = o.fetchSize
		case "status-addr":
			cfg.StatusAddr = o.statusAddr
		case "log-level":
			cfg.Log.Level = o.logLevel
		}
	})
	if err := cfg.Dispatcher.ValidateAndAdjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) plan() (*engine.Plan, error) {
	plan := &engine.Plan{RequestID: o.requestID}
	for i, node := range o.nodes {
		sourceName, command, err := util.ParseNode(node)
		if err != nil {
			return nil, err
		}
		plan.Nodes = append(plan.Nodes, engine.AccessNode{
			NodeID:     i + 1,
			SourceName: sourceName,
			Command:    command,
		})
	}
	return plan, nil
}

// nodeOutput is the printed form of one access node.
type nodeOutput struct {
	NodeID   int             `json:"node-id"`
	Source   string          `json:"source"`
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	Warnings []string        `json:"warnings,omitempty"`
}

type output struct {
	RequestID string        `json:"request-id"`
	Outcome   string        `json:"outcome,omitempty"`
	Nodes     []*nodeOutput `json:"nodes"`
}

func newOutput(res *engine.Result) *output {
	out := &output{RequestID: res.RequestID}
	if res.Completion != nil {
		out.Outcome = res.Completion.Outcome.String()
	}
	for _, node := range res.Nodes {
		n := &nodeOutput{
			NodeID:  node.NodeID,
			Source:  node.SourceName,
			Columns: node.Columns,
			Rows:    node.Rows,
		}
		for _, w := range node.Warnings {
			n.Warnings = append(n.Warnings, w.Error())
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out
}

func (o *options) run(cmd *cobra.Command) error {
	plan, err := o.plan()
	if err != nil {
		return err
	}
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return errors.Trace(err)
	}
	if err := util.InitCmd(cmd, cfg.Log); err != nil {
		return err
	}
	log.Info("load config", zap.String("config", logutil.HideSensitive(cfg.String())))
	ctx, stop := util.SignalContext(cmd.Context())
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	workerpool.InitMetrics(registry)
	dispatch.InitMetrics(registry)
	txn.InitMetrics(registry)
	engine.InitMetrics(registry)
	if cfg.StatusAddr != "" {
		srv, err := serveStatus(cfg.StatusAddr, registry)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("shutdown status server failed", zap.Error(err))
			}
		}()
	}

	sources, err := source.Build(cfg.Sources)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := sources.Close(); err != nil {
			log.Warn("close sources failed", zap.Error(err))
		}
	}()

	pool, err := workerpool.NewPool(cfg.Scheduler)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		pool.Shutdown()
		if !pool.AwaitTermination(shutdownTimeout) {
			log.Warn("worker pool did not terminate in time, interrupting tasks",
				zap.Int("dropped", pool.ShutdownNow()))
		}
	}()
	if o.statsInterval > 0 {
		reporter, err := pool.ScheduleAtFixedRate(func(context.Context) error {
			stats := pool.Stats()
			log.Info("worker pool stats",
				zap.String("pool", pool.Name()),
				zap.Int64("active", stats.ActiveCount),
				zap.Int64("highestActive", stats.HighestActiveCount),
				zap.Int64("poolSize", stats.PoolSize),
				zap.Int64("completed", stats.CompletedCount),
				zap.Int64("failed", stats.FailedCount),
				zap.Int64("queueDepth", stats.QueueDepth))
			return nil
		}, o.statsInterval, o.statsInterval, workerpool.WithName("stats-reporter"),
			workerpool.WithPriority(workerpool.PriorityLow))
		if err != nil {
			return errors.Trace(err)
		}
		defer reporter.Cancel(false)
	}

	txns := txn.NewManager(cfg.Transaction)
	defer txns.CancelAll()
	dispatcher := dispatch.NewDispatcher(cfg.Dispatcher, pool, sources.Registry)
	driver := engine.NewDriver(dispatcher, txns)

	res, err := driver.Execute(ctx, plan, engine.ExecuteOptions{
		Transactional:  o.transactional,
		PartialResults: o.partial,
		FetchSize:      cfg.Dispatcher.FetchSize,
	})
	if err != nil {
		return err
	}
	return util.JSONPrint(cmd, newOutput(res))
}

func serveStatus(addr string, registry *prometheus.Registry) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("status server exited", zap.Error(err))
		}
	}()
	log.Info("status server started", zap.String("addr", lis.Addr().String()))
	return srv, nil
}

// NewCmdQuery creates the `query` command.
func NewCmdQuery() *cobra.Command {
	o := newOptions()
	command := &cobra.Command{
		Use:   "query",
		Short: "Run a federated query plan and print its rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}
