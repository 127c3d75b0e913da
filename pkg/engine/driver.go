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

package engine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedquery/engine/pkg/dispatch"
	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/txn"
)

// Driver runs plans: one atomic request per access node, all of them
// drained concurrently.
type Driver struct {
	dispatcher *dispatch.Dispatcher
	txns       *txn.Manager
}

// NewDriver creates a Driver.
func NewDriver(dispatcher *dispatch.Dispatcher, txns *txn.Manager) *Driver {
	return &Driver{dispatcher: dispatcher, txns: txns}
}

// Execute runs the plan and collects the rows of every node. On a hard
// failure of any node the other requests are cancelled and, for a
// transactional plan, the transaction is rolled back.
func (d *Driver) Execute(ctx context.Context, plan *Plan, opts ExecuteOptions) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.RequestID == "" {
		plan.RequestID = uuid.NewString()
	}
	if plan.SessionID == "" {
		plan.SessionID = uuid.NewString()
	}

	start := time.Now()
	res, err := d.execute(ctx, plan, opts)
	result := "succeeded"
	if err != nil {
		result = "failed"
		if cerrors.ErrorIs(err, cerrors.ErrTxnRollbackOnly) || cerrors.ErrorIs(err, cerrors.ErrTxnTimeout) {
			result = "rolled-back"
		}
	}
	planCounter.WithLabelValues(result).Inc()
	planDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("plan failed",
			zap.String("requestID", plan.RequestID),
			zap.Int("nodes", len(plan.Nodes)),
			zap.Bool("transactional", opts.Transactional),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	log.Info("plan executed",
		zap.String("requestID", plan.RequestID),
		zap.Int("nodes", len(plan.Nodes)),
		zap.Int("rows", res.RowCount()),
		zap.Int("warnings", len(res.Warnings())),
		zap.Bool("transactional", opts.Transactional),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (d *Driver) execute(ctx context.Context, plan *Plan, opts ExecuteOptions) (*Result, error) {
	var coordinator *txn.Coordinator
	if opts.Transactional {
		var err error
		coordinator, err = d.txns.Begin(plan.RequestID)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	res := &Result{RequestID: plan.RequestID, Nodes: make([]*NodeResult, 0, len(plan.Nodes))}
	handles, err := d.submit(ctx, plan, opts, coordinator)
	if err == nil {
		eg, egCtx := errgroup.WithContext(ctx)
		for i, h := range handles {
			node := &NodeResult{
				NodeID:     plan.Nodes[i].NodeID,
				SourceName: plan.Nodes[i].SourceName,
			}
			res.Nodes = append(res.Nodes, node)
			h := h
			eg.Go(func() error {
				return d.drain(egCtx, h, node)
			})
		}
		err = eg.Wait()
	}
	if err != nil {
		for _, h := range handles {
			d.dispatcher.Cancel(h)
		}
	}
	if closeErr := d.closeAll(handles); closeErr != nil {
		log.Warn("close requests failed",
			zap.String("requestID", plan.RequestID),
			zap.Error(closeErr))
	}

	if coordinator == nil {
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if err != nil {
		coordinator.Cancel()
		return nil, err
	}
	completion, err := coordinator.End(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if completion.Outcome != txn.OutcomeCommitted {
		cause := completion.Cause
		if cause == nil {
			cause = cerrors.ErrTxnRollbackOnly.GenWithStackByArgs(coordinator.ID())
		}
		return nil, errors.Annotatef(cause, "transaction %s rolled back", coordinator.ID())
	}
	res.Completion = completion
	return res, nil
}

// submit creates the requests of all nodes. If one is rejected the ones
// already submitted are cancelled and closed.
func (d *Driver) submit(
	ctx context.Context, plan *Plan, opts ExecuteOptions, coordinator *txn.Coordinator,
) ([]*dispatch.Handle, error) {
	handles := make([]*dispatch.Handle, 0, len(plan.Nodes))
	for _, node := range plan.Nodes {
		req := &dispatch.AtomicRequestMessage{
			ID:                     d.dispatcher.NewRequestID(plan.RequestID, node.NodeID),
			SourceName:             node.SourceName,
			Command:                node.Command,
			FetchSize:              opts.FetchSize,
			Txn:                    coordinator,
			SupportsPartialResults: opts.PartialResults,
			SessionID:              plan.SessionID,
		}
		h, err := d.dispatcher.Submit(ctx, req)
		if err != nil {
			for _, submitted := range handles {
				d.dispatcher.Cancel(submitted)
			}
			if closeErr := d.closeAll(handles); closeErr != nil {
				log.Warn("close requests failed",
					zap.String("requestID", plan.RequestID),
					zap.Error(closeErr))
			}
			return nil, errors.Trace(err)
		}
		log.Debug("access node submitted",
			zap.String("requestID", plan.RequestID),
			zap.Int("nodeID", node.NodeID),
			zap.String("source", node.SourceName),
			zap.Int64("estimatedCardinality", node.EstimatedCardinality))
		handles = append(handles, h)
	}
	return handles, nil
}

func (d *Driver) drain(ctx context.Context, h *dispatch.Handle, node *NodeResult) error {
	for {
		batch, err := d.dispatcher.Next(ctx, h)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if node.Columns == nil {
			node.Columns = batch.DataTypes
		}
		node.Rows = append(node.Rows, batch.Rows...)
		node.Batches++
		node.Warnings = append(node.Warnings, batch.Warnings...)
	}
}

func (d *Driver) closeAll(handles []*dispatch.Handle) error {
	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, d.dispatcher.Close(h))
	}
	return errs
}
