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
	"fmt"

	cerrors "github.com/fedquery/engine/pkg/errors"
	"github.com/fedquery/engine/pkg/txn"
)

// AccessNode is a leaf of a plan that reads from one source.
type AccessNode struct {
	NodeID     int
	SourceName string
	Command    string
	// EstimatedCardinality is the planner's row estimate, 0 if unknown.
	EstimatedCardinality int64
}

// Plan is the set of access nodes of one user query.
type Plan struct {
	RequestID string
	SessionID string
	Nodes     []AccessNode
}

// Validate checks that the plan has nodes with distinct ids.
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return cerrors.ErrInvalidPlan.GenWithStackByArgs(p.RequestID, "no access nodes")
	}
	seen := make(map[int]struct{}, len(p.Nodes))
	for _, node := range p.Nodes {
		if node.SourceName == "" {
			return cerrors.ErrInvalidPlan.GenWithStackByArgs(p.RequestID,
				fmt.Sprintf("node %d has no source", node.NodeID))
		}
		if _, ok := seen[node.NodeID]; ok {
			return cerrors.ErrInvalidPlan.GenWithStackByArgs(p.RequestID,
				fmt.Sprintf("duplicate node id %d", node.NodeID))
		}
		seen[node.NodeID] = struct{}{}
	}
	return nil
}

// ExecuteOptions controls how a plan runs.
type ExecuteOptions struct {
	// Transactional runs every node in one transaction that commits only
	// if all of them succeed.
	Transactional bool
	// PartialResults turns mid-stream source failures into warnings.
	PartialResults bool
	// FetchSize is the batch size of every node, 0 for the default.
	FetchSize int
}

// NodeResult holds the rows of one access node in source order.
type NodeResult struct {
	NodeID     int
	SourceName string
	Columns    []string
	Rows       [][]interface{}
	Batches    int
	Warnings   []error
}

// Result is the outcome of a plan.
type Result struct {
	RequestID string
	Nodes     []*NodeResult
	// Completion is set for transactional plans.
	Completion *txn.Completion
}

// RowCount returns the number of rows of all nodes.
func (r *Result) RowCount() int {
	n := 0
	for _, node := range r.Nodes {
		n += len(node.Rows)
	}
	return n
}

// Warnings returns the warnings of all nodes.
func (r *Result) Warnings() []error {
	var warnings []error
	for _, node := range r.Nodes {
		warnings = append(warnings, node.Warnings...)
	}
	return warnings
}
