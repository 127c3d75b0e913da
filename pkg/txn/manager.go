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

package txn

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/fedquery/engine/pkg/config"
	cerrors "github.com/fedquery/engine/pkg/errors"
)

// Manager keeps the transactions that have not ended.
type Manager struct {
	cfg  *config.TxnConfig
	opts []Option

	mu   sync.Mutex
	txns map[string]*Coordinator
}

// NewManager creates a Manager. The options are applied to every
// coordinator it creates.
func NewManager(cfg *config.TxnConfig, opts ...Option) *Manager {
	return &Manager{
		cfg:  cfg,
		opts: opts,
		txns: make(map[string]*Coordinator),
	}
}

// Begin creates and starts a transaction. The transaction is forgotten
// once it ends.
func (m *Manager) Begin(id string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[id]; ok {
		return nil, cerrors.ErrTxnAlreadyExists.GenWithStackByArgs(id)
	}
	c := NewCoordinator(id, m.cfg, m.opts...)
	c.onEnd = m.remove
	if err := c.Start(); err != nil {
		return nil, err
	}
	m.txns[id] = c
	activeTxns.Inc()
	return c, nil
}

// Get returns a transaction that has not ended.
func (m *Manager) Get(id string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.txns[id]
	return c, ok
}

// ActiveCount returns the number of transactions that have not ended.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txns)
}

// CancelAll cancels every transaction that has not ended.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	txns := make([]*Coordinator, 0, len(m.txns))
	for _, c := range m.txns {
		txns = append(txns, c)
	}
	m.mu.Unlock()

	if len(txns) > 0 {
		log.Info("cancelling active transactions", zap.Int("count", len(txns)))
	}
	for _, c := range txns {
		c.Cancel()
	}
}

func (m *Manager) remove(c *Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txns[c.id] == c {
		delete(m.txns, c.id)
		activeTxns.Dec()
	}
}
