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

import "github.com/prometheus/client_golang/prometheus"

var (
	completedTxns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "txn",
			Name:      "completed_total",
			Help:      "Number of ended transactions by outcome.",
		}, []string{"outcome"})

	participantFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "txn",
			Name:      "participant_failures_total",
			Help:      "Number of participant hooks that failed, by phase.",
		}, []string{"phase"})

	registeredSynchronizations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "txn",
			Name:      "synchronizations_total",
			Help:      "Number of participants registered with transactions.",
		})

	activeTxns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fedq",
			Subsystem: "txn",
			Name:      "active",
			Help:      "Number of transactions that have not ended.",
		})

	txnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fedq",
			Subsystem: "txn",
			Name:      "duration",
			Help:      "Bucketed histogram of transaction lifetime (s) from start to end.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20), // 1ms~524s
		})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(completedTxns)
	registry.MustRegister(participantFailures)
	registry.MustRegister(registeredSynchronizations)
	registry.MustRegister(activeTxns)
	registry.MustRegister(txnDuration)
}
