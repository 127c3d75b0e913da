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

package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Number of atomic requests by terminal event.",
		}, []string{"source", "event"}) // event: submitted, failed, cancelled, warned

	activeRequestsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fedq",
			Subsystem: "dispatch",
			Name:      "active_requests",
			Help:      "Number of atomic requests that are not closed.",
		})

	fetchedRowsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "dispatch",
			Name:      "fetched_rows_total",
			Help:      "Number of rows fetched from sources.",
		}, []string{"source"})

	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedq",
			Subsystem: "dispatch",
			Name:      "fetch_duration",
			Help:      "Bucketed histogram of the time (s) a source takes to return one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20), // 0.1ms~52s
		}, []string{"source"})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(requestCounter)
	registry.MustRegister(activeRequestsGauge)
	registry.MustRegister(fetchedRowsCounter)
	registry.MustRegister(fetchDuration)
}
