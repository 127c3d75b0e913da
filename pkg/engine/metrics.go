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

import "github.com/prometheus/client_golang/prometheus"

var (
	planCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "engine",
			Name:      "plans_total",
			Help:      "Number of executed plans by result.",
		}, []string{"result"}) // result: succeeded, failed, rolled-back

	planDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fedq",
			Subsystem: "engine",
			Name:      "plan_duration",
			Help:      "Bucketed histogram of the time (s) taken to execute a plan.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18), // 1ms~131s
		})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(planCounter)
	registry.MustRegister(planDuration)
}
