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

package workerpool

import "github.com/prometheus/client_golang/prometheus"

var (
	activeWorkersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "active_workers",
			Help:      "Number of workers running a task.",
		}, []string{"pool"})

	poolSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "pool_size",
			Help:      "Number of live workers, busy or idle.",
		}, []string{"pool"})

	queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker.",
		}, []string{"pool"})

	finishedTaskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "finished_tasks_total",
			Help:      "Number of finished tasks by result.",
		}, []string{"pool", "result"})

	skippedTickCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "skipped_ticks_total",
			Help:      "Number of periodic ticks dropped because the previous run was still in progress.",
		}, []string{"pool"})

	taskWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedq",
			Subsystem: "workerpool",
			Name:      "task_wait_duration",
			Help:      "Bucketed histogram of the time (s) a task waits before running.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20), // 0.1ms~52s
		}, []string{"pool"})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(activeWorkersGauge)
	registry.MustRegister(poolSizeGauge)
	registry.MustRegister(queueDepthGauge)
	registry.MustRegister(finishedTaskCounter)
	registry.MustRegister(skippedTickCounter)
	registry.MustRegister(taskWaitDuration)
}

type poolMetrics struct {
	activeWorkers prometheus.Gauge
	poolSize      prometheus.Gauge
	queueDepth    prometheus.Gauge
	succeeded     prometheus.Counter
	failed        prometheus.Counter
	skippedTicks  prometheus.Counter
	waitDuration  prometheus.Observer
}

func newPoolMetrics(name string) *poolMetrics {
	return &poolMetrics{
		activeWorkers: activeWorkersGauge.WithLabelValues(name),
		poolSize:      poolSizeGauge.WithLabelValues(name),
		queueDepth:    queueDepthGauge.WithLabelValues(name),
		succeeded:     finishedTaskCounter.WithLabelValues(name, "success"),
		failed:        finishedTaskCounter.WithLabelValues(name, "failure"),
		skippedTicks:  skippedTickCounter.WithLabelValues(name),
		waitDuration:  taskWaitDuration.WithLabelValues(name),
	}
}

func cleanupPoolMetrics(name string) {
	activeWorkersGauge.DeleteLabelValues(name)
	poolSizeGauge.DeleteLabelValues(name)
	queueDepthGauge.DeleteLabelValues(name)
	finishedTaskCounter.DeleteLabelValues(name, "success")
	finishedTaskCounter.DeleteLabelValues(name, "failure")
	skippedTickCounter.DeleteLabelValues(name)
	taskWaitDuration.DeleteLabelValues(name)
}
