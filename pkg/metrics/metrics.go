/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes Prometheus collectors for the scheduling
// loop: how many nextJob ticks committed, found nothing to do (empty)
// or stuck, how long a tick took per policy, and the pending/running
// queue depths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "stride_scheduler"
	subsystem = "scheduler"
)

var tickDurationBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
}

// Recorder holds the collectors recorded by one Scheduler's NextJob
// loop and registers them with a caller-supplied registry.
type Recorder struct {
	ticksTotal      *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	pendingGauge    prometheus.Gauge
	runningGauge    prometheus.Gauge

	collectors []prometheus.Collector
}

// NewRecorder builds and registers the scheduler's Prometheus
// collectors against registry.
func NewRecorder(registry prometheus.Registerer) *Recorder {
	r := &Recorder{}

	r.ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of nextJob ticks by policy and outcome (committed, stuck, empty).",
		},
		[]string{"policy", "outcome"},
	)

	r.tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock time spent in one nextJob tick.",
			Buckets:   tickDurationBuckets,
		},
		[]string{"policy"},
	)

	r.pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pending_jobs",
		Help:      "Number of jobs currently waiting for placement.",
	})

	r.runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "running_jobs",
		Help:      "Number of jobs currently holding cluster resources.",
	})

	r.collectors = []prometheus.Collector{r.ticksTotal, r.tickDuration, r.pendingGauge, r.runningGauge}
	for _, c := range r.collectors {
		registry.MustRegister(c)
	}
	return r
}

// Outcome labels recorded by RecordTick.
const (
	OutcomeCommitted = "committed"
	OutcomeStuck     = "stuck"
	OutcomeEmpty     = "empty"
)

// RecordTick records one nextJob invocation's policy, outcome and
// wall-clock duration in seconds.
func (r *Recorder) RecordTick(policy, outcome string, seconds float64) {
	r.ticksTotal.WithLabelValues(policy, outcome).Inc()
	r.tickDuration.WithLabelValues(policy).Observe(seconds)
}

// SetQueueDepths updates the pending/running job gauges.
func (r *Recorder) SetQueueDepths(pending, running int) {
	r.pendingGauge.Set(float64(pending))
	r.runningGauge.Set(float64(running))
}

// Unregister removes every collector from its registry.
func (r *Recorder) Unregister(registry prometheus.Registerer) {
	for _, c := range r.collectors {
		registry.Unregister(c)
	}
}
