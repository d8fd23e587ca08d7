// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. The engine updates
// them unconditionally; exposing them over HTTP is the embedding layer's
// choice via MustRegister.
type Metrics struct {
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	collectorIterations *prometheus.CounterVec
	artifactPulls       *prometheus.CounterVec
	sshRetries          prometheus.Counter
	activeRuns          prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldrun",
			Name:      "commands_total",
			Help:      "Commands executed, by run location and outcome.",
		}, []string{"location", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldrun",
			Name:      "command_duration_seconds",
			Help:      "Command execution wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"location"}),
		collectorIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldrun",
			Name:      "collector_iterations_total",
			Help:      "Collector iterations, by outcome.",
		}, []string{"status"}),
		artifactPulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldrun",
			Name:      "artifact_pulls_total",
			Help:      "Artifact pulls, by outcome.",
		}, []string{"status"}),
		sshRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldrun",
			Name:      "ssh_retries_total",
			Help:      "SSH connect retry attempts.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldrun",
			Name:      "active_runs",
			Help:      "Runs currently registered as active.",
		}),
	}
}

// MustRegister registers the engine's collectors with the given registerer.
func (e *Engine) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		e.metrics.commandsTotal,
		e.metrics.commandDuration,
		e.metrics.collectorIterations,
		e.metrics.artifactPulls,
		e.metrics.sshRetries,
		e.metrics.activeRuns,
	)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
