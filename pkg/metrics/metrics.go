/*
 * Copyright 2025 IoTMan Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes Prometheus counters for the telemetry and
// delivery paths. Every non-fatal rejection in the pipeline increments a
// counter here so overload and misbehaving devices are observable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reason labels for UpdatesRejected.
const (
	ReasonValidation   = "validation"
	ReasonSource       = "rejected_source"
	ReasonBackpressure = "backpressure"
	ReasonStale        = "stale_timestamp"
)

var (
	UpdatesAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iotman",
			Subsystem: "ingest",
			Name:      "updates_accepted_total",
			Help:      "Telemetry updates validated and applied to the registry.",
		},
	)

	UpdatesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotman",
			Subsystem: "ingest",
			Name:      "updates_rejected_total",
			Help:      "Telemetry updates dropped, by reason.",
		},
		[]string{"reason"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "iotman",
			Subsystem: "broker",
			Name:      "active_sessions",
			Help:      "Currently subscribed UI sessions.",
		},
	)

	PatchesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iotman",
			Subsystem: "sync",
			Name:      "patches_sent_total",
			Help:      "Incremental patches delivered to UI sessions.",
		},
	)

	ResnapshotsForced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iotman",
			Subsystem: "broker",
			Name:      "resnapshots_forced_total",
			Help:      "Session buffers that overflowed and collapsed into a full resnapshot.",
		},
	)

	DevicesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iotman",
			Subsystem: "registry",
			Name:      "devices",
			Help:      "Known devices by connectivity status.",
		},
		[]string{"status"},
	)
)

func init() {
	_ = prometheus.Register(UpdatesAccepted)
	_ = prometheus.Register(UpdatesRejected)
	_ = prometheus.Register(ActiveSessions)
	_ = prometheus.Register(PatchesSent)
	_ = prometheus.Register(ResnapshotsForced)
	_ = prometheus.Register(DevicesByStatus)
}
