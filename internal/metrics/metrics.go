// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// Package metrics exposes Prometheus counters and gauges for object
// storage, remote transfer, and collection activity. Each Metrics value
// owns its own registry; there is no package-level singleton.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the collector set a Repository updates as it runs.
type Metrics struct {
	registry *prometheus.Registry

	ObjectsStored   prometheus.Counter
	ObjectsDeleted  prometheus.Counter
	BytesPushed     prometheus.Counter
	BytesPulled     prometheus.Counter
	PushFailures    prometheus.Counter
	GCBytesFreed    prometheus.Counter
	GCRuns          prometheus.Counter
	OperationsInFlight prometheus.Gauge
}

// New builds a Metrics value with all collectors registered to a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ObjectsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "objects_stored_total",
			Help: "Objects written to the object store.",
		}),
		ObjectsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "objects_deleted_total",
			Help: "Objects removed by rm or garbage collection.",
		}),
		BytesPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "bytes_pushed_total",
			Help: "Payload bytes sent to remotes.",
		}),
		BytesPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "bytes_pulled_total",
			Help: "Payload bytes received from remotes.",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "push_failures_total",
			Help: "Push calls that returned an error.",
		}),
		GCBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "gc_bytes_freed_total",
			Help: "Bytes reclaimed by garbage collection.",
		}),
		GCRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embeddingbridge", Name: "gc_runs_total",
			Help: "Completed garbage collection runs.",
		}),
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "embeddingbridge", Name: "operations_in_flight",
			Help: "Push/pull calls currently in progress.",
		}),
	}

	reg.MustRegister(
		m.ObjectsStored, m.ObjectsDeleted, m.BytesPushed, m.BytesPulled,
		m.PushFailures, m.GCBytesFreed, m.GCRuns, m.OperationsInFlight,
	)
	return m
}

// Handler serves the registry's collectors in the Prometheus exposition
// format, for a caller to mount at "/metrics".
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
