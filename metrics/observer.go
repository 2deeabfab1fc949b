/*
 * Copyright 2025 The shmring Authors
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

// Package metrics exposes ringbuf event observers as Prometheus metrics.
// It is an optional adapter; the engine never imports it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreipc/shmring/ringbuf"
)

// Observer counts ring buffer traffic. Install its EventFunc on a handle
// and register the Observer itself with a Prometheus registry. The counters
// are updated inline from the ring's event callback, so the callback rules
// apply: collection must not re-enter the observed handle.
type Observer struct {
	bytesWritten prometheus.Counter
	bytesRead    prometheus.Counter
	resets       prometheus.Counter
}

// NewObserver returns an Observer whose metrics carry the given ring name
// as a constant label.
func NewObserver(ring string) *Observer {
	labels := prometheus.Labels{"ring": ring}
	return &Observer{
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shmring_bytes_written_total",
			Help:        "Bytes committed to the ring by write and advance operations.",
			ConstLabels: labels,
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shmring_bytes_read_total",
			Help:        "Bytes consumed from the ring by read and skip operations.",
			ConstLabels: labels,
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shmring_resets_total",
			Help:        "Number of times the ring was reset.",
			ConstLabels: labels,
		}),
	}
}

// EventFunc returns the callback to install with SetEventFunc or
// WithEventFunc.
func (o *Observer) EventFunc() ringbuf.EventFunc {
	return func(_ *ringbuf.Buf, evt ringbuf.Event, n int) {
		switch evt {
		case ringbuf.EventWrite:
			o.bytesWritten.Add(float64(n))
		case ringbuf.EventRead:
			o.bytesRead.Add(float64(n))
		case ringbuf.EventReset:
			o.resets.Inc()
		}
	}
}

// Describe implements prometheus.Collector.
func (o *Observer) Describe(ch chan<- *prometheus.Desc) {
	o.bytesWritten.Describe(ch)
	o.bytesRead.Describe(ch)
	o.resets.Describe(ch)
}

// Collect implements prometheus.Collector.
func (o *Observer) Collect(ch chan<- prometheus.Metric) {
	o.bytesWritten.Collect(ch)
	o.bytesRead.Collect(ch)
	o.resets.Collect(ch)
}
