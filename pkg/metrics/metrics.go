// Rover Link
// Copyright (c) 2026 The Rover Link Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Rover Link.
//
// Rover Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rover Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Rover Link.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus instruments for the serial bridge and
// the client API. All methods are safe on a nil *Metrics so components can
// run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roverlink"

type Metrics struct {
	linesReceived *prometheus.CounterVec
	portOpens     prometheus.Counter
	portFailures  prometheus.Counter
	portOpen      prometheus.Gauge
	bytesWritten  prometheus.Counter
	writeErrors   prometheus.Counter
	eventsDropped prometheus.Counter
	clients       prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_lines_received_total",
			Help:      "Lines read from the serial port, by classification.",
		}, []string{"kind"}),
		portOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_port_opens_total",
			Help:      "Successful serial port opens.",
		}),
		portFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_port_failures_total",
			Help:      "Failed opens and I/O faults on the serial port.",
		}),
		portOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serial_port_open",
			Help:      "1 while the serial port is open.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_bytes_written_total",
			Help:      "Bytes written to the serial port.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_write_errors_total",
			Help:      "Writes rejected or failed.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_dropped_total",
			Help:      "Events dropped because the broadcast queue was full.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.linesReceived,
		m.portOpens,
		m.portFailures,
		m.portOpen,
		m.bytesWritten,
		m.writeErrors,
		m.eventsDropped,
		m.clients,
	)

	return m
}

func (m *Metrics) LineReceived(kind string) {
	if m == nil {
		return
	}
	m.linesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) PortOpened() {
	if m == nil {
		return
	}
	m.portOpens.Inc()
	m.portOpen.Set(1)
}

func (m *Metrics) PortClosed() {
	if m == nil {
		return
	}
	m.portOpen.Set(0)
}

func (m *Metrics) PortFailed() {
	if m == nil {
		return
	}
	m.portFailures.Inc()
}

func (m *Metrics) Written(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clients.Dec()
}
