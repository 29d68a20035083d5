/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conn

import (
	"errors"

	"github.com/Comcast/guisync/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors a Manager updates.
//
// A nil *Metrics is fine and does nothing.
type Metrics struct {
	State        prometheus.Gauge
	Connects     *prometheus.CounterVec
	DialFailures prometheus.Counter
	Received     *prometheus.CounterVec
	Sent         *prometheus.CounterVec
	Unknown      prometheus.Counter
	Malformed    prometheus.Counter
}

// NewMetrics makes Metrics and, if reg isn't nil, registers them.
//
// Collectors that reg already has are shared, so every Manager made
// with the same reg updates the same series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace, subsystem = "guisync", "conn"

	m := &Metrics{
		State: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connected, 2=reconnecting)",
			},
		),
		Connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connects_total",
				Help:      "Connections established",
			},
			[]string{"kind"},
		),
		DialFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dial_failures_total",
				Help:      "Failed dials",
			},
		),
		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "received_total",
				Help:      "In-bound envelopes by type",
			},
			[]string{"type"},
		),
		Sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sent_total",
				Help:      "Out-bound envelopes by type",
			},
			[]string{"type"},
		),
		Unknown: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unknown_total",
				Help:      "In-bound envelopes with unknown types",
			},
		),
		Malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "malformed_total",
				Help:      "In-bound messages that couldn't be parsed",
			},
		),
	}

	if reg != nil {
		m.State = register(reg, m.State)
		m.Connects = register(reg, m.Connects)
		m.DialFailures = register(reg, m.DialFailures)
		m.Received = register(reg, m.Received)
		m.Sent = register(reg, m.Sent)
		m.Unknown = register(reg, m.Unknown)
		m.Malformed = register(reg, m.Malformed)
	}

	return m
}

// register registers c or returns the equivalent collector reg already
// has.  Other registration errors panic, like MustRegister.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, is := are.ExistingCollector.(C); is {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.State.Set(float64(s))
}

func (m *Metrics) connected(reconnect bool) {
	if m == nil {
		return
	}
	kind := "first"
	if reconnect {
		kind = "reconnect"
	}
	m.Connects.WithLabelValues(kind).Inc()
}

func (m *Metrics) dialFailed() {
	if m == nil {
		return
	}
	m.DialFailures.Inc()
}

func (m *Metrics) received(t wire.Type) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) sent(t wire.Type) {
	if m == nil {
		return
	}
	m.Sent.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) unknown() {
	if m == nil {
		return
	}
	m.Unknown.Inc()
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.Malformed.Inc()
}
