/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import "github.com/prometheus/client_golang/prometheus"

// metricsSet bundles the prometheus collectors a ServiceHandler
// publishes. packetd-packetd wires every protocol parser and pipeline
// stage through prometheus.client_golang; this core does the same for
// the handful of counters/gauges spec.md's concurrency model makes
// externally observable: active connections, request heads decoded,
// timer expirations by kind, and aggregated readiness (spec.md §5 "Shared resources", §8
// testable properties around timeouts).
type metricsSet struct {
	activeConnections prometheus.Gauge
	requestsTotal      prometheus.Counter
	timerExpirations   *prometheus.CounterVec
	readinessNotReady  prometheus.Gauge
}

// newMetricsSet registers the collectors against reg. A nil reg
// registers them on a private registry that nothing scrapes; the
// collectors still count, but their values are not exported.
func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metricsSet{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "active_connections",
			Help:      "Number of connections currently owned by a Dispatcher.",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "requests_total",
			Help:      "Number of request heads fully decoded.",
		}),
		timerExpirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "timer_expirations_total",
			Help:      "Number of timer expirations by kind (request, keepalive, disconnect).",
		}, []string{"timer"}),
		readinessNotReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "readiness_not_ready",
			Help:      "1 when the aggregated service readiness last reported not-ready, 0 otherwise.",
		}),
	}
	reg.MustRegister(m.activeConnections, m.requestsTotal, m.timerExpirations, m.readinessNotReady)
	return m
}
