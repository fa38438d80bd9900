// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the prometheus collectors the engine registers for a
// pair's sync sessions: transfer counts, dedup/compression savings, relay
// traffic, and phase durations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of collectors a Session Engine updates as it runs.
// All fields are safe for concurrent use (prometheus collectors always are).
type Metrics struct {
	ChunksSent     prometheus.Counter
	ChunksReceived prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter

	BytesSavedDedup       prometheus.Counter
	BytesSavedCompression prometheus.Counter

	ConflictsDetected prometheus.Counter
	ConflictsResolved *prometheus.CounterVec // label: strategy

	SessionDuration prometheus.Histogram
	PhaseDuration   *prometheus.HistogramVec // label: phase

	RelayPushes    prometheus.Counter
	RelayPulls     prometheus.Counter
	RelayRateLimit prometheus.Counter

	ActiveTransfers prometheus.Gauge
}

// New creates the collector set and registers it with reg. A nil reg is
// treated as prometheus.NewRegistry(), so callers in tests can discard the
// result.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto(reg)

	m := &Metrics{
		ChunksSent:     factory.counter("bdp_chunks_sent_total", "Chunks streamed to peers."),
		ChunksReceived: factory.counter("bdp_chunks_received_total", "Chunks accepted from peers."),
		BytesSent:      factory.counter("bdp_bytes_sent_total", "Raw bytes written to the message channel."),
		BytesReceived:  factory.counter("bdp_bytes_received_total", "Raw bytes read from the message channel."),

		BytesSavedDedup:       factory.counter("bdp_bytes_saved_dedup_total", "Bytes not retransmitted because the receiver already had the chunk."),
		BytesSavedCompression: factory.counter("bdp_bytes_saved_compression_total", "Bytes saved by the codec's compression gate."),

		ConflictsDetected: factory.counter("bdp_conflicts_detected_total", "Concurrent vector clocks seen by the sync planner."),
		ConflictsResolved: factory.counterVec("bdp_conflicts_resolved_total", "Conflicts resolved, by strategy.", []string{"strategy"}),

		SessionDuration: factory.histogram("bdp_session_duration_seconds", "Wall time from greeting to idle/error.", prometheus.DefBuckets),
		PhaseDuration:    factory.histogramVec("bdp_phase_duration_seconds", "Wall time spent in each session phase.", prometheus.DefBuckets, []string{"phase"}),

		RelayPushes:    factory.counter("bdp_relay_pushes_total", "Envelopes pushed to the relay."),
		RelayPulls:     factory.counter("bdp_relay_pulls_total", "Pull requests made to the relay."),
		RelayRateLimit: factory.counter("bdp_relay_rate_limited_total", "Pushes rejected with RateLimited."),

		ActiveTransfers: factory.gauge("bdp_active_transfers", "Number of in-flight chunked file transfers."),
	}
	return m
}

// promauto wraps prometheus.Registerer with small constructors so New reads
// as a flat list of collectors instead of a wall of error handling; any
// registration error (e.g. duplicate name within a test process) panics,
// matching the behavior of client_golang's own promauto package.
type factory struct {
	reg prometheus.Registerer
}

func promautoFn(reg prometheus.Registerer) factory { return factory{reg: reg} }

// promauto is a package-level alias so New reads naturally; kept as a
// function (not a var) so each call gets its own bound registerer.
func promauto(reg prometheus.Registerer) factory { return promautoFn(reg) }

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}

func (f factory) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	f.reg.MustRegister(h)
	return h
}

func (f factory) histogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	f.reg.MustRegister(h)
	return h
}
