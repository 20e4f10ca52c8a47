// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package metrics provides Prometheus instrumentation for:
//   - Connection state machine transitions and health probes
//   - Reconnection sequencer attempts
//   - Content and audio cache efficiency
//   - Library sync runs
//   - Playback recovery attempts
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics

	// ConnectionState reports the current aggregate connection state as a
	// numeric value: 0=connecting 1=connected 2=reconnecting 3=disconnected 4=degraded.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_connection_state",
			Help: "Current connection state (0=connecting 1=connected 2=reconnecting 3=disconnected 4=degraded)",
		},
	)

	ConnectionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_connection_transitions_total",
			Help: "Total connection state transitions",
		},
		[]string{"from", "to"},
	)

	NetworkClass = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_network_class",
			Help: "Current network classification (0=offline 1=mobile 2=wifi)",
		},
	)

	HealthProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_health_probes_total",
			Help: "Total server health probes by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_reconnect_attempts_total",
			Help: "Total reconnection sequencer probe attempts",
		},
	)

	ReconnectRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_reconnect_runs_total",
			Help: "Total reconnection sequencer runs by outcome",
		},
		[]string{"outcome"}, // "connected", "exhausted", "aborted"
	)

	// Cache metrics

	ContentCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_content_cache_hits_total",
			Help: "Content cache reads served from the local store",
		},
		[]string{"kind"},
	)

	ContentCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_content_cache_misses_total",
			Help: "Content cache reads that required a network fetch",
		},
		[]string{"kind"},
	)

	AudioCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_audio_cache_hits_total",
			Help: "Audio cache lookups that returned a validated file",
		},
	)

	AudioCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_audio_cache_misses_total",
			Help: "Audio cache lookups with no usable cached file",
		},
	)

	AudioCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_audio_cache_evictions_total",
			Help: "Audio cache entries evicted on validation failure",
		},
		[]string{"reason"}, // "missing", "truncated"
	)

	AudioCacheDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_audio_cache_downloads_total",
			Help: "Audio file downloads by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	// Sync metrics

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_sync_runs_total",
			Help: "Library sync runs by class and result",
		},
		[]string{"class", "result"}, // class: "quick"/"full"; result: "success"/"failure"/"skipped"
	)

	SyncNewItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_sync_new_items_total",
			Help: "Total new library items discovered by sync",
		},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resonance_sync_duration_seconds",
			Help:    "Duration of library sync runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	// Playback metrics

	PlaybackRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_playback_recoveries_total",
			Help: "Playback recovery attempts by outcome",
		},
		[]string{"outcome"}, // "recovered", "exhausted", "cannot_play"
	)

	PlaybackSources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_playback_sources_total",
			Help: "Playback source selections by type",
		},
		[]string{"source"}, // "cache", "stream"
	)

	// Circuit breaker metrics

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resonance_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_circuit_breaker_requests_total",
			Help: "Circuit breaker requests by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)
