// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package connection

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// Pinger is the liveness surface the health monitor needs from the
// API client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransitionFunc receives edge-triggered reachability changes. It is
// called once per reachable flip, never once per probe.
type TransitionFunc func(reachable bool)

// HealthMonitor periodically probes server liveness while the network
// is up. It keeps polling in the degraded state as well; that
// continued polling is the self-healing path back to connected.
type HealthMonitor struct {
	client   Pinger
	interval time.Duration
	offline  func() bool

	mu           sync.Mutex
	reachable    bool
	suspended    bool
	onTransition TransitionFunc

	suspendCh chan struct{}
	resumeCh  chan struct{}
}

// NewHealthMonitor creates a health monitor. The offline predicate
// comes from the connectivity monitor; while it reports true the
// monitor stays idle instead of burning probes on a dead radio.
func NewHealthMonitor(cfg *config.HealthConfig, client Pinger, offline func() bool) *HealthMonitor {
	return &HealthMonitor{
		client:    client,
		interval:  cfg.Interval,
		offline:   offline,
		suspendCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
	}
}

// OnTransition registers the reachability-change callback. Register
// before Serve starts.
func (h *HealthMonitor) OnTransition(fn TransitionFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTransition = fn
}

// Reachable returns the last probe verdict.
func (h *HealthMonitor) Reachable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reachable
}

// Suspend stops the probe timer without losing the last-known state.
// Idempotent.
func (h *HealthMonitor) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.suspended {
		return
	}
	h.suspended = true
	select {
	case h.suspendCh <- struct{}{}:
	default:
	}
}

// Resume restarts the probe timer. Idempotent.
func (h *HealthMonitor) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.suspended {
		return
	}
	h.suspended = false
	select {
	case h.resumeCh <- struct{}{}:
	default:
	}
}

func (h *HealthMonitor) isSuspended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspended
}

// Serve runs the periodic probe loop until ctx is cancelled. The
// ticker is stopped and recreated across suspend/resume so a resumed
// monitor never runs duplicate timers. Implements suture.Service.
func (h *HealthMonitor) Serve(ctx context.Context) error {
	for {
		if h.isSuspended() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-h.resumeCh:
			}
			continue
		}

		ticker := time.NewTicker(h.interval)
	probing:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return ctx.Err()
			case <-h.suspendCh:
				ticker.Stop()
				break probing
			case <-ticker.C:
				if h.offline() {
					continue // Idle while the radio is down
				}
				h.ProbeOnce(ctx)
			}
		}
	}
}

// ProbeOnce performs one synchronous liveness probe, updates the
// reachable flag, and fires the transition callback on an edge. The
// reconnection sequencer calls this directly for its attempts. A
// panicking client counts as a failed probe, not a crash.
func (h *HealthMonitor) ProbeOnce(ctx context.Context) bool {
	reachable := h.probe(ctx)

	if reachable {
		metrics.HealthProbes.WithLabelValues("success").Inc()
	} else {
		metrics.HealthProbes.WithLabelValues("failure").Inc()
	}

	h.mu.Lock()
	changed := reachable != h.reachable
	h.reachable = reachable
	fn := h.onTransition
	h.mu.Unlock()

	if changed {
		logging.Info().Bool("reachable", reachable).Msg("server reachability changed")
		if fn != nil {
			fn(reachable)
		}
	}
	return reachable
}

func (h *HealthMonitor) probe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("liveness probe panicked")
			ok = false
		}
	}()
	if h.client == nil {
		// Contract error: probe without an API handle. Skip, never crash.
		logging.Warn().Msg("liveness probe skipped, no API client configured")
		return false
	}
	return h.client.Ping(ctx) == nil
}
