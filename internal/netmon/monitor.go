// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package netmon

import (
	"context"
	"net/http"
	"sync"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// TransportWatcher reports the active OS transports. Implementations
// emit the current set immediately on Watch and again on every change
// until the context is cancelled.
//
// Watch returning an error is non-fatal to the caller: the monitor
// falls back to an assume-online default rather than blocking startup,
// which matters in sandboxed runtimes with no system connectivity API.
type TransportWatcher interface {
	Watch(ctx context.Context) (<-chan []Transport, error)
}

// ChangeFunc receives the new NetworkClass after each change.
// Callbacks run on the monitor goroutine and must not block.
type ChangeFunc func(NetworkClass)

// Monitor tracks the current NetworkClass. On every transport change
// it classifies the transport set and, if the class is not Offline,
// verifies internet reachability with a bounded probe; a failed probe
// overrides the class to Offline.
type Monitor struct {
	watcher TransportWatcher
	probe   func(ctx context.Context) bool

	mu        sync.RWMutex
	class     NetworkClass
	callbacks []ChangeFunc
}

// NewMonitor creates a connectivity monitor. The initial class is
// Offline until the first transport report arrives.
func NewMonitor(cfg *config.ConnectivityConfig, watcher TransportWatcher) *Monitor {
	probeClient := &http.Client{Timeout: cfg.ProbeTimeout}
	probeURL := cfg.ProbeURL

	m := &Monitor{
		watcher: watcher,
		class:   ClassOffline,
	}
	m.probe = func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, http.NoBody)
		if err != nil {
			return false
		}
		resp, err := probeClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		// Any HTTP response proves the internet path works; the probe
		// endpoint's status code is irrelevant.
		return true
	}
	metrics.NetworkClass.Set(ClassOffline.MetricValue())
	return m
}

// Class returns the current NetworkClass.
func (m *Monitor) Class() NetworkClass {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.class
}

// IsOffline reports whether no usable connectivity exists.
func (m *Monitor) IsOffline() bool {
	return m.Class() == ClassOffline
}

// OnChange registers a callback invoked after every class change.
// Register before Serve starts; late registrations miss prior changes
// but see all subsequent ones.
func (m *Monitor) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Serve runs the monitor until ctx is cancelled. Implements
// suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	ch, err := m.watcher.Watch(ctx)
	if err != nil {
		// Assume online rather than blocking the whole client on a
		// missing connectivity API.
		logging.Warn().Err(err).Msg("transport watcher unavailable, assuming wifi connectivity")
		m.setClass(ClassWifi)
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case transports, ok := <-ch:
			if !ok {
				return nil
			}
			m.evaluate(ctx, transports)
		}
	}
}

// evaluate classifies the transport set and applies the reachability
// probe override.
func (m *Monitor) evaluate(ctx context.Context, transports []Transport) {
	class := Classify(transports)
	if class != ClassOffline && !m.probe(ctx) {
		logging.Debug().Str("class", class.String()).Msg("reachability probe failed, overriding class to offline")
		class = ClassOffline
	}
	m.setClass(class)
}

func (m *Monitor) setClass(class NetworkClass) {
	m.mu.Lock()
	if class == m.class {
		m.mu.Unlock()
		return
	}
	old := m.class
	m.class = class
	callbacks := make([]ChangeFunc, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	logging.Info().Str("from", old.String()).Str("to", class.String()).Msg("network class changed")
	metrics.NetworkClass.Set(class.MetricValue())

	for _, fn := range callbacks {
		fn(class)
	}
}
