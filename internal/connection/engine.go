// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/netmon"
)

// ErrOffline is returned for a manual retry while no network exists.
var ErrOffline = errors.New("connection: network is offline")

// Engine is the connection state machine. It reacts to connectivity
// changes from the network monitor and reachability edges from the
// health monitor, and is the only mutator of the connection state.
type Engine struct {
	bus     *events.Bus
	health  *HealthMonitor
	seq     *Sequencer
	classFn func() netmon.NetworkClass

	mu    sync.Mutex
	state State

	runCtx context.Context
}

// NewEngine wires the state machine to its collaborators. classFn
// reads the current network class from the connectivity monitor.
func NewEngine(bus *events.Bus, health *HealthMonitor, seq *Sequencer, classFn func() netmon.NetworkClass) *Engine {
	e := &Engine{
		bus:     bus,
		health:  health,
		seq:     seq,
		classFn: classFn,
		state:   StateConnecting,
		runCtx:  context.Background(),
	}
	health.OnTransition(e.handleHealthTransition)
	metrics.ConnectionState.Set(StateConnecting.MetricValue())
	return e
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins the initial connection attempt. ctx bounds all
// background reconnection runs for the engine's lifetime.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()
	go e.initialConnect(ctx)
}

func (e *Engine) initialConnect(ctx context.Context) {
	if e.classFn() == netmon.ClassOffline {
		e.health.Suspend()
		e.setState(StateDisconnected, events.EventDisconnected)
		return
	}
	if e.health.ProbeOnce(ctx) {
		e.setState(StateConnected, events.EventConnected)
		return
	}
	e.reconnect(ctx)
}

// HandleNetworkChange is registered with the connectivity monitor and
// receives every network class change in delivery order.
func (e *Engine) HandleNetworkChange(class netmon.NetworkClass) {
	e.mu.Lock()
	state := e.state
	ctx := e.runCtx
	e.mu.Unlock()

	if class == netmon.ClassOffline {
		if state == StateDisconnected {
			return
		}
		e.health.Suspend()
		e.setState(StateDisconnected, events.EventDisconnected)
		return
	}

	// Network came up. Only Disconnected (or the initial Connecting
	// state, if the first report raced ahead of Start) begins a
	// reconnection; Connected and Degraded just changed transport.
	if state == StateDisconnected || state == StateConnecting {
		go e.reconnect(ctx)
	}
}

// ManualRetry triggers a reconnection run on user request. Returns
// ErrOffline when no network exists. A retry while already Connected
// is a no-op, and an already-running sequence absorbs the trigger
// without duplicating attempts.
func (e *Engine) ManualRetry() error {
	if e.classFn() == netmon.ClassOffline {
		return ErrOffline
	}
	e.mu.Lock()
	state := e.state
	ctx := e.runCtx
	e.mu.Unlock()

	if state == StateConnected {
		logging.Debug().Msg("manual retry ignored while connected")
		return nil
	}

	logging.Info().Msg("manual reconnection retry requested")
	go e.reconnect(ctx)
	return nil
}

// reconnect runs one sequencer burst and applies its outcome. The
// sequencer's in-flight guard makes overlapping calls harmless. The
// outcome counts only while the state is still Reconnecting: a
// connectivity drop mid-burst already moved the machine to
// Disconnected, and the stale outcome must not override it.
func (e *Engine) reconnect(ctx context.Context) {
	e.setState(StateReconnecting, "")

	outcome := e.seq.Run(ctx)

	e.mu.Lock()
	interrupted := e.state != StateReconnecting
	e.mu.Unlock()
	if interrupted {
		return
	}

	switch outcome {
	case OutcomeConnected:
		e.setState(StateConnected, events.EventReconnected)
		e.health.Resume()
	case OutcomeExhausted:
		// Degraded, not Disconnected: the network is up, the server is
		// not. No further automatic sequencer runs; the health monitor
		// keeps polling and will restore the connection if the server
		// comes back.
		e.setState(StateDegraded, "")
		e.health.Resume()
	case OutcomeAborted, OutcomeSkipped:
	}
}

// handleHealthTransition receives edge-triggered reachability changes
// from the periodic health monitor.
func (e *Engine) handleHealthTransition(reachable bool) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch {
	case !reachable && state == StateConnected:
		e.setState(StateDegraded, events.EventServerUnreachable)
	case reachable && state == StateDegraded:
		e.setState(StateConnected, events.EventServerRestored)
	}
}

// setState applies a transition, updates metrics, and publishes the
// state change plus the optional one-shot event. Self-transitions are
// dropped so events stay edge-triggered.
func (e *Engine) setState(to State, event events.EventType) {
	class := e.classFn()
	if class == netmon.ClassOffline && to != StateDisconnected {
		// Disconnected is the only state valid while offline. Probe
		// successes and sequencer outcomes that raced a connectivity
		// drop lose to the drop.
		return
	}

	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	logging.Info().Str("from", from.String()).Str("to", to.String()).Str("network_class", class.String()).Msg("connection state changed")
	metrics.ConnectionState.Set(to.MetricValue())
	metrics.ConnectionTransitions.WithLabelValues(from.String(), to.String()).Inc()

	now := time.Now().UTC()
	if err := e.bus.Publish(events.TopicConnectionState, events.StateChange{
		From:         from.String(),
		To:           to.String(),
		NetworkClass: class.String(),
		At:           now,
	}); err != nil {
		logging.Err(err).Msg("publish connection state change")
	}

	if event == "" {
		return
	}
	if err := e.bus.Publish(events.TopicConnectionEvent, events.ConnectionEvent{
		Event: event,
		State: to.String(),
		At:    now,
	}); err != nil {
		logging.Err(err).Msg("publish connection event")
	}
}
