// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/netmon"
)

// engineHarness wires an Engine to fakes and records published events.
type engineHarness struct {
	engine *Engine
	health *HealthMonitor
	pinger *fakePinger
	bus    *events.Bus

	mu     sync.Mutex
	class  netmon.NetworkClass
	events []events.EventType
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	h := &engineHarness{
		pinger: &fakePinger{},
		bus:    events.NewBus(),
		class:  netmon.ClassWifi,
	}
	t.Cleanup(func() { h.bus.Close() }) //nolint:errcheck

	h.health = NewHealthMonitor(&config.HealthConfig{Interval: time.Hour}, h.pinger, func() bool {
		return h.Class() == netmon.ClassOffline
	})
	seq := NewSequencer(&config.ReconnectConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) bool {
		return h.health.ProbeOnce(ctx)
	})
	h.engine = NewEngine(h.bus, h.health, seq, h.Class)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.bus.SubscribeFunc(ctx, events.TopicConnectionEvent, func(payload []byte) {
		var ev events.ConnectionEvent
		if err := events.Decode(payload, &ev); err != nil {
			t.Errorf("decode event: %v", err)
			return
		}
		h.mu.Lock()
		h.events = append(h.events, ev.Event)
		h.mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	return h
}

func (h *engineHarness) Class() netmon.NetworkClass {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.class
}

func (h *engineHarness) setClass(class netmon.NetworkClass) {
	h.mu.Lock()
	h.class = class
	h.mu.Unlock()
	h.engine.HandleNetworkChange(class)
}

func (h *engineHarness) waitForState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for h.engine.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want %v", h.engine.State(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// waitForEventCount polls until the bus has delivered the expected
// number of events; delivery happens on a separate goroutine, so an
// immediate count can run ahead of it.
func (h *engineHarness) waitForEventCount(t *testing.T, event events.EventType, want int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for h.eventCount(event) != want {
		select {
		case <-deadline:
			t.Fatalf("%v events = %d, want %d", event, h.eventCount(event), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (h *engineHarness) eventCount(event events.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, e := range h.events {
		if e == event {
			count++
		}
	}
	return count
}

func TestEngineInitialConnect(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)

	h.waitForState(t, StateConnected)
}

func TestEngineStartsDisconnectedWhenOffline(t *testing.T) {
	h := newEngineHarness(t)
	h.setClassQuiet(netmon.ClassOffline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)

	h.waitForState(t, StateDisconnected)
}

// setClassQuiet changes the class without notifying the engine, for
// setting up preconditions.
func (h *engineHarness) setClassQuiet(class netmon.NetworkClass) {
	h.mu.Lock()
	h.class = class
	h.mu.Unlock()
}

func TestEngineOfflineForcesDisconnected(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	h.setClass(netmon.ClassOffline)
	h.waitForState(t, StateDisconnected)

	h.waitForEventCount(t, events.EventDisconnected, 1)
}

func TestEngineNeverConnectedWhileOffline(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	h.setClass(netmon.ClassOffline)
	h.waitForState(t, StateDisconnected)

	// A stale probe success must not flip the state back.
	h.health.ProbeOnce(context.Background())
	if got := h.engine.State(); got == StateConnected {
		t.Fatal("state = connected while network class is offline")
	}
}

func TestEngineReconnectsWhenNetworkReturns(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	h.setClass(netmon.ClassOffline)
	h.waitForState(t, StateDisconnected)

	h.setClass(netmon.ClassWifi)
	h.waitForState(t, StateConnected)

	if got := h.eventCount(events.EventReconnected); got != 1 {
		t.Errorf("Reconnected events = %d, want 1", got)
	}
}

func TestEngineDegradedAfterExhaustion(t *testing.T) {
	h := newEngineHarness(t)
	h.pinger.setFail(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)

	h.waitForState(t, StateDegraded)
}

func TestEngineServerUnreachableEmittedOnce(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	// Server goes away while the network stays up. Several consecutive
	// failed probes must produce exactly one ServerUnreachable.
	h.pinger.setFail(true)
	for i := 0; i < 3; i++ {
		h.health.ProbeOnce(context.Background())
	}
	h.waitForState(t, StateDegraded)

	// Give the bus a moment to deliver before counting.
	time.Sleep(100 * time.Millisecond)
	if got := h.eventCount(events.EventServerUnreachable); got != 1 {
		t.Errorf("ServerUnreachable events = %d, want 1", got)
	}
}

func TestEngineDegradedSelfHeals(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	h.pinger.setFail(true)
	h.health.ProbeOnce(context.Background())
	h.waitForState(t, StateDegraded)

	// The periodic probe keeps running in Degraded; its next success
	// restores the connection.
	h.pinger.setFail(false)
	h.health.ProbeOnce(context.Background())
	h.waitForState(t, StateConnected)

	time.Sleep(100 * time.Millisecond)
	if got := h.eventCount(events.EventServerRestored); got != 1 {
		t.Errorf("ServerRestored events = %d, want 1", got)
	}
}

func TestEngineOfflineMidSequenceWins(t *testing.T) {
	h := newEngineHarness(t)
	h.pinger.setFail(true)
	gate := make(chan struct{})
	h.pinger.gate = gate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)

	// Release the initial probe; its failure starts a sequencer burst
	// whose first attempt then blocks on the gate.
	gate <- struct{}{}
	h.waitForState(t, StateReconnecting)

	// The network drops while the burst is mid-flight.
	h.setClass(netmon.ClassOffline)
	h.waitForState(t, StateDisconnected)

	// Let the burst exhaust. Its outcome is stale and must not move
	// the machine to Degraded while the network class is offline.
	close(gate)
	time.Sleep(100 * time.Millisecond)
	if got := h.engine.State(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected after offline drop", got)
	}

	// The machine is not wedged: a network return still reconnects.
	h.pinger.setFail(false)
	h.setClass(netmon.ClassWifi)
	h.waitForState(t, StateConnected)
}

func TestEngineManualRetryWhileConnectedIsNoOp(t *testing.T) {
	h := newEngineHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateConnected)

	if err := h.engine.ManualRetry(); err != nil {
		t.Fatalf("ManualRetry: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := h.engine.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if got := h.eventCount(events.EventReconnected); got != 0 {
		t.Errorf("Reconnected events = %d, want 0 for a retry while connected", got)
	}
}

func TestEngineManualRetryWhileOffline(t *testing.T) {
	h := newEngineHarness(t)
	h.setClassQuiet(netmon.ClassOffline)

	if err := h.engine.ManualRetry(); !errors.Is(err, ErrOffline) {
		t.Errorf("ManualRetry err = %v, want ErrOffline", err)
	}
}

func TestEngineManualRetryFromDegraded(t *testing.T) {
	h := newEngineHarness(t)
	h.pinger.setFail(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Start(ctx)
	h.waitForState(t, StateDegraded)

	h.pinger.setFail(false)
	if err := h.engine.ManualRetry(); err != nil {
		t.Fatalf("ManualRetry: %v", err)
	}
	h.waitForState(t, StateConnected)
}
