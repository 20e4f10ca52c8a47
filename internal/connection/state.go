// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package connection owns the authoritative connection state: the
// server health monitor, the bounded reconnection sequencer, and the
// state machine every cache and playback decision consults. No other
// component infers connectivity on its own.
package connection

// State is the single authoritative connection state.
//
// Invariants: Disconnected implies the network class is Offline;
// Degraded implies the network is up but the server is unreachable.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MetricValue encodes the state for the connection state gauge.
// 0 = connecting, 1 = connected, 2 = reconnecting, 3 = disconnected,
// 4 = degraded.
func (s State) MetricValue() float64 {
	return float64(s)
}

// AllowsNetwork reports whether callers may attempt network use in
// this state. Cache layers pass this as their network-fallback flag.
func (s State) AllowsNetwork() bool {
	return s == StateConnected
}
