// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package events is the in-process publish/subscribe bus the core uses
// to notify observers. It replaces ad hoc UI bindings with explicit
// topics; consumers subscribe and own their own lifecycle.
//
// Topics carry JSON-encoded payloads. Publishers never block on slow
// consumers and never learn who is listening.
package events

import (
	"time"
)

// Topics published by the core.
const (
	// TopicConnectionState carries StateChange payloads on every
	// connection state machine transition.
	TopicConnectionState = "connection.state"

	// TopicConnectionEvent carries ConnectionEvent payloads. Events are
	// edge-triggered: one per transition, not one per probe.
	TopicConnectionEvent = "connection.event"

	// TopicLibraryChanged carries LibraryChange payloads after a sync
	// that discovered new or changed items.
	TopicLibraryChanged = "library.changed"

	// TopicPlaybackState carries PlaybackState payloads (throttled for
	// position updates).
	TopicPlaybackState = "playback.state"
)

// EventType identifies a one-shot connection notification.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventReconnected       EventType = "reconnected"
	EventServerUnreachable EventType = "server_unreachable"
	EventServerRestored    EventType = "server_restored"
)

// ConnectionEvent is the payload on TopicConnectionEvent.
type ConnectionEvent struct {
	Event EventType `json:"event"`
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// StateChange is the payload on TopicConnectionState.
type StateChange struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	NetworkClass string    `json:"network_class"`
	At           time.Time `json:"at"`
}

// LibraryChange is the payload on TopicLibraryChanged. NewItems lets
// dependent UI refresh incrementally instead of reloading everything.
type LibraryChange struct {
	Class    string    `json:"class"`
	NewItems int       `json:"new_items"`
	At       time.Time `json:"at"`
}

// PlaybackState is the payload on TopicPlaybackState.
type PlaybackState struct {
	State          string    `json:"state"`
	SongID         string    `json:"song_id,omitempty"`
	PositionMs     int64     `json:"position_ms"`
	CanPlayOffline bool      `json:"can_play_offline"`
	At             time.Time `json:"at"`
}
