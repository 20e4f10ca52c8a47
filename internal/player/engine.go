// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package player wraps the platform playback engine with source
// selection and bounded error recovery. The engine itself is a black
// box with asynchronous, potentially erroring operations; this
// package owns it and nothing else touches it.
package player

import (
	"context"
	"time"
)

// Status is a playback engine state.
type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusBuffering
	StatusPaused
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusBuffering:
		return "buffering"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// EngineEvent is one update on the engine's state stream.
type EngineEvent struct {
	Status   Status
	Position time.Duration
	Err      error
}

// Engine is the playback engine surface the controller depends on.
// Implementations bridge to the platform audio stack; tests use a
// scriptable fake.
type Engine interface {
	// SetSource loads a local file path or a streaming URL.
	SetSource(ctx context.Context, source string) error

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error

	// Position returns the current playback position.
	Position() time.Duration

	// Events streams state changes until the engine is closed.
	Events() <-chan EngineEvent
}
