// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package supervisor builds the suture supervision tree that keeps the
// long-running Resonance services alive.
//
// The tree has three layers with independent failure budgets:
//
//   - network: connectivity monitor and server health monitor
//   - media: library sync scheduler and playback controller
//   - api: websocket hub and localhost control server
//
// A crash in the media layer restarts sync and playback without taking
// down connectivity tracking, and vice versa.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervision parameters shared by every layer.
type TreeConfig struct {
	// FailureThreshold is the number of failures before a layer enters
	// backoff. Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is how long a layer waits once the threshold is
	// exceeded. Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown of each service.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig matches suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the Resonance supervision tree.
type Tree struct {
	root    *suture.Supervisor
	network *suture.Supervisor
	media   *suture.Supervisor
	api     *suture.Supervisor
	config  TreeConfig
}

// NewTree builds the tree. The logger feeds suture's lifecycle events
// through sutureslog; pass logging.NewSlogLogger() so they land in the
// global zerolog output.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("resonance", rootSpec)
	network := suture.New("network-layer", childSpec)
	media := suture.New("media-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(network)
	root.Add(media)
	root.Add(api)

	return &Tree{
		root:    root,
		network: network,
		media:   media,
		api:     api,
		config:  config,
	}
}

// AddNetworkService supervises a connectivity or health service.
func (t *Tree) AddNetworkService(name string, svc suture.Service) suture.ServiceToken {
	return t.network.Add(named{name: name, svc: svc})
}

// AddMediaService supervises a sync or playback service.
func (t *Tree) AddMediaService(name string, svc suture.Service) suture.ServiceToken {
	return t.media.Add(named{name: name, svc: svc})
}

// AddAPIService supervises the hub or the control server.
func (t *Tree) AddAPIService(name string, svc suture.Service) suture.ServiceToken {
	return t.api.Add(named{name: name, svc: svc})
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel delivers
// the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// named gives a service a stable name in suture's event log.
type named struct {
	name string
	svc  suture.Service
}

func (n named) Serve(ctx context.Context) error { return n.svc.Serve(ctx) }
func (n named) String() string                  { return n.name }

// ServiceFunc adapts a function to suture.Service. Used for services
// whose run loop is a method with a different name.
type ServiceFunc func(ctx context.Context) error

// Serve implements suture.Service.
func (f ServiceFunc) Serve(ctx context.Context) error { return f(ctx) }
