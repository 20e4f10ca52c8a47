// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package main is the entry point for the Resonance daemon.
//
// Resonance is the offline-resilience core of a music streaming
// client. It tracks OS connectivity and server health, reconnects
// with bounded linear backoff, keeps library listings and audio files
// cached locally, and recovers playback across network drops. A UI
// shell talks to it over the localhost control API and the websocket
// push channel.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file,
//     RESONANCE_* environment variables)
//  2. Badger store: library listings, audio cache index, sync cursors
//  3. Subsonic client wrapped in a circuit breaker
//  4. Event bus (Watermill go-channel pub/sub)
//  5. Connectivity monitor, health monitor, reconnection sequencer,
//     connection engine
//  6. Library content cache and sync scheduler
//  7. Audio file cache and playback controller
//  8. Websocket hub and control server
//  9. Supervision tree (suture) runs everything until SIGINT/SIGTERM
//
// # Playback Engine
//
// The daemon itself carries no audio backend. The host application
// embeds internal/player and supplies an Engine implementation; run
// standalone, playback operations return ErrNoEngine while every
// other subsystem works normally.
//
// # Example Usage
//
//	export RESONANCE_SERVER_URL=https://music.example.com
//	export RESONANCE_SERVER_USERNAME=listener
//	export RESONANCE_SERVER_PASSWORD=secret
//	./resonance
//
// # Port 4537
//
// The control API binds to 127.0.0.1:4537 by default and is never
// meant to leave the machine.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/resonance/internal/audiocache"
	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/connection"
	"github.com/tomtom215/resonance/internal/control"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/library"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/netmon"
	"github.com/tomtom215/resonance/internal/player"
	"github.com/tomtom215/resonance/internal/store"
	"github.com/tomtom215/resonance/internal/subsonic"
	"github.com/tomtom215/resonance/internal/supervisor"
	ws "github.com/tomtom215/resonance/internal/websocket"
)

// interfacePollInterval is how often the OS network interface set is
// re-read. Interface flaps faster than this are coalesced.
const interfacePollInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("server_url", cfg.Server.URL).
		Str("store_path", cfg.Store.Path).
		Str("audio_dir", cfg.AudioCache.Dir).
		Msg("Starting Resonance")

	st, err := openStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// The raw client never leaves this function; everything downstream
	// sees the circuit-breaker wrapper.
	client := subsonic.NewBreakerClient(subsonic.NewClient(&cfg.Server))

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connectivity and connection state machine.
	monitor := netmon.NewMonitor(&cfg.Connectivity, netmon.NewInterfaceWatcher(interfacePollInterval))
	health := connection.NewHealthMonitor(&cfg.Health, client, monitor.IsOffline)
	seq := connection.NewSequencer(&cfg.Reconnect, health.ProbeOnce)
	engine := connection.NewEngine(bus, health, seq, monitor.Class)

	// Library caching and sync.
	content := library.NewCache(st, client, cfg.Sync.QuickStaleness)
	scheduler := library.NewScheduler(st, client, bus, cfg.Sync, monitor.Class)

	// Network changes drive the connection engine and gate background
	// sync. The engine suspends and resumes the health monitor itself.
	monitor.OnChange(func(class netmon.NetworkClass) {
		engine.HandleNetworkChange(class)
		if class == netmon.ClassOffline {
			scheduler.Suspend()
		} else {
			scheduler.Resume()
		}
	})

	audio, err := audiocache.New(st, client, cfg.AudioCache, func() bool {
		return engine.State().AllowsNetwork()
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize audio cache")
	}

	// No audio backend in the standalone daemon; see the package doc.
	controller := player.NewController(nil, audio, client, bus, cfg.Playback, engine.State, monitor.Class)

	hub := ws.NewHub()

	ctrl := control.NewServer(cfg.Control,
		statusFunc(engine, monitor, health, controller, audio, hub),
		engine, scheduler, hub,
		content.Clear, audio.Clear)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddNetworkService("connectivity-monitor", monitor)
	tree.AddNetworkService("health-monitor", health)
	tree.AddMediaService("sync-scheduler", scheduler)
	tree.AddMediaService("playback-controller", supervisor.ServiceFunc(controller.Run))
	tree.AddAPIService("websocket-hub", hub)
	tree.AddAPIService("control-server", ctrl)

	if err := hub.BridgeBus(ctx, bus); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bridge event bus to websocket hub")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// Kick off the initial connection attempt once the supervised
	// services are starting.
	engine.Start(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Resonance stopped gracefully")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.InMemory {
		return store.OpenInMemory()
	}
	return store.Open(cfg.Store.Path)
}

// statusFunc composes the /api/status document from the live
// subsystems.
func statusFunc(engine *connection.Engine, monitor *netmon.Monitor, health *connection.HealthMonitor,
	controller *player.Controller, audio *audiocache.Cache, hub *ws.Hub) control.StatusFunc {
	return func() control.Status {
		stats, err := audio.Stats()
		if err != nil {
			logging.Debug().Err(err).Msg("audio cache stats unavailable")
		}
		return control.Status{
			ConnectionState:  engine.State().String(),
			NetworkClass:     monitor.Class().String(),
			ServerReachable:  health.Reachable(),
			PlaybackStatus:   controller.Status().String(),
			CanPlayOffline:   controller.CanPlayOffline(),
			AudioCacheFiles:  stats.Files,
			AudioCacheBytes:  stats.TotalBytes,
			WebsocketClients: hub.ClientCount(),
		}
	}
}
