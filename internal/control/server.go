// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package control exposes the localhost control API: status for the
// UI shell, the manual retry and sync affordances, cache management,
// Prometheus metrics, and the websocket push endpoint.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/websocket"
)

// Retrier is the manual-retry surface of the connection engine.
type Retrier interface {
	ManualRetry() error
}

// Syncer triggers an immediate library sync check.
type Syncer interface {
	AutoSync(ctx context.Context)
}

// StatusFunc returns the current status document.
type StatusFunc func() Status

// ClearFunc clears a cache and reports how many entries were dropped.
type ClearFunc func() (int, error)

// Status is the /api/status response.
type Status struct {
	ConnectionState string `json:"connection_state"`
	NetworkClass    string `json:"network_class"`
	ServerReachable bool   `json:"server_reachable"`
	PlaybackStatus  string `json:"playback_status"`
	CanPlayOffline  bool   `json:"can_play_offline"`

	AudioCacheFiles int   `json:"audio_cache_files"`
	AudioCacheBytes int64 `json:"audio_cache_bytes"`

	WebsocketClients int `json:"websocket_clients"`
}

// Server is the localhost control server.
type Server struct {
	cfg     config.ControlConfig
	status  StatusFunc
	retrier Retrier
	syncer  Syncer
	hub     *websocket.Hub

	clearContent ClearFunc
	clearAudio   ClearFunc
}

// NewServer assembles the control server.
func NewServer(cfg config.ControlConfig, status StatusFunc, retrier Retrier, syncer Syncer, hub *websocket.Hub, clearContent, clearAudio ClearFunc) *Server {
	return &Server{
		cfg:          cfg,
		status:       status,
		retrier:      retrier,
		syncer:       syncer,
		hub:          hub,
		clearContent: clearContent,
		clearAudio:   clearAudio,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		// Manual retry is rate limited so a stuck UI cannot hammer the
		// reconnection sequencer.
		r.With(httprate.LimitByIP(s.cfg.RetryRateLimit, time.Minute)).
			Post("/retry", s.handleRetry)

		r.Post("/sync", s.handleSync)
		r.Delete("/cache", s.handleClearCache)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", websocket.ServeWS(s.hub))

	return r
}

// Serve runs the HTTP server until ctx is cancelled. Implements
// suture.Service. The listener binds to the configured loopback host
// only; the control API is not meant to leave the machine.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("control server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("control server shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
