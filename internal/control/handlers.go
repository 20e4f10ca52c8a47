// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package control

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/resonance/internal/connection"
	"github.com/tomtom215/resonance/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Err(err).Msg("encode control response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleRetry triggers a reconnection run. The run itself is
// asynchronous; 202 means the trigger was accepted, not that the
// server is back.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.retrier.ManualRetry(); err != nil {
		if errors.Is(err, connection.ErrOffline) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "network is offline"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry started"})
}

// handleSync runs a sync check in the background, detached from the
// request context so a closed connection cannot abort it. Staleness
// windows still apply; this does not force a refetch of fresh data.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	go s.syncer.AutoSync(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync check started"})
}

type clearCacheResponse struct {
	ContentRecords int `json:"content_records"`
	AudioFiles     int `json:"audio_files"`
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	contentCount, err := s.clearContent()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	audioCount, err := s.clearAudio()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	logging.Info().Int("content_records", contentCount).Int("audio_files", audioCount).Msg("caches cleared via control api")
	writeJSON(w, http.StatusOK, clearCacheResponse{
		ContentRecords: contentCount,
		AudioFiles:     audioCount,
	})
}
