// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package connection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// Outcome is the result of a reconnection run.
type Outcome int

const (
	// OutcomeConnected means a probe succeeded before the budget ran out.
	OutcomeConnected Outcome = iota
	// OutcomeExhausted means every attempt failed; the caller should
	// enter the degraded state and stop automatic retries.
	OutcomeExhausted
	// OutcomeAborted means the context was cancelled mid-run.
	OutcomeAborted
	// OutcomeSkipped means another run was already in flight.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAborted:
		return "aborted"
	default:
		return "skipped"
	}
}

// Sequencer runs a bounded burst of reconnection attempts with linear
// backoff: the delay before attempt n is BaseDelay multiplied by n,
// so the defaults give 2s, 4s, 6s, 8s, 10s. The backoff is linear by
// intent, preserving long-observed client behavior; it is not a buggy
// exponential.
type Sequencer struct {
	prober      func(ctx context.Context) bool
	maxAttempts int
	baseDelay   time.Duration

	inFlight atomic.Bool
}

// NewSequencer creates a sequencer driving the given probe function,
// normally HealthMonitor.ProbeOnce.
func NewSequencer(cfg *config.ReconnectConfig, prober func(ctx context.Context) bool) *Sequencer {
	return &Sequencer{
		prober:      prober,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// Run executes one reconnection sequence. At most one run is in
// flight at a time; concurrent triggers return OutcomeSkipped without
// duplicating attempts.
func (s *Sequencer) Run(ctx context.Context) Outcome {
	if !s.inFlight.CompareAndSwap(false, true) {
		logging.Debug().Msg("reconnection already in flight, skipping trigger")
		return OutcomeSkipped
	}
	defer s.inFlight.Store(false)

	outcome := s.run(ctx)
	metrics.ReconnectRuns.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (s *Sequencer) run(ctx context.Context) Outcome {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		delay := time.Duration(attempt) * s.baseDelay
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return OutcomeAborted
		case <-timer.C:
		}

		metrics.ReconnectAttempts.Inc()
		logging.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("reconnection probe")

		if s.prober(ctx) {
			logging.Info().Int("attempt", attempt).Msg("reconnected to server")
			return OutcomeConnected
		}
	}

	logging.Warn().Int("attempts", s.maxAttempts).Msg("reconnection attempts exhausted")
	return OutcomeExhausted
}
