// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package subsonic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// BreakerClient wraps a ClientInterface with a circuit breaker so a
// flapping or slow server cannot stampede the client with doomed
// requests. The connection state machine decides *whether* the network
// is usable; the breaker protects individual call volume once it is.
//
// The breaker uses real time for its interval and timeout windows.
// Tests should exercise the wrapped client directly.
type BreakerClient struct {
	client ClientInterface
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewBreakerClient wraps client with a circuit breaker.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window in closed state
//   - 30 second open period before probing recovery
//   - Opens at >=60% failure rate with minimum 5 requests
func NewBreakerClient(client ClientInterface) *BreakerClient {
	const cbName = "music-server-api"

	metrics.BreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", breakerStateString(from)).Str("to", breakerStateString(to)).Msg("circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb, name: cbName}
}

// execute wraps an API call with circuit breaker protection.
func (bc *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := bc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRequests.WithLabelValues(bc.name, "rejected").Inc()
		} else {
			metrics.BreakerRequests.WithLabelValues(bc.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.BreakerRequests.WithLabelValues(bc.name, "success").Inc()
	return result, nil
}

// castResult type-casts the breaker result with error checking.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Ping verifies server liveness with breaker protection.
func (bc *BreakerClient) Ping(ctx context.Context) error {
	_, err := bc.execute(func() (interface{}, error) {
		return nil, bc.client.Ping(ctx)
	})
	return err
}

// StreamURL builds the streaming URL. URL construction is local, so it
// bypasses the breaker.
func (bc *BreakerClient) StreamURL(songID string, transcode bool) (*url.URL, error) {
	return bc.client.StreamURL(songID, transcode)
}

// GetArtists lists artists with breaker protection.
func (bc *BreakerClient) GetArtists(ctx context.Context) ([]Artist, error) {
	return castResult[[]Artist](bc.execute(func() (interface{}, error) {
		return bc.client.GetArtists(ctx)
	}))
}

// GetAlbums lists albums with breaker protection.
func (bc *BreakerClient) GetAlbums(ctx context.Context, artistID string) ([]Album, error) {
	return castResult[[]Album](bc.execute(func() (interface{}, error) {
		return bc.client.GetAlbums(ctx, artistID)
	}))
}

// GetSongs lists songs with breaker protection.
func (bc *BreakerClient) GetSongs(ctx context.Context, albumID string) ([]Song, error) {
	return castResult[[]Song](bc.execute(func() (interface{}, error) {
		return bc.client.GetSongs(ctx, albumID)
	}))
}

// GetRecentlyAdded lists recently added albums with breaker protection.
func (bc *BreakerClient) GetRecentlyAdded(ctx context.Context, count int) ([]Album, error) {
	return castResult[[]Album](bc.execute(func() (interface{}, error) {
		return bc.client.GetRecentlyAdded(ctx, count)
	}))
}

// Download streams song bytes with breaker protection.
func (bc *BreakerClient) Download(ctx context.Context, songID string) (io.ReadCloser, error) {
	return castResult[io.ReadCloser](bc.execute(func() (interface{}, error) {
		return bc.client.Download(ctx, songID)
	}))
}
