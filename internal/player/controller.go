// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package player

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/resonance/internal/audiocache"
	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/connection"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/netmon"
	"github.com/tomtom215/resonance/internal/subsonic"
)

// ErrCannotPlayOffline means no cached file exists and the connection
// state forbids streaming. Surfaced as a signal, never a panic; the UI
// renders it with a manual retry affordance.
var ErrCannotPlayOffline = errors.New("player: cannot play offline")

// ErrNoEngine means the controller was built without a playback
// engine. A contract error; operations log and no-op.
var ErrNoEngine = errors.New("player: no playback engine configured")

// StreamURLer builds streaming URLs. Satisfied by the API client.
type StreamURLer interface {
	StreamURL(songID string, transcode bool) (*url.URL, error)
}

// Controller owns the playback engine. Every track change and every
// recovery attempt runs the same source selection: validated cached
// file first, then streaming when the connection state allows it,
// else an explicit cannot-play signal.
type Controller struct {
	engine  Engine
	audio   *audiocache.Cache
	client  StreamURLer
	bus     *events.Bus
	cfg     config.PlaybackConfig
	stateFn func() connection.State
	classFn func() netmon.NetworkClass
	posGate *rate.Limiter

	mu             sync.Mutex
	queue          []subsonic.Song
	index          int
	canPlayOffline bool
	lastStatus     Status
	lastPosition   time.Duration

	recoverCh chan struct{}
}

// NewController creates the playback recovery controller.
func NewController(engine Engine, audio *audiocache.Cache, client StreamURLer, bus *events.Bus, cfg config.PlaybackConfig, stateFn func() connection.State, classFn func() netmon.NetworkClass) *Controller {
	return &Controller{
		engine:    engine,
		audio:     audio,
		client:    client,
		bus:       bus,
		cfg:       cfg,
		stateFn:   stateFn,
		classFn:   classFn,
		posGate:   rate.NewLimiter(rate.Every(cfg.PositionPublishInterval), 1),
		recoverCh: make(chan struct{}, 1),
	}
}

// CanPlayOffline reports whether the current track plays from a
// validated cached file, independent of actual connectivity.
func (c *Controller) CanPlayOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canPlayOffline
}

// Status returns the last observed engine status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Play starts playback of queue[index] and remembers the queue for
// next/previous navigation and pre-caching.
func (c *Controller) Play(ctx context.Context, queue []subsonic.Song, index int) error {
	if c.engine == nil {
		logging.Warn().Msg("play requested without a playback engine")
		return ErrNoEngine
	}
	if index < 0 || index >= len(queue) {
		return errors.New("player: queue index out of range")
	}

	c.mu.Lock()
	c.queue = queue
	c.index = index
	c.lastPosition = 0
	c.mu.Unlock()

	return c.startCurrentAt(ctx, 0)
}

// Next advances to the next queue track.
func (c *Controller) Next(ctx context.Context) error {
	return c.skip(ctx, 1)
}

// Previous moves to the previous queue track.
func (c *Controller) Previous(ctx context.Context) error {
	return c.skip(ctx, -1)
}

func (c *Controller) skip(ctx context.Context, delta int) error {
	c.mu.Lock()
	next := c.index + delta
	if next < 0 || next >= len(c.queue) {
		c.mu.Unlock()
		return errors.New("player: no such queue position")
	}
	c.index = next
	c.lastPosition = 0
	c.mu.Unlock()

	return c.startCurrentAt(ctx, 0)
}

// Pause pauses the engine.
func (c *Controller) Pause(ctx context.Context) error {
	if c.engine == nil {
		return ErrNoEngine
	}
	return c.engine.Pause(ctx)
}

// Resume continues playback. If the current track was playing from a
// cached file that has since been deleted externally, the source
// selection re-runs and falls back to streaming or cannot-play.
func (c *Controller) Resume(ctx context.Context) error {
	if c.engine == nil {
		return ErrNoEngine
	}

	c.mu.Lock()
	offlineCapable := c.canPlayOffline
	song, ok := c.currentLocked()
	position := c.lastPosition
	c.mu.Unlock()

	if ok && offlineCapable {
		if _, valid := c.audio.CachedPath(song.ID); !valid {
			return c.startCurrentAt(ctx, position)
		}
	}
	return c.engine.Play(ctx)
}

// Seek forwards to the engine.
func (c *Controller) Seek(ctx context.Context, position time.Duration) error {
	if c.engine == nil {
		return ErrNoEngine
	}
	return c.engine.Seek(ctx, position)
}

func (c *Controller) currentLocked() (subsonic.Song, bool) {
	if c.index < 0 || c.index >= len(c.queue) {
		return subsonic.Song{}, false
	}
	return c.queue[c.index], true
}

// selectSource resolves the playable source for a song:
//
//  1. A validated cached file wins; playback is offline-capable
//     regardless of connectivity.
//  2. Otherwise, when the connection state allows network use, build
//     a streaming URL, transcoding on mobile links.
//  3. Otherwise the track cannot play right now.
func (c *Controller) selectSource(song subsonic.Song) (string, bool, error) {
	if path, ok := c.audio.CachedPath(song.ID); ok {
		return path, true, nil
	}

	if c.stateFn().AllowsNetwork() {
		transcode := c.classFn() == netmon.ClassMobile
		u, err := c.client.StreamURL(song.ID, transcode)
		if err != nil {
			return "", false, err
		}
		return u.String(), false, nil
	}

	return "", false, ErrCannotPlayOffline
}

// startCurrentAt runs source selection for the current track, loads
// the engine, and resumes at the given position.
func (c *Controller) startCurrentAt(ctx context.Context, position time.Duration) error {
	c.mu.Lock()
	song, ok := c.currentLocked()
	queue := c.queue
	index := c.index
	c.mu.Unlock()
	if !ok {
		return errors.New("player: nothing queued")
	}

	source, offlineCapable, err := c.selectSource(song)
	if err != nil {
		if errors.Is(err, ErrCannotPlayOffline) {
			c.mu.Lock()
			c.canPlayOffline = false
			c.mu.Unlock()
			c.publishState("cannot_play", song.ID, position, true)
		}
		return err
	}

	if err := c.engine.SetSource(ctx, source); err != nil {
		return err
	}
	if position > 0 {
		if err := c.engine.Seek(ctx, position); err != nil {
			logging.Warn().Err(err).Dur("position", position).Msg("seek after source load failed")
		}
	}
	if err := c.engine.Play(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.canPlayOffline = offlineCapable
	c.mu.Unlock()

	if offlineCapable {
		metrics.PlaybackSources.WithLabelValues("cache").Inc()
	} else {
		metrics.PlaybackSources.WithLabelValues("stream").Inc()
	}
	logging.Info().Str("song_id", song.ID).Bool("offline_capable", offlineCapable).Msg("playback source selected")

	c.publishState("playing", song.ID, position, true)
	c.audio.PreCacheNext(ctx, queue, index)
	return nil
}

// Run consumes the engine's state stream and drives recovery. It also
// listens for reconnection events: a Reconnected or ServerRestored
// while buffering triggers one proactive recovery, since a stalled
// stream does not always raise an engine error. Implements
// suture.Service.
func (c *Controller) Run(ctx context.Context) error {
	if c.engine == nil {
		logging.Warn().Msg("playback controller idle, no engine configured")
		<-ctx.Done()
		return ctx.Err()
	}

	err := c.bus.SubscribeFunc(ctx, events.TopicConnectionEvent, func(payload []byte) {
		var ev events.ConnectionEvent
		if err := events.Decode(payload, &ev); err != nil {
			return
		}
		if ev.Event != events.EventReconnected && ev.Event != events.EventServerRestored {
			return
		}
		if c.Status() != StatusBuffering {
			return
		}
		select {
		case c.recoverCh <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	engineEvents := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-engineEvents:
			if !ok {
				return nil
			}
			c.handleEngineEvent(ctx, ev)
		case <-c.recoverCh:
			c.proactiveRecover(ctx)
		}
	}
}

func (c *Controller) handleEngineEvent(ctx context.Context, ev EngineEvent) {
	c.mu.Lock()
	statusChanged := ev.Status != c.lastStatus
	c.lastStatus = ev.Status
	c.lastPosition = ev.Position
	song, hasSong := c.currentLocked()
	c.mu.Unlock()

	// Status edges always publish; position-only ticks are throttled.
	if statusChanged || c.posGate.Allow() {
		songID := ""
		if hasSong {
			songID = song.ID
		}
		c.publishState(ev.Status.String(), songID, ev.Position, false)
	}

	switch ev.Status {
	case StatusError:
		logging.Warn().Err(ev.Err).Msg("playback engine error, starting recovery")
		c.recover(ctx)
	case StatusCompleted:
		if err := c.Next(ctx); err != nil {
			logging.Debug().Err(err).Msg("queue finished")
		}
	}
}

// recover retries playback up to the configured budget with linear
// backoff, re-running source selection each attempt. Exhausting the
// budget stops silently: the player stays paused at the last known
// position and only a manual action restarts it.
func (c *Controller) recover(ctx context.Context) {
	c.mu.Lock()
	position := c.lastPosition
	c.mu.Unlock()

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		delay := time.Duration(attempt) * c.cfg.RetryBaseDelay
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := c.startCurrentAt(ctx, position)
		if err == nil {
			metrics.PlaybackRecoveries.WithLabelValues("recovered").Inc()
			logging.Info().Int("attempt", attempt).Msg("playback recovered")
			return
		}
		if errors.Is(err, ErrCannotPlayOffline) {
			metrics.PlaybackRecoveries.WithLabelValues("cannot_play").Inc()
			c.pauseAt(ctx, position)
			return
		}
		logging.Debug().Err(err).Int("attempt", attempt).Msg("playback recovery attempt failed")
	}

	metrics.PlaybackRecoveries.WithLabelValues("exhausted").Inc()
	logging.Warn().Int("attempts", c.cfg.MaxRetries).Msg("playback recovery exhausted")
	c.pauseAt(ctx, position)
}

// proactiveRecover makes a single attempt after a reconnection while
// buffering. Failures fall through to the normal error path if the
// engine eventually raises one.
func (c *Controller) proactiveRecover(ctx context.Context) {
	c.mu.Lock()
	position := c.lastPosition
	c.mu.Unlock()

	logging.Info().Msg("proactive playback recovery after reconnect")
	if err := c.startCurrentAt(ctx, position); err != nil {
		logging.Debug().Err(err).Msg("proactive recovery failed")
		return
	}
	metrics.PlaybackRecoveries.WithLabelValues("recovered").Inc()
}

func (c *Controller) pauseAt(ctx context.Context, position time.Duration) {
	if err := c.engine.Pause(ctx); err != nil {
		logging.Debug().Err(err).Msg("pause after failed recovery")
	}
	c.mu.Lock()
	c.lastStatus = StatusPaused
	c.lastPosition = position
	song, hasSong := c.currentLocked()
	c.mu.Unlock()

	songID := ""
	if hasSong {
		songID = song.ID
	}
	c.publishState("paused", songID, position, false)
}

// publishState emits a playback state event. computeOffline refreshes
// the offline-capable flag from the cache before publishing.
func (c *Controller) publishState(state, songID string, position time.Duration, computeOffline bool) {
	c.mu.Lock()
	canPlayOffline := c.canPlayOffline
	c.mu.Unlock()

	if computeOffline && songID != "" {
		_, canPlayOffline = c.audio.CachedPath(songID)
		c.mu.Lock()
		c.canPlayOffline = canPlayOffline
		c.mu.Unlock()
	}

	if err := c.bus.Publish(events.TopicPlaybackState, events.PlaybackState{
		State:          state,
		SongID:         songID,
		PositionMs:     position.Milliseconds(),
		CanPlayOffline: canPlayOffline,
		At:             time.Now().UTC(),
	}); err != nil {
		logging.Err(err).Msg("publish playback state")
	}
}
