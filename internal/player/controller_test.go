// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/audiocache"
	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/connection"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/netmon"
	"github.com/tomtom215/resonance/internal/store"
	"github.com/tomtom215/resonance/internal/subsonic"
)

// fakeEngine is a scriptable playback engine.
type fakeEngine struct {
	mu       sync.Mutex
	sources  []string
	playErrs int // fail this many Play calls, then succeed
	plays    int
	paused   bool
	position time.Duration
	events   chan EngineEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan EngineEvent, 16)}
}

func (e *fakeEngine) SetSource(_ context.Context, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = append(e.sources, source)
	return nil
}

func (e *fakeEngine) Play(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	if e.playErrs > 0 {
		e.playErrs--
		return errors.New("engine refused to play")
	}
	e.paused = false
	return nil
}

func (e *fakeEngine) Pause(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

func (e *fakeEngine) Seek(_ context.Context, position time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = position
	return nil
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *fakeEngine) Events() <-chan EngineEvent { return e.events }

func (e *fakeEngine) lastSource() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sources) == 0 {
		return ""
	}
	return e.sources[len(e.sources)-1]
}

func (e *fakeEngine) sourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sources)
}

func (e *fakeEngine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// fakeStreamer builds predictable stream URLs and records transcode
// choices.
type fakeStreamer struct {
	mu         sync.Mutex
	transcodes []bool
}

func (f *fakeStreamer) StreamURL(songID string, transcode bool) (*url.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcodes = append(f.transcodes, transcode)
	return url.Parse(fmt.Sprintf("http://music.example/rest/stream?id=%s&transcode=%t", songID, transcode))
}

// staticDownloader serves the same valid payload for every song.
type staticDownloader struct{}

func (staticDownloader) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(bytes.Repeat([]byte("flac"), 500))), nil
}

type harness struct {
	controller *Controller
	engine     *fakeEngine
	streamer   *fakeStreamer
	audio      *audiocache.Cache
	bus        *events.Bus

	mu    sync.Mutex
	state connection.State
	class netmon.NetworkClass
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	h := &harness{
		engine:   newFakeEngine(),
		streamer: &fakeStreamer{},
		bus:      events.NewBus(),
		state:    connection.StateConnected,
		class:    netmon.ClassWifi,
	}
	t.Cleanup(func() { h.bus.Close() }) //nolint:errcheck

	audioCfg := config.AudioCacheConfig{
		Dir:           t.TempDir(),
		MinFileBytes:  1000,
		MaxConcurrent: 2,
		PreCacheCount: 0, // keep pre-caching out of these tests
	}
	h.audio, err = audiocache.New(st, staticDownloader{}, audioCfg, func() bool { return true })
	if err != nil {
		t.Fatalf("audiocache.New: %v", err)
	}

	playCfg := config.PlaybackConfig{
		MaxRetries:              3,
		RetryBaseDelay:          time.Millisecond,
		PositionPublishInterval: 10 * time.Millisecond,
	}
	h.controller = NewController(h.engine, h.audio, h.streamer, h.bus, playCfg,
		func() connection.State { h.mu.Lock(); defer h.mu.Unlock(); return h.state },
		func() netmon.NetworkClass { h.mu.Lock(); defer h.mu.Unlock(); return h.class })
	return h
}

func (h *harness) setState(s connection.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *harness) setClass(c netmon.NetworkClass) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.class = c
}

func (h *harness) cacheSong(t *testing.T, songID string) {
	t.Helper()
	if err := h.audio.CacheFile(context.Background(), songID); err != nil {
		t.Fatalf("CacheFile: %v", err)
	}
}

func queueOf(ids ...string) []subsonic.Song {
	songs := make([]subsonic.Song, len(ids))
	for i, id := range ids {
		songs[i] = subsonic.Song{ID: id}
	}
	return songs
}

func TestPlayPrefersCachedFile(t *testing.T) {
	h := newHarness(t)
	h.cacheSong(t, "s-1")

	if err := h.controller.Play(context.Background(), queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	source := h.engine.lastSource()
	if _, err := os.Stat(source); err != nil {
		t.Errorf("source %q should be the local cached file: %v", source, err)
	}
	if !h.controller.CanPlayOffline() {
		t.Error("CanPlayOffline() = false for cached playback")
	}
}

func TestPlayStreamsWhenNotCached(t *testing.T) {
	h := newHarness(t)

	if err := h.controller.Play(context.Background(), queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	source := h.engine.lastSource()
	if source != "http://music.example/rest/stream?id=s-1&transcode=false" {
		t.Errorf("source = %q, want streaming URL without transcoding", source)
	}
	if h.controller.CanPlayOffline() {
		t.Error("CanPlayOffline() = true for streamed playback")
	}
}

func TestPlayTranscodesOnMobile(t *testing.T) {
	h := newHarness(t)
	h.setClass(netmon.ClassMobile)

	if err := h.controller.Play(context.Background(), queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	h.streamer.mu.Lock()
	defer h.streamer.mu.Unlock()
	if len(h.streamer.transcodes) != 1 || !h.streamer.transcodes[0] {
		t.Errorf("transcodes = %v, want one transcoded stream", h.streamer.transcodes)
	}
}

func TestPlayCannotPlayOffline(t *testing.T) {
	h := newHarness(t)
	h.setState(connection.StateDisconnected)

	err := h.controller.Play(context.Background(), queueOf("s-1"), 0)
	if !errors.Is(err, ErrCannotPlayOffline) {
		t.Fatalf("err = %v, want ErrCannotPlayOffline", err)
	}
	if h.controller.CanPlayOffline() {
		t.Error("CanPlayOffline() = true with no cache and no network")
	}
	if h.engine.sourceCount() != 0 {
		t.Error("engine must not receive a source when nothing can play")
	}
}

func TestCachedPlaybackWorksWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	h.cacheSong(t, "s-1")
	h.setState(connection.StateDisconnected)

	if err := h.controller.Play(context.Background(), queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play from cache while disconnected: %v", err)
	}
	if !h.controller.CanPlayOffline() {
		t.Error("cached playback must be offline-capable")
	}
}

func TestRecoveryRetriesWithSourceReselection(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.controller.Run(ctx) //nolint:errcheck

	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// One failing Play, then recovery succeeds at the stalled position.
	h.engine.mu.Lock()
	h.engine.playErrs = 1
	h.engine.mu.Unlock()
	h.engine.events <- EngineEvent{Status: StatusError, Position: 42 * time.Second, Err: errors.New("stream stalled")}

	deadline := time.After(3 * time.Second)
	for h.engine.sourceCount() < 3 { // initial + failed attempt + successful attempt
		select {
		case <-deadline:
			t.Fatalf("sources = %d, want 3 after recovery", h.engine.sourceCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := h.engine.Position(); got != 42*time.Second {
		t.Errorf("position = %v, want 42s preserved across recovery", got)
	}
}

func TestOfflineMidPlaybackPausesAtLastPosition(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.controller.Run(ctx) //nolint:errcheck

	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// Device drops offline mid-stream; the engine then errors.
	h.setState(connection.StateDisconnected)
	h.engine.events <- EngineEvent{Status: StatusError, Position: 90 * time.Second, Err: errors.New("connection reset")}

	deadline := time.After(3 * time.Second)
	for !h.engine.isPaused() {
		select {
		case <-deadline:
			t.Fatal("engine not paused after offline recovery failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if h.controller.CanPlayOffline() {
		t.Error("CanPlayOffline() = true with no cached file")
	}
	if got := h.controller.Status(); got != StatusPaused {
		t.Errorf("status = %v, want paused", got)
	}
}

func TestRecoveryExhaustionPausesSilently(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.controller.Run(ctx) //nolint:errcheck

	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// Every retry fails; the budget is 3.
	h.engine.mu.Lock()
	h.engine.playErrs = 10
	h.engine.mu.Unlock()
	h.engine.events <- EngineEvent{Status: StatusError, Position: 10 * time.Second, Err: errors.New("bad source")}

	deadline := time.After(3 * time.Second)
	for !h.engine.isPaused() {
		select {
		case <-deadline:
			t.Fatal("engine not paused after exhausted recovery")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Initial play + exactly 3 retries.
	h.engine.mu.Lock()
	plays := h.engine.plays
	h.engine.mu.Unlock()
	if plays != 4 {
		t.Errorf("play calls = %d, want 4 (1 initial + 3 retries)", plays)
	}
}

func TestProactiveRecoveryOnReconnectWhileBuffering(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.controller.Run(ctx) //nolint:errcheck

	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// Stream stalls into buffering without an engine error.
	h.engine.events <- EngineEvent{Status: StatusBuffering, Position: 30 * time.Second}

	deadline := time.After(2 * time.Second)
	for h.controller.Status() != StatusBuffering {
		select {
		case <-deadline:
			t.Fatal("controller never saw buffering")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := h.bus.Publish(events.TopicConnectionEvent, events.ConnectionEvent{
		Event: events.EventReconnected,
		State: "connected",
		At:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline = time.After(3 * time.Second)
	for h.engine.sourceCount() < 2 { // initial + proactive recovery
		select {
		case <-deadline:
			t.Fatalf("sources = %d, want 2 after proactive recovery", h.engine.sourceCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestResumeFallsBackWhenCachedFileDeleted(t *testing.T) {
	h := newHarness(t)
	h.cacheSong(t, "s-1")

	ctx := context.Background()
	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	cachedSource := h.engine.lastSource()

	// Delete the cached file externally, then resume.
	if err := os.Remove(cachedSource); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := h.controller.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	source := h.engine.lastSource()
	if source == cachedSource {
		t.Error("resume should have re-selected the source")
	}
	if want := "http://music.example/rest/stream?id=s-1&transcode=false"; source != want {
		t.Errorf("source = %q, want fallback stream %q", source, want)
	}
}

func TestResumeReportsCannotPlayWhenOfflineAndFileDeleted(t *testing.T) {
	h := newHarness(t)
	h.cacheSong(t, "s-1")

	ctx := context.Background()
	if err := h.controller.Play(ctx, queueOf("s-1"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := os.Remove(h.engine.lastSource()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.setState(connection.StateDisconnected)

	if err := h.controller.Resume(ctx); !errors.Is(err, ErrCannotPlayOffline) {
		t.Errorf("Resume err = %v, want ErrCannotPlayOffline", err)
	}
}

func TestCompletedAdvancesQueue(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.controller.Run(ctx) //nolint:errcheck

	if err := h.controller.Play(ctx, queueOf("s-1", "s-2"), 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	h.engine.events <- EngineEvent{Status: StatusCompleted}

	want := "http://music.example/rest/stream?id=s-2&transcode=false"
	deadline := time.After(3 * time.Second)
	for h.engine.lastSource() != want {
		select {
		case <-deadline:
			t.Fatalf("source = %q, want next track %q", h.engine.lastSource(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNilEngineIsContractError(t *testing.T) {
	h := newHarness(t)
	c := NewController(nil, h.audio, h.streamer, h.bus, config.PlaybackConfig{
		MaxRetries:              3,
		RetryBaseDelay:          time.Millisecond,
		PositionPublishInterval: time.Second,
	}, func() connection.State { return connection.StateConnected },
		func() netmon.NetworkClass { return netmon.ClassWifi })

	if err := c.Play(context.Background(), queueOf("s-1"), 0); !errors.Is(err, ErrNoEngine) {
		t.Errorf("Play err = %v, want ErrNoEngine", err)
	}
	if err := c.Pause(context.Background()); !errors.Is(err, ErrNoEngine) {
		t.Errorf("Pause err = %v, want ErrNoEngine", err)
	}
}
