// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/netmon"
	"github.com/tomtom215/resonance/internal/store"
	"github.com/tomtom215/resonance/internal/subsonic"
)

// Sync classes. Quick refreshes recently added content on a short
// staleness window; full re-fetches the artist and album listings on
// a long one.
const (
	ClassQuick = "quick"
	ClassFull  = "full"
)

// Scheduler drives periodic library syncs. The tick interval adapts
// to the network class so mobile data use stays bounded, and cursors
// advance only when a sync fully succeeds.
type Scheduler struct {
	store   *store.Store
	client  subsonic.ClientInterface
	bus     *events.Bus
	cfg     config.SyncConfig
	classFn func() netmon.NetworkClass
	now     func() time.Time

	mu        sync.Mutex
	suspended bool

	inFlight atomic.Bool

	suspendCh chan struct{}
	resumeCh  chan struct{}
}

// NewScheduler creates a sync scheduler.
func NewScheduler(st *store.Store, client subsonic.ClientInterface, bus *events.Bus, cfg config.SyncConfig, classFn func() netmon.NetworkClass) *Scheduler {
	return &Scheduler{
		store:     st,
		client:    client,
		bus:       bus,
		cfg:       cfg,
		classFn:   classFn,
		now:       time.Now,
		suspendCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
	}
}

// Suspend stops the sync timer without touching the cursors.
// Idempotent. An in-flight sync finishes; suspension only prevents
// new ticks.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	s.suspended = true
	select {
	case s.suspendCh <- struct{}{}:
	default:
	}
}

// Resume restarts the sync timer. Idempotent.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return
	}
	s.suspended = false
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) isSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// tickInterval adapts the base interval to the network class: halved
// on wifi, doubled on mobile.
func (s *Scheduler) tickInterval() time.Duration {
	switch s.classFn() {
	case netmon.ClassWifi:
		return s.cfg.Interval / 2
	case netmon.ClassMobile:
		return s.cfg.Interval * 2
	default:
		return s.cfg.Interval
	}
}

// Serve runs the scheduler loop until ctx is cancelled. The timer is
// recreated every tick so interval changes take effect and
// suspend/resume never leaves a duplicate timer running. Implements
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	for {
		if s.isSuspended() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.resumeCh:
			}
			continue
		}

		timer := time.NewTimer(s.tickInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.suspendCh:
			timer.Stop()
		case <-timer.C:
			s.AutoSync(ctx)
		}
	}
}

// AutoSync checks both cursors and runs whichever sync classes are
// stale. A no-op while offline or suspended. Manual sync requests
// call this directly; single-flight, so a request arriving while a
// sync is already running is dropped instead of duplicating fetches.
func (s *Scheduler) AutoSync(ctx context.Context) {
	if s.classFn() == netmon.ClassOffline || s.isSuspended() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		logging.Debug().Msg("sync already in flight, dropping trigger")
		return
	}
	defer s.inFlight.Store(false)

	if s.cursorStale(ClassQuick, s.cfg.QuickStaleness) {
		s.runSync(ctx, ClassQuick, s.quickSync)
	}
	if s.cursorStale(ClassFull, s.cfg.FullStaleness) {
		s.runSync(ctx, ClassFull, s.fullSync)
	}
}

// cursorStale reports whether a sync class is due. A missing cursor
// means the class has never synced and is always due.
func (s *Scheduler) cursorStale(class string, staleness time.Duration) bool {
	last, err := s.store.SyncCursor(class)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		logging.Err(err).Str("class", class).Msg("read sync cursor")
		return false
	}
	return s.now().Sub(last) >= staleness
}

// runSync executes one sync class and advances its cursor only on
// full success. Failures are logged; the next tick retries.
func (s *Scheduler) runSync(ctx context.Context, class string, sync func(ctx context.Context) (int, error)) {
	start := s.now()
	newItems, err := sync(ctx)
	metrics.SyncDuration.WithLabelValues(class).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SyncRuns.WithLabelValues(class, "failure").Inc()
		logging.Warn().Err(err).Str("class", class).Msg("library sync failed, cursor not advanced")
		return
	}

	if err := s.store.SetSyncCursor(class, s.now()); err != nil {
		metrics.SyncRuns.WithLabelValues(class, "failure").Inc()
		logging.Err(err).Str("class", class).Msg("advance sync cursor")
		return
	}

	metrics.SyncRuns.WithLabelValues(class, "success").Inc()
	metrics.SyncNewItems.Add(float64(newItems))
	logging.Info().Str("class", class).Int("new_items", newItems).Msg("library sync completed")

	if newItems > 0 {
		if err := s.bus.Publish(events.TopicLibraryChanged, events.LibraryChange{
			Class:    class,
			NewItems: newItems,
			At:       s.now().UTC(),
		}); err != nil {
			logging.Err(err).Msg("publish library change")
		}
	}
}

// quickSync refreshes the recently added listing and counts albums
// not previously known.
func (s *Scheduler) quickSync(ctx context.Context) (int, error) {
	albums, err := s.client.GetRecentlyAdded(ctx, s.cfg.RecentCount)
	if err != nil {
		return 0, fmt.Errorf("fetch recently added: %w", err)
	}

	newItems := s.countNewAlbums(kindRecent, albums)
	if err := s.store.PutRecords(kindRecent, albums); err != nil {
		return 0, fmt.Errorf("store recently added: %w", err)
	}
	return newItems, nil
}

// fullSync re-fetches the artist and album listings. Song listings
// are cached on demand per album by the content cache; pulling every
// album's tracks here would hammer the server for data the user may
// never open.
func (s *Scheduler) fullSync(ctx context.Context) (int, error) {
	artists, err := s.client.GetArtists(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch artists: %w", err)
	}
	albums, err := s.client.GetAlbums(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("fetch albums: %w", err)
	}

	newItems := s.countNewAlbums(kindAlbums, albums)
	if err := s.store.PutRecords(kindArtists, artists); err != nil {
		return 0, fmt.Errorf("store artists: %w", err)
	}
	if err := s.store.PutRecords(kindAlbums, albums); err != nil {
		return 0, fmt.Errorf("store albums: %w", err)
	}
	return newItems, nil
}

// countNewAlbums diffs fetched albums against the stored listing by
// ID. A kind never stored counts everything as new.
func (s *Scheduler) countNewAlbums(kind string, fetched []subsonic.Album) int {
	var stored []subsonic.Album
	if _, err := s.store.GetRecords(kind, &stored); err != nil {
		return len(fetched)
	}

	known := make(map[string]struct{}, len(stored))
	for _, album := range stored {
		known[album.ID] = struct{}{}
	}

	count := 0
	for _, album := range fetched {
		if _, ok := known[album.ID]; !ok {
			count++
		}
	}
	return count
}
