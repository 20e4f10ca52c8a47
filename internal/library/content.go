// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package library keeps the local copy of the server's library: a
// read-through content cache for metadata listings and a scheduler
// that keeps it fresh in the background.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/store"
	"github.com/tomtom215/resonance/internal/subsonic"
)

// Record kinds in the store. Per-artist and per-album listings get a
// suffixed kind so they cache independently.
const (
	kindArtists = "artists"
	kindAlbums  = "albums"
	kindRecent  = "recent"
)

func albumsKind(artistID string) string {
	if artistID == "" {
		return kindAlbums
	}
	return kindAlbums + ":" + artistID
}

func songsKind(albumID string) string {
	return "songs:" + albumID
}

// Options control one cache read.
type Options struct {
	// ForceRefresh fetches from the network even when the store holds
	// fresh data.
	ForceRefresh bool

	// AllowNetworkFallback permits a network fetch at all. Callers set
	// this from the connection state; it is false whenever the state is
	// not Connected, which guarantees reads never block on a dead
	// network.
	AllowNetworkFallback bool
}

// Cache is the read-through content cache. Local store first; network
// only when allowed, with write-through on success and a stale-data
// fallback on failure.
type Cache struct {
	store     *store.Store
	client    subsonic.ClientInterface
	staleness time.Duration
}

// NewCache creates a content cache. staleness is the window after
// which stored data is considered old enough to refresh when a
// network fallback is permitted.
func NewCache(st *store.Store, client subsonic.ClientInterface, staleness time.Duration) *Cache {
	return &Cache{store: st, client: client, staleness: staleness}
}

// Artists returns the artist listing.
func (c *Cache) Artists(ctx context.Context, opts Options) ([]subsonic.Artist, error) {
	return cacheGet(c, ctx, kindArtists, opts, func(ctx context.Context) ([]subsonic.Artist, error) {
		return c.client.GetArtists(ctx)
	})
}

// Albums returns the album listing, optionally for one artist.
func (c *Cache) Albums(ctx context.Context, artistID string, opts Options) ([]subsonic.Album, error) {
	return cacheGet(c, ctx, albumsKind(artistID), opts, func(ctx context.Context) ([]subsonic.Album, error) {
		return c.client.GetAlbums(ctx, artistID)
	})
}

// Songs returns the song listing for one album.
func (c *Cache) Songs(ctx context.Context, albumID string, opts Options) ([]subsonic.Song, error) {
	return cacheGet(c, ctx, songsKind(albumID), opts, func(ctx context.Context) ([]subsonic.Song, error) {
		return c.client.GetSongs(ctx, albumID)
	})
}

// RecentlyAdded returns the recently added albums listing.
func (c *Cache) RecentlyAdded(ctx context.Context, count int, opts Options) ([]subsonic.Album, error) {
	return cacheGet(c, ctx, kindRecent, opts, func(ctx context.Context) ([]subsonic.Album, error) {
		return c.client.GetRecentlyAdded(ctx, count)
	})
}

// Clear drops every cached listing. Audio files are managed
// separately by the audio cache.
func (c *Cache) Clear() (int, error) {
	return c.store.ClearKind("")
}

// cacheGet implements the single source-selection policy for all
// listing kinds:
//
//  1. Read the store. Fresh data satisfies the read unless a refresh
//     is forced.
//  2. If a network fetch is needed and permitted, fetch and write
//     through.
//  3. On fetch failure, fall back to whatever the store held, even if
//     stale. Only an empty store surfaces as an empty result; the
//     error itself never propagates past a usable fallback.
func cacheGet[T any](c *Cache, ctx context.Context, kind string, opts Options, fetch func(ctx context.Context) ([]T, error)) ([]T, error) {
	var stored []T
	fetchedAt, err := c.store.GetRecords(kind, &stored)
	haveStored := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read %s cache: %w", kind, err)
	}

	fresh := haveStored && time.Since(fetchedAt) < c.staleness
	if fresh && !opts.ForceRefresh {
		metrics.ContentCacheHits.WithLabelValues(kind).Inc()
		return stored, nil
	}

	if !opts.AllowNetworkFallback {
		if haveStored {
			metrics.ContentCacheHits.WithLabelValues(kind).Inc()
			return stored, nil
		}
		metrics.ContentCacheMisses.WithLabelValues(kind).Inc()
		return nil, nil
	}

	items, err := fetch(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("kind", kind).Msg("network fetch failed, serving stored data")
		if haveStored {
			metrics.ContentCacheHits.WithLabelValues(kind).Inc()
			return stored, nil
		}
		metrics.ContentCacheMisses.WithLabelValues(kind).Inc()
		return nil, nil
	}

	if err := c.store.PutRecords(kind, items); err != nil {
		logging.Err(err).Str("kind", kind).Msg("write-through to store failed")
	}
	metrics.ContentCacheMisses.WithLabelValues(kind).Inc()
	return items, nil
}
