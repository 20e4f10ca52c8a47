// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package audiocache manages locally downloaded audio files. Every
// read re-validates the file on disk; the index in the store is a
// hint, not a guarantee, because files can vanish or truncate behind
// the client's back.
package audiocache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/store"
	"github.com/tomtom215/resonance/internal/subsonic"
)

// copyChunkSize is the buffered write unit for downloads.
const copyChunkSize = 32 * 1024

// Downloader is the client surface the cache needs.
type Downloader interface {
	Download(ctx context.Context, songID string) (io.ReadCloser, error)
}

// Cache downloads and validates audio files. Downloads are bounded in
// concurrency and optionally rate limited; validation happens on
// every read, evicting entries whose files are missing or truncated.
type Cache struct {
	store   *store.Store
	client  Downloader
	cfg     config.AudioCacheConfig
	online  func() bool
	sem     chan struct{}
	limiter *rate.Limiter
}

// New creates an audio cache. online reports whether network use is
// currently allowed; pre-caching is a no-op without it.
func New(st *store.Store, client Downloader, cfg config.AudioCacheConfig, online func() bool) (*Cache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RateBytesPerSec > 0 {
		burst := cfg.RateBytesPerSec
		if burst < copyChunkSize {
			burst = copyChunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateBytesPerSec), burst)
	}

	return &Cache{
		store:   st,
		client:  client,
		cfg:     cfg,
		online:  online,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		limiter: limiter,
	}, nil
}

// CachedPath returns the validated local path for a song, or "" and
// false. Validation checks existence and the minimum size threshold;
// a failing entry is evicted so the next lookup does not repeat the
// stat on a known-bad file.
func (c *Cache) CachedPath(songID string) (string, bool) {
	entry, err := c.store.AudioEntry(songID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.AudioCacheMisses.Inc()
		return "", false
	}
	if err != nil {
		logging.Err(err).Str("song_id", songID).Msg("read audio cache entry")
		metrics.AudioCacheMisses.Inc()
		return "", false
	}

	info, err := os.Stat(entry.Path)
	if err != nil {
		c.evict(songID, entry.Path, "missing")
		metrics.AudioCacheMisses.Inc()
		return "", false
	}
	if info.Size() < c.cfg.MinFileBytes {
		c.evict(songID, entry.Path, "truncated")
		metrics.AudioCacheMisses.Inc()
		return "", false
	}

	metrics.AudioCacheHits.Inc()
	return entry.Path, true
}

// evict drops an invalid entry and its file remnant, silently.
func (c *Cache) evict(songID, path, reason string) {
	logging.Debug().Str("song_id", songID).Str("reason", reason).Msg("evicting invalid audio cache entry")
	metrics.AudioCacheEvictions.WithLabelValues(reason).Inc()

	if err := c.store.DeleteAudioEntry(songID); err != nil {
		logging.Err(err).Str("song_id", songID).Msg("delete audio cache entry")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Err(err).Str("path", path).Msg("remove invalid audio file")
	}
}

// CacheFile downloads a song into the cache. Safe to call for an
// already-cached song; at most MaxConcurrent downloads run at once.
func (c *Cache) CacheFile(ctx context.Context, songID string) error {
	if _, ok := c.CachedPath(songID); ok {
		return nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	if err := c.download(ctx, songID); err != nil {
		metrics.AudioCacheDownloads.WithLabelValues("failure").Inc()
		return err
	}
	metrics.AudioCacheDownloads.WithLabelValues("success").Inc()
	return nil
}

func (c *Cache) download(ctx context.Context, songID string) error {
	body, err := c.client.Download(ctx, songID)
	if err != nil {
		return fmt.Errorf("download %s: %w", songID, err)
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(c.cfg.Dir, "download-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	size, err := c.copyLimited(ctx, tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", songID, err)
	}

	if size < c.cfg.MinFileBytes {
		return fmt.Errorf("download %s: got %d bytes, below %d byte minimum", songID, size, c.cfg.MinFileBytes)
	}

	final := c.pathFor(songID)
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("finalize %s: %w", songID, err)
	}

	entry := &store.AudioEntry{
		SongID:   songID,
		Path:     final,
		Size:     size,
		CachedAt: time.Now().UTC(),
	}
	if err := c.store.PutAudioEntry(entry); err != nil {
		return fmt.Errorf("index %s: %w", songID, err)
	}

	logging.Info().Str("song_id", songID).Int64("bytes", size).Msg("audio file cached")
	return nil
}

// copyLimited copies in buffered chunks, applying the rate limiter
// when one is configured.
func (c *Cache) copyLimited(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	w := bufio.NewWriterSize(dst, copyChunkSize)
	buf := make([]byte, copyChunkSize)
	var total int64

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if c.limiter != nil {
				if werr := c.limiter.WaitN(ctx, n); werr != nil {
					return total, werr
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, w.Flush()
}

// pathFor maps a song ID to its cache file path. IDs are escaped so
// arbitrary server identifiers cannot traverse out of the cache dir.
func (c *Cache) pathFor(songID string) string {
	return filepath.Join(c.cfg.Dir, url.PathEscape(songID)+".audio")
}

// PreCacheNext opportunistically primes upcoming queue tracks while
// online, bounded by the configured count. Already-cached tracks are
// skipped; a no-op when offline or the window is warm. Downloads run
// in the background, detached from the caller's context so a finished
// play request does not abort them mid-download.
func (c *Cache) PreCacheNext(ctx context.Context, queue []subsonic.Song, fromIndex int) {
	if !c.online() || c.cfg.PreCacheCount <= 0 {
		return
	}
	bg := context.WithoutCancel(ctx)

	primed := 0
	for i := fromIndex + 1; i < len(queue) && primed < c.cfg.PreCacheCount; i++ {
		songID := queue[i].ID
		if _, ok := c.CachedPath(songID); ok {
			continue
		}
		primed++
		go func() {
			if err := c.CacheFile(bg, songID); err != nil {
				logging.Debug().Err(err).Str("song_id", songID).Msg("pre-cache failed")
			}
		}()
	}
}

// Stats summarizes the cache for status reporting.
type Stats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats returns current cache totals from the index.
func (c *Cache) Stats() (Stats, error) {
	entries, err := c.store.AudioEntries()
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, entry := range entries {
		s.Files++
		s.TotalBytes += entry.Size
	}
	return s, nil
}

// Clear removes every cached file and index entry, returning how many
// entries were dropped.
func (c *Cache) Clear() (int, error) {
	entries, err := c.store.AudioEntries()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Err(err).Str("path", entry.Path).Msg("remove cached audio file")
		}
		if err := c.store.DeleteAudioEntry(entry.SongID); err != nil {
			logging.Err(err).Str("song_id", entry.SongID).Msg("delete audio cache entry")
			continue
		}
		count++
	}
	return count, nil
}
