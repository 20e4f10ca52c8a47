// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package store provides the durable local store backing the content
// cache, the audio file cache index, and the sync cursors. Everything
// is kept in a single BadgerDB instance so the client survives
// restarts with its offline library intact.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrNotFound is returned when a key has never been written.
// Callers distinguish "no cached data yet" from real store failures.
var ErrNotFound = errors.New("store: not found")

// Key prefixes for namespacing within BadgerDB.
const (
	recordKeyPrefix = "records:"
	audioKeyPrefix  = "audio:"
	cursorKeyPrefix = "cursor:"
)

// Store is the durable local store. Safe for concurrent use; BadgerDB
// transactions provide isolation.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	// Library metadata and cache indexes are small; shrink the value
	// log from the 1GB default.
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store. Used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// recordSet wraps a cached payload with its fetch timestamp so
// staleness can be judged without a schema per entity kind.
type recordSet struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// PutRecords stores the payload for an entity kind, stamping it with
// the current time. The kind string namespaces independent listings,
// e.g. "artists", "albums:ar-1", "songs:al-7", "recent".
func (s *Store) PutRecords(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal records %q: %w", kind, err)
	}
	set := recordSet{FetchedAt: time.Now().UTC(), Data: data}
	raw, err := json.Marshal(&set)
	if err != nil {
		return fmt.Errorf("marshal record set %q: %w", kind, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordKeyPrefix+kind), raw)
	})
}

// GetRecords loads the payload for an entity kind into out and returns
// when it was fetched. Returns ErrNotFound for a kind never stored.
func (s *Store) GetRecords(kind string, out any) (time.Time, error) {
	var set recordSet

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordKeyPrefix + kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get records %q: %w", kind, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &set)
		})
	})
	if err != nil {
		return time.Time{}, err
	}

	if err := json.Unmarshal(set.Data, out); err != nil {
		return time.Time{}, fmt.Errorf("unmarshal records %q: %w", kind, err)
	}
	return set.FetchedAt, nil
}

// ClearKind removes every record set whose kind starts with prefix.
// An empty prefix clears all cached records.
func (s *Store) ClearKind(prefix string) (int, error) {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(recordKeyPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan records %q: %w", prefix, err)
	}

	count := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}

// AudioEntry indexes a fully downloaded audio file on disk. The entry
// alone does not prove the file is still valid; readers re-validate
// existence and size before trusting it.
type AudioEntry struct {
	SongID   string    `json:"song_id"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cached_at"`
}

// PutAudioEntry stores an audio cache index entry.
func (s *Store) PutAudioEntry(entry *AudioEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audio entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(audioKeyPrefix+entry.SongID), data)
	})
}

// AudioEntry retrieves the index entry for a song, or ErrNotFound.
func (s *Store) AudioEntry(songID string) (*AudioEntry, error) {
	var entry AudioEntry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(audioKeyPrefix + songID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get audio entry %q: %w", songID, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteAudioEntry removes the index entry for a song. Deleting an
// absent entry is not an error.
func (s *Store) DeleteAudioEntry(songID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(audioKeyPrefix + songID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete audio entry %q: %w", songID, err)
		}
		return nil
	})
}

// AudioEntries lists every audio cache index entry.
func (s *Store) AudioEntries() ([]*AudioEntry, error) {
	var entries []*AudioEntry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(audioKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry AudioEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				continue // Skip undecodable entries; eviction handles them
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audio entries: %w", err)
	}
	return entries, nil
}

// SyncCursor returns the last successful sync time for a class
// ("quick" or "full"). A class never synced returns ErrNotFound.
func (s *Store) SyncCursor(class string) (time.Time, error) {
	var when time.Time

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKeyPrefix + class))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor %q: %w", class, err)
		}
		return item.Value(func(val []byte) error {
			return when.UnmarshalText(val)
		})
	})
	if err != nil {
		return time.Time{}, err
	}
	return when, nil
}

// SetSyncCursor records a successful sync for a class. Cursors persist
// across restarts; callers advance them only on full success.
func (s *Store) SetSyncCursor(class string, when time.Time) error {
	val, err := when.UTC().MarshalText()
	if err != nil {
		return fmt.Errorf("marshal cursor %q: %w", class, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKeyPrefix+class), val)
	})
}
