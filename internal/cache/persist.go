// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package cache

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
)

// snapshotEntry is the persisted form of one cache entry. Fingerprints are
// stable across process restarts, so a snapshot taken at shutdown is
// directly reusable at the next startup.
type snapshotEntry struct {
	Fingerprint string        `json:"fingerprint"`
	Table       *market.Table `json:"table"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// SaveSnapshot writes all valid entries to a badger database at path,
// replacing any previous snapshot. Warm-start optimization only: losing a
// snapshot costs recomputation, never correctness.
func (c *ResultCache) SaveSnapshot(path string) error {
	db, err := openSnapshotDB(path)
	if err != nil {
		return err
	}
	defer closeSnapshotDB(db)

	if err := db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.items))
	now := c.now()
	for _, elem := range c.items {
		entry := elem.Value.(*Entry)
		if !entry.Expired(now) {
			entries = append(entries, entry)
		}
	}
	c.mu.RUnlock()

	saved := 0
	batch := db.NewWriteBatch()
	defer batch.Cancel()
	for _, entry := range entries {
		data, err := json.Marshal(snapshotEntry{
			Fingerprint: entry.Fingerprint,
			Table:       entry.Table,
			CreatedAt:   entry.CreatedAt,
			TTL:         entry.TTL,
		})
		if err != nil {
			logging.Warn().Err(err).Str("fingerprint", entry.Fingerprint).
				Msg("Skipping unserializable cache entry in snapshot")
			continue
		}
		if err := batch.Set([]byte(entry.Fingerprint), data); err != nil {
			return fmt.Errorf("failed to stage snapshot entry: %w", err)
		}
		saved++
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	logging.Info().Int("entries", saved).Str("path", path).Msg("Cache snapshot saved")
	return nil
}

// LoadSnapshot restores entries from a badger snapshot at path. Entries past
// their TTL are skipped; malformed entries are logged and skipped. Missing
// snapshots are not an error (cold start).
func (c *ResultCache) LoadSnapshot(path string) error {
	db, err := openSnapshotDB(path)
	if err != nil {
		return err
	}
	defer closeSnapshotDB(db)

	loaded, skipped := 0, 0
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap snapshotEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				logging.Warn().Err(err).Msg("Skipping malformed snapshot entry")
				skipped++
				continue
			}
			if snap.Table == nil || c.now().After(snap.CreatedAt.Add(snap.TTL)) {
				skipped++
				continue
			}
			c.restore(&snap)
			loaded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	logging.Info().Int("loaded", loaded).Int("skipped", skipped).Str("path", path).
		Msg("Cache snapshot loaded")
	return nil
}

// restore inserts a snapshot entry preserving its original creation time,
// so the remaining TTL is honored rather than restarted.
func (c *ResultCache) restore(snap *snapshotEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[snap.Fingerprint]; exists {
		return
	}
	entry := &Entry{
		Fingerprint: snap.Fingerprint,
		Table:       snap.Table,
		CreatedAt:   snap.CreatedAt,
		TTL:         snap.TTL,
		SizeBytes:   snap.Table.SizeBytes(),
	}
	elem := c.lru.PushFront(entry)
	c.items[snap.Fingerprint] = elem
	c.totalBytes += entry.SizeBytes
	c.evictOverCapacityLocked()
}

func openSnapshotDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a snapshot store
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache snapshot store at %s: %w", path, err)
	}
	return db, nil
}

func closeSnapshotDB(db *badger.DB) {
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close cache snapshot store")
	}
}
