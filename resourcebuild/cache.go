package resourcebuild

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var cacheBucket = []byte("build_cache")

// CacheRecord is the persisted state spec.md's cache-check phase compares
// a rescan against: content hash, modification time, the secondary-input
// fingerprint (hash of the dependency set's own content hashes), and the
// platform-configuration layer hashes in effect when this unit last built.
type CacheRecord struct {
	ContentHash          [32]byte
	ModTime              time.Time
	SecondaryFingerprint string
	PlatformLayerHashes  []string
}

// UpToDate implements spec.md §4.4 phase 6: a unit is skipped only when
// every tracked input is unchanged.
func (rec CacheRecord) UpToDate(entry Entry, secondaryFingerprint string, platformLayerHashes []string) bool {
	if rec.ContentHash != entry.ContentHash {
		return false
	}
	if !rec.ModTime.Equal(entry.ModTime) {
		return false
	}
	if rec.SecondaryFingerprint != secondaryFingerprint {
		return false
	}
	if len(rec.PlatformLayerHashes) != len(platformLayerHashes) {
		return false
	}
	for i := range rec.PlatformLayerHashes {
		if rec.PlatformLayerHashes[i] != platformLayerHashes[i] {
			return false
		}
	}
	return true
}

// Cache is the per-project persisted build-cache index, a single bbolt
// file surviving between CLI invocations (spec.md §6 "Persisted
// build-cache state").
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (creating if absent) the bbolt-backed cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("resourcebuild: opening build cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resourcebuild: initialising build cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func cacheKey(target, entryName, rulePrimaryType string) []byte {
	return []byte(target + "|" + entryName + "|" + rulePrimaryType)
}

// Get looks up the cached record for (target, entry name, rule).
func (c *Cache) Get(target, entryName, rulePrimaryType string) (CacheRecord, bool, error) {
	var rec CacheRecord
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(cacheBucket).Get(cacheKey(target, entryName, rulePrimaryType))
		if raw == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
	})
	if err != nil {
		return CacheRecord{}, false, fmt.Errorf("resourcebuild: reading build cache: %w", err)
	}
	return rec, found, nil
}

// Put persists the record for (target, entry name, rule).
func (c *Cache) Put(target, entryName, rulePrimaryType string, rec CacheRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("resourcebuild: encoding build cache record: %w", err)
	}
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Put(cacheKey(target, entryName, rulePrimaryType), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("resourcebuild: writing build cache: %w", err)
	}
	return nil
}
