package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// entryMeta is the per-blob bookkeeping persisted next to the blob
type entryMeta struct {
	Size     int64           `json:"size"`
	Priority domain.Priority `json:"priority"`
	StoredAt time.Time       `json:"storedAt"`
}

// Options configures a VideoStore
type Options struct {
	Dir       string // Base cache directory; empty = memory-only
	Namespace string // Separates stores sharing Dir (e.g. one per backend URL)
	MaxBytes  int64  // Capacity; 0 = unbounded
	Logger    *slog.Logger
}

// VideoStore implements domain.BlobCache using BoltDB.
type VideoStore struct {
	db       *bolt.DB
	mu       sync.Mutex // Guards index, used and mem
	maxBytes int64
	logger   *slog.Logger

	// Eviction index, mirrors bucketMeta
	index map[string]entryMeta
	used  int64

	// Blob storage in memory-only mode
	mem map[string][]byte
}

// Open opens (or creates) the store for opts.Namespace under opts.Dir.
func Open(opts Options) (*VideoStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &VideoStore{
		maxBytes: opts.MaxBytes,
		logger:   logger,
		index:    make(map[string]entryMeta),
	}

	if opts.Dir == "" {
		// Memory-only mode (no persistence)
		s.mem = make(map[string][]byte)
		return s, nil
	}

	dir := opts.Dir
	if opts.Namespace != "" {
		dir = filepath.Join(opts.Dir, hashNamespace(opts.Namespace))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "videos.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	s.db = db

	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	logger.Debug("opened video cache", "path", dbPath, "entries", len(s.index), "bytes", s.used)
	return s, nil
}

func hashNamespace(namespace string) string {
	normalized := strings.TrimRight(strings.ToLower(namespace), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// loadIndex rebuilds the eviction index from the meta bucket
func (s *VideoStore) loadIndex() error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var m entryMeta
			if err := json.Unmarshal(v, &m); err != nil {
				s.logger.Warn("skipping corrupt cache metadata", "key", string(k), "error", err)
				return nil
			}
			s.index[string(k)] = m
			s.used += m.Size
			return nil
		})
	})
}

func (s *VideoStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns a copy of the blob stored under key
func (s *VideoStore) Get(key string) ([]byte, bool) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		data, ok := s.mem[key]
		return data, ok
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketBlobs).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data, data != nil
}

// Lookup returns the blob together with its metadata
func (s *VideoStore) Lookup(key string) (domain.CachedVideo, bool) {
	data, ok := s.Get(key)
	if !ok {
		return domain.CachedVideo{}, false
	}
	s.mu.Lock()
	m := s.index[key]
	s.mu.Unlock()
	return domain.CachedVideo{Key: key, Blob: data, Priority: m.Priority, StoredAt: m.StoredAt}, true
}

// Store saves blob under key, evicting other entries if the capacity is exceeded.
// Low priority entries go first, oldest first within a priority.
func (s *VideoStore) Store(key string, blob []byte, priority domain.Priority) error {
	size := int64(len(blob))
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", domain.ErrTooLarge, size, s.maxBytes)
	}

	meta := entryMeta{Size: size, Priority: priority, StoredAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()

	victims := s.victimsLocked(key, size)

	if s.db == nil {
		for _, v := range victims {
			delete(s.mem, v)
		}
		s.mem[key] = blob
	} else {
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		err = s.db.Update(func(tx *bolt.Tx) error {
			blobs, metas := tx.Bucket(bucketBlobs), tx.Bucket(bucketMeta)
			for _, v := range victims {
				if err := blobs.Delete([]byte(v)); err != nil {
					return err
				}
				if err := metas.Delete([]byte(v)); err != nil {
					return err
				}
			}
			if err := blobs.Put([]byte(key), blob); err != nil {
				return err
			}
			return metas.Put([]byte(key), metaBytes)
		})
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	for _, v := range victims {
		s.used -= s.index[v].Size
		delete(s.index, v)
		s.logger.Debug("evicted cached video", "key", v)
	}
	if old, ok := s.index[key]; ok {
		s.used -= old.Size
	}
	s.index[key] = meta
	s.used += size
	return nil
}

// victimsLocked picks the entries to evict so that a blob of size bytes fits.
// The entry being replaced (key) is never a victim.
func (s *VideoStore) victimsLocked(key string, size int64) []string {
	if s.maxBytes <= 0 {
		return nil
	}
	used := s.used
	if old, ok := s.index[key]; ok {
		used -= old.Size
	}
	if used+size <= s.maxBytes {
		return nil
	}

	type candidate struct {
		key  string
		meta entryMeta
	}
	candidates := make([]candidate, 0, len(s.index))
	for k, m := range s.index {
		if k != key {
			candidates = append(candidates, candidate{k, m})
		}
	}
	// Low priority before high, then oldest first
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].meta, candidates[j].meta
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.StoredAt.Before(b.StoredAt)
	})

	var victims []string
	for _, c := range candidates {
		if used+size <= s.maxBytes {
			break
		}
		victims = append(victims, c.key)
		used -= c.meta.Size
	}
	return victims
}

// Remove deletes key. Removing a missing key is not an error.
func (s *VideoStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		delete(s.mem, key)
	} else {
		err := s.db.Update(func(tx *bolt.Tx) error {
			if err := tx.Bucket(bucketBlobs).Delete([]byte(key)); err != nil {
				return err
			}
			return tx.Bucket(bucketMeta).Delete([]byte(key))
		})
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	if m, ok := s.index[key]; ok {
		s.used -= m.Size
		delete(s.index, key)
	}
	return nil
}

// Stats returns current usage
func (s *VideoStore) Stats() domain.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CacheStats{Entries: len(s.index), Bytes: s.used, MaxBytes: s.maxBytes}
}

// Clear deletes every entry
func (s *VideoStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		s.mem = make(map[string][]byte)
	} else {
		err := s.db.Update(func(tx *bolt.Tx) error {
			for _, bucket := range [][]byte{bucketBlobs, bucketMeta} {
				if err := tx.DeleteBucket(bucket); err != nil {
					return err
				}
				if _, err := tx.CreateBucket(bucket); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.index = make(map[string]entryMeta)
	s.used = 0
	return nil
}
