package domain

import "time"

// Priority is an eviction hint for cached blobs
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// CachedVideo is a cached video blob.
// Key is the video id, suffixed with PartialSuffix for a byte-range prefix.
type CachedVideo struct {
	Key      string
	Blob     []byte
	Priority Priority
	StoredAt time.Time
}

// PartialSuffix marks cache keys that hold only a prefix of a video
const PartialSuffix = "-partial"

// PartialKey returns the cache key of a video's prefix blob
func PartialKey(videoID string) string {
	return videoID + PartialSuffix
}

// BlobCache is a key -> blob store used by the progressive loader
type BlobCache interface {
	Get(key string) ([]byte, bool)
	Store(key string, blob []byte, priority Priority) error
	Remove(key string) error
}

// CacheStats summarizes cache usage
type CacheStats struct {
	Entries  int
	Bytes    int64
	MaxBytes int64 // 0 = unbounded
}
