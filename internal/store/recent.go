// Package store holds persistence: per-guild settings in SQLite and the
// in-memory recently-played track cache.
package store

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RecentTracks remembers recently played tracks for the duplicate notice.
// A Bloom filter answers the common negative case without touching the LRU;
// the LRU is the authority and bounds memory. The filter never forgets, so
// its false positives after eviction are resolved by the LRU lookup.
type RecentTracks struct {
	mutex             sync.RWMutex
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, time.Time]
	capacity          int
	falsePositiveRate float64
}

// NewRecentTracks creates a cache bounded to capacity entries.
func NewRecentTracks(capacity int, falsePositiveRate float64) *RecentTracks {
	if capacity < 1 {
		capacity = 1
	}
	cache, _ := lru.New[string, time.Time](capacity)
	return &RecentTracks{
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		lru:               cache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has checks whether the track key was played recently.
func (r *RecentTracks) Has(key string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.bloom.TestString(key) {
		return false
	}
	return r.lru.Contains(key)
}

// Add records a track key, evicting the oldest entry at capacity.
func (r *RecentTracks) Add(key string) {
	if key == "" {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bloom.AddString(key)
	r.lru.Add(key, time.Now())
}

// Size returns the number of keys currently cached.
func (r *RecentTracks) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lru.Len()
}

// Clear drops all cached keys and rebuilds the filter.
func (r *RecentTracks) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bloom = bloom.NewWithEstimates(uint(r.capacity), r.falsePositiveRate)
	r.lru.Purge()
}
