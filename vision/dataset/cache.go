package dataset

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/tsawler/go-segkit/tensor"
)

// VolumeCache keeps the most recently used volumes in memory
type VolumeCache struct {
	mu      sync.Mutex
	cache   map[string]*tensor.Tensor
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int

	// Statistics
	hits   int64
	misses int64
}

// NewVolumeCache creates a cache holding at most maxSize volumes. A maxSize
// of zero or less disables caching.
func NewVolumeCache(maxSize int) *VolumeCache {
	return &VolumeCache{
		cache:   make(map[string]*tensor.Tensor),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves a volume from the cache
func (vc *VolumeCache) Get(key string) (*tensor.Tensor, bool) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vol, exists := vc.cache[key]; exists {
		vc.lru.MoveToFront(vc.lruMap[key])
		vc.hits++
		return vol, true
	}

	vc.misses++
	return nil, false
}

// Put adds a volume, evicting the least recently used ones over capacity
func (vc *VolumeCache) Put(key string, vol *tensor.Tensor) {
	if vc.maxSize <= 0 {
		return
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if elem, exists := vc.lruMap[key]; exists {
		vc.cache[key] = vol
		vc.lru.MoveToFront(elem)
		return
	}

	vc.lruMap[key] = vc.lru.PushFront(key)
	vc.cache[key] = vol

	for vc.lru.Len() > vc.maxSize {
		oldest := vc.lru.Back()
		key := oldest.Value.(string)
		vc.lru.Remove(oldest)
		delete(vc.lruMap, key)
		delete(vc.cache, key)
	}
}

// GetOrLoad returns the cached volume for key, calling load on a miss
func (vc *VolumeCache) GetOrLoad(key string, load func(string) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	if vol, ok := vc.Get(key); ok {
		return vol, nil
	}
	vol, err := load(key)
	if err != nil {
		return nil, err
	}
	vc.Put(key, vol)
	return vol, nil
}

// Stats returns cache statistics
func (vc *VolumeCache) Stats() CacheStats {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	stats := CacheStats{
		Size:    vc.lru.Len(),
		MaxSize: vc.maxSize,
		Hits:    vc.hits,
		Misses:  vc.misses,
	}
	if total := vc.hits + vc.misses; total > 0 {
		stats.HitRate = float64(vc.hits) / float64(total) * 100
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d volumes, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
