package structure

import (
	"github.com/google/btree"
)

const (
	DefaultCacheCapacity = 10000
	DefaultCacheFactor   = 0.2
)

type cacheEntry[V any] struct {
	value V
	seq   uint64
}

type seqItem[K comparable] struct {
	seq uint64
	key K
}

// CacheMap is a bounded map that evicts in batches by insertion order. Reads do
// not promote entries, so this is not an LRU.
//
// Not safe for concurrent use.
type CacheMap[K comparable, V any] struct {
	capacity  int
	factor    float64
	seq       uint64
	data      map[K]*cacheEntry[V]
	order     *btree.BTreeG[seqItem[K]]
	evictions uint64
	evicted   uint64
}

// NewCacheMap falls back to the defaults for a non-positive capacity or a factor
// outside (0, 1].
func NewCacheMap[K comparable, V any](capacity int, factor float64) *CacheMap[K, V] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if factor <= 0 || factor > 1 {
		factor = DefaultCacheFactor
	}
	return &CacheMap[K, V]{
		capacity: capacity,
		factor:   factor,
		data:     make(map[K]*cacheEntry[V]),
		order: btree.NewG(32, func(a, b seqItem[K]) bool {
			return a.seq < b.seq
		}),
	}
}

func (c *CacheMap[K, V]) Capacity() int   { return c.capacity }
func (c *CacheMap[K, V]) Factor() float64 { return c.factor }
func (c *CacheMap[K, V]) Len() int        { return len(c.data) }

// Evictions is the number of eviction batches run so far.
func (c *CacheMap[K, V]) Evictions() uint64 { return c.evictions }

// Evicted is the number of entries removed by eviction so far.
func (c *CacheMap[K, V]) Evicted() uint64 { return c.evicted }

// Put stores value under key. Storing a new key into a full map first removes
// the oldest max(1, capacity*factor) entries; re-putting a key refreshes its age.
func (c *CacheMap[K, V]) Put(key K, value V) {
	c.seq++
	if e, ok := c.data[key]; ok {
		c.order.Delete(seqItem[K]{seq: e.seq})
		e.value, e.seq = value, c.seq
		c.order.ReplaceOrInsert(seqItem[K]{seq: e.seq, key: key})
		return
	}
	if len(c.data) >= c.capacity {
		c.evict(max(1, int(float64(c.capacity)*c.factor)))
	}
	c.data[key] = &cacheEntry[V]{value: value, seq: c.seq}
	c.order.ReplaceOrInsert(seqItem[K]{seq: c.seq, key: key})
}

func (c *CacheMap[K, V]) evict(n int) {
	c.evictions++
	for i := 0; i < n; i++ {
		item, ok := c.order.DeleteMin()
		if !ok {
			return
		}
		delete(c.data, item.key)
		c.evicted++
	}
}

func (c *CacheMap[K, V]) Get(key K) (V, bool) {
	if e, ok := c.data[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

func (c *CacheMap[K, V]) Contains(key K) bool {
	_, ok := c.data[key]
	return ok
}

func (c *CacheMap[K, V]) Remove(key K) bool {
	e, ok := c.data[key]
	if !ok {
		return false
	}
	c.order.Delete(seqItem[K]{seq: e.seq})
	delete(c.data, key)
	return true
}

func (c *CacheMap[K, V]) Clear() {
	clear(c.data)
	c.order.Clear(false)
}
