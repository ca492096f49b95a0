package structure

import (
	"math"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// BloomFilter answers "definitely absent" for encoded keys. Removing a key is not
// supported; callers tolerate the extra false positives that leaves behind.
type BloomFilter struct {
	bitset []bool
	k      uint
	m      uint
	count  uint
	lock   sync.RWMutex
}

func NewBloomFilter(n uint, p float64) *BloomFilter {
	// 理论最佳公式
	// m = - (n * ln(p)) / (ln(2)^2)
	// k = (m / n) * ln(2)
	if n == 0 {
		n = 1
	}
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := uint(math.Ceil((float64(m) / float64(n)) * math.Ln2))

	return &BloomFilter{
		bitset: make([]bool, m),
		k:      k,
		m:      m,
	}
}

func (bf *BloomFilter) Add(key []byte) {
	bf.lock.Lock()
	defer bf.lock.Unlock()

	h1, h2 := hashes(key)
	for i := uint(0); i < bf.k; i++ {
		bf.bitset[bf.position(h1, h2, i)] = true
	}
	bf.count++
}

func (bf *BloomFilter) Contains(key []byte) bool {
	bf.lock.RLock()
	defer bf.lock.RUnlock()

	h1, h2 := hashes(key)
	for i := uint(0); i < bf.k; i++ {
		if !bf.bitset[bf.position(h1, h2, i)] {
			return false
		}
	}
	return true
}

// Reset clears every bit, e.g. before rebuilding from a restored snapshot.
func (bf *BloomFilter) Reset() {
	bf.lock.Lock()
	defer bf.lock.Unlock()
	clear(bf.bitset)
	bf.count = 0
}

func (bf *BloomFilter) position(h1, h2 uint32, i uint) uint32 {
	return (h1 + uint32(i)*h2) % uint32(bf.m)
}

// 双重哈希：一次 xxhash 拆成高低两半
func hashes(key []byte) (uint32, uint32) {
	h := xxhash.Checksum64(key)
	return uint32(h), uint32(h>>32) | 1
}
