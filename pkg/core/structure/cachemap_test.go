package structure

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMapEvictsOldestBatch(t *testing.T) {
	c := NewCacheMap[int, string](200, 0.2)
	for i := 0; i < 200; i++ {
		c.Put(i, fmt.Sprint(i))
		require.LessOrEqual(t, c.Len(), 200)
	}
	assert.Equal(t, uint64(0), c.Evictions())

	c.Put(200, "200")
	assert.Equal(t, uint64(1), c.Evictions())
	assert.Equal(t, uint64(40), c.Evicted())
	assert.Equal(t, 161, c.Len())
	for i := 0; i < 40; i++ {
		assert.False(t, c.Contains(i), "key %d should be gone", i)
	}
	v, ok := c.Get(40)
	require.True(t, ok)
	assert.Equal(t, "40", v)
}

func TestCacheMapNeverExceedsCapacity(t *testing.T) {
	c := NewCacheMap[int, int](150, 0.5)
	for i := 0; i < 2000; i++ {
		c.Put(i%700, i)
		require.LessOrEqual(t, c.Len(), 150)
	}
}

func TestCacheMapRefreshOnPut(t *testing.T) {
	c := NewCacheMap[string, int](3, 0.1)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// reads do not promote, a re-put does
	_, _ = c.Get("a")
	c.Put("b", 20)
	c.Put("d", 4)

	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	v, _ := c.Get("b")
	assert.Equal(t, 20, v)

	c.Put("e", 5)
	assert.False(t, c.Contains("c"), "minimum batch of one")
	assert.Equal(t, 3, c.Len())
}

func TestCacheMapRemoveAndClear(t *testing.T) {
	c := NewCacheMap[int, int](0, 0)
	assert.Equal(t, DefaultCacheCapacity, c.Capacity())
	assert.Equal(t, DefaultCacheFactor, c.Factor())

	c.Put(1, 1)
	c.Put(2, 2)
	assert.True(t, c.Remove(1))
	assert.False(t, c.Remove(1))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Put(3, 3)
	assert.True(t, c.Contains(3))
}

func TestBloomFilter(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, bf.Contains([]byte(fmt.Sprintf("key-%d", i))))
	}

	falsePositives := 0
	for i := 1000; i < 11000; i++ {
		if bf.Contains([]byte(fmt.Sprintf("key-%d", i))) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 500)

	bf.Reset()
	assert.False(t, bf.Contains([]byte("key-1")))
}
