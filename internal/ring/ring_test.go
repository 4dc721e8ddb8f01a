package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_FIFOEviction(t *testing.T) {
	b := NewBuffer[string](3)

	_, evicted := b.Push("a")
	assert.False(t, evicted)
	b.Push("b")
	b.Push("c")

	evictedVal, evicted := b.Push("d")
	require.True(t, evicted)
	assert.Equal(t, "a", evictedVal)

	assert.Equal(t, []string{"b", "c", "d"}, b.Snapshot())
}

func TestBuffer_Recent(t *testing.T) {
	b := NewBuffer[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	assert.Equal(t, []int{5, 4, 3}, b.Recent(3))
	assert.Equal(t, []int{5, 4, 3, 2, 1}, b.Recent(10))
}

func TestBuffer_EachOrdersOldestFirst(t *testing.T) {
	b := NewBuffer[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Push(4) // evicts 1

	var seen []int
	b.Each(func(v int) { seen = append(seen, v) })
	assert.Equal(t, []int{2, 3, 4}, seen)
}

// TestLRUMap_EvictionOrder mirrors spec.md §8 scenario 3: capacity=3,
// insert a,b,c, get(a), insert d → remaining {a,c,d}; evict callback
// fires exactly once for ("b", bValue).
func TestLRUMap_EvictionOrder(t *testing.T) {
	var evictedKey string
	var evictedVal int
	evictCount := 0

	m := NewLRUMap(3, func(k string, v int) {
		evictCount++
		evictedKey = k
		evictedVal = v
	})

	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	_, ok := m.Get("a")
	require.True(t, ok)

	m.Set("d", 4)

	assert.Equal(t, 1, evictCount)
	assert.Equal(t, "b", evictedKey)
	assert.Equal(t, 2, evictedVal)

	for _, k := range []string{"a", "c", "d"} {
		_, ok := m.Peek(k)
		assert.True(t, ok, "expected %s to remain", k)
	}
	_, ok = m.Peek("b")
	assert.False(t, ok, "expected b to be evicted")
}

func TestLRUMap_UpdateExistingDoesNotEvict(t *testing.T) {
	evictions := 0
	m := NewLRUMap(2, func(string, int) { evictions++ })

	m.Set("x", 1)
	m.Set("y", 2)
	m.Set("x", 10)

	assert.Equal(t, 0, evictions)
	v, ok := m.Peek("x")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestLRUMap_DeleteAndLen(t *testing.T) {
	m := NewLRUMap[string, int](4, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	assert.Equal(t, 2, m.Len())

	m.Delete("a")
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestLRUMap_MinimumCapacity(t *testing.T) {
	m := NewLRUMap[string, int](0, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Peek("b")
	assert.True(t, ok)
}
