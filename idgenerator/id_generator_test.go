package idgenerator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("returns non-nil generator", func(t *testing.T) {
		gen := NewIdGenerator(0)
		require.NotNil(t, gen)
	})

	t.Run("first Id returns 1 for a fresh generator", func(t *testing.T) {
		gen := NewIdGenerator(0)
		assert.Equal(t, int32(1), gen.Id())
	})

	t.Run("first Id returns startValue+1 when startValue is non-zero", func(t *testing.T) {
		gen := NewIdGenerator(100)
		assert.Equal(t, int32(101), gen.Peek())
		assert.Equal(t, int32(101), gen.Id())
	})

	t.Run("negative start is clamped to zero", func(t *testing.T) {
		gen := NewIdGenerator(-20)
		assert.Equal(t, int32(1), gen.Id())
	})
}

func TestIdGenerator_Id_sequential(t *testing.T) {
	t.Run("ids increase by one starting from 1", func(t *testing.T) {
		gen := NewIdGenerator(0)
		for want := int32(1); want <= 50; want++ {
			assert.Equal(t, want, gen.Id())
		}
	})

	t.Run("no duplicate ids in sequence", func(t *testing.T) {
		gen := NewIdGenerator(0)
		seen := make(map[int32]bool)
		for i := 0; i < 1000; i++ {
			id := gen.Id()
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
	})

	t.Run("peek does not consume", func(t *testing.T) {
		gen := NewIdGenerator(0)
		assert.Equal(t, int32(1), gen.Peek())
		assert.Equal(t, int32(1), gen.Peek())
		assert.Equal(t, int32(1), gen.Id())
		assert.Equal(t, int32(2), gen.Peek())
	})
}

func TestIdGenerator_Id_wraparound(t *testing.T) {
	gen := NewIdGenerator(math.MaxInt32 - 1)

	assert.Equal(t, int32(math.MaxInt32), gen.Id())
	assert.Equal(t, int32(1), gen.Peek())
	assert.Equal(t, int32(1), gen.Id(), "wraps to 1, never 0 or -1")
	assert.Equal(t, int32(2), gen.Id())
}

func TestIdGenerator_Id_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]int32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.Id()
		}(i)
	}
	wg.Wait()

	seen := make(map[int32]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.GreaterOrEqual(t, id, int32(1))
		assert.LessOrEqual(t, id, int32(n))
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestIdGenerator_multiple_generators_independent(t *testing.T) {
	gen1 := NewIdGenerator(0)
	gen2 := NewIdGenerator(0)

	assert.Equal(t, int32(1), gen1.Id())
	assert.Equal(t, int32(1), gen2.Id())
	assert.Equal(t, int32(2), gen1.Id())
	assert.Equal(t, int32(2), gen2.Id())
}
