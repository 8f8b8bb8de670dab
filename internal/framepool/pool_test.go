package framepool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/models"
)

func frame(n uint64) *models.Frame {
	return &models.Frame{Number: n, Color: models.NewPixelBuffer(2, 2, models.PixelFormatRGBA)}
}

func numbers(frames []*models.Frame) []uint64 {
	out := make([]uint64, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Number)
	}
	return out
}

func TestPool_EvictsSmallestOverCapacity(t *testing.T) {
	p := New(Config{Capacity: 3})
	for _, n := range []uint64{5, 2, 9, 7} {
		p.Store(frame(n))
	}

	assert.Equal(t, 3, p.Len())
	_, ok := p.Retrieve(2)
	assert.False(t, ok, "smallest number should be evicted")
	for _, n := range []uint64{5, 7, 9} {
		_, ok := p.Retrieve(n)
		assert.True(t, ok, "frame %d should be retained", n)
	}
	assert.Equal(t, uint64(1), p.Stats().Evicted)
}

func TestPool_SizeNeverExceedsCapacity(t *testing.T) {
	p := New(Config{Capacity: 120})
	for n := uint64(0); n < 1000; n++ {
		p.Store(frame(n))
		require.LessOrEqual(t, p.Len(), 120)
	}
	_, ok := p.Retrieve(879)
	assert.False(t, ok)
	_, ok = p.Retrieve(880)
	assert.True(t, ok)
}

func TestPool_StoreOverwrites(t *testing.T) {
	p := New(Config{Capacity: 2})
	first := frame(1)
	second := frame(1)
	p.Store(first)
	p.Store(second)

	got, ok := p.Retrieve(1)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, p.Len())
}

func TestPool_RetrieveDoesNotCommit(t *testing.T) {
	p := New(DefaultConfig())
	p.Store(frame(10))

	_, ok := p.Retrieve(10)
	require.True(t, ok)
	assert.False(t, p.IsCommitted(10))
	assert.Equal(t, []uint64{10}, numbers(p.RetrieveRange(10, 0)))
}

func TestPool_RetrieveRangeCommitsOnce(t *testing.T) {
	p := New(DefaultConfig())
	for n := uint64(100); n <= 200; n++ {
		p.Store(frame(n))
	}

	first := p.RetrieveRange(150, 5)
	assert.Equal(t, []uint64{145, 146, 147, 148, 149, 150, 151, 152, 153, 154, 155}, numbers(first))
	for n := uint64(145); n <= 155; n++ {
		assert.True(t, p.IsCommitted(n))
	}

	assert.Empty(t, p.RetrieveRange(150, 5))

	overlap := p.RetrieveRange(157, 3)
	assert.Equal(t, []uint64{156, 157, 158, 159, 160}, numbers(overlap))
}

func TestPool_RetrieveRangeSkipsMissing(t *testing.T) {
	p := New(DefaultConfig())
	p.Store(frame(3))
	p.Store(frame(5))

	assert.Equal(t, []uint64{3, 5}, numbers(p.RetrieveRange(4, 2)))
	assert.Empty(t, p.RetrieveRange(1000, 5))
}

func TestPool_RetrieveRangeNearZero(t *testing.T) {
	p := New(DefaultConfig())
	p.Store(frame(0))
	p.Store(frame(1))

	assert.Equal(t, []uint64{0, 1}, numbers(p.RetrieveRange(1, 5)))
}

func TestPool_RemoveKeepsCommitted(t *testing.T) {
	p := New(DefaultConfig())
	p.Store(frame(1))
	require.Len(t, p.RetrieveRange(1, 0), 1)

	p.Remove(1)
	_, ok := p.Retrieve(1)
	assert.False(t, ok)
	assert.True(t, p.IsCommitted(1))

	p.Store(frame(1))
	assert.Empty(t, p.RetrieveRange(1, 0), "committed number must not be returned again")
}

func TestPool_RemoveThenEvictSkipsStaleEntries(t *testing.T) {
	p := New(Config{Capacity: 2})
	p.Store(frame(1))
	p.Store(frame(2))
	p.Remove(1)
	p.Store(frame(3))
	p.Store(frame(4))

	assert.Equal(t, 2, p.Len())
	_, ok := p.Retrieve(2)
	assert.False(t, ok)
	_, ok = p.Retrieve(4)
	assert.True(t, ok)
}

func TestPool_ClearResetsCommitted(t *testing.T) {
	p := New(DefaultConfig())
	p.Store(frame(1))
	p.RetrieveRange(1, 0)

	p.Clear()
	assert.Zero(t, p.Len())
	assert.False(t, p.IsCommitted(1))
}

func TestPool_ConcurrentAccess(t *testing.T) {
	p := New(Config{Capacity: 50})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for n := base; n < base+500; n++ {
				p.Store(frame(n))
				p.Retrieve(n - 1)
				if n%10 == 0 {
					p.RetrieveRange(n, 2)
					p.Remove(n)
				}
			}
		}(uint64(w) * 1000)
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Len(), 50)
}

func TestNew_DefaultsCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(Config{}).Capacity())
}
