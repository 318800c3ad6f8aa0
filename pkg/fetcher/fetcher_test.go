package fetcher

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
)

type mockSource struct {
	mu       sync.Mutex
	chunks   [][2]uint64
	rnd      *rand.Rand
	missing  map[uint64]bool
	failAt   uint64
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newMockSource() *mockSource {
	return &mockSource{rnd: rand.New(rand.NewSource(7)), missing: map[uint64]bool{}}
}

func (m *mockSource) GetBlocksInRange(ctx context.Context, start, end uint64) ([]chain.Fetched[string], error) {
	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if current <= seen || m.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	m.mu.Lock()
	m.chunks = append(m.chunks, [2]uint64{start, end})
	delay := time.Duration(m.rnd.Intn(5)) * time.Millisecond
	m.mu.Unlock()

	time.Sleep(delay)

	if m.failAt != 0 && start <= m.failAt && m.failAt < end {
		return nil, errors.New("connection refused")
	}

	var result []chain.Fetched[string]
	for h := start; h < end; h++ {
		if m.missing[h] {
			continue
		}
		result = append(result, chain.Fetched[string]{
			Height: h,
			Block:  &chain.Block[string]{Header: chain.Header{Number: h}},
		})
	}

	return result, nil
}

func collect(t *testing.T, f *Fetcher[string], start, end uint64) ([]chain.Fetched[string], error) {
	t.Helper()

	var result []chain.Fetched[string]
	for item, err := range f.Blocks(context.Background(), start, end) {
		if err != nil {
			return result, err
		}
		result = append(result, item)
	}

	return result, nil
}

func TestBlocksPreservesOrder(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8} {
		for _, chunkSize := range []int{1, 3, 4, 10} {
			source := newMockSource()
			f := New[string](source, workers, chunkSize)

			result, err := collect(t, f, 50, 137)
			require.NoError(t, err)
			require.Len(t, result, 87)

			for i, item := range result {
				require.Equal(t, uint64(50+i), item.Height)
				require.NotNil(t, item.Block)
				require.Equal(t, item.Height, item.Block.Header.Number)
			}
		}
	}
}

func TestBlocksConcurrencyBound(t *testing.T) {
	for _, workers := range []int{1, 2, 5} {
		source := newMockSource()
		f := New[string](source, workers, 2)

		_, err := collect(t, f, 0, 200)
		require.NoError(t, err)
		require.LessOrEqual(t, int(source.maxSeen.Load()), workers)
	}
}

func TestBlocksChunkDispatch(t *testing.T) {
	source := newMockSource()
	f := New[string](source, 3, 4)

	result, err := collect(t, f, 1000, 1010)
	require.NoError(t, err)
	require.Len(t, result, 10)
	for i, item := range result {
		require.Equal(t, uint64(1000+i), item.Height)
	}

	require.ElementsMatch(t, [][2]uint64{{1000, 1004}, {1004, 1008}, {1008, 1010}}, source.chunks)
}

func TestBlocksDispatchOrder(t *testing.T) {
	source := newMockSource()
	f := New[string](source, 1, 3)

	_, err := collect(t, f, 0, 10)
	require.NoError(t, err)

	// A single worker sees the chunks exactly in dispatch order.
	require.Equal(t, [][2]uint64{{0, 3}, {3, 6}, {6, 9}, {9, 10}}, source.chunks)
}

func TestBlocksYieldsAbsentHeights(t *testing.T) {
	source := newMockSource()
	source.missing[12] = true
	f := New[string](source, 2, 3)

	result, err := collect(t, f, 10, 16)
	require.NoError(t, err)
	require.Len(t, result, 6)
	require.Nil(t, result[2].Block)
	require.Equal(t, uint64(12), result[2].Height)
	require.NotNil(t, result[3].Block)
}

func TestBlocksStopsOnSourceError(t *testing.T) {
	source := newMockSource()
	source.failAt = 25
	f := New[string](source, 4, 5)

	result, err := collect(t, f, 10, 40)
	require.Error(t, err)
	require.Contains(t, err.Error(), "[25, 30)")
	require.Len(t, result, 15)
}

func TestBlocksEarlyBreak(t *testing.T) {
	source := newMockSource()
	f := New[string](source, 4, 2)

	var seen []uint64
	for item, err := range f.Blocks(context.Background(), 0, 100) {
		require.NoError(t, err)
		seen = append(seen, item.Height)
		if len(seen) == 5 {
			break
		}
	}

	require.Equal(t, []uint64{0, 1, 2, 3, 4}, seen)
}

func TestBlocksEmptyRange(t *testing.T) {
	source := newMockSource()
	f := New[string](source, 4, 2)

	result, err := collect(t, f, 10, 10)
	require.NoError(t, err)
	require.Empty(t, result)
	require.Empty(t, source.chunks)
}
