// Package fetcher fetches block ranges from a node through a bounded pool of
// workers while releasing blocks strictly in height order.
package fetcher

import (
	"context"
	"iter"

	"github.com/alitto/pond/v2"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
)

const (
	defaultWorkers   = 8
	defaultChunkSize = 5
)

// Source is the per-chunk primitive the workers call.
type Source[T any] interface {
	GetBlocksInRange(ctx context.Context, start, end uint64) ([]chain.Fetched[T], error)
}

type Fetcher[T any] struct {
	source    Source[T]
	workers   int
	chunkSize uint64
}

func New[T any](source Source[T], workers, chunkSize int) *Fetcher[T] {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Fetcher[T]{
		source:    source,
		workers:   workers,
		chunkSize: uint64(chunkSize),
	}
}

type chunk struct {
	start uint64
	end   uint64
}

// Blocks yields every height in [start, end) in ascending order. Chunks are
// fetched concurrently by at most `workers` pooled workers, and their results
// are consumed in dispatch order so that out-of-order completion never
// reorders the output.
//
// A height the source did not return is yielded with a nil Block. A source
// error is yielded once and ends the sequence. The sequence can be ranged
// over only once.
func (f *Fetcher[T]) Blocks(ctx context.Context, start, end uint64) iter.Seq2[chain.Fetched[T], error] {
	return func(yield func(chain.Fetched[T], error) bool) {
		if start >= end {
			return
		}

		pool := pond.NewResultPool[[]chain.Fetched[T]](f.workers, pond.WithContext(ctx))
		defer pool.StopAndWait()

		type pending struct {
			chunk  chunk
			result pond.Result[[]chain.Fetched[T]]
		}

		var queue []pending
		offset := start

		for {
			for len(queue) < f.workers && offset < end {
				c := chunk{start: offset, end: min(offset+f.chunkSize, end)}
				queue = append(queue, pending{
					chunk: c,
					result: pool.SubmitErr(func() ([]chain.Fetched[T], error) {
						return f.source.GetBlocksInRange(ctx, c.start, c.end)
					}),
				})
				offset = c.end
			}

			if len(queue) == 0 {
				return
			}

			head := queue[0]
			queue = queue[1:]

			fetched, err := head.result.Wait()
			if err != nil {
				yield(chain.Fetched[T]{Height: head.chunk.start}, errors.Wrapf(
					err, "fetching blocks [%d, %d)", head.chunk.start, head.chunk.end,
				))
				return
			}

			for _, item := range align(head.chunk, fetched) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// align returns exactly one entry per height of c, filling heights the source
// skipped or mislabelled with absent blocks.
func align[T any](c chunk, fetched []chain.Fetched[T]) []chain.Fetched[T] {
	byHeight := make(map[uint64]*chain.Block[T], len(fetched))
	for _, item := range fetched {
		if item.Height >= c.start && item.Height < c.end && item.Block != nil {
			byHeight[item.Height] = item.Block
		}
	}

	result := make([]chain.Fetched[T], 0, c.end-c.start)
	for h := c.start; h < c.end; h++ {
		result = append(result, chain.Fetched[T]{Height: h, Block: byHeight[h]})
	}

	return result
}
