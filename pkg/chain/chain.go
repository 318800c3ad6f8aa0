// Package chain holds the node-facing types shared by the fetcher and the
// indexer.
package chain

import "context"

// NodeClient is the subset of a node RPC API the indexer needs.
type NodeClient[T any] interface {
	GetTipHeight(ctx context.Context) (uint64, error)
	// GetBlocksInRange returns one entry per height in [start, end), in
	// ascending order. A height the node could not serve has a nil Block.
	GetBlocksInRange(ctx context.Context, start, end uint64) ([]Fetched[T], error)
	GetHeaderByHeight(ctx context.Context, height uint64) (*Header, error)
}

// ServerInfoProvider is implemented by node clients that can report the node
// version.
type ServerInfoProvider interface {
	GetServerInfo(ctx context.Context) (string, error)
}

type Header struct {
	Hash       string
	ParentHash string
	Number     uint64
	// Milliseconds since the Unix epoch.
	Timestamp uint64
}

type Block[T any] struct {
	Header       Header
	Transactions []T
}

// Fetched pairs a height with its block, or nil if the block is absent.
type Fetched[T any] struct {
	Height uint64
	Block  *Block[T]
}
