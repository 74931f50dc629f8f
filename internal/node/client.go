// Package node models the Substrate node's WebSocket JSON-RPC surface: a
// subscription yielding finalized block headers, a method to fetch full
// block bodies by hash, and out-of-band runtime metadata fetched and
// cached by protocol version. The node's own RPC transport and SCALE
// metadata format are external collaborators; this package only specifies
// the calls into them and a thin, real WebSocket client good enough to
// drive the chain indexer end to end.
package node

import (
	"context"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
)

// FinalizedHead is one message from the finalized-heads subscription: the
// hash to fetch next.
type FinalizedHead struct {
	Hash   domain.Hash
	Height uint64
}

// Client is the seam between the chain indexer and the node's RPC surface.
type Client interface {
	// SubscribeFinalizedHeads opens the node's finalized-head subscription.
	// The returned channel is closed when ctx is cancelled or the
	// underlying connection is torn down after exhausting its reconnect
	// policy.
	SubscribeFinalizedHeads(ctx context.Context) (<-chan FinalizedHead, error)

	// BlockBody fetches one block's full body by hash.
	BlockBody(ctx context.Context, hash domain.Hash) (ledger.RawBlock, error)

	// Metadata fetches the schema-aware runtime metadata for a protocol
	// version. Callers should go through a MetadataCache rather than
	// calling this directly on every block.
	Metadata(ctx context.Context, protocolVersion uint32) (ledger.RuntimeMetadata, error)

	// Close releases the underlying connection.
	Close() error
}
