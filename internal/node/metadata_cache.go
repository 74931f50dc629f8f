package node

import (
	"context"
	"sync"

	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
)

// MetadataCache is the process-wide protocol-metadata cache named in the
// design notes: global mutable state limited to this and the caught-up
// flag, both behind a reader-writer abstraction and initialized once per
// process. A cache miss triggers exactly one RPC, and concurrent misses for
// the same version are coalesced so only one fetch is in flight.
type MetadataCache struct {
	client Client

	mu      sync.RWMutex
	entries map[uint32]ledger.RuntimeMetadata
	inFlight map[uint32]chan struct{}
}

// NewMetadataCache constructs an empty cache backed by client.
func NewMetadataCache(client Client) *MetadataCache {
	return &MetadataCache{
		client:   client,
		entries:  make(map[uint32]ledger.RuntimeMetadata),
		inFlight: make(map[uint32]chan struct{}),
	}
}

// Get returns the metadata for protocolVersion, fetching and caching it on
// first use.
func (c *MetadataCache) Get(ctx context.Context, protocolVersion uint32) (ledger.RuntimeMetadata, error) {
	c.mu.RLock()
	if md, ok := c.entries[protocolVersion]; ok {
		c.mu.RUnlock()
		return md, nil
	}
	wait, fetching := c.inFlight[protocolVersion]
	c.mu.RUnlock()

	if fetching {
		select {
		case <-wait:
		case <-ctx.Done():
			return ledger.RuntimeMetadata{}, ctx.Err()
		}
		return c.Get(ctx, protocolVersion)
	}

	c.mu.Lock()
	if md, ok := c.entries[protocolVersion]; ok {
		c.mu.Unlock()
		return md, nil
	}
	if wait, fetching := c.inFlight[protocolVersion]; fetching {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ledger.RuntimeMetadata{}, ctx.Err()
		}
		return c.Get(ctx, protocolVersion)
	}
	done := make(chan struct{})
	c.inFlight[protocolVersion] = done
	c.mu.Unlock()

	md, err := c.client.Metadata(ctx, protocolVersion)

	c.mu.Lock()
	delete(c.inFlight, protocolVersion)
	if err == nil {
		c.entries[protocolVersion] = md
	}
	close(done)
	c.mu.Unlock()

	return md, err
}
