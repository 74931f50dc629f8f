package chainindexer

import (
	"context"
	"testing"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/node"
)

func TestSpoAggregateFromAttributesRequiresSpoID(t *testing.T) {
	if _, ok := spoAggregateFromAttributes(map[string]any{}, 1); ok {
		t.Error("expected no aggregate without a spo_id attribute")
	}
	agg, ok := spoAggregateFromAttributes(map[string]any{"spo_id": "spo-1"}, 42)
	if !ok {
		t.Fatal("expected an aggregate")
	}
	if string(agg.SpoID) != "spo-1" || agg.BlockHeight != 42 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
}

type fakeClient struct {
	heads chan node.FinalizedHead
}

func (f *fakeClient) SubscribeFinalizedHeads(ctx context.Context) (<-chan node.FinalizedHead, error) {
	return f.heads, nil
}
func (f *fakeClient) BlockBody(ctx context.Context, hash domain.Hash) (ledger.RawBlock, error) {
	return ledger.RawBlock{}, nil
}
func (f *fakeClient) Metadata(ctx context.Context, protocolVersion uint32) (ledger.RuntimeMetadata, error) {
	return ledger.RuntimeMetadata{}, nil
}
func (f *fakeClient) Close() error { return nil }

// blockBodyErrClient always fails to fetch a block body with a transient
// error, simulating a store/node hiccup on a given head.
type blockBodyErrClient struct {
	heads chan node.FinalizedHead
	calls int
}

func (f *blockBodyErrClient) SubscribeFinalizedHeads(ctx context.Context) (<-chan node.FinalizedHead, error) {
	return f.heads, nil
}
func (f *blockBodyErrClient) BlockBody(ctx context.Context, hash domain.Hash) (ledger.RawBlock, error) {
	f.calls++
	return ledger.RawBlock{}, apperr.New(apperr.KindTransient, "node unreachable")
}
func (f *blockBodyErrClient) Metadata(ctx context.Context, protocolVersion uint32) (ledger.RuntimeMetadata, error) {
	return ledger.RuntimeMetadata{}, nil
}
func (f *blockBodyErrClient) Close() error { return nil }

// TestRunRetriesTransientErrorInsteadOfSkipping asserts that a retriable
// failure on a head does not make Run return: after 50ms Run is still
// running and BlockBody has been called for the head, and Run returns only
// once ctx is cancelled.
func TestRunRetriesTransientErrorInsteadOfSkipping(t *testing.T) {
	client := &blockBodyErrClient{heads: make(chan node.FinalizedHead, 1)}
	idx := New(client, ledger.NewReference(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	client.heads <- node.FinalizedHead{Height: 1}

	// Give Run time to fetch the head (the first backoff delay is ~1s, so a
	// second attempt is not expected within this window) before cancelling.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned early on a retriable error: %v", err)
	default:
	}
	if client.calls < 1 {
		t.Fatal("expected at least one BlockBody attempt on the stuck head")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	client := &fakeClient{heads: make(chan node.FinalizedHead)}
	idx := New(client, ledger.NewReference(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
