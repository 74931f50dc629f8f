// Package chainindexer drives the fetch -> decode -> apply -> persist
// pipeline: subscribe to finalized block heads, fetch each block's body,
// decode it against the right protocol version's metadata, apply every
// transaction to the ledger state, persist the result in one transaction,
// and publish a block_indexed event. Blocks are processed one at a time in
// height order; there is never more than one block in flight, so no
// cross-block ordering invariant needs its own lock.
package chainindexer

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/node"
	"github.com/midnight-ntwrk/midnight-indexer/internal/objectstore"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/retry"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

// Indexer owns the block ingestion loop.
type Indexer struct {
	client   node.Client
	metadata *node.MetadataCache
	runtime  ledger.Runtime
	store    *store.Store
	objects  *objectstore.Store
	bus      pubsub.Publisher
	log      *logging.Logger

	state ledger.State
}

// New constructs an Indexer. Run calls Resume itself when no in-memory
// state has been set up yet.
func New(client node.Client, runtime ledger.Runtime, st *store.Store, objects *objectstore.Store, bus pubsub.Publisher) *Indexer {
	return &Indexer{
		client:   client,
		metadata: node.NewMetadataCache(client),
		runtime:  runtime,
		store:    st,
		objects:  objects,
		bus:      bus,
		log:      logging.GetDefault().Component("chain-indexer"),
	}
}

// Resume sets up the ledger state the runtime needs to keep applying
// blocks. It starts from the runtime's empty NewState; it does not read a
// snapshot from the object store or replay already-indexed blocks.
func (idx *Indexer) Resume(ctx context.Context) error {
	idx.state = idx.runtime.NewState()
	return nil
}

// Run subscribes to finalized heads and processes them in order until ctx
// is cancelled. chain_subscribeFinalizedHeads is a forward-only push
// subscription with no per-height redelivery, so a transient error (e.g. a
// store-commit failure) retries the same head from idx.state with backoff
// until it succeeds or ctx is cancelled, rather than moving on and silently
// skipping the block; a malformed block or protocol violation is fatal, per
// the failure-classification design.
func (idx *Indexer) Run(ctx context.Context) error {
	if idx.state == nil {
		if err := idx.Resume(ctx); err != nil {
			return err
		}
	}

	heads, err := idx.client.SubscribeFinalizedHeads(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "subscribe finalized heads", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case head, ok := <-heads:
			if !ok {
				return apperr.New(apperr.KindTransient, "finalized heads subscription closed")
			}
			err := retry.Do(ctx, retry.Unlimited(), func(ctx context.Context) error {
				err := idx.processBlock(ctx, head)
				if err != nil && apperr.Retriable(err) {
					idx.log.Warn("transient error processing block, retrying from clean state", "height", head.Height, "error", err)
				}
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				idx.log.Error("fatal error processing block", "height", head.Height, "error", err)
				return err
			}
		}
	}
}

type txResult struct {
	tx      ledger.DecodedTransaction
	outcome ledger.TransactionOutcome
	failed  bool
}

func (idx *Indexer) processBlock(ctx context.Context, head node.FinalizedHead) error {
	var raw ledger.RawBlock
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		var fetchErr error
		raw, fetchErr = idx.client.BlockBody(ctx, head.Hash)
		return fetchErr
	})
	if err != nil {
		return err
	}

	existing, err := idx.store.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if existing != nil && raw.ParentHash != existing.Hash {
		return apperr.New(apperr.KindProtocolViolation, "parent hash does not match the latest indexed block")
	}

	metadata, err := idx.metadata.Get(ctx, raw.ProtocolVersion)
	if err != nil {
		return err
	}

	decoded, err := idx.runtime.Decode(ctx, metadata, raw)
	if err != nil {
		return err
	}

	workingState := idx.state.Clone()
	results := make([]txResult, 0, len(decoded))
	for _, tx := range decoded {
		outcome, applyErr := idx.runtime.Apply(ctx, workingState, tx)
		if applyErr != nil && apperr.KindOf(applyErr) != apperr.KindTransactionLogic {
			return applyErr
		}
		results = append(results, txResult{tx: tx, outcome: outcome, failed: applyErr != nil})
	}

	ledgerParameters, err := idx.runtime.EndBlock(ctx, workingState)
	if err != nil {
		return err
	}

	systemEvents, err := idx.runtime.SystemEvents(ctx, raw)
	if err != nil {
		return err
	}

	var previousParameters []byte
	if existing != nil {
		previousParameters = existing.LedgerParameters
	}

	if err := idx.persist(ctx, raw, ledgerParameters, previousParameters, results, systemEvents); err != nil {
		return err
	}

	idx.state = workingState

	maxTxID, maxErr := idx.store.MaxTransactionID(ctx)
	if maxErr != nil {
		idx.log.Warn("query max transaction id for block_indexed payload", "error", maxErr)
	}
	payload, _ := json.Marshal(pubsub.BlockIndexedEvent{Height: raw.Height, Hash: raw.Hash, MaxTransactionID: maxTxID})
	if pubErr := idx.bus.Publish(ctx, pubsub.TopicBlockIndexed, payload); pubErr != nil {
		idx.log.Warn("failed to publish block_indexed", "height", raw.Height, "error", pubErr)
	}

	return nil
}

// persist commits the whole block in a single transaction: the block row,
// every transaction and its contract actions/balances/UTXOs/ledger events,
// and the post-commit projections (registrations, mappings, a cost-model
// snapshot when ledger parameters changed).
func (idx *Indexer) persist(
	ctx context.Context,
	raw ledger.RawBlock,
	ledgerParameters, previousParameters []byte,
	results []txResult,
	systemEvents []ledger.SystemEvent,
) error {
	return idx.store.WithTx(ctx, func(tx *sql.Tx) error {
		blockID, err := idx.store.InsertBlock(ctx, tx, &domain.Block{
			Hash:             raw.Hash,
			Height:           raw.Height,
			ParentHash:       raw.ParentHash,
			ProtocolVersion:  raw.ProtocolVersion,
			Author:           raw.Author,
			Timestamp:        raw.Timestamp,
			LedgerParameters: ledgerParameters,
		})
		if err != nil {
			return err
		}

		for _, r := range results {
			status := domain.StatusSuccess
			if r.failed {
				status = domain.StatusFailure
			}
			for _, seg := range r.outcome.Result.Segments {
				if !seg.Success {
					status = domain.StatusPartialSuccess
				}
			}

			txID, err := idx.store.InsertTransaction(ctx, tx, &domain.Transaction{
				BlockID:         blockID,
				Variant:         r.tx.Variant,
				Hash:            r.tx.Hash,
				ProtocolVersion: raw.ProtocolVersion,
				Raw:             r.tx.Raw,
				Result:          domain.TransactionResult{Status: status, Segments: r.outcome.Result.Segments},
				MerkleTreeRoot:  r.outcome.MerkleTreeRoot,
				StartIndex:      r.outcome.StartIndex,
				EndIndex:        r.outcome.EndIndex,
				PaidFees:            r.outcome.PaidFees,
				EstimatedFees:       r.outcome.EstimatedFees,
				Identifiers:         r.outcome.Identifiers,
				ShieldedCiphertexts: r.tx.ShieldedCiphertexts,
			})
			if err != nil {
				return err
			}
			if r.failed {
				continue
			}

			for _, ca := range r.outcome.ContractActions {
				actionID, err := idx.store.InsertContractAction(ctx, tx, &domain.ContractAction{
					TransactionID: txID,
					Variant:       ca.Variant,
					Address:       ca.Address,
					State:         ca.State,
					ZswapState:    ca.ZswapState,
					EntryPoint:    ca.EntryPoint,
					Attributes:    ca.Attributes,
				})
				if err != nil {
					return err
				}
				for _, bal := range ca.Balances {
					bal.ContractActionID = actionID
					if err := idx.store.InsertContractBalance(ctx, tx, &bal); err != nil {
						return err
					}
				}
			}

			for _, created := range r.outcome.Created {
				if _, err := idx.store.InsertUnshieldedUtxo(ctx, tx, &domain.UnshieldedUtxo{
					CreatingTransactionID:       txID,
					Owner:                       created.Owner,
					TokenType:                   created.TokenType,
					Value:                       created.Value,
					IntentHash:                  created.IntentHash,
					OutputIndex:                 created.OutputIndex,
					InitialNonce:                created.InitialNonce,
					RegisteredForDustGeneration: created.RegisteredForDustGeneration,
				}); err != nil {
					return err
				}
			}
			for _, spent := range r.outcome.Spent {
				if err := idx.store.MarkUnshieldedUtxoSpent(ctx, tx, spent.IntentHash, spent.OutputIndex, txID); err != nil {
					return err
				}
			}

			for _, ev := range r.outcome.Events {
				if _, err := idx.store.InsertLedgerEvent(ctx, tx, &domain.LedgerEvent{
					TransactionID: txID,
					Grouping:      ev.Grouping,
					Variant:       ev.Variant,
					Raw:           ev.Raw,
					Attributes:    ev.Attributes,
				}); err != nil {
					return err
				}
				if ev.Grouping == domain.GroupingDust {
					if agg, ok := spoAggregateFromAttributes(ev.Attributes, raw.Height); ok {
						if err := idx.store.UpsertSpoAggregate(ctx, tx, &agg); err != nil {
							return err
						}
					}
				}
			}
		}

		if err := idx.applySystemEvents(ctx, tx, blockID, systemEvents); err != nil {
			return err
		}

		if !bytes.Equal(ledgerParameters, previousParameters) {
			if err := idx.store.InsertCostModelSnapshot(ctx, tx, &domain.CostModelSnapshot{
				ProtocolVersion:  raw.ProtocolVersion,
				BlockHeight:      raw.Height,
				LedgerParameters: ledgerParameters,
			}); err != nil {
				return err
			}
		}

		return nil
	})
}

func (idx *Indexer) applySystemEvents(ctx context.Context, tx *sql.Tx, blockID uint64, events []ledger.SystemEvent) error {
	for _, ev := range events {
		switch ev.Variant {
		case ledger.SystemEventRegistration:
			if err := idx.store.UpsertRegistration(ctx, tx, &domain.Registration{
				BlockID:        blockID,
				DustAddress:    ev.DustAddress,
				CardanoAddress: ev.CardanoAddress,
				ValidFrom:      ev.ValidFrom,
			}); err != nil {
				return err
			}
		case ledger.SystemEventDeregistration:
			if err := idx.store.RemoveRegistration(ctx, tx, ev.DustAddress, ev.CardanoAddress, removedAtNow()); err != nil {
				return err
			}
		case ledger.SystemEventMappingAdded:
			if err := idx.store.UpsertMappingEntry(ctx, tx, &domain.MappingEntry{
				BlockID:           blockID,
				UnshieldedAddress: ev.UnshieldedAddress,
				DustAddress:       ev.DustAddress,
			}); err != nil {
				return err
			}
		case ledger.SystemEventMappingRemoved:
			if err := idx.store.RemoveMappingEntry(ctx, tx, ev.UnshieldedAddress, ev.DustAddress, removedAtNow()); err != nil {
				return err
			}
		}
	}
	return nil
}

func removedAtNow() time.Time { return time.Now().UTC() }

// spoAggregateFromAttributes extracts a stake-operator rollup delta from a
// Dust-grouping event's attributes, when present. Events that don't carry
// spo-level detail (e.g. DustInitialUtxo) are skipped rather than treated
// as an error.
func spoAggregateFromAttributes(attrs map[string]any, height uint64) (domain.SpoAggregate, bool) {
	spoID, ok := attrs["spo_id"].(string)
	if !ok || spoID == "" {
		return domain.SpoAggregate{}, false
	}
	var agg domain.SpoAggregate
	agg.SpoID = []byte(spoID)
	agg.BlockHeight = height
	if v, ok := attrs["total_stake"].(string); ok {
		copy(agg.TotalStake[:], []byte(v))
	}
	if v, ok := attrs["dust_generated"].(string); ok {
		copy(agg.DustGenerated[:], []byte(v))
	}
	return agg, true
}
