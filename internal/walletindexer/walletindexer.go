// Package walletindexer maintains the RelevantTransaction edges and scan
// cursor for every connected wallet. It is triggered by block_indexed and
// wallet_connected signals on the bus, but never trusts either message's
// payload: every scan re-derives its ceiling from the store directly, so a
// redelivered or dropped message is harmless.
package walletindexer

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

// Indexer owns the per-wallet relevance scan loop.
type Indexer struct {
	store   *store.Store
	runtime ledger.Runtime
	box     *walletcrypto.Box
	bus     pubsub.Bus
	cfg     config.WalletIndexer
	log     *logging.Logger

	// syncing tracks wallets with a scan pass in flight, the in-process
	// analogue of a SELECT ... FOR UPDATE on the wallet row: a wallet
	// already being scanned is skipped rather than queued, since the next
	// trigger (or the poll backstop) will pick up where it left off.
	syncMu  sync.Mutex
	syncing map[string]bool
}

// New constructs an Indexer.
func New(st *store.Store, runtime ledger.Runtime, box *walletcrypto.Box, bus pubsub.Bus, cfg config.WalletIndexer) *Indexer {
	return &Indexer{
		store:   st,
		runtime: runtime,
		box:     box,
		bus:     bus,
		cfg:     cfg,
		log:     logging.GetDefault().Component("wallet-indexer"),
		syncing: make(map[string]bool),
	}
}

// Run consumes block_indexed and wallet_connected signals until ctx is
// cancelled, with PollInterval as a backstop against a dropped message.
func (idx *Indexer) Run(ctx context.Context) error {
	blockCh, err := idx.bus.Subscribe(ctx, pubsub.TopicBlockIndexed)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "subscribe block_indexed", err)
	}
	walletCh, err := idx.bus.Subscribe(ctx, pubsub.TopicWalletConnected)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "subscribe wallet_connected", err)
	}

	ticker := time.NewTicker(idx.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-blockCh:
			if !ok {
				return apperr.New(apperr.KindTransient, "block_indexed subscription closed")
			}
			idx.scanAll(ctx)

		case payload, ok := <-walletCh:
			if !ok {
				return apperr.New(apperr.KindTransient, "wallet_connected subscription closed")
			}
			var ev pubsub.WalletConnectedEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				idx.log.Warn("decode wallet_connected payload", "error", err)
				continue
			}
			idx.scanByID(ctx, ev.WalletID)

		case <-ticker.C:
			idx.scanAll(ctx)
		}
	}
}

// scanAll fans a scan pass out across every active wallet behind a
// MaxConcurrentWallets semaphore.
func (idx *Indexer) scanAll(ctx context.Context) {
	upTo, err := idx.store.MaxTransactionID(ctx)
	if err != nil {
		idx.log.Error("query max transaction id", "error", err)
		return
	}

	wallets, err := idx.store.ActiveWallets(ctx)
	if err != nil {
		idx.log.Error("list active wallets", "error", err)
		return
	}

	sem := make(chan struct{}, idx.cfg.MaxConcurrentWallets)
	var wg sync.WaitGroup
	for _, w := range wallets {
		if w.LastIndexedTransactionID >= upTo {
			continue
		}
		w := w
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			idx.scanWallet(ctx, w, upTo)
		}()
	}
	wg.Wait()
}

// scanByID loads one wallet by id and scans it up to the current ceiling,
// the wallet_connected path ("must catch up from 0").
func (idx *Indexer) scanByID(ctx context.Context, walletID string) {
	w, err := idx.store.WalletByID(ctx, walletID)
	if err != nil {
		idx.log.Error("load wallet", "wallet_id", walletID, "error", err)
		return
	}
	if w == nil || !w.Active {
		return
	}
	upTo, err := idx.store.MaxTransactionID(ctx)
	if err != nil {
		idx.log.Error("query max transaction id", "error", err)
		return
	}
	idx.scanWallet(ctx, w, upTo)
}

func (idx *Indexer) tryLock(walletID string) bool {
	idx.syncMu.Lock()
	defer idx.syncMu.Unlock()
	if idx.syncing[walletID] {
		return false
	}
	idx.syncing[walletID] = true
	return true
}

func (idx *Indexer) unlock(walletID string) {
	idx.syncMu.Lock()
	defer idx.syncMu.Unlock()
	delete(idx.syncing, walletID)
}

// scanWallet pages the wallet forward from its cursor to upTo, one
// transaction's commit at a time. A viewing-key decrypt failure
// deactivates the wallet rather than retrying it; a store failure returns
// early so the next trigger resumes the page exactly where the last
// committed cursor left off.
func (idx *Indexer) scanWallet(ctx context.Context, w *domain.Wallet, upTo uint64) {
	if w.LastIndexedTransactionID >= upTo {
		return
	}
	if !idx.tryLock(w.ID) {
		return
	}
	defer idx.unlock(w.ID)

	viewingKey, err := idx.box.Open(w.ViewingKeyCiphertext)
	if err != nil {
		idx.log.Warn("viewing key envelope failed to decrypt, deactivating wallet", "wallet_id", w.ID, "error", err)
		if derr := idx.store.DeactivateWallet(ctx, w.ID); derr != nil {
			idx.log.Error("deactivate wallet", "wallet_id", w.ID, "error", derr)
		}
		return
	}

	unshieldedAddress, err := idx.runtime.UnshieldedAddress(ctx, viewingKey)
	if err != nil {
		idx.log.Warn("derive unshielded address failed, unshielded join disabled this pass", "wallet_id", w.ID, "error", err)
		unshieldedAddress = nil
	}

	cursor := w.LastIndexedTransactionID
	for cursor < upTo {
		page, err := idx.store.TransactionsAfter(ctx, cursor, upTo, idx.cfg.PageSize)
		if err != nil {
			idx.log.Error("fetch transaction page", "wallet_id", w.ID, "error", err)
			return
		}
		if len(page) == 0 {
			return
		}

		for _, t := range page {
			relevant, err := idx.isRelevant(ctx, t, viewingKey, unshieldedAddress)
			if err != nil {
				idx.log.Error("evaluate relevance", "wallet_id", w.ID, "transaction_id", t.ID, "error", err)
				return
			}

			var edges []uint64
			if relevant {
				edges = []uint64{t.ID}
			}
			if err := idx.store.AdvanceWalletCursor(ctx, w.ID, t.ID, edges); err != nil {
				idx.log.Error("advance wallet cursor", "wallet_id", w.ID, "transaction_id", t.ID, "error", err)
				return
			}
			cursor = t.ID

			if relevant {
				idx.publishIndexed(ctx, w.ID, t.ID)
			}
		}
	}
}

// isRelevant applies the two relevance tests in order: trial decryption of
// every shielded ciphertext, then an unshielded-output ownership join. Only
// a store failure while fetching the join candidates is an error; a
// per-ciphertext decrypt error is "not relevant", the documented trade-off.
func (idx *Indexer) isRelevant(ctx context.Context, t *domain.Transaction, viewingKey, unshieldedAddress []byte) (bool, error) {
	for _, ct := range t.ShieldedCiphertexts {
		note, err := idx.runtime.TrialDecrypt(ctx, viewingKey, ct)
		if err != nil {
			continue
		}
		if note != nil {
			return true, nil
		}
	}

	if len(unshieldedAddress) == 0 {
		return false, nil
	}
	created, err := idx.store.UnshieldedUtxosByCreatingTransaction(ctx, t.ID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "fetch created utxos", err)
	}
	for _, u := range created {
		if bytes.Equal(u.Owner, unshieldedAddress) {
			return true, nil
		}
	}
	return false, nil
}

func (idx *Indexer) publishIndexed(ctx context.Context, walletID string, transactionID uint64) {
	payload, err := json.Marshal(pubsub.WalletIndexedEvent{WalletID: walletID, LastIndexedTransactionID: transactionID})
	if err != nil {
		idx.log.Error("marshal wallet_indexed payload", "error", err)
		return
	}
	if err := idx.bus.Publish(ctx, pubsub.TopicWalletIndexed, payload); err != nil {
		idx.log.Warn("failed to publish wallet_indexed", "wallet_id", walletID, "error", err)
	}
}
