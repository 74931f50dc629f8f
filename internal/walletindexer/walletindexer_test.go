package walletindexer

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
)

func testBox(t *testing.T) *walletcrypto.Box {
	t.Helper()
	box, err := walletcrypto.NewBox("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return box
}

func TestScanWalletSkipsWhenCursorAtCeiling(t *testing.T) {
	idx := New(nil, ledger.NewReference(), testBox(t), pubsub.NewInProcessBus(), config.WalletIndexer{MaxConcurrentWallets: 4, PageSize: 10})
	w := &domain.Wallet{ID: "11111111-1111-1111-1111-111111111111", LastIndexedTransactionID: 5}

	// A nil store would panic if scanWallet tried to use it; reaching the
	// ceiling check first proves the early return happens before any I/O.
	idx.scanWallet(context.Background(), w, 5)
}

func TestTryLockPreventsConcurrentScan(t *testing.T) {
	idx := New(nil, ledger.NewReference(), testBox(t), pubsub.NewInProcessBus(), config.WalletIndexer{})

	if !idx.tryLock("w1") {
		t.Fatal("expected first lock to succeed")
	}
	if idx.tryLock("w1") {
		t.Fatal("expected second lock on the same wallet to fail")
	}
	idx.unlock("w1")
	if !idx.tryLock("w1") {
		t.Fatal("expected lock to succeed again after unlock")
	}
}

// openTestStore connects to a real Postgres instance named by
// STORE_TEST_DSN_HOST, skipping otherwise, mirroring internal/store's own
// integration test gating.
func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	host := os.Getenv("STORE_TEST_DSN_HOST")
	if host == "" {
		t.Skip("STORE_TEST_DSN_HOST not set, skipping wallet indexer integration test")
	}

	cfg := config.Storage{
		Host: host, Port: 5432, User: "indexer", DBName: "midnight_indexer_test",
		SSLMode: "disable", MaxOpenConns: 4, MaxIdleConns: 1, ConnTimeout: 5 * time.Second,
	}
	s, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestScanWalletFindsShieldedRelevance seals one note to a fresh viewing
// key, inserts it as a transaction's only ciphertext, and checks the scan
// marks the transaction relevant and advances the cursor to it.
func TestScanWalletFindsShieldedRelevance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runtime := ledger.NewReference()
	box := testBox(t)

	viewingKey := make([]byte, 32)
	for i := range viewingKey {
		viewingKey[i] = byte(i)
	}
	ciphertext, err := ledger.SealNote(viewingKey, []byte("contract-1"), domain.Amount128{})
	if err != nil {
		t.Fatalf("seal note: %v", err)
	}
	envelope, err := box.Seal(viewingKey)
	if err != nil {
		t.Fatalf("seal viewing key: %v", err)
	}

	w := &domain.Wallet{ID: "22222222-2222-2222-2222-222222222222", SessionID: []byte("session-1"), ViewingKeyCiphertext: envelope, Active: true}
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	blk := &domain.Block{Hash: domain.Hash{9}, Height: 9, ProtocolVersion: 1, LedgerParameters: []byte("{}")}
	var txID uint64
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		blockID, blockErr := s.InsertBlock(ctx, tx, blk)
		if blockErr != nil {
			return blockErr
		}
		var insertErr error
		txID, insertErr = s.InsertTransaction(ctx, tx, &domain.Transaction{
			BlockID:             blockID,
			Variant:             domain.TransactionRegular,
			Hash:                domain.Hash{10},
			ProtocolVersion:     1,
			Raw:                 []byte("{}"),
			Result:              domain.TransactionResult{Status: domain.StatusSuccess},
			ShieldedCiphertexts: [][]byte{ciphertext},
		})
		return insertErr
	})
	if err != nil {
		t.Fatalf("insert block and transaction: %v", err)
	}

	idx := New(s, runtime, box, pubsub.NewInProcessBus(), config.WalletIndexer{MaxConcurrentWallets: 4, PageSize: 10})
	idx.scanWallet(ctx, w, txID)

	got, err := s.WalletByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("fetch wallet: %v", err)
	}
	if got.LastIndexedTransactionID != txID {
		t.Errorf("expected cursor %d, got %d", txID, got.LastIndexedTransactionID)
	}

	relevant, err := s.RelevantTransactionsByWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("fetch relevant transactions: %v", err)
	}
	if len(relevant) != 1 || relevant[0] != txID {
		t.Errorf("expected relevant transactions [%d], got %v", txID, relevant)
	}
}
