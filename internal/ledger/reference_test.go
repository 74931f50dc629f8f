package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

func mustJSON(t *testing.T, v wireTransaction) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal wire transaction: %v", err)
	}
	return b
}

func TestApplyTracksUtxoLifecycle(t *testing.T) {
	r := NewReference()
	state := r.NewState()
	ctx := context.Background()

	created := NewUnshieldedUtxo{IntentHash: []byte("intent-1"), OutputIndex: 0}
	raw := mustJSON(t, wireTransaction{Variant: domain.TransactionRegular, Created: []NewUnshieldedUtxo{created}})
	tx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{raw}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	outcome, err := r.Apply(ctx, state, tx[0])
	if err != nil {
		t.Fatalf("apply create: %v", err)
	}
	if len(outcome.Created) != 1 {
		t.Fatalf("expected 1 created utxo, got %d", len(outcome.Created))
	}

	spendRaw := mustJSON(t, wireTransaction{
		Variant:          domain.TransactionRegular,
		UnshieldedSpends: []UnshieldedRef{{IntentHash: created.IntentHash, OutputIndex: created.OutputIndex}},
	})
	spendTx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{spendRaw}})
	if err != nil {
		t.Fatalf("decode spend: %v", err)
	}
	if _, err := r.Apply(ctx, state, spendTx[0]); err != nil {
		t.Fatalf("apply spend: %v", err)
	}

	// Re-spending the same output must fail: the runtime rejects the
	// transaction rather than double-spending.
	if _, err := r.Apply(ctx, state, spendTx[0]); err == nil {
		t.Error("expected error re-spending the same utxo")
	} else if !apperr.Is(err, apperr.KindTransactionLogic) {
		t.Errorf("expected KindTransactionLogic, got %v", err)
	}
}

func TestApplyRejectsTransactionWithOneInvalidSpendWithoutConsumingValidOnes(t *testing.T) {
	r := NewReference()
	state := r.NewState()
	ctx := context.Background()

	live := NewUnshieldedUtxo{IntentHash: []byte("intent-live"), OutputIndex: 0}
	createRaw := mustJSON(t, wireTransaction{Variant: domain.TransactionRegular, Created: []NewUnshieldedUtxo{live}})
	createTx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{createRaw}})
	if err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if _, err := r.Apply(ctx, state, createTx[0]); err != nil {
		t.Fatalf("apply create: %v", err)
	}

	// A transaction spending the live utxo plus an unknown one must be
	// rejected wholesale, leaving the live utxo untouched.
	mixedRaw := mustJSON(t, wireTransaction{
		Variant: domain.TransactionRegular,
		UnshieldedSpends: []UnshieldedRef{
			{IntentHash: live.IntentHash, OutputIndex: live.OutputIndex},
			{IntentHash: []byte("intent-unknown"), OutputIndex: 0},
		},
	})
	mixedTx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{mixedRaw}})
	if err != nil {
		t.Fatalf("decode mixed spend: %v", err)
	}
	if _, err := r.Apply(ctx, state, mixedTx[0]); err == nil {
		t.Fatal("expected apply to reject a transaction with an unknown spend")
	} else if !apperr.Is(err, apperr.KindTransactionLogic) {
		t.Errorf("expected KindTransactionLogic, got %v", err)
	}

	// A later, legitimate transaction spending the still-live utxo must
	// succeed: the rejected transaction must not have deleted it.
	spendRaw := mustJSON(t, wireTransaction{
		Variant:          domain.TransactionRegular,
		UnshieldedSpends: []UnshieldedRef{{IntentHash: live.IntentHash, OutputIndex: live.OutputIndex}},
	})
	spendTx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{spendRaw}})
	if err != nil {
		t.Fatalf("decode spend: %v", err)
	}
	if _, err := r.Apply(ctx, state, spendTx[0]); err != nil {
		t.Fatalf("expected the still-live utxo to be spendable, got: %v", err)
	}
}

func TestApplyRejectsMarkedFailure(t *testing.T) {
	r := NewReference()
	state := r.NewState()
	ctx := context.Background()

	raw := mustJSON(t, wireTransaction{Variant: domain.TransactionRegular, Fail: true})
	tx, err := r.Decode(ctx, RuntimeMetadata{}, RawBlock{Extrinsics: [][]byte{raw}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := r.Apply(ctx, state, tx[0]); err == nil {
		t.Error("expected apply to fail")
	} else if !apperr.Is(err, apperr.KindTransactionLogic) {
		t.Errorf("expected KindTransactionLogic, got %v", err)
	}
}

func TestTrialDecryptRoundTrip(t *testing.T) {
	r := NewReference()
	viewingKey := make([]byte, 32)
	for i := range viewingKey {
		viewingKey[i] = byte(i)
	}
	var value domain.Amount128
	value[15] = 42

	ciphertext, err := SealNote(viewingKey, []byte("contract-a"), value)
	if err != nil {
		t.Fatalf("seal note: %v", err)
	}

	note, err := r.TrialDecrypt(context.Background(), viewingKey, ciphertext)
	if err != nil {
		t.Fatalf("trial decrypt: %v", err)
	}
	if note == nil {
		t.Fatal("expected a relevant note")
	}
	if string(note.ContractAddress) != "contract-a" {
		t.Errorf("unexpected contract address: %s", note.ContractAddress)
	}
	if note.Value != value {
		t.Errorf("unexpected value: %v", note.Value)
	}

	otherKey := make([]byte, 32)
	for i := range otherKey {
		otherKey[i] = byte(255 - i)
	}
	note, err = r.TrialDecrypt(context.Background(), otherKey, ciphertext)
	if err != nil {
		t.Fatalf("trial decrypt with wrong key should not error: %v", err)
	}
	if note != nil {
		t.Error("expected no note for a non-matching viewing key")
	}
}
