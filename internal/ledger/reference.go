package ledger

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// wireTransaction is the JSON shape this reference runtime expects inside
// RawBlock.Extrinsics[i]. A production runtime instead decodes SCALE bytes
// against RuntimeMetadata; this stand-in exists so the rest of the module
// (decode → apply → persist → subscribe) has something concrete to drive
// in tests without a real node or zk-ledger attached.
type wireTransaction struct {
	Variant             domain.TransactionVariant `json:"variant"`
	ShieldedCiphertexts [][]byte                  `json:"shielded_ciphertexts,omitempty"`
	UnshieldedSpends    []UnshieldedRef            `json:"unshielded_spends,omitempty"`
	Created             []NewUnshieldedUtxo        `json:"created,omitempty"`
	ContractCalls       []ContractCallInput        `json:"contract_calls,omitempty"`
	Events              []EmittedEvent             `json:"events,omitempty"`
	Fail                bool                       `json:"fail,omitempty"`
	PaidFees            *domain.Amount128          `json:"paid_fees,omitempty"`
	EstimatedFees       *domain.Amount128          `json:"estimated_fees,omitempty"`
}

// inMemoryState is the reference State: a flat index of live unshielded
// UTXOs keyed by their natural key, addressed by id rather than pointer so
// no reference cycles exist between blocks/transactions/contract actions.
type inMemoryState struct {
	nextMerkleIndex uint64
	live            map[string]bool // intentHash|outputIndex -> exists
}

func (s *inMemoryState) Clone() State {
	clone := &inMemoryState{nextMerkleIndex: s.nextMerkleIndex, live: make(map[string]bool, len(s.live))}
	for k, v := range s.live {
		clone.live[k] = v
	}
	return clone
}

func utxoKey(intentHash []byte, outputIndex uint64) string {
	return fmt.Sprintf("%x|%d", intentHash, outputIndex)
}

// Reference is the deterministic, in-process Runtime implementation.
type Reference struct{}

// NewReference constructs the reference runtime.
func NewReference() *Reference { return &Reference{} }

func (r *Reference) NewState() State {
	return &inMemoryState{live: make(map[string]bool)}
}

func (r *Reference) Decode(_ context.Context, _ RuntimeMetadata, raw RawBlock) ([]DecodedTransaction, error) {
	txs := make([]DecodedTransaction, 0, len(raw.Extrinsics))
	for _, ext := range raw.Extrinsics {
		var wire wireTransaction
		if err := json.Unmarshal(ext, &wire); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "decode extrinsic", err)
		}
		txs = append(txs, DecodedTransaction{
			Variant:             wire.Variant,
			Hash:                blake2bHash(ext),
			Raw:                 ext,
			ShieldedCiphertexts: wire.ShieldedCiphertexts,
			UnshieldedSpends:    wire.UnshieldedSpends,
			ContractCalls:       wire.ContractCalls,
		})
	}
	return txs, nil
}

func (r *Reference) Apply(_ context.Context, state State, tx DecodedTransaction) (TransactionOutcome, error) {
	st, ok := state.(*inMemoryState)
	if !ok {
		return TransactionOutcome{}, apperr.New(apperr.KindMalformed, "apply: unexpected state type")
	}

	var wire wireTransaction
	if err := json.Unmarshal(tx.Raw, &wire); err != nil {
		return TransactionOutcome{}, apperr.Wrap(apperr.KindMalformed, "apply: decode extrinsic", err)
	}

	if wire.Fail {
		return TransactionOutcome{}, apperr.New(apperr.KindTransactionLogic, "ledger rejected transaction")
	}

	// Validate every spend is live before deleting any of them: a rejected
	// transaction must leave state exactly as it found it, since a later
	// transaction in the same block reuses this same working state.
	for _, spend := range wire.UnshieldedSpends {
		key := utxoKey(spend.IntentHash, spend.OutputIndex)
		if !st.live[key] {
			return TransactionOutcome{}, apperr.New(apperr.KindTransactionLogic, "double spend or unknown utxo")
		}
	}
	for _, spend := range wire.UnshieldedSpends {
		delete(st.live, utxoKey(spend.IntentHash, spend.OutputIndex))
	}
	for _, created := range wire.Created {
		st.live[utxoKey(created.IntentHash, created.OutputIndex)] = true
	}

	contractActions := make([]NewContractAction, 0, len(wire.ContractCalls))
	for _, call := range wire.ContractCalls {
		contractActions = append(contractActions, NewContractAction{
			Variant:    call.Variant,
			Address:    call.Address,
			State:      blake2bBytes(append(append([]byte{}, call.Address...), tx.Hash[:]...)),
			ZswapState: blake2bBytes(tx.Hash[:]),
			EntryPoint: call.EntryPoint,
		})
	}

	start := st.nextMerkleIndex
	st.nextMerkleIndex += uint64(len(wire.ShieldedCiphertexts))

	return TransactionOutcome{
		Result:          domain.TransactionResult{Status: domain.StatusSuccess, Segments: []domain.Segment{{ID: 0, Success: true}}},
		ContractActions: contractActions,
		Created:         wire.Created,
		Spent:           wire.UnshieldedSpends,
		Events:          wire.Events,
		MerkleTreeRoot:  blake2bBytes(tx.Hash[:]),
		StartIndex:      start,
		EndIndex:        st.nextMerkleIndex,
		PaidFees:        wire.PaidFees,
		EstimatedFees:   wire.EstimatedFees,
	}, nil
}

func (r *Reference) EndBlock(_ context.Context, state State) ([]byte, error) {
	st, ok := state.(*inMemoryState)
	if !ok {
		return nil, apperr.New(apperr.KindMalformed, "end_block: unexpected state type")
	}
	return blake2bBytes([]byte(fmt.Sprintf("params|%d|%d", st.nextMerkleIndex, len(st.live)))), nil
}

// noteEnvelope is the JSON plaintext a shielded ciphertext decrypts to in
// the reference scheme: nonce || ChaCha20-Poly1305(key=viewingKey, aad=nil,
// plaintext=JSON(noteEnvelope)).
type noteEnvelope struct {
	ContractAddress []byte `json:"contract_address"`
	Value            []byte `json:"value"` // 16-byte big-endian amount
}

func (r *Reference) TrialDecrypt(_ context.Context, viewingKey []byte, ciphertext []byte) (*DecryptedNote, error) {
	if len(viewingKey) != chacha20poly1305.KeySize {
		return nil, apperr.New(apperr.KindWalletLogic, "viewing key has wrong size")
	}
	aead, err := chacha20poly1305.New(viewingKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindWalletLogic, "construct aead", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, apperr.New(apperr.KindWalletLogic, "ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Authentication failure: this ciphertext simply isn't addressed
		// to this wallet. Not relevant, not a system error.
		return nil, nil
	}
	var env noteEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, apperr.Wrap(apperr.KindWalletLogic, "decode decrypted note", err)
	}
	var amount domain.Amount128
	copy(amount[16-len(env.Value):], env.Value)
	return &DecryptedNote{ContractAddress: env.ContractAddress, Value: amount}, nil
}

// wireSystemEvent is the JSON shape of one entry in RawBlock.SystemEvents.
type wireSystemEvent struct {
	Variant           SystemEventVariant `json:"variant"`
	DustAddress       []byte             `json:"dust_address,omitempty"`
	CardanoAddress    []byte             `json:"cardano_address,omitempty"`
	UnshieldedAddress []byte             `json:"unshielded_address,omitempty"`
	ValidFrom         uint64             `json:"valid_from,omitempty"`
}

func (r *Reference) SystemEvents(_ context.Context, raw RawBlock) ([]SystemEvent, error) {
	out := make([]SystemEvent, 0, len(raw.SystemEvents))
	for _, ev := range raw.SystemEvents {
		var wire wireSystemEvent
		if err := json.Unmarshal(ev, &wire); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "decode system event", err)
		}
		out = append(out, SystemEvent{
			Variant:           wire.Variant,
			DustAddress:       wire.DustAddress,
			CardanoAddress:    wire.CardanoAddress,
			UnshieldedAddress: wire.UnshieldedAddress,
			ValidFrom:         wire.ValidFrom,
		})
	}
	return out, nil
}

// UnshieldedAddress derives a viewing key's transparent address as
// BLAKE2b-256(viewingKey || "unshielded"), deterministic and distinct from
// the key's shielded trial-decryption use.
func (r *Reference) UnshieldedAddress(_ context.Context, viewingKey []byte) ([]byte, error) {
	if len(viewingKey) == 0 {
		return nil, apperr.New(apperr.KindWalletLogic, "empty viewing key")
	}
	return blake2bBytes(append(append([]byte{}, viewingKey...), []byte("unshielded")...)), nil
}

// SealNote is a test/fixture helper producing a shielded ciphertext a given
// viewing key can open, mirroring how the real ledger runtime would have
// encrypted it to the recipient's viewing key.
func SealNote(viewingKey []byte, contractAddress []byte, value domain.Amount128) ([]byte, error) {
	aead, err := chacha20poly1305.New(viewingKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	plain, err := json.Marshal(noteEnvelope{ContractAddress: contractAddress, Value: value[:]})
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

func blake2bHash(data []byte) domain.Hash {
	sum := blake2b.Sum256(data)
	return sum
}

func blake2bBytes(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}
