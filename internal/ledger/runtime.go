// Package ledger models the schema-aware runtime that decodes a node's raw
// extrinsic bytes and applies them to the in-memory ledger state, deriving
// the authoritative side effects (UTXOs, contract actions, ledger events,
// fees) the chain indexer persists.
//
// The actual zk-ledger runtime and its cryptographic primitives (BLAKE2
// hashing, ChaCha20-Poly1305, viewing-key trial decryption) are out of
// scope for this module; Runtime is the seam a production build wires a
// real runtime behind. Reference provides a deterministic stand-in good
// enough to drive every ingestion/query scenario in tests.
package ledger

import (
	"context"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// RuntimeMetadata is the schema-aware codec description for one protocol
// version. Its contents are opaque to this package's callers; only the
// Runtime implementation interprets them.
type RuntimeMetadata struct {
	ProtocolVersion uint32
	Blob            []byte
}

// RawBlock is the node's decoded-envelope block: header fields plus the raw
// extrinsic bytes for each transaction, in application order, plus the raw
// system-pallet event bytes (registration/mapping changes) attached to the
// block rather than to any one transaction.
type RawBlock struct {
	Hash             domain.Hash
	ParentHash       domain.Hash
	Height           uint64
	ProtocolVersion  uint32
	Author           []byte
	Timestamp        uint64
	Extrinsics       [][]byte
	SystemEvents     [][]byte
}

// SystemEventVariant discriminates a system-pallet event extracted from a
// block, independent of the Zswap/Dust LedgerEvent stream.
type SystemEventVariant string

const (
	SystemEventRegistration   SystemEventVariant = "registration"
	SystemEventDeregistration SystemEventVariant = "deregistration"
	SystemEventMappingAdded   SystemEventVariant = "mapping_added"
	SystemEventMappingRemoved SystemEventVariant = "mapping_removed"
)

// SystemEvent is one registration/mapping change extracted from a block's
// system pallets, projected into the Registration/MappingEntry side tables.
type SystemEvent struct {
	Variant           SystemEventVariant
	DustAddress       []byte
	CardanoAddress    []byte
	UnshieldedAddress []byte
	ValidFrom         uint64
}

// DecodedTransaction is one parsed extrinsic, classified and ready to be
// applied.
type DecodedTransaction struct {
	Variant             domain.TransactionVariant
	Hash                domain.Hash
	Raw                 []byte
	ShieldedCiphertexts [][]byte
	UnshieldedSpends    []UnshieldedRef
	ContractCalls       []ContractCallInput
}

// UnshieldedRef identifies an existing UTXO by its natural key.
type UnshieldedRef struct {
	IntentHash  []byte
	OutputIndex uint64
}

// ContractCallInput is the pre-apply shape of a contract interaction; the
// runtime fills in post-state, zswap state, and balances on Apply.
type ContractCallInput struct {
	Variant    domain.ContractActionVariant
	Address    []byte
	EntryPoint string
}

// NewContractAction is one contract action the runtime produced while
// applying a transaction, with full post-state.
type NewContractAction struct {
	Variant    domain.ContractActionVariant
	Address    []byte
	State      []byte
	ZswapState []byte
	EntryPoint string
	Attributes map[string]any
	Balances   []domain.ContractBalance
}

// NewUnshieldedUtxo is a UTXO created while applying a transaction.
type NewUnshieldedUtxo struct {
	Owner                       []byte
	TokenType                   []byte
	Value                       domain.Amount128
	IntentHash                  []byte
	OutputIndex                 uint64
	InitialNonce                []byte
	RegisteredForDustGeneration bool
}

// EmittedEvent is one ledger event produced while applying a transaction,
// in emission order.
type EmittedEvent struct {
	Grouping   domain.LedgerEventGrouping
	Variant    domain.LedgerEventVariant
	Raw        []byte
	Attributes map[string]any
}

// TransactionOutcome is everything the chain indexer needs to persist one
// applied transaction.
type TransactionOutcome struct {
	Result          domain.TransactionResult
	ContractActions []NewContractAction
	Created         []NewUnshieldedUtxo
	Spent           []UnshieldedRef
	Events          []EmittedEvent
	MerkleTreeRoot  []byte
	StartIndex      uint64
	EndIndex        uint64
	PaidFees        *domain.Amount128
	EstimatedFees   *domain.Amount128
	Identifiers     [][]byte
}

// State is the opaque, mutable in-memory ledger state an implementation
// threads through Apply/EndBlock calls for one block's transactions. It is
// addressed by id (arena-and-index), never by pointer cycles, per the
// cyclic-reference design note.
type State interface {
	// Clone returns an independent copy, so a block's mutations can be
	// discarded without touching the state they were cloned from.
	Clone() State
}

// DecryptedNote is the result of a successful trial decryption: enough to
// prove relevance without exposing the full note plaintext to callers that
// only need a yes/no relevance signal.
type DecryptedNote struct {
	ContractAddress []byte
	Value           domain.Amount128
}

// Runtime is the seam between this module and the actual zk-ledger runtime.
type Runtime interface {
	// NewState returns an empty ledger state for a pristine chain, or the
	// state reconstructed from a persisted snapshot.
	NewState() State

	// Decode parses a block's raw extrinsic bytes into classified
	// transactions using the metadata for the block's protocol version.
	Decode(ctx context.Context, metadata RuntimeMetadata, raw RawBlock) ([]DecodedTransaction, error)

	// Apply runs one decoded transaction against state, mutating it and
	// returning the outcome. An error here is a ledger-rejection: the
	// caller persists the transaction with Failure status, and the
	// implementation leaves state unmutated for a rejected transaction (the
	// chain indexer applies every transaction of a block to one shared clone
	// and discards that clone only if the block as a whole fails).
	Apply(ctx context.Context, state State, tx DecodedTransaction) (TransactionOutcome, error)

	// EndBlock finalizes state after every transaction in a block has been
	// applied, returning the block's canonical ledger parameters.
	EndBlock(ctx context.Context, state State) ([]byte, error)

	// TrialDecrypt attempts to open one shielded ciphertext with a wallet's
	// viewing key. A nil result (no error) means "not relevant", matching
	// the documented trade-off that a decrypt error is treated the same as
	// "not relevant".
	TrialDecrypt(ctx context.Context, viewingKey []byte, ciphertext []byte) (*DecryptedNote, error)

	// SystemEvents extracts the block's registration/mapping pallet events,
	// independent of per-transaction Apply.
	SystemEvents(ctx context.Context, raw RawBlock) ([]SystemEvent, error)

	// UnshieldedAddress derives the transparent-output owner address a
	// viewing key controls, used to join UnshieldedUtxo.Owner against a
	// wallet's relevance when no shielded ciphertext decrypts.
	UnshieldedAddress(ctx context.Context, viewingKey []byte) ([]byte, error)
}
