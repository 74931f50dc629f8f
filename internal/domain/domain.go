// Package domain holds the relational model described by the data model
// specification: the Block/Transaction/ContractAction graph, unshielded
// UTXOs, ledger events, wallets and their relevance edges, and the side
// tables fed by the chain indexer's post-commit projections.
//
// Every id-typed field is a 64-bit sequence assigned on insert except
// Wallet.ID, which is a client-opaque UUID. 128-bit amounts are carried as
// big-endian 16-byte slices end to end; nothing in this package converts
// them to a native integer type, since values routinely exceed uint64.
package domain

import "time"

// Hash is a 32-byte digest (block hash, transaction hash, parent hash).
type Hash [32]byte

// Amount128 is an unsigned 128-bit value stored as 16 raw big-endian bytes.
type Amount128 [16]byte

// Block is a finalized block and the ledger parameters it produced.
type Block struct {
	ID                uint64
	Hash              Hash
	Height            uint64
	ParentHash        Hash
	ProtocolVersion   uint32
	Author            []byte // optional, nil if absent
	Timestamp         uint64 // unix seconds
	LedgerParameters  []byte
}

// TransactionVariant discriminates user-submitted from runtime-internal
// transactions.
type TransactionVariant string

const (
	TransactionRegular TransactionVariant = "regular"
	TransactionSystem  TransactionVariant = "system"
)

// TransactionStatus is the outcome of applying a Regular transaction to the
// ledger.
type TransactionStatus string

const (
	StatusSuccess        TransactionStatus = "success"
	StatusPartialSuccess TransactionStatus = "partial_success"
	StatusFailure        TransactionStatus = "failure"
)

// Segment is one guarded-clause result inside a transaction's execution.
type Segment struct {
	ID      uint32
	Success bool
}

// TransactionResult carries the Regular-only outcome fields.
type TransactionResult struct {
	Status   TransactionStatus
	Segments []Segment
}

// Transaction is a single entry in a block's extrinsic list.
type Transaction struct {
	ID              uint64
	BlockID         uint64
	Variant         TransactionVariant
	Hash            Hash
	ProtocolVersion uint32
	Raw             []byte

	// Regular-only fields. Zero-valued for System transactions.
	Result          TransactionResult
	MerkleTreeRoot  []byte
	StartIndex      uint64
	EndIndex        uint64
	PaidFees        *Amount128
	EstimatedFees   *Amount128
	Identifiers     [][]byte

	// ShieldedCiphertexts are the transaction's shielded-note ciphertexts,
	// carried alongside Raw so the wallet indexer can trial-decrypt without
	// re-running the full decode-against-metadata path.
	ShieldedCiphertexts [][]byte
}

// ContractActionVariant discriminates a contract's lifecycle event.
type ContractActionVariant string

const (
	ContractDeploy ContractActionVariant = "deploy"
	ContractCall   ContractActionVariant = "call"
	ContractUpdate ContractActionVariant = "update"
)

// ContractAction is one lifecycle event of a contract, produced while
// applying its owning transaction.
type ContractAction struct {
	ID             uint64
	TransactionID  uint64
	Variant        ContractActionVariant
	Address        []byte
	State          []byte
	ZswapState     []byte
	EntryPoint     string // Call-only, empty otherwise
	Attributes     map[string]any
}

// ContractBalance is one token's balance snapshot attached to a contract
// action, unique by (ContractActionID, TokenType).
type ContractBalance struct {
	ContractActionID uint64
	TokenType        []byte
	Amount           Amount128
}

// UnshieldedUtxo is an unspent (or spent) transparent output. It is unique
// by (IntentHash, OutputIndex), born with SpendingTransactionID nil and
// updated exactly once when spent.
type UnshieldedUtxo struct {
	ID                          uint64
	CreatingTransactionID       uint64
	SpendingTransactionID       *uint64
	Owner                       []byte
	TokenType                   []byte
	Value                       Amount128
	IntentHash                  []byte
	OutputIndex                 uint64
	InitialNonce                []byte
	RegisteredForDustGeneration bool
}

// LedgerEventGrouping separates the zswap shielded-pool stream from the
// DUST generation/registration stream.
type LedgerEventGrouping string

const (
	GroupingZswap LedgerEventGrouping = "zswap"
	GroupingDust  LedgerEventGrouping = "dust"
)

// LedgerEventVariant is the tag discriminating a ledger event's shape.
type LedgerEventVariant string

const (
	EventZswapInput                LedgerEventVariant = "zswap_input"
	EventZswapOutput               LedgerEventVariant = "zswap_output"
	EventParamChange                LedgerEventVariant = "param_change"
	EventDustInitialUtxo            LedgerEventVariant = "dust_initial_utxo"
	EventDustGenerationDtimeUpdate   LedgerEventVariant = "dust_generation_dtime_update"
	EventDustSpendProcessed         LedgerEventVariant = "dust_spend_processed"
)

// LedgerEvent is one emission from the ledger runtime while applying a
// transaction, in emission order.
type LedgerEvent struct {
	ID            uint64
	TransactionID uint64
	Grouping      LedgerEventGrouping
	Variant       LedgerEventVariant
	Raw           []byte
	Attributes    map[string]any
}

// Wallet is a server-side session bound to one encrypted viewing key.
type Wallet struct {
	ID                       string // uuid
	SessionID                []byte // opaque, unguessable
	ViewingKeyCiphertext     []byte // nonce-prefixed, symmetrically encrypted
	LastIndexedTransactionID uint64
	Active                   bool
	LastActive               time.Time
}

// RelevantTransaction is the many-to-many edge proving a wallet's viewing
// key (or owned UTXO set) touches a transaction.
type RelevantTransaction struct {
	WalletID      string
	TransactionID uint64
}

// ABSelector names which of the two snapshot slots is currently valid.
type ABSelector string

const (
	SlotA ABSelector = "A"
	SlotB ABSelector = "B"
)

// SnapshotPointer is the single pointer record (id=0) naming the active
// ledger-state snapshot slot.
type SnapshotPointer struct {
	BlockHeight     uint64
	ProtocolVersion uint32
	ABSelector      ABSelector
}

// Registration is a DUST-generation registration row, upserted by
// (DustAddress, CardanoAddress) and soft-deleted via RemovedAt.
type Registration struct {
	ID             uint64
	BlockID        uint64
	DustAddress    []byte
	CardanoAddress []byte
	ValidFrom      uint64
	RemovedAt      *time.Time
}

// MappingEntry is a native-token-observation UTXO mapping row, upserted by
// (UnshieldedAddress, DustAddress) and soft-deleted via RemovedAt.
type MappingEntry struct {
	ID                uint64
	BlockID           uint64
	UnshieldedAddress []byte
	DustAddress       []byte
	RemovedAt         *time.Time
}

// SpoAggregate is a per-(SpoID, BlockHeight) stake/DUST-generation rollup,
// maintained by a post-commit projection; read-only from the API.
type SpoAggregate struct {
	SpoID         []byte
	BlockHeight   uint64
	TotalStake    Amount128
	DustGenerated Amount128
}

// CostModelSnapshot records a block's ledger parameters whenever they differ
// from the previous block's, so fee-model drift can be charted without
// rescanning blocks.
type CostModelSnapshot struct {
	ProtocolVersion  uint32
	BlockHeight      uint64
	LedgerParameters []byte
}
