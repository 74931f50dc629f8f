package api

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

// Resolver is the root GraphQL resolver for both Query and Mutation types.
// graph-gophers/graphql-go dispatches a schema field to a same-named method
// on this one value regardless of which operation type declares the field.
type Resolver struct {
	store *store.Store
	box   *walletcrypto.Box
	bus   pubsub.Bus
	log   *logging.Logger
}

// NewResolver builds the root resolver backing both operation types.
func NewResolver(st *store.Store, box *walletcrypto.Box, bus pubsub.Bus, log *logging.Logger) *Resolver {
	return &Resolver{store: st, box: box, bus: bus, log: log}
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindClientInput, "malformed hex value", err)
	}
	return b, nil
}

// --- Query ---

type blockArgs struct {
	Height *int32
	Hash   *string
}

func (r *Resolver) Block(ctx context.Context, args blockArgs) (*blockResolver, error) {
	var b *domain.Block
	var err error
	switch {
	case args.Height != nil:
		b, err = r.store.BlockByHeight(ctx, uint64(*args.Height))
	case args.Hash != nil:
		raw, decErr := hexDecode(*args.Hash)
		if decErr != nil {
			return nil, decErr
		}
		var h domain.Hash
		copy(h[:], raw)
		b, err = r.store.BlockByHash(ctx, h)
	default:
		return nil, apperr.New(apperr.KindClientInput, "block requires height or hash")
	}
	if err != nil || b == nil {
		return nil, err
	}
	return &blockResolver{b: b}, nil
}

func (r *Resolver) LatestBlock(ctx context.Context) (*blockResolver, error) {
	b, err := r.store.LatestBlock(ctx)
	if err != nil || b == nil {
		return nil, err
	}
	return &blockResolver{b: b}, nil
}

type transactionArgs struct {
	Hash string
}

func (r *Resolver) Transaction(ctx context.Context, args transactionArgs) (*transactionResolver, error) {
	raw, err := hexDecode(args.Hash)
	if err != nil {
		return nil, err
	}
	var h domain.Hash
	copy(h[:], raw)
	t, err := r.store.TransactionByHash(ctx, h)
	if err != nil || t == nil {
		return nil, err
	}
	return &transactionResolver{t: t, store: r.store}, nil
}

type transactionOffsetArgs struct {
	Offset *transactionOffsetInput
}

type transactionOffsetInput struct {
	Hash *string
	ID   *string
}

// Transactions resolves a transaction offset to at most one transaction.
// It returns a list (rather than the singular `transaction` query's shape)
// so a caller resolving `unshieldedSpentOutputs[0].createdAtTransaction`
// against an arbitrary offset doesn't need a second, differently-shaped
// query for the same lookup.
func (r *Resolver) Transactions(ctx context.Context, args transactionOffsetArgs) ([]*transactionResolver, error) {
	if args.Offset == nil {
		return nil, apperr.New(apperr.KindClientInput, "transactions requires an offset")
	}

	var t *domain.Transaction
	var err error
	switch {
	case args.Offset.Hash != nil:
		raw, decErr := hexDecode(*args.Offset.Hash)
		if decErr != nil {
			return nil, decErr
		}
		var h domain.Hash
		copy(h[:], raw)
		t, err = r.store.TransactionByHash(ctx, h)
	case args.Offset.ID != nil:
		id, parseErr := strconv.ParseUint(*args.Offset.ID, 10, 64)
		if parseErr != nil {
			return nil, apperr.Wrap(apperr.KindClientInput, "malformed transaction id", parseErr)
		}
		t, err = r.store.TransactionByID(ctx, id)
	default:
		return nil, apperr.New(apperr.KindClientInput, "transaction offset requires hash or id")
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return []*transactionResolver{}, nil
	}
	return []*transactionResolver{{t: t, store: r.store}}, nil
}

type addressArgs struct {
	Address string
}

func (r *Resolver) ContractActions(ctx context.Context, args addressArgs) ([]*contractActionResolver, error) {
	addr, err := hexDecode(args.Address)
	if err != nil {
		return nil, err
	}
	actions, err := r.store.ContractActionsByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	out := make([]*contractActionResolver, len(actions))
	for i, a := range actions {
		out[i] = &contractActionResolver{a: a}
	}
	return out, nil
}

type contractActionArgs struct {
	Address string
	Offset  *contractActionOffsetInput
}

type contractActionOffsetInput struct {
	Height *int32
}

// ContractAction resolves the most recent lifecycle event for address,
// either as of a given height or, with no offset (or no height on it),
// the latest one known.
func (r *Resolver) ContractAction(ctx context.Context, args contractActionArgs) (*contractActionResolver, error) {
	addr, err := hexDecode(args.Address)
	if err != nil {
		return nil, err
	}

	var a *domain.ContractAction
	if args.Offset != nil && args.Offset.Height != nil {
		a, err = r.store.ContractActionAtHeight(ctx, addr, uint64(*args.Offset.Height))
	} else {
		a, err = r.store.LatestContractAction(ctx, addr)
	}
	if err != nil || a == nil {
		return nil, err
	}
	return &contractActionResolver{a: a}, nil
}

type ownerArgs struct {
	Owner string
}

func (r *Resolver) UnshieldedUtxos(ctx context.Context, args ownerArgs) ([]*unshieldedUtxoResolver, error) {
	owner, err := hexDecode(args.Owner)
	if err != nil {
		return nil, err
	}
	utxos, err := r.store.UnshieldedUtxosByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]*unshieldedUtxoResolver, len(utxos))
	for i, u := range utxos {
		out[i] = &unshieldedUtxoResolver{u: u, store: r.store}
	}
	return out, nil
}

// --- Block ---

type blockResolver struct{ b *domain.Block }

func (r *blockResolver) ID() string              { return u64str(r.b.ID) }
func (r *blockResolver) Height() int32            { return int32(r.b.Height) }
func (r *blockResolver) Hash() string             { return hexEncode(r.b.Hash[:]) }
func (r *blockResolver) ParentHash() string       { return hexEncode(r.b.ParentHash[:]) }
func (r *blockResolver) ProtocolVersion() int32   { return int32(r.b.ProtocolVersion) }
func (r *blockResolver) Author() *string {
	if len(r.b.Author) == 0 {
		return nil
	}
	s := hexEncode(r.b.Author)
	return &s
}
func (r *blockResolver) Timestamp() string        { return u64str(r.b.Timestamp) }
func (r *blockResolver) LedgerParameters() string { return hexEncode(r.b.LedgerParameters) }

// --- Transaction ---

type transactionResolver struct {
	t     *domain.Transaction
	store *store.Store
}

func (r *transactionResolver) ID() string              { return u64str(r.t.ID) }
func (r *transactionResolver) BlockId() string         { return u64str(r.t.BlockID) }
func (r *transactionResolver) Variant() string         { return string(r.t.Variant) }
func (r *transactionResolver) Hash() string            { return hexEncode(r.t.Hash[:]) }
func (r *transactionResolver) ProtocolVersion() int32  { return int32(r.t.ProtocolVersion) }
func (r *transactionResolver) Raw() string             { return hexEncode(r.t.Raw) }
func (r *transactionResolver) Status() *string {
	if r.t.Result.Status == "" {
		return nil
	}
	s := string(r.t.Result.Status)
	return &s
}
func (r *transactionResolver) MerkleTreeRoot() *string {
	if len(r.t.MerkleTreeRoot) == 0 {
		return nil
	}
	s := hexEncode(r.t.MerkleTreeRoot)
	return &s
}
func (r *transactionResolver) StartIndex() *string {
	if r.t.Variant != domain.TransactionRegular {
		return nil
	}
	s := u64str(r.t.StartIndex)
	return &s
}
func (r *transactionResolver) EndIndex() *string {
	if r.t.Variant != domain.TransactionRegular {
		return nil
	}
	s := u64str(r.t.EndIndex)
	return &s
}
func (r *transactionResolver) PaidFees() *string       { return amountStr(r.t.PaidFees) }
func (r *transactionResolver) EstimatedFees() *string  { return amountStr(r.t.EstimatedFees) }
func (r *transactionResolver) Identifiers() []string {
	out := make([]string, len(r.t.Identifiers))
	for i, id := range r.t.Identifiers {
		out[i] = hexEncode(id)
	}
	return out
}

// UnshieldedSpentOutputs resolves every unshielded output this transaction
// consumed, regardless of who owns it: the join is purely on the spend
// edge, so a transaction spending an address's outputs to pay someone else
// still surfaces them here.
func (r *transactionResolver) UnshieldedSpentOutputs(ctx context.Context) ([]*unshieldedUtxoResolver, error) {
	utxos, err := r.store.UnshieldedUtxosBySpendingTransaction(ctx, r.t.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*unshieldedUtxoResolver, len(utxos))
	for i, u := range utxos {
		out[i] = &unshieldedUtxoResolver{u: u, store: r.store}
	}
	return out, nil
}

// --- ContractAction ---

type contractActionResolver struct{ a *domain.ContractAction }

func (r *contractActionResolver) ID() string            { return u64str(r.a.ID) }
func (r *contractActionResolver) TransactionId() string  { return u64str(r.a.TransactionID) }
func (r *contractActionResolver) Variant() string        { return string(r.a.Variant) }
func (r *contractActionResolver) Address() string        { return hexEncode(r.a.Address) }
func (r *contractActionResolver) State() string           { return hexEncode(r.a.State) }
func (r *contractActionResolver) ZswapState() string      { return hexEncode(r.a.ZswapState) }
func (r *contractActionResolver) EntryPoint() *string {
	if r.a.EntryPoint == "" {
		return nil
	}
	return &r.a.EntryPoint
}

// --- UnshieldedUtxo ---

type unshieldedUtxoResolver struct {
	u     *domain.UnshieldedUtxo
	store *store.Store
}

func (r *unshieldedUtxoResolver) ID() string                    { return u64str(r.u.ID) }
func (r *unshieldedUtxoResolver) CreatingTransactionId() string { return u64str(r.u.CreatingTransactionID) }
func (r *unshieldedUtxoResolver) SpendingTransactionId() *string {
	if r.u.SpendingTransactionID == nil {
		return nil
	}
	s := u64str(*r.u.SpendingTransactionID)
	return &s
}
func (r *unshieldedUtxoResolver) Owner() string       { return hexEncode(r.u.Owner) }
func (r *unshieldedUtxoResolver) TokenType() string   { return hexEncode(r.u.TokenType) }
func (r *unshieldedUtxoResolver) Value() string       { return hexEncode(r.u.Value[:]) }
func (r *unshieldedUtxoResolver) IntentHash() string  { return hexEncode(r.u.IntentHash) }
func (r *unshieldedUtxoResolver) OutputIndex() string { return u64str(r.u.OutputIndex) }
func (r *unshieldedUtxoResolver) RegisteredForDustGeneration() bool {
	return r.u.RegisteredForDustGeneration
}

// CreatedAtTransaction resolves the transaction that created this output,
// the join S1-style queries use to trace a spent output back to its origin.
func (r *unshieldedUtxoResolver) CreatedAtTransaction(ctx context.Context) (*transactionResolver, error) {
	t, err := r.store.TransactionByID(ctx, r.u.CreatingTransactionID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.New(apperr.KindTransient, "creating transaction missing for utxo")
	}
	return &transactionResolver{t: t, store: r.store}, nil
}

func u64str(v uint64) string { return strconv.FormatUint(v, 10) }

func amountStr(a *domain.Amount128) *string {
	if a == nil {
		return nil
	}
	s := hexEncode(a[:])
	return &s
}
