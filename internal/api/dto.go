package api

import (
	"errors"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

var (
	errUnknownSession      = errors.New("unknown or inactive session")
	errUnknownSubscription = errors.New("unknown subscription name")
)

// The DTO functions below mirror the GraphQL type shapes in schema.go, but
// serialize straight to JSON for the WebSocket subscription transport
// instead of going through graph-gophers resolvers.

func blockDTO(b *domain.Block) map[string]any {
	m := map[string]any{
		"id":               u64str(b.ID),
		"height":           b.Height,
		"hash":             hexEncode(b.Hash[:]),
		"parentHash":       hexEncode(b.ParentHash[:]),
		"protocolVersion":  b.ProtocolVersion,
		"timestamp":        u64str(b.Timestamp),
		"ledgerParameters": hexEncode(b.LedgerParameters),
	}
	if len(b.Author) > 0 {
		m["author"] = hexEncode(b.Author)
	}
	return m
}

func transactionDTO(t *domain.Transaction) map[string]any {
	identifiers := make([]string, len(t.Identifiers))
	for i, id := range t.Identifiers {
		identifiers[i] = hexEncode(id)
	}
	m := map[string]any{
		"id":              u64str(t.ID),
		"blockId":         u64str(t.BlockID),
		"variant":         string(t.Variant),
		"hash":            hexEncode(t.Hash[:]),
		"protocolVersion": t.ProtocolVersion,
		"raw":             hexEncode(t.Raw),
		"identifiers":     identifiers,
	}
	if t.Result.Status != "" {
		m["status"] = string(t.Result.Status)
	}
	if len(t.MerkleTreeRoot) > 0 {
		m["merkleTreeRoot"] = hexEncode(t.MerkleTreeRoot)
	}
	if t.Variant == domain.TransactionRegular {
		m["startIndex"] = u64str(t.StartIndex)
		m["endIndex"] = u64str(t.EndIndex)
	}
	if t.PaidFees != nil {
		m["paidFees"] = hexEncode(t.PaidFees[:])
	}
	if t.EstimatedFees != nil {
		m["estimatedFees"] = hexEncode(t.EstimatedFees[:])
	}
	return m
}

func contractActionDTO(a *domain.ContractAction) map[string]any {
	m := map[string]any{
		"id":            u64str(a.ID),
		"transactionId": u64str(a.TransactionID),
		"variant":       string(a.Variant),
		"address":       hexEncode(a.Address),
		"state":         hexEncode(a.State),
		"zswapState":    hexEncode(a.ZswapState),
	}
	if a.EntryPoint != "" {
		m["entryPoint"] = a.EntryPoint
	}
	return m
}

func unshieldedUtxoDTO(u *domain.UnshieldedUtxo) map[string]any {
	m := map[string]any{
		"id":                          u64str(u.ID),
		"creatingTransactionId":       u64str(u.CreatingTransactionID),
		"owner":                       hexEncode(u.Owner),
		"tokenType":                   hexEncode(u.TokenType),
		"value":                       hexEncode(u.Value[:]),
		"intentHash":                  hexEncode(u.IntentHash),
		"outputIndex":                 u64str(u.OutputIndex),
		"registeredForDustGeneration": u.RegisteredForDustGeneration,
	}
	if u.SpendingTransactionID != nil {
		m["spendingTransactionId"] = u64str(*u.SpendingTransactionID)
	}
	return m
}

func ledgerEventDTO(e *domain.LedgerEvent) map[string]any {
	m := map[string]any{
		"id":            u64str(e.ID),
		"transactionId": u64str(e.TransactionID),
		"grouping":      string(e.Grouping),
		"variant":       string(e.Variant),
		"raw":           hexEncode(e.Raw),
	}
	if e.Attributes != nil {
		m["attributes"] = e.Attributes
	}
	return m
}
