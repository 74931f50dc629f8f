package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// InsertTransaction inserts t within tx and returns its assigned id.
func (s *Store) InsertTransaction(ctx context.Context, tx *sql.Tx, t *domain.Transaction) (uint64, error) {
	segments, err := json.Marshal(t.Result.Segments)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "marshal segments", err)
	}
	identifiers, err := json.Marshal(t.Identifiers)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "marshal identifiers", err)
	}
	ciphertexts, err := json.Marshal(t.ShieldedCiphertexts)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "marshal shielded ciphertexts", err)
	}

	var id uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (
			block_id, variant, hash, protocol_version, raw, status, segments,
			merkle_tree_root, start_index, end_index, paid_fees, estimated_fees, identifiers,
			shielded_ciphertexts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, t.BlockID, string(t.Variant), t.Hash[:], t.ProtocolVersion, t.Raw,
		nullString(string(t.Result.Status)), segments,
		nullBytes(t.MerkleTreeRoot), nullUint64(t.StartIndex, t.Variant == domain.TransactionRegular),
		nullUint64(t.EndIndex, t.Variant == domain.TransactionRegular),
		nullAmount(t.PaidFees), nullAmount(t.EstimatedFees), identifiers, ciphertexts,
	).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "insert transaction", err)
	}
	return id, nil
}

// TransactionByHash returns the transaction with the given hash, or nil if
// not found.
func (s *Store) TransactionByHash(ctx context.Context, hash domain.Hash) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, block_id, variant, hash, protocol_version, raw, status, segments,
		       merkle_tree_root, start_index, end_index, paid_fees, estimated_fees, identifiers,
		       shielded_ciphertexts
		FROM transactions WHERE hash = $1
	`, hash[:])
	return scanTransaction(row)
}

// TransactionByID returns the transaction with the given id, or nil if not
// found.
func (s *Store) TransactionByID(ctx context.Context, id uint64) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, block_id, variant, hash, protocol_version, raw, status, segments,
		       merkle_tree_root, start_index, end_index, paid_fees, estimated_fees, identifiers,
		       shielded_ciphertexts
		FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

// TransactionsByBlock returns every transaction belonging to blockID, in
// insertion (extrinsic) order.
func (s *Store) TransactionsByBlock(ctx context.Context, blockID uint64) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, block_id, variant, hash, protocol_version, raw, status, segments,
		       merkle_tree_root, start_index, end_index, paid_fees, estimated_fees, identifiers,
		       shielded_ciphertexts
		FROM transactions WHERE block_id = $1 ORDER BY id
	`, blockID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query transactions by block", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionsAfter returns up to limit transactions with
// afterID < id <= upTo, in ascending id order: the wallet indexer's bounded
// scan page.
func (s *Store) TransactionsAfter(ctx context.Context, afterID, upTo uint64, limit int) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, block_id, variant, hash, protocol_version, raw, status, segments,
		       merkle_tree_root, start_index, end_index, paid_fees, estimated_fees, identifiers,
		       shielded_ciphertexts
		FROM transactions WHERE id > $1 AND id <= $2 ORDER BY id LIMIT $3
	`, afterID, upTo, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query transactions after", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MaxTransactionID returns the highest assigned transaction id, or 0 if the
// table is empty. The wallet indexer re-derives its scan ceiling from this
// rather than trusting a BlockIndexed message's payload.
func (s *Store) MaxTransactionID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM transactions`).Scan(&id); err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "query max transaction id", err)
	}
	return id, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var hash []byte
	var variant, status sql.NullString
	var segments, identifiers, ciphertexts []byte
	var merkleRoot []byte
	var startIndex, endIndex sql.NullInt64
	var paidFees, estimatedFees []byte

	if err := row.Scan(&t.ID, &t.BlockID, &variant, &hash, &t.ProtocolVersion, &t.Raw, &status, &segments,
		&merkleRoot, &startIndex, &endIndex, &paidFees, &estimatedFees, &identifiers, &ciphertexts); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindTransient, "scan transaction", err)
	}

	copy(t.Hash[:], hash)
	t.Variant = domain.TransactionVariant(variant.String)
	t.Result.Status = domain.TransactionStatus(status.String)
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &t.Result.Segments); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "unmarshal segments", err)
		}
	}
	if len(identifiers) > 0 {
		if err := json.Unmarshal(identifiers, &t.Identifiers); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "unmarshal identifiers", err)
		}
	}
	if len(ciphertexts) > 0 {
		if err := json.Unmarshal(ciphertexts, &t.ShieldedCiphertexts); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "unmarshal shielded ciphertexts", err)
		}
	}
	t.MerkleTreeRoot = merkleRoot
	t.StartIndex = uint64(startIndex.Int64)
	t.EndIndex = uint64(endIndex.Int64)
	t.PaidFees = amountFromBytes(paidFees)
	t.EstimatedFees = amountFromBytes(estimatedFees)
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUint64(v uint64, present bool) any {
	if !present {
		return nil
	}
	return v
}

func nullAmount(a *domain.Amount128) any {
	if a == nil {
		return nil
	}
	return a[:]
}

func amountFromBytes(b []byte) *domain.Amount128 {
	if len(b) != 16 {
		return nil
	}
	var a domain.Amount128
	copy(a[:], b)
	return &a
}
