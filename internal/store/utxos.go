package store

import (
	"context"
	"database/sql"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// InsertUnshieldedUtxo inserts a newly created output within tx and returns
// its assigned id.
func (s *Store) InsertUnshieldedUtxo(ctx context.Context, tx *sql.Tx, u *domain.UnshieldedUtxo) (uint64, error) {
	var id uint64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO unshielded_utxos (
			creating_transaction_id, owner, token_type, value, intent_hash, output_index,
			initial_nonce, registered_for_dust_generation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, u.CreatingTransactionID, u.Owner, u.TokenType, u.Value[:], u.IntentHash, u.OutputIndex,
		u.InitialNonce, u.RegisteredForDustGeneration).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "insert unshielded utxo", err)
	}
	return id, nil
}

// MarkUnshieldedUtxoSpent sets the spending transaction for the output
// uniquely identified by (intentHash, outputIndex). It returns
// apperr.KindTransactionLogic if the output is unknown or already spent,
// mirroring the ledger runtime's own double-spend rejection so storage
// enforces the same invariant the runtime already checked.
func (s *Store) MarkUnshieldedUtxoSpent(ctx context.Context, tx *sql.Tx, intentHash []byte, outputIndex uint64, spendingTransactionID uint64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE unshielded_utxos SET spending_transaction_id = $1
		WHERE intent_hash = $2 AND output_index = $3 AND spending_transaction_id IS NULL
	`, spendingTransactionID, intentHash, outputIndex)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "mark utxo spent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindTransactionLogic, "utxo already spent or unknown")
	}
	return nil
}

// UnshieldedUtxosByOwner returns every output ever owned by owner, both
// spent and unspent, ordered by creation.
func (s *Store) UnshieldedUtxosByOwner(ctx context.Context, owner []byte) ([]*domain.UnshieldedUtxo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creating_transaction_id, spending_transaction_id, owner, token_type, value,
		       intent_hash, output_index, initial_nonce, registered_for_dust_generation
		FROM unshielded_utxos WHERE owner = $1 ORDER BY id
	`, owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query utxos by owner", err)
	}
	defer rows.Close()

	var out []*domain.UnshieldedUtxo
	for rows.Next() {
		u, err := scanUtxo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UnshieldedUtxosByCreatingTransaction returns every output a transaction
// created, used by the wallet indexer's unshielded-address join.
func (s *Store) UnshieldedUtxosByCreatingTransaction(ctx context.Context, transactionID uint64) ([]*domain.UnshieldedUtxo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creating_transaction_id, spending_transaction_id, owner, token_type, value,
		       intent_hash, output_index, initial_nonce, registered_for_dust_generation
		FROM unshielded_utxos WHERE creating_transaction_id = $1 ORDER BY output_index
	`, transactionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query utxos by creating transaction", err)
	}
	defer rows.Close()

	var out []*domain.UnshieldedUtxo
	for rows.Next() {
		u, err := scanUtxo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UnshieldedUtxosBySpendingTransaction returns every output a transaction
// consumed, used by the unshieldedSpentOutputs transaction resolver field
// (owner-agnostic: a transaction can spend outputs it does not itself own
// an address in common with, so this is keyed purely on the spend edge).
func (s *Store) UnshieldedUtxosBySpendingTransaction(ctx context.Context, transactionID uint64) ([]*domain.UnshieldedUtxo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creating_transaction_id, spending_transaction_id, owner, token_type, value,
		       intent_hash, output_index, initial_nonce, registered_for_dust_generation
		FROM unshielded_utxos WHERE spending_transaction_id = $1 ORDER BY output_index
	`, transactionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query utxos by spending transaction", err)
	}
	defer rows.Close()

	var out []*domain.UnshieldedUtxo
	for rows.Next() {
		u, err := scanUtxo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UnshieldedUtxosByOwnerAfter returns up to limit outputs owned by owner
// with id > afterID, in ascending id order: the unshieldedTransactions
// subscription's backfill and live-tail page source.
func (s *Store) UnshieldedUtxosByOwnerAfter(ctx context.Context, owner []byte, afterID uint64, limit int) ([]*domain.UnshieldedUtxo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creating_transaction_id, spending_transaction_id, owner, token_type, value,
		       intent_hash, output_index, initial_nonce, registered_for_dust_generation
		FROM unshielded_utxos WHERE owner = $1 AND id > $2 ORDER BY id LIMIT $3
	`, owner, afterID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query utxos by owner after", err)
	}
	defer rows.Close()

	var out []*domain.UnshieldedUtxo
	for rows.Next() {
		u, err := scanUtxo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUtxo(row rowScanner) (*domain.UnshieldedUtxo, error) {
	var u domain.UnshieldedUtxo
	var spendingTxID sql.NullInt64
	var value []byte

	if err := row.Scan(&u.ID, &u.CreatingTransactionID, &spendingTxID, &u.Owner, &u.TokenType, &value,
		&u.IntentHash, &u.OutputIndex, &u.InitialNonce, &u.RegisteredForDustGeneration); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "scan utxo", err)
	}
	if spendingTxID.Valid {
		v := uint64(spendingTxID.Int64)
		u.SpendingTransactionID = &v
	}
	if len(value) == 16 {
		copy(u.Value[:], value)
	}
	return &u, nil
}
