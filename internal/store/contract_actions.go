package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// InsertContractAction inserts a within tx and returns its assigned id.
func (s *Store) InsertContractAction(ctx context.Context, tx *sql.Tx, a *domain.ContractAction) (uint64, error) {
	attrs, err := json.Marshal(a.Attributes)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "marshal contract attributes", err)
	}

	var id uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO contract_actions (transaction_id, variant, address, state, zswap_state, entry_point, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.TransactionID, string(a.Variant), a.Address, a.State, a.ZswapState, nullString(a.EntryPoint), attrs).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "insert contract action", err)
	}
	return id, nil
}

// InsertContractBalance inserts one token balance row for a contract action.
func (s *Store) InsertContractBalance(ctx context.Context, tx *sql.Tx, b *domain.ContractBalance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO contract_balances (contract_action_id, token_type, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_action_id, token_type) DO UPDATE SET amount = EXCLUDED.amount
	`, b.ContractActionID, b.TokenType, b.Amount[:])
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert contract balance", err)
	}
	return nil
}

// LatestContractAction returns the most recent lifecycle event for address,
// or nil if the contract is unknown.
func (s *Store) LatestContractAction(ctx context.Context, address []byte) (*domain.ContractAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, variant, address, state, zswap_state, entry_point, attributes
		FROM contract_actions WHERE address = $1 ORDER BY id DESC LIMIT 1
	`, address)
	a, err := scanContractAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ContractActionAtHeight returns the most recent lifecycle event for
// address at or before the given block height, or nil if none exists yet
// at that height.
func (s *Store) ContractActionAtHeight(ctx context.Context, address []byte, height uint64) (*domain.ContractAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ca.id, ca.transaction_id, ca.variant, ca.address, ca.state, ca.zswap_state, ca.entry_point, ca.attributes
		FROM contract_actions ca
		JOIN transactions t ON t.id = ca.transaction_id
		JOIN blocks b ON b.id = t.block_id
		WHERE ca.address = $1 AND b.height <= $2
		ORDER BY ca.id DESC LIMIT 1
	`, address, height)
	a, err := scanContractAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ContractActionsByAddress returns every lifecycle event for address in
// chronological order.
func (s *Store) ContractActionsByAddress(ctx context.Context, address []byte) ([]*domain.ContractAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, variant, address, state, zswap_state, entry_point, attributes
		FROM contract_actions WHERE address = $1 ORDER BY id
	`, address)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query contract actions", err)
	}
	defer rows.Close()

	var out []*domain.ContractAction
	for rows.Next() {
		a, err := scanContractAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ContractActionsAfter returns up to limit lifecycle events for address
// with id > afterID, in ascending id order: the contractActions
// subscription's backfill and live-tail page source.
func (s *Store) ContractActionsAfter(ctx context.Context, address []byte, afterID uint64, limit int) ([]*domain.ContractAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, variant, address, state, zswap_state, entry_point, attributes
		FROM contract_actions WHERE address = $1 AND id > $2 ORDER BY id LIMIT $3
	`, address, afterID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query contract actions after", err)
	}
	defer rows.Close()

	var out []*domain.ContractAction
	for rows.Next() {
		a, err := scanContractAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanContractAction(row rowScanner) (*domain.ContractAction, error) {
	var a domain.ContractAction
	var variant string
	var entryPoint sql.NullString
	var attrs []byte

	if err := row.Scan(&a.ID, &a.TransactionID, &variant, &a.Address, &a.State, &a.ZswapState, &entryPoint, &attrs); err != nil {
		return nil, err
	}
	a.Variant = domain.ContractActionVariant(variant)
	a.EntryPoint = entryPoint.String
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "unmarshal contract attributes", err)
		}
	}
	return &a, nil
}
