package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// CreateWallet inserts a new wallet session. Callers assign w.ID (a fresh
// uuid) before calling.
func (s *Store) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, session_id, viewing_key_ciphertext, last_indexed_transaction_id, active, last_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.SessionID, w.ViewingKeyCiphertext, w.LastIndexedTransactionID, w.Active, w.LastActive)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "create wallet", err)
	}
	return nil
}

// WalletBySessionID returns the wallet bound to sessionID, or nil if no
// wallet holds it.
func (s *Store) WalletBySessionID(ctx context.Context, sessionID []byte) (*domain.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, viewing_key_ciphertext, last_indexed_transaction_id, active, last_active
		FROM wallets WHERE session_id = $1
	`, sessionID)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query wallet by session", err)
	}
	return w, nil
}

// WalletByID returns the wallet with the given id, or nil if not found.
func (s *Store) WalletByID(ctx context.Context, id string) (*domain.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, viewing_key_ciphertext, last_indexed_transaction_id, active, last_active
		FROM wallets WHERE id = $1
	`, id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query wallet by id", err)
	}
	return w, nil
}

// ActiveWallets returns every wallet with active = true, ordered for fair
// round-robin scanning (least-recently-indexed first).
func (s *Store) ActiveWallets(ctx context.Context) ([]*domain.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, viewing_key_ciphertext, last_indexed_transaction_id, active, last_active
		FROM wallets WHERE active = TRUE ORDER BY last_indexed_transaction_id ASC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query active wallets", err)
	}
	defer rows.Close()

	var out []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan wallet", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// AdvanceWalletCursor commits the wallet's new scan cursor and relevance
// edges atomically: the cursor update and every edge insert happen in one
// transaction so a crash between them cannot leave the wallet ahead of its
// own recorded relevance.
func (s *Store) AdvanceWalletCursor(ctx context.Context, walletID string, lastIndexedTransactionID uint64, relevant []uint64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, txID := range relevant {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO relevant_transactions (wallet_id, transaction_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, walletID, txID); err != nil {
				return apperr.Wrap(apperr.KindTransient, "insert relevant transaction", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE wallets SET last_indexed_transaction_id = $1, last_active = now() WHERE id = $2
		`, lastIndexedTransactionID, walletID)
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "advance wallet cursor", err)
		}
		return nil
	})
}

// DeactivateWallet marks a wallet inactive, e.g. after its viewing-key
// envelope fails to decrypt.
func (s *Store) DeactivateWallet(ctx context.Context, walletID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE wallets SET active = FALSE WHERE id = $1`, walletID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "deactivate wallet", err)
	}
	return nil
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.SessionID, &w.ViewingKeyCiphertext, &w.LastIndexedTransactionID, &w.Active, &w.LastActive); err != nil {
		return nil, err
	}
	return &w, nil
}

// RelevantTransactionsByWallet returns every transaction id known relevant
// to walletID, in ascending order.
func (s *Store) RelevantTransactionsByWallet(ctx context.Context, walletID string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM relevant_transactions WHERE wallet_id = $1 ORDER BY transaction_id
	`, walletID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query relevant transactions", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan relevant transaction", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RelevantTransactionsAfter returns the wallet's relevant transaction ids
// greater than afterID, in ascending order, capped at limit: the shielded
// subscription's backfill and live-tail page source.
func (s *Store) RelevantTransactionsAfter(ctx context.Context, walletID string, afterID uint64, limit int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM relevant_transactions
		WHERE wallet_id = $1 AND transaction_id > $2
		ORDER BY transaction_id LIMIT $3
	`, walletID, afterID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query relevant transactions after", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan relevant transaction", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
