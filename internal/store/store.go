// Package store provides the indexer's relational persistence layer: one
// PostgreSQL database holding the Block/Transaction/ContractAction graph,
// unshielded UTXOs, ledger events, wallets, and their relevance edges.
//
// It follows the teacher's database/sql-wrapper shape (a Store struct
// owning *sql.DB, an initSchema that creates every table and index up
// front, and one file per entity group) adapted from SQLite to Postgres via
// jackc/pgx/v5/stdlib registered as a database/sql driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
)

// Store is the indexer's relational store handle.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using cfg and initializes the schema.
func Open(ctx context.Context, cfg config.Storage) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB, for components (e.g. health checks)
// that only need SELECT 1.
func (s *Store) DB() *sql.DB { return s.db }

// Ready reports whether the store is reachable, backing the /ready
// endpoint's "store reachable" half.
func (s *Store) Ready(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx) == nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS blocks (
		id                 BIGSERIAL PRIMARY KEY,
		hash               BYTEA NOT NULL UNIQUE,
		height             BIGINT NOT NULL UNIQUE,
		parent_hash        BYTEA NOT NULL,
		protocol_version   INTEGER NOT NULL,
		author             BYTEA,
		timestamp          BIGINT NOT NULL,
		ledger_parameters  BYTEA NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_height ON blocks(height);
	CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(hash);

	CREATE TABLE IF NOT EXISTS transactions (
		id                   BIGSERIAL PRIMARY KEY,
		block_id             BIGINT NOT NULL REFERENCES blocks(id),
		variant              TEXT NOT NULL,
		hash                 BYTEA NOT NULL,
		protocol_version     INTEGER NOT NULL,
		raw                  BYTEA NOT NULL,
		status               TEXT,
		segments             JSONB,
		merkle_tree_root     BYTEA,
		start_index          BIGINT,
		end_index            BIGINT,
		paid_fees            BYTEA,
		estimated_fees       BYTEA,
		identifiers          JSONB,
		shielded_ciphertexts JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_block_id ON transactions(block_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(hash);
	CREATE INDEX IF NOT EXISTS idx_transactions_variant_id ON transactions(variant, id);

	CREATE TABLE IF NOT EXISTS contract_actions (
		id               BIGSERIAL PRIMARY KEY,
		transaction_id   BIGINT NOT NULL REFERENCES transactions(id),
		variant          TEXT NOT NULL,
		address          BYTEA NOT NULL,
		state            BYTEA NOT NULL,
		zswap_state      BYTEA NOT NULL,
		entry_point      TEXT,
		attributes       JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_contract_actions_address ON contract_actions(address, id);
	CREATE INDEX IF NOT EXISTS idx_contract_actions_tx ON contract_actions(transaction_id);

	CREATE TABLE IF NOT EXISTS contract_balances (
		contract_action_id  BIGINT NOT NULL REFERENCES contract_actions(id),
		token_type          BYTEA NOT NULL,
		amount              BYTEA NOT NULL,
		PRIMARY KEY (contract_action_id, token_type)
	);

	CREATE TABLE IF NOT EXISTS unshielded_utxos (
		id                              BIGSERIAL PRIMARY KEY,
		creating_transaction_id         BIGINT NOT NULL REFERENCES transactions(id),
		spending_transaction_id         BIGINT REFERENCES transactions(id),
		owner                           BYTEA NOT NULL,
		token_type                      BYTEA NOT NULL,
		value                           BYTEA NOT NULL,
		intent_hash                     BYTEA NOT NULL,
		output_index                    BIGINT NOT NULL,
		initial_nonce                   BYTEA NOT NULL,
		registered_for_dust_generation  BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (intent_hash, output_index)
	);
	CREATE INDEX IF NOT EXISTS idx_utxos_creating_owner ON unshielded_utxos(creating_transaction_id, owner);
	CREATE INDEX IF NOT EXISTS idx_utxos_spending_owner ON unshielded_utxos(spending_transaction_id, owner);
	CREATE INDEX IF NOT EXISTS idx_utxos_owner ON unshielded_utxos(owner);

	CREATE TABLE IF NOT EXISTS ledger_events (
		id              BIGSERIAL PRIMARY KEY,
		transaction_id  BIGINT NOT NULL REFERENCES transactions(id),
		grouping        TEXT NOT NULL,
		variant         TEXT NOT NULL,
		raw             BYTEA NOT NULL,
		attributes      JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_tx_grouping ON ledger_events(transaction_id, grouping);

	CREATE TABLE IF NOT EXISTS wallets (
		id                            UUID PRIMARY KEY,
		session_id                    BYTEA NOT NULL UNIQUE,
		viewing_key_ciphertext        BYTEA NOT NULL,
		last_indexed_transaction_id   BIGINT NOT NULL DEFAULT 0,
		active                        BOOLEAN NOT NULL DEFAULT TRUE,
		last_active                   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_wallets_session_id ON wallets(session_id);
	CREATE INDEX IF NOT EXISTS idx_wallets_last_indexed_desc ON wallets(last_indexed_transaction_id DESC);

	CREATE TABLE IF NOT EXISTS relevant_transactions (
		wallet_id        UUID NOT NULL REFERENCES wallets(id),
		transaction_id   BIGINT NOT NULL REFERENCES transactions(id),
		PRIMARY KEY (wallet_id, transaction_id)
	);
	CREATE INDEX IF NOT EXISTS idx_relevant_wallet_tx ON relevant_transactions(wallet_id, transaction_id);

	CREATE TABLE IF NOT EXISTS registrations (
		id               BIGSERIAL PRIMARY KEY,
		block_id         BIGINT NOT NULL REFERENCES blocks(id),
		dust_address     BYTEA NOT NULL,
		cardano_address  BYTEA NOT NULL,
		valid_from       BIGINT NOT NULL,
		removed_at       TIMESTAMPTZ,
		UNIQUE (dust_address, cardano_address)
	);

	CREATE TABLE IF NOT EXISTS mapping_entries (
		id                   BIGSERIAL PRIMARY KEY,
		block_id             BIGINT NOT NULL REFERENCES blocks(id),
		unshielded_address   BYTEA NOT NULL,
		dust_address         BYTEA NOT NULL,
		removed_at           TIMESTAMPTZ,
		UNIQUE (unshielded_address, dust_address)
	);

	CREATE TABLE IF NOT EXISTS spo_aggregates (
		spo_id          BYTEA NOT NULL,
		block_height    BIGINT NOT NULL,
		total_stake     BYTEA NOT NULL,
		dust_generated  BYTEA NOT NULL,
		PRIMARY KEY (spo_id, block_height)
	);

	CREATE TABLE IF NOT EXISTS cost_model_snapshots (
		protocol_version   INTEGER NOT NULL,
		block_height       BIGINT NOT NULL,
		ledger_parameters  BYTEA NOT NULL,
		PRIMARY KEY (protocol_version, block_height)
	);

	CREATE TABLE IF NOT EXISTS snapshot_pointer (
		id                INTEGER PRIMARY KEY DEFAULT 0,
		block_height      BIGINT NOT NULL,
		protocol_version  INTEGER NOT NULL,
		ab_selector       TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error, including a panic (which it re-panics after
// rollback). Begin and commit failures are reported as KindTransient.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindTransient, "commit tx", err)
	}
	return nil
}
