// Registrations, mapping entries, SPO aggregates, and cost-model snapshots:
// the supplemented side tables fed by the chain indexer's post-commit
// projections rather than the ledger Apply path itself.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// UpsertRegistration inserts or refreshes a DUST-generation registration,
// keyed by (DustAddress, CardanoAddress).
func (s *Store) UpsertRegistration(ctx context.Context, tx *sql.Tx, r *domain.Registration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO registrations (block_id, dust_address, cardano_address, valid_from, removed_at)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (dust_address, cardano_address)
		DO UPDATE SET block_id = EXCLUDED.block_id, valid_from = EXCLUDED.valid_from, removed_at = NULL
	`, r.BlockID, r.DustAddress, r.CardanoAddress, r.ValidFrom)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "upsert registration", err)
	}
	return nil
}

// RemoveRegistration soft-deletes a registration by stamping RemovedAt.
func (s *Store) RemoveRegistration(ctx context.Context, tx *sql.Tx, dustAddress, cardanoAddress []byte, removedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE registrations SET removed_at = $1 WHERE dust_address = $2 AND cardano_address = $3
	`, removedAt, dustAddress, cardanoAddress)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "remove registration", err)
	}
	return nil
}

// UpsertMappingEntry inserts or refreshes a native-token UTXO mapping,
// keyed by (UnshieldedAddress, DustAddress).
func (s *Store) UpsertMappingEntry(ctx context.Context, tx *sql.Tx, m *domain.MappingEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mapping_entries (block_id, unshielded_address, dust_address, removed_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (unshielded_address, dust_address)
		DO UPDATE SET block_id = EXCLUDED.block_id, removed_at = NULL
	`, m.BlockID, m.UnshieldedAddress, m.DustAddress)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "upsert mapping entry", err)
	}
	return nil
}

// RemoveMappingEntry soft-deletes a mapping entry by stamping RemovedAt.
func (s *Store) RemoveMappingEntry(ctx context.Context, tx *sql.Tx, unshieldedAddress, dustAddress []byte, removedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE mapping_entries SET removed_at = $1 WHERE unshielded_address = $2 AND dust_address = $3
	`, removedAt, unshieldedAddress, dustAddress)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "remove mapping entry", err)
	}
	return nil
}

// UpsertSpoAggregate writes or replaces one (SpoID, BlockHeight) rollup row.
func (s *Store) UpsertSpoAggregate(ctx context.Context, tx *sql.Tx, a *domain.SpoAggregate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO spo_aggregates (spo_id, block_height, total_stake, dust_generated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (spo_id, block_height) DO UPDATE SET
			total_stake = EXCLUDED.total_stake, dust_generated = EXCLUDED.dust_generated
	`, a.SpoID, a.BlockHeight, a.TotalStake[:], a.DustGenerated[:])
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "upsert spo aggregate", err)
	}
	return nil
}

// InsertCostModelSnapshot records one block's changed ledger parameters.
func (s *Store) InsertCostModelSnapshot(ctx context.Context, tx *sql.Tx, c *domain.CostModelSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cost_model_snapshots (protocol_version, block_height, ledger_parameters)
		VALUES ($1, $2, $3)
		ON CONFLICT (protocol_version, block_height) DO NOTHING
	`, c.ProtocolVersion, c.BlockHeight, c.LedgerParameters)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert cost model snapshot", err)
	}
	return nil
}

// SnapshotPointer returns the current ledger-state snapshot pointer, or nil
// if none has been written yet.
func (s *Store) SnapshotPointer(ctx context.Context) (*domain.SnapshotPointer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT block_height, protocol_version, ab_selector FROM snapshot_pointer WHERE id = 0`)
	var p domain.SnapshotPointer
	var selector string
	if err := row.Scan(&p.BlockHeight, &p.ProtocolVersion, &selector); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindTransient, "query snapshot pointer", err)
	}
	p.ABSelector = domain.ABSelector(selector)
	return &p, nil
}

// SwapSnapshotPointer atomically publishes the newly written slot as
// current, the final step of the object store's write-then-swap sequence.
func (s *Store) SwapSnapshotPointer(ctx context.Context, tx *sql.Tx, p domain.SnapshotPointer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_pointer (id, block_height, protocol_version, ab_selector)
		VALUES (0, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			block_height = EXCLUDED.block_height,
			protocol_version = EXCLUDED.protocol_version,
			ab_selector = EXCLUDED.ab_selector
	`, p.BlockHeight, p.ProtocolVersion, string(p.ABSelector))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "swap snapshot pointer", err)
	}
	return nil
}
