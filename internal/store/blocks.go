package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// InsertBlock inserts b within tx and returns its assigned id.
func (s *Store) InsertBlock(ctx context.Context, tx *sql.Tx, b *domain.Block) (uint64, error) {
	var id uint64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO blocks (hash, height, parent_hash, protocol_version, author, timestamp, ledger_parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, b.Hash[:], b.Height, b.ParentHash[:], b.ProtocolVersion, nullBytes(b.Author), b.Timestamp, b.LedgerParameters).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "insert block", err)
	}
	return id, nil
}

// LatestBlock returns the highest-height block, or nil if the chain is
// empty.
func (s *Store) LatestBlock(ctx context.Context) (*domain.Block, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, height, parent_hash, protocol_version, author, timestamp, ledger_parameters
		FROM blocks ORDER BY height DESC LIMIT 1
	`)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query latest block", err)
	}
	return b, nil
}

// BlockByHeight returns the block at height, or nil if none is indexed yet.
func (s *Store) BlockByHeight(ctx context.Context, height uint64) (*domain.Block, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, height, parent_hash, protocol_version, author, timestamp, ledger_parameters
		FROM blocks WHERE height = $1
	`, height)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query block by height", err)
	}
	return b, nil
}

// BlockByHash returns the block with the given hash, or nil if not found.
func (s *Store) BlockByHash(ctx context.Context, hash domain.Hash) (*domain.Block, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, height, parent_hash, protocol_version, author, timestamp, ledger_parameters
		FROM blocks WHERE hash = $1
	`, hash[:])
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query block by hash", err)
	}
	return b, nil
}

// BlocksAfter returns up to limit blocks with height > afterHeight, in
// ascending height order: the blocks subscription's backfill and live-tail
// page source.
func (s *Store) BlocksAfter(ctx context.Context, afterHeight uint64, limit int) ([]*domain.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, height, parent_hash, protocol_version, author, timestamp, ledger_parameters
		FROM blocks WHERE height > $1 ORDER BY height LIMIT $2
	`, afterHeight, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query blocks after", err)
	}
	defer rows.Close()

	var out []*domain.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan block", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*domain.Block, error) {
	var b domain.Block
	var hash, parentHash []byte
	var author []byte
	if err := row.Scan(&b.ID, &hash, &b.Height, &parentHash, &b.ProtocolVersion, &author, &b.Timestamp, &b.LedgerParameters); err != nil {
		return nil, err
	}
	if len(hash) != len(b.Hash) || len(parentHash) != len(b.ParentHash) {
		return nil, fmt.Errorf("store: corrupt hash length")
	}
	copy(b.Hash[:], hash)
	copy(b.ParentHash[:], parentHash)
	b.Author = author
	return &b, nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
