package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

// InsertLedgerEvent inserts e within tx and returns its assigned id.
func (s *Store) InsertLedgerEvent(ctx context.Context, tx *sql.Tx, e *domain.LedgerEvent) (uint64, error) {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "marshal event attributes", err)
	}

	var id uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_events (transaction_id, grouping, variant, raw, attributes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.TransactionID, string(e.Grouping), string(e.Variant), e.Raw, attrs).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "insert ledger event", err)
	}
	return id, nil
}

// LedgerEventsByTransaction returns the events emitted for transactionID,
// optionally filtered to one grouping. An empty grouping returns every
// grouping, in emission order.
func (s *Store) LedgerEventsByTransaction(ctx context.Context, transactionID uint64, grouping domain.LedgerEventGrouping) ([]*domain.LedgerEvent, error) {
	var rows *sql.Rows
	var err error
	if grouping == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, transaction_id, grouping, variant, raw, attributes
			FROM ledger_events WHERE transaction_id = $1 ORDER BY id
		`, transactionID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, transaction_id, grouping, variant, raw, attributes
			FROM ledger_events WHERE transaction_id = $1 AND grouping = $2 ORDER BY id
		`, transactionID, string(grouping))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query ledger events", err)
	}
	defer rows.Close()

	var out []*domain.LedgerEvent
	for rows.Next() {
		e, err := scanLedgerEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LedgerEventsAfter returns up to limit events of one grouping with
// id > afterID, in emission order: the dustLedgerEvents/zswapLedgerEvents
// subscriptions' backfill and live-tail page source.
func (s *Store) LedgerEventsAfter(ctx context.Context, grouping domain.LedgerEventGrouping, afterID uint64, limit int) ([]*domain.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, grouping, variant, raw, attributes
		FROM ledger_events WHERE grouping = $1 AND id > $2 ORDER BY id LIMIT $3
	`, string(grouping), afterID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query ledger events after", err)
	}
	defer rows.Close()

	var out []*domain.LedgerEvent
	for rows.Next() {
		e, err := scanLedgerEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanLedgerEvent(row rowScanner) (*domain.LedgerEvent, error) {
	var e domain.LedgerEvent
	var grp, variant string
	var attrs []byte
	if err := row.Scan(&e.ID, &e.TransactionID, &grp, &variant, &e.Raw, &attrs); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "scan ledger event", err)
	}
	e.Grouping = domain.LedgerEventGrouping(grp)
	e.Variant = domain.LedgerEventVariant(variant)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "unmarshal event attributes", err)
		}
	}
	return &e, nil
}
