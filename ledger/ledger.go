/*
ledger.go - Append + projection

PURPOSE:
  The entries table is the immutable source of truth; the balances table is a
  projection of it. This file owns the one rule that keeps them consistent:
  an entry and its projection are written by the same helper, inside the same
  transaction. Nothing else in the repository updates a balance.

WHY APPEND-THEN-PROJECT IN ONE TRANSACTION?
  Two separate commits would admit a crash window where an entry exists
  without its projection. With one transaction the pair is all-or-nothing,
  and Rebuild can always re-derive a balance from the entries if a replica
  ever disagrees.

CORRECTIONS:
  A mistaken movement is corrected with a new entry (opposite sign), never by
  editing history. The dedup repair and the baseline seed both follow this
  rule.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger exposes read access to the entry log and its balance projection.
type Ledger struct {
	store TxStore
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the current projected quantity for (item, location).
// Pairs no entry has touched yet are zero.
func (l *Ledger) BalanceOf(ctx context.Context, itemID ItemID, locationID LocationID) (Quantity, error) {
	return balanceOn(ctx, l.store, itemID, locationID)
}

// EntriesFor returns the entries for a pair with seq > sinceSeq, in
// insertion order. Pass 0 to read from the beginning.
func (l *Ledger) EntriesFor(ctx context.Context, itemID ItemID, locationID LocationID, sinceSeq int64) ([]Entry, error) {
	return l.store.EntriesFor(ctx, itemID, locationID, sinceSeq)
}

// EntriesByCorrelation returns all entries of one logical operation.
func (l *Ledger) EntriesByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	return l.store.EntriesByCorrelation(ctx, correlationID)
}

// Rebuild recomputes one balance row by folding the full entry log for the
// pair. Used to recover a projection that is suspected stale and by tests to
// cross-check the incremental projection.
func (l *Ledger) Rebuild(ctx context.Context, itemID ItemID, locationID LocationID) (Quantity, error) {
	var result Quantity
	err := l.store.WithTx(ctx, func(s Store) error {
		entries, err := s.EntriesFor(ctx, itemID, locationID, 0)
		if err != nil {
			return err
		}
		total := QuantityFromInt(0)
		var lastSeq int64
		for _, e := range entries {
			total = total.Add(e.Delta)
			lastSeq = e.Seq
		}
		if err := s.SetBalance(ctx, itemID, locationID, total, lastSeq); err != nil {
			return err
		}
		result = total
		return nil
	})
	return result, err
}

// =============================================================================
// SHARED WRITE HELPERS - used by movements, baseline, and dedup repair
// =============================================================================

// appendAndProject writes one entry and folds it into the balance projection
// on the same store handle. Callers MUST pass a transaction-scoped store.
// The assigned seq is written back into e.
func appendAndProject(ctx context.Context, s Store, e *Entry) error {
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	seq, err := s.AppendEntry(ctx, *e)
	if err != nil {
		return err
	}
	e.Seq = seq
	if err := s.UpsertBalance(ctx, e.ItemID, e.LocationID, e.Delta, seq); err != nil {
		return fmt.Errorf("failed to project entry %s: %w", e.ID, err)
	}
	return s.TouchLocation(ctx, e.LocationID, e.CreatedAt)
}

// balanceOn reads the projected quantity on any store handle, defaulting to
// zero when no row exists.
func balanceOn(ctx context.Context, s Store, itemID ItemID, locationID LocationID) (Quantity, error) {
	b, err := s.Balance(ctx, itemID, locationID)
	if err != nil {
		return Quantity{}, err
	}
	if b == nil {
		return QuantityFromInt(0), nil
	}
	return b.QuantityOnHand, nil
}

// requireTrackedItem loads an item and rejects unknown or untracked ones.
func requireTrackedItem(ctx context.Context, s Store, itemID ItemID) (*StockItem, error) {
	item, err := s.ItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
	}
	if !item.TracksInventory {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotTracked)
	}
	return item, nil
}

// requireActiveLocation loads a location and rejects unknown or inactive ones.
func requireActiveLocation(ctx context.Context, s Store, id LocationID) (*StockLocation, error) {
	loc, err := s.LocationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, &InvalidLocationError{LocationID: id, Cause: "unknown"}
	}
	if !loc.IsActive {
		return nil, &InvalidLocationError{LocationID: id, Cause: "inactive"}
	}
	return loc, nil
}
