/*
movements.go - The transactional operations that produce ledger entries

PURPOSE:
  Adjust, Transfer, ConsumeForProject, and ReceiveFromPurchaseOrder are the
  day-to-day writers of the ledger. Each call is a single transaction
  producing one or more entries plus their projections, or failing atomically
  with no partial effect.

IDEMPOTENCY:
  Every operation takes a caller-supplied idempotency key. A retried call
  with a key the ledger has already seen returns the ORIGINAL entries,
  flagged Replayed - success, not failure. Multi-entry operations derive one
  key per entry from the caller's key (transfer) or from stable line identity
  (receive: po id + item id), so a replay of the whole call is a no-op even
  if the first attempt committed.

NEGATIVE BALANCES:
  Transfers and consumption fail with InsufficientStock when the source
  balance is short. Adjustments fail with InvalidQuantity when they would
  leave a balance negative, unless the caller sets AllowNegative - the
  administrative escape hatch.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Movements owns all day-to-day ledger writes.
type Movements struct {
	store TxStore
}

func NewMovements(store TxStore) *Movements {
	return &Movements{store: store}
}

// MovementResult is what every operation returns: the entries written (or
// originally written, on replay) and whether this call was a replay.
type MovementResult struct {
	Entries       []Entry
	CorrelationID string
	Replayed      bool
}

// =============================================================================
// ADJUST
// =============================================================================

type AdjustParams struct {
	ItemID         ItemID
	LocationID     LocationID
	Delta          Quantity
	Note           string
	Actor          string
	IdempotencyKey string
	// AllowNegative is the administrative override for corrections that
	// legitimately drive a balance below zero.
	AllowNegative bool
	// reason/reference overrides for internal callers (baseline seeder).
	reason    EntryReason
	reference string
}

// Adjust writes one manual correction entry.
func (m *Movements) Adjust(ctx context.Context, p AdjustParams) (*MovementResult, error) {
	if p.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key required: %w", ErrInvalidQuantity)
	}
	if p.Delta.IsZero() {
		return nil, fmt.Errorf("zero delta: %w", ErrInvalidQuantity)
	}
	if replay, err := m.replayOf(ctx, p.IdempotencyKey); replay != nil || err != nil {
		return replay, err
	}

	reason := p.reason
	if reason == "" {
		reason = ReasonAdjustment
	}
	entry := Entry{
		ItemID:         p.ItemID,
		LocationID:     p.LocationID,
		Delta:          p.Delta,
		Reason:         reason,
		Reference:      p.reference,
		CorrelationID:  uuid.NewString(),
		Actor:          p.Actor,
		Note:           p.Note,
		IdempotencyKey: p.IdempotencyKey,
	}

	err := m.store.WithTx(ctx, func(s Store) error {
		if _, err := requireTrackedItem(ctx, s, p.ItemID); err != nil {
			return err
		}
		if _, err := requireActiveLocation(ctx, s, p.LocationID); err != nil {
			return err
		}
		current, err := balanceOn(ctx, s, p.ItemID, p.LocationID)
		if err != nil {
			return err
		}
		// Baseline seeds are authoritative counts and skip the floor.
		if !p.AllowNegative && reason != ReasonBaselineSeed && current.Add(p.Delta).IsNegative() {
			return &NegativeBalanceError{
				ItemID:     p.ItemID,
				LocationID: p.LocationID,
				Current:    current,
				Delta:      p.Delta,
			}
		}
		return appendAndProject(ctx, s, &entry)
	})
	if err != nil {
		// Lost a race against a concurrent retry of the same key: the other
		// call's entry is the original result.
		if errors.Is(err, ErrDuplicateEntry) {
			return m.replayOf(ctx, p.IdempotencyKey)
		}
		return nil, err
	}
	return &MovementResult{Entries: []Entry{entry}, CorrelationID: entry.CorrelationID}, nil
}

// adjustIn is Adjust's body running on an existing transaction store. Used by
// the baseline seeder, which batches many adjustments in one transaction.
func adjustIn(ctx context.Context, s Store, p AdjustParams) (*Entry, error) {
	if _, err := requireTrackedItem(ctx, s, p.ItemID); err != nil {
		return nil, err
	}
	if _, err := requireActiveLocation(ctx, s, p.LocationID); err != nil {
		return nil, err
	}
	entry := Entry{
		ItemID:         p.ItemID,
		LocationID:     p.LocationID,
		Delta:          p.Delta,
		Reason:         p.reason,
		Reference:      p.reference,
		Actor:          p.Actor,
		Note:           p.Note,
		IdempotencyKey: p.IdempotencyKey,
	}
	if err := appendAndProject(ctx, s, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

type TransferParams struct {
	ItemID         ItemID
	FromLocationID LocationID
	ToLocationID   LocationID
	Qty            Quantity
	Actor          string
	Note           string
	IdempotencyKey string
}

// Transfer moves qty between two locations: a transfer_out at the source and
// a transfer_in at the destination, sharing a correlation id. Both commit or
// neither does, so the item total across locations is invariant.
func (m *Movements) Transfer(ctx context.Context, p TransferParams) (*MovementResult, error) {
	if p.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key required: %w", ErrInvalidQuantity)
	}
	if !p.Qty.IsPositive() {
		return nil, fmt.Errorf("transfer quantity must be positive: %w", ErrInvalidQuantity)
	}
	if p.FromLocationID == p.ToLocationID {
		return nil, fmt.Errorf("transfer endpoints must differ: %w", ErrInvalidQuantity)
	}
	if replay, err := m.replayOf(ctx, p.IdempotencyKey+":out"); replay != nil || err != nil {
		return replay, err
	}

	correlationID := uuid.NewString()
	out := Entry{
		ItemID:         p.ItemID,
		LocationID:     p.FromLocationID,
		Delta:          p.Qty.Neg(),
		Reason:         ReasonTransferOut,
		Reference:      string(p.ToLocationID),
		CorrelationID:  correlationID,
		Actor:          p.Actor,
		Note:           p.Note,
		IdempotencyKey: p.IdempotencyKey + ":out",
	}
	in := Entry{
		ItemID:         p.ItemID,
		LocationID:     p.ToLocationID,
		Delta:          p.Qty,
		Reason:         ReasonTransferIn,
		Reference:      string(p.FromLocationID),
		CorrelationID:  correlationID,
		Actor:          p.Actor,
		Note:           p.Note,
		IdempotencyKey: p.IdempotencyKey + ":in",
	}

	err := m.store.WithTx(ctx, func(s Store) error {
		if _, err := requireTrackedItem(ctx, s, p.ItemID); err != nil {
			return err
		}
		if _, err := requireActiveLocation(ctx, s, p.FromLocationID); err != nil {
			return err
		}
		if _, err := requireActiveLocation(ctx, s, p.ToLocationID); err != nil {
			return err
		}
		available, err := balanceOn(ctx, s, p.ItemID, p.FromLocationID)
		if err != nil {
			return err
		}
		if available.LessThan(p.Qty) {
			return &InsufficientStockError{
				ItemID:     p.ItemID,
				LocationID: p.FromLocationID,
				Available:  available,
				Requested:  p.Qty,
			}
		}
		// The source balance dips first; the transient state is invisible
		// outside this transaction.
		if err := appendAndProject(ctx, s, &out); err != nil {
			return err
		}
		return appendAndProject(ctx, s, &in)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return m.replayOf(ctx, p.IdempotencyKey+":out")
		}
		return nil, err
	}
	return &MovementResult{Entries: []Entry{out, in}, CorrelationID: correlationID}, nil
}

// =============================================================================
// CONSUME FOR PROJECT
// =============================================================================

type ConsumeParams struct {
	ItemID         ItemID
	FromLocationID LocationID
	ProjectID      string
	Qty            Quantity
	Actor          string
	IdempotencyKey string
}

// ConsumeForProject records units used up on a project. Consumption is
// one-directional: returning units to stock is a new adjustment or transfer,
// never a reversal of this entry.
func (m *Movements) ConsumeForProject(ctx context.Context, p ConsumeParams) (*MovementResult, error) {
	if p.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key required: %w", ErrInvalidQuantity)
	}
	if !p.Qty.IsPositive() {
		return nil, fmt.Errorf("consumption quantity must be positive: %w", ErrInvalidQuantity)
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, fmt.Errorf("project id required: %w", ErrInvalidQuantity)
	}
	if replay, err := m.replayOf(ctx, p.IdempotencyKey); replay != nil || err != nil {
		return replay, err
	}

	entry := Entry{
		ItemID:         p.ItemID,
		LocationID:     p.FromLocationID,
		Delta:          p.Qty.Neg(),
		Reason:         ReasonConsumption,
		Reference:      p.ProjectID,
		CorrelationID:  uuid.NewString(),
		Actor:          p.Actor,
		IdempotencyKey: p.IdempotencyKey,
	}

	err := m.store.WithTx(ctx, func(s Store) error {
		if _, err := requireTrackedItem(ctx, s, p.ItemID); err != nil {
			return err
		}
		if _, err := requireActiveLocation(ctx, s, p.FromLocationID); err != nil {
			return err
		}
		available, err := balanceOn(ctx, s, p.ItemID, p.FromLocationID)
		if err != nil {
			return err
		}
		if available.LessThan(p.Qty) {
			return &InsufficientStockError{
				ItemID:     p.ItemID,
				LocationID: p.FromLocationID,
				Available:  available,
				Requested:  p.Qty,
			}
		}
		return appendAndProject(ctx, s, &entry)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return m.replayOf(ctx, p.IdempotencyKey)
		}
		return nil, err
	}
	return &MovementResult{Entries: []Entry{entry}, CorrelationID: entry.CorrelationID}, nil
}

// =============================================================================
// RECEIVE FROM PURCHASE ORDER
// =============================================================================

type ReceiptLine struct {
	ItemID ItemID
	Qty    Quantity
}

type ReceiveParams struct {
	POID  string
	Lines []ReceiptLine
	Actor string
}

// ReceiveFromPurchaseOrder books delivered PO lines into the loading bay, one
// receipt entry per line. The purchasing workflow may deliver the same PO
// event twice; per-line idempotency keys derived from (po id, item id) make
// the second call a no-op.
func (m *Movements) ReceiveFromPurchaseOrder(ctx context.Context, p ReceiveParams) (*MovementResult, error) {
	if strings.TrimSpace(p.POID) == "" {
		return nil, fmt.Errorf("purchase order id required: %w", ErrInvalidQuantity)
	}
	if len(p.Lines) == 0 {
		return nil, fmt.Errorf("purchase order has no lines: %w", ErrInvalidQuantity)
	}
	for _, line := range p.Lines {
		if !line.Qty.IsPositive() {
			return nil, fmt.Errorf("receipt quantity for %s must be positive: %w", line.ItemID, ErrInvalidQuantity)
		}
	}

	correlationID := uuid.NewString()
	result := &MovementResult{CorrelationID: correlationID}
	allReplayed := true

	err := m.store.WithTx(ctx, func(s Store) error {
		bay, err := resolveActiveOn(ctx, s, KindLoadingBay, "")
		if err != nil {
			return err
		}
		for _, line := range p.Lines {
			key := receiptKey(p.POID, line.ItemID)
			existing, err := s.EntryByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				result.Entries = append(result.Entries, *existing)
				continue
			}
			allReplayed = false
			if _, err := requireTrackedItem(ctx, s, line.ItemID); err != nil {
				return err
			}
			entry := Entry{
				ItemID:         line.ItemID,
				LocationID:     bay.ID,
				Delta:          line.Qty,
				Reason:         ReasonReceipt,
				Reference:      p.POID,
				CorrelationID:  correlationID,
				Actor:          p.Actor,
				IdempotencyKey: key,
			}
			if err := appendAndProject(ctx, s, &entry); err != nil {
				return err
			}
			result.Entries = append(result.Entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Replayed = allReplayed
	return result, nil
}

func receiptKey(poID string, itemID ItemID) string {
	return fmt.Sprintf("po:%s:%s", poID, itemID)
}

// =============================================================================
// REPLAY LOOKUP
// =============================================================================

// replayOf returns the original result for an idempotency key the ledger has
// already seen, or nil when the key is new.
func (m *Movements) replayOf(ctx context.Context, key string) (*MovementResult, error) {
	existing, err := m.store.EntryByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	entries := []Entry{*existing}
	if existing.CorrelationID != "" {
		correlated, err := m.store.EntriesByCorrelation(ctx, existing.CorrelationID)
		if err != nil {
			return nil, err
		}
		if len(correlated) > 0 {
			entries = correlated
		}
	}
	return &MovementResult{
		Entries:       entries,
		CorrelationID: existing.CorrelationID,
		Replayed:      true,
	}, nil
}
