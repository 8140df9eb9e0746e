/*
baseline.go - One-time stocktake reconciliation

PURPOSE:
  When the ledger goes live, the physical stocktake is the truth and the
  (empty or partial) ledger is not. The seeder diffs the counted quantities
  against the projected balances and applies the minimal set of correcting
  entries, exactly once.

STATE MACHINE:
  NOT_RUN -> RUN. RUN is terminal unless explicitly overridden, which
  transitions back to RUN with a fresh audited run row - never to NOT_RUN.
  The lock is a persisted row, not an in-memory flag, so it survives process
  restarts and is itself auditable.

ATOMICITY:
  All corrections plus the run row commit as one transaction. A partial seed
  is worse than no seed: it would leave the "already executed" lock set
  without all corrections applied.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Seeder struct {
	store TxStore
}

func NewSeeder(store TxStore) *Seeder {
	return &Seeder{store: store}
}

// =============================================================================
// PROPOSE
// =============================================================================

// Propose computes delta = counted - projected per counted row and returns
// only the rows where the delta is non-zero. Rows that already match are
// dropped, not zero-delta-logged. Propose never writes.
func (sd *Seeder) Propose(ctx context.Context, counts []StocktakeCount) ([]BaselineChange, error) {
	changes := make([]BaselineChange, 0, len(counts))
	for _, c := range counts {
		if c.CountedQty.IsNegative() {
			return nil, fmt.Errorf("counted quantity for %s at %s is negative: %w",
				c.ItemID, c.LocationID, ErrInvalidQuantity)
		}
		current, err := balanceOn(ctx, sd.store, c.ItemID, c.LocationID)
		if err != nil {
			return nil, err
		}
		delta := c.CountedQty.Sub(current)
		if delta.IsZero() {
			continue
		}
		changes = append(changes, BaselineChange{
			ItemID:     c.ItemID,
			LocationID: c.LocationID,
			CountedQty: c.CountedQty,
			Delta:      delta,
		})
	}
	return changes, nil
}

// =============================================================================
// EXECUTE
// =============================================================================

type ExecuteParams struct {
	Changes        []BaselineChange
	Actor          string
	AllowRerun     bool
	OverrideReason string
	// SeedBatchID lets a client retry the whole batch safely: a batch id the
	// ledger has already committed is returned as a replay. Generated when
	// blank.
	SeedBatchID string
}

type SeedResult struct {
	Run      BaselineSeedRun
	Entries  []Entry
	Replayed bool
}

// Execute applies the proposed changes and records the run, atomically. The
// proposal's deltas may be stale by the time Execute runs - stock can move
// between propose and execute - so each delta is recomputed against the
// balance this transaction commits against. The counted quantity is the
// authoritative target either way.
func (sd *Seeder) Execute(ctx context.Context, p ExecuteParams) (*SeedResult, error) {
	if p.AllowRerun && strings.TrimSpace(p.OverrideReason) == "" {
		return nil, ErrMissingOverrideReason
	}
	batchID := p.SeedBatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	result := &SeedResult{}
	err := sd.store.WithTx(ctx, func(s Store) error {
		// A retry of a batch that already committed is a replay, not a
		// violation of the single-run lock.
		prior, err := s.SeedRunByBatchID(ctx, batchID)
		if err != nil {
			return err
		}
		if prior != nil {
			result.Run = *prior
			result.Replayed = true
			return nil
		}

		runs, err := s.SeedRuns(ctx)
		if err != nil {
			return err
		}
		if len(runs) > 0 && !p.AllowRerun {
			return ErrBaselineAlreadyExecuted
		}

		for _, change := range p.Changes {
			current, err := balanceOn(ctx, s, change.ItemID, change.LocationID)
			if err != nil {
				return err
			}
			delta := change.CountedQty.Sub(current)
			if delta.IsZero() {
				continue
			}
			entry, err := adjustIn(ctx, s, AdjustParams{
				ItemID:         change.ItemID,
				LocationID:     change.LocationID,
				Delta:          delta,
				Actor:          p.Actor,
				Note:           fmt.Sprintf("stocktake count %s", change.CountedQty),
				IdempotencyKey: seedKey(batchID, change.ItemID, change.LocationID),
				reason:         ReasonBaselineSeed,
				reference:      batchID,
			})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, *entry)
		}

		run := BaselineSeedRun{
			ID:             uuid.NewString(),
			SeedBatchID:    batchID,
			ExecutedAt:     time.Now().UTC(),
			ExecutedBy:     p.Actor,
			OverrideReason: strings.TrimSpace(p.OverrideReason),
			ChangeCount:    len(result.Entries),
		}
		if err := s.SaveSeedRun(ctx, run); err != nil {
			return err
		}
		result.Run = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Runs lists past seed runs, newest first.
func (sd *Seeder) Runs(ctx context.Context) ([]BaselineSeedRun, error) {
	return sd.store.SeedRuns(ctx)
}

func seedKey(batchID string, itemID ItemID, locationID LocationID) string {
	return fmt.Sprintf("seed:%s:%s:%s", batchID, itemID, locationID)
}
