package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/stock-ledger/ledger"
)

// =============================================================================
// PROPOSE
// =============================================================================

func TestBaselinePropose_DiffsCountsAgainstProjection(t *testing.T) {
	// GIVEN: 4 cable projected in the warehouse but 10 physically counted
	// WHEN: Proposing a baseline
	// THEN: One change with delta +6 comes back; nothing is written

	store, _ := newTestLedger(t)
	ctx := context.Background()
	movements := ledger.NewMovements(store)
	seeder := ledger.NewSeeder(store)

	_, err := movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(4), Actor: "alex", IdempotencyKey: "adj-pre",
	})
	require.NoError(t, err)

	changes, err := seeder.Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(10)},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Delta.Equal(qty(6)))

	// Propose never writes
	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).Equal(qty(4)))
}

func TestBaselinePropose_MatchingCountProducesNoChange(t *testing.T) {
	// Counts that already match the projection are dropped, not zero-logged.

	store, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.NewMovements(store).Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(7), Actor: "alex", IdempotencyKey: "adj-pre",
	})
	require.NoError(t, err)

	changes, err := ledger.NewSeeder(store).Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(7)},
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestBaselinePropose_NegativeCountRejected(t *testing.T) {
	store, _ := newTestLedger(t)

	_, err := ledger.NewSeeder(store).Propose(context.Background(), []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(-1)},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestBaselineExecute_SeedsBalancesAndRecordsRun(t *testing.T) {
	// GIVEN: An empty ledger and a stocktake counting 12 cable
	// WHEN: Proposing and executing the baseline
	// THEN: The balance reads 12 via a baseline_seed entry and one run row
	//       exists

	store, _ := newTestLedger(t)
	ctx := context.Background()
	seeder := ledger.NewSeeder(store)

	changes, err := seeder.Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(12)},
	})
	require.NoError(t, err)

	result, err := seeder.Execute(ctx, ledger.ExecuteParams{Changes: changes, Actor: "alex"})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, ledger.ReasonBaselineSeed, result.Entries[0].Reason)
	assert.Equal(t, result.Run.SeedBatchID, result.Entries[0].Reference)
	assert.Equal(t, 1, result.Run.ChangeCount)

	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).Equal(qty(12)))

	runs, err := seeder.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestBaselineExecute_SecondRunRejectedWithoutOverride(t *testing.T) {
	// The single-run lock is a persisted row: once any run exists, a plain
	// execute is refused.

	store, _ := newTestLedger(t)
	ctx := context.Background()
	seeder := ledger.NewSeeder(store)

	_, err := seeder.Execute(ctx, ledger.ExecuteParams{Actor: "alex"})
	require.NoError(t, err)

	_, err = seeder.Execute(ctx, ledger.ExecuteParams{Actor: "alex"})
	assert.ErrorIs(t, err, ledger.ErrBaselineAlreadyExecuted)
}

func TestBaselineExecute_RerunRequiresReason(t *testing.T) {
	store, _ := newTestLedger(t)
	seeder := ledger.NewSeeder(store)

	_, err := seeder.Execute(context.Background(), ledger.ExecuteParams{
		Actor: "alex", AllowRerun: true, OverrideReason: "   ",
	})
	assert.ErrorIs(t, err, ledger.ErrMissingOverrideReason)
}

func TestBaselineExecute_RerunWithReasonRecordsNewRun(t *testing.T) {
	// An explicit override applies fresh corrections and leaves a second
	// audited run row - never an edit of the first.

	store, _ := newTestLedger(t)
	ctx := context.Background()
	seeder := ledger.NewSeeder(store)

	_, err := seeder.Execute(ctx, ledger.ExecuteParams{
		Changes: []ledger.BaselineChange{
			{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(5), Delta: qty(5)},
		},
		Actor: "alex",
	})
	require.NoError(t, err)

	second, err := seeder.Execute(ctx, ledger.ExecuteParams{
		Changes: []ledger.BaselineChange{
			{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(8), Delta: qty(3)},
		},
		Actor: "sam", AllowRerun: true, OverrideReason: "recount after flood damage",
	})
	require.NoError(t, err)
	assert.Equal(t, "recount after flood damage", second.Run.OverrideReason)

	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).Equal(qty(8)))

	runs, err := seeder.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBaselineExecute_BatchRetryIsReplay(t *testing.T) {
	// A client retrying the whole batch (same seed_batch_id) gets the
	// committed run back instead of tripping the single-run lock.

	store, _ := newTestLedger(t)
	ctx := context.Background()
	seeder := ledger.NewSeeder(store)

	params := ledger.ExecuteParams{
		Changes: []ledger.BaselineChange{
			{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(5), Delta: qty(5)},
		},
		Actor:       "alex",
		SeedBatchID: "stocktake-2026-08",
	}
	first, err := seeder.Execute(ctx, params)
	require.NoError(t, err)

	retry, err := seeder.Execute(ctx, params)
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.Equal(t, first.Run.ID, retry.Run.ID)

	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).Equal(qty(5)))
}

func TestBaselineExecute_RecomputesDeltaWhenStockMovedSincePropose(t *testing.T) {
	// GIVEN: 9 cable projected, a proposal counting 0 (delta -9), then 6
	//        consumed before the proposal is executed
	// WHEN: Executing the now-stale proposal
	// THEN: The delta is recomputed in the execute transaction and the
	//       balance lands on the counted value 0, never below it

	store, _ := newTestLedger(t)
	ctx := context.Background()
	movements := ledger.NewMovements(store)
	seeder := ledger.NewSeeder(store)

	_, err := movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(9), Actor: "alex", IdempotencyKey: "adj-pre",
	})
	require.NoError(t, err)

	changes, err := seeder.Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(0)},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Delta.Equal(qty(-9)))

	_, err = movements.ConsumeForProject(ctx, ledger.ConsumeParams{
		ItemID: "item-cable", FromLocationID: ledger.WarehouseLocationID,
		ProjectID: "prj-77", Qty: qty(6), Actor: "alex",
		IdempotencyKey: "cons-mid",
	})
	require.NoError(t, err)

	result, err := seeder.Execute(ctx, ledger.ExecuteParams{Changes: changes, Actor: "alex"})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.True(t, result.Entries[0].Delta.Equal(qty(-3)))

	final := balanceOf(t, store, "item-cable", ledger.WarehouseLocationID)
	assert.True(t, final.IsZero())
	assert.False(t, final.IsNegative())
}

func TestBaselineExecute_SkipsChangeAlreadyAtCountedQuantity(t *testing.T) {
	// A change whose pair caught up to the counted value on its own is
	// dropped at execute time, not applied as a stale correction.

	store, _ := newTestLedger(t)
	ctx := context.Background()
	movements := ledger.NewMovements(store)
	seeder := ledger.NewSeeder(store)

	changes, err := seeder.Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(4)},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)

	_, err = movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(4), Actor: "alex", IdempotencyKey: "adj-mid",
	})
	require.NoError(t, err)

	result, err := seeder.Execute(ctx, ledger.ExecuteParams{Changes: changes, Actor: "alex"})
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.Equal(t, 0, result.Run.ChangeCount)

	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).Equal(qty(4)))
}

func TestBaselineExecute_CorrectsDownwardPastZeroProjection(t *testing.T) {
	// Seed deltas are authoritative counts: a downward correction to a zero
	// count is applied even though it would fail the adjustment floor.

	store, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.NewMovements(store).Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(9), Actor: "alex", IdempotencyKey: "adj-pre",
	})
	require.NoError(t, err)

	seeder := ledger.NewSeeder(store)
	changes, err := seeder.Propose(ctx, []ledger.StocktakeCount{
		{ItemID: "item-cable", LocationID: ledger.WarehouseLocationID, CountedQty: qty(0)},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Delta.Equal(qty(-9)))

	_, err = seeder.Execute(ctx, ledger.ExecuteParams{Changes: changes, Actor: "alex"})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "item-cable", ledger.WarehouseLocationID).IsZero())
}
