package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/stock-ledger/ledger"
	"github.com/fieldworks/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestLedger returns a store with the core locations created and one
// tracked item ("item-cable") registered.
func newTestLedger(t *testing.T) (*sqlite.Store, *ledger.Registry) {
	store := newTestStore(t)
	registry := ledger.NewRegistry(store)
	_, err := registry.EnsureCoreLocations(context.Background())
	require.NoError(t, err)

	addItem(t, store, "item-cable")
	return store, registry
}

func addItem(t *testing.T, store *sqlite.Store, id ledger.ItemID) {
	err := store.SaveItem(context.Background(), ledger.StockItem{
		ID:              id,
		Name:            string(id),
		Unit:            "each",
		TracksInventory: true,
	})
	require.NoError(t, err)
}

func qty(v float64) ledger.Quantity {
	return ledger.NewQuantity(v)
}

func balanceOf(t *testing.T, store *sqlite.Store, itemID ledger.ItemID, locID ledger.LocationID) ledger.Quantity {
	b, err := ledger.NewLedger(store).BalanceOf(context.Background(), itemID, locID)
	require.NoError(t, err)
	return b
}

// =============================================================================
// PROJECTION TESTS
// =============================================================================

func TestLedger_BalanceOf_UntouchedPairIsZero(t *testing.T) {
	// GIVEN: A fresh ledger with no entries
	// WHEN: Reading the balance of an untouched (item, location) pair
	// THEN: The balance is zero, not an error

	store, _ := newTestLedger(t)

	b := balanceOf(t, store, "item-cable", ledger.WarehouseLocationID)
	assert.True(t, b.IsZero())
}

func TestLedger_Rebuild_MatchesIncrementalProjection(t *testing.T) {
	// GIVEN: A pair with several movements folded incrementally
	// WHEN: Rebuilding the balance from the full entry log
	// THEN: The rebuilt value equals the incremental projection

	store, _ := newTestLedger(t)
	ctx := context.Background()
	movements := ledger.NewMovements(store)

	_, err := movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(10), Actor: "tester", IdempotencyKey: "adj-1",
	})
	require.NoError(t, err)
	_, err = movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
		Delta: qty(-3), Actor: "tester", IdempotencyKey: "adj-2",
	})
	require.NoError(t, err)

	incremental := balanceOf(t, store, "item-cable", ledger.WarehouseLocationID)

	rebuilt, err := ledger.NewLedger(store).Rebuild(ctx, "item-cable", ledger.WarehouseLocationID)
	require.NoError(t, err)

	assert.True(t, rebuilt.Equal(incremental))
	assert.True(t, rebuilt.Equal(qty(7)))
}

func TestLedger_EntriesFor_OrderedBySeq(t *testing.T) {
	// GIVEN: Three adjustments on one pair
	// WHEN: Reading the entry history
	// THEN: Entries come back in insertion order with increasing seq

	store, _ := newTestLedger(t)
	ctx := context.Background()
	movements := ledger.NewMovements(store)

	for i, delta := range []float64{5, -2, 1} {
		_, err := movements.Adjust(ctx, ledger.AdjustParams{
			ItemID: "item-cable", LocationID: ledger.WarehouseLocationID,
			Delta: qty(delta), Actor: "tester",
			IdempotencyKey: string(rune('a' + i)),
		})
		require.NoError(t, err)
	}

	entries, err := ledger.NewLedger(store).EntriesFor(ctx, "item-cable", ledger.WarehouseLocationID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)

	// since_seq cursor skips what came before
	tail, err := ledger.NewLedger(store).EntriesFor(ctx, "item-cable", ledger.WarehouseLocationID, entries[0].Seq)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}
