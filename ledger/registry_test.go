package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/stock-ledger/ledger"
	"github.com/fieldworks/stock-ledger/store/sqlite"
)

// =============================================================================
// CORE SINGLETON LOCATIONS
// =============================================================================

func TestEnsureCoreLocations_CreatesOnceWithFixedIDs(t *testing.T) {
	// GIVEN: An empty database
	// WHEN: EnsureCoreLocations runs twice
	// THEN: The warehouse and loading bay exist under their fixed IDs and the
	//       second run creates nothing

	store := newTestStore(t)
	ctx := context.Background()
	registry := ledger.NewRegistry(store)

	first, err := registry.EnsureCoreLocations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.LocationKind{ledger.KindWarehouse, ledger.KindLoadingBay}, first.Created)

	second, err := registry.EnsureCoreLocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Created)

	warehouse, err := store.LocationByID(ctx, ledger.WarehouseLocationID)
	require.NoError(t, err)
	require.NotNil(t, warehouse)
	assert.Equal(t, ledger.KindWarehouse, warehouse.Kind)
	assert.True(t, warehouse.IsActive)

	bay, err := store.LocationByID(ctx, ledger.LoadingBayLocationID)
	require.NoError(t, err)
	require.NotNil(t, bay)
	assert.Equal(t, ledger.KindLoadingBay, bay.Kind)
}

func TestRequireCoreLocations_FailsWhenAbsent(t *testing.T) {
	// The strict read-only check fails instead of creating - health checks
	// must never mutate the registry.

	store := newTestStore(t)
	ctx := context.Background()
	registry := ledger.NewRegistry(store)

	err := registry.RequireCoreLocations(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrMissingCoreLocation)
	var missingErr *ledger.MissingCoreLocationError
	require.ErrorAs(t, err, &missingErr)
	assert.ElementsMatch(t, []ledger.LocationKind{ledger.KindWarehouse, ledger.KindLoadingBay}, missingErr.Missing)

	// Still absent afterwards
	loc, err := store.LocationByID(ctx, ledger.WarehouseLocationID)
	require.NoError(t, err)
	assert.Nil(t, loc)

	_, err = registry.EnsureCoreLocations(ctx)
	require.NoError(t, err)
	assert.NoError(t, registry.RequireCoreLocations(ctx))
}

func TestCheckCoreLocations_ReportsMissing(t *testing.T) {
	store := newTestStore(t)
	registry := ledger.NewRegistry(store)

	missing, err := registry.CheckCoreLocations(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.LocationKind{ledger.KindWarehouse, ledger.KindLoadingBay}, missing)
}

// =============================================================================
// OWNED LOCATIONS
// =============================================================================

func TestEnsureOwnedLocation_CreatesThenResolvesSameRow(t *testing.T) {
	// First use creates the vehicle location; every later call resolves the
	// same row instead of creating a duplicate.

	store, registry := newTestLedger(t)
	ctx := context.Background()

	created, err := registry.EnsureOwnedLocation(ctx, ledger.KindVehicle, "veh-9", "Van 9")
	require.NoError(t, err)
	assert.Equal(t, "veh-9", created.OwnerReference)

	resolved, err := registry.EnsureOwnedLocation(ctx, ledger.KindVehicle, "veh-9", "Van 9 renamed")
	require.NoError(t, err)
	assert.Equal(t, created.ID, resolved.ID)

	active, err := store.ActiveLocations(ctx, ledger.KindVehicle, "veh-9")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEnsureOwnedLocation_SingletonKindRejected(t *testing.T) {
	_, registry := newTestLedger(t)

	_, err := registry.EnsureOwnedLocation(context.Background(), ledger.KindWarehouse, "x", "Second Warehouse")
	assert.ErrorIs(t, err, ledger.ErrInvalidLocation)
}

func TestResolveActiveLocation_UnknownOwnerNotFound(t *testing.T) {
	_, registry := newTestLedger(t)

	_, err := registry.ResolveActiveLocation(context.Background(), ledger.KindVehicle, "veh-nope")
	assert.ErrorIs(t, err, ledger.ErrLocationNotFound)
}

func TestResolveActiveLocation_InvalidKindRejected(t *testing.T) {
	_, registry := newTestLedger(t)

	_, err := registry.ResolveActiveLocation(context.Background(), ledger.LocationKind("garage"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidLocation)
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

// saveDuplicateVehicles plants two active locations for the same owner, the
// second used more recently, holding 3 and 5 cable respectively.
func saveDuplicateVehicles(t *testing.T, store *sqlite.Store) (older, newer ledger.LocationID) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []ledger.LocationID{"loc-van-a", "loc-van-b"} {
		err := store.SaveLocation(ctx, ledger.StockLocation{
			ID:             id,
			Kind:           ledger.KindVehicle,
			OwnerReference: "veh-9",
			DisplayName:    "Van 9",
			IsActive:       true,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			LastUsedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	movements := ledger.NewMovements(store)
	_, err := movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: "loc-van-a",
		Delta: qty(3), Actor: "alex", IdempotencyKey: "adj-van-a",
	})
	require.NoError(t, err)
	_, err = movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: "loc-van-b",
		Delta: qty(5), Actor: "alex", IdempotencyKey: "adj-van-b",
	})
	require.NoError(t, err)
	return "loc-van-a", "loc-van-b"
}

func TestDeduplicate_KeepsOneAndConservesUnits(t *testing.T) {
	// GIVEN: Two active locations for vehicle veh-9 holding 3 and 5 cable
	// WHEN: Deduplicating the pair
	// THEN: One location stays active holding 8, the loser is deactivated at
	//       zero, and paired correcting entries document the migration

	store, registry := newTestLedger(t)
	ctx := context.Background()
	older, newer := saveDuplicateVehicles(t, store)

	report, err := registry.Deduplicate(ctx, ledger.KindVehicle, "veh-9", "auditor")
	require.NoError(t, err)
	assert.Equal(t, newer, report.KeptID)
	assert.Equal(t, []ledger.LocationID{older}, report.Deactivated)
	require.Len(t, report.Migrated, 1)
	assert.True(t, report.Migrated[0].Quantity.Equal(qty(3)))

	assert.True(t, balanceOf(t, store, "item-cable", newer).Equal(qty(8)))
	assert.True(t, balanceOf(t, store, "item-cable", older).IsZero())

	loser, err := store.LocationByID(ctx, older)
	require.NoError(t, err)
	assert.False(t, loser.IsActive)

	// Both correction legs share a correlation id and net to zero
	entries, err := ledger.NewLedger(store).EntriesFor(ctx, "item-cable", older, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2) // original adjustment + migration debit
	debit := entries[1]
	assert.True(t, debit.Delta.Equal(qty(-3)))
	correlated, err := ledger.NewLedger(store).EntriesByCorrelation(ctx, debit.CorrelationID)
	require.NoError(t, err)
	require.Len(t, correlated, 2)
	assert.True(t, correlated[0].Delta.Add(correlated[1].Delta).IsZero())
}

func TestDeduplicate_SingleActiveLocationIsNoOp(t *testing.T) {
	_, registry := newTestLedger(t)
	ctx := context.Background()

	loc, err := registry.EnsureOwnedLocation(ctx, ledger.KindVehicle, "veh-9", "Van 9")
	require.NoError(t, err)

	report, err := registry.Deduplicate(ctx, ledger.KindVehicle, "veh-9", "auditor")
	require.NoError(t, err)
	assert.Equal(t, loc.ID, report.KeptID)
	assert.Empty(t, report.Deactivated)
	assert.Empty(t, report.Migrated)
}

func TestDeduplicate_SameLoserRepairedTwice(t *testing.T) {
	// GIVEN: A repaired duplicate whose loser was re-activated by an
	//        operator and accumulated stock again
	// WHEN: Deduplicating the pair a second time
	// THEN: The second repair succeeds and migrates the new balance - a
	//       prior run's migration entries never block a fresh run

	store, registry := newTestLedger(t)
	ctx := context.Background()
	older, newer := saveDuplicateVehicles(t, store)

	_, err := registry.Deduplicate(ctx, ledger.KindVehicle, "veh-9", "auditor")
	require.NoError(t, err)

	loser, err := store.LocationByID(ctx, older)
	require.NoError(t, err)
	loser.IsActive = true
	require.NoError(t, store.SaveLocation(ctx, *loser))

	movements := ledger.NewMovements(store)
	_, err = movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: older,
		Delta: qty(2), Actor: "alex", IdempotencyKey: "adj-van-a2",
	})
	require.NoError(t, err)
	_, err = movements.Adjust(ctx, ledger.AdjustParams{
		ItemID: "item-cable", LocationID: newer,
		Delta: qty(1), Actor: "alex", IdempotencyKey: "adj-van-b2",
	})
	require.NoError(t, err)

	report, err := registry.Deduplicate(ctx, ledger.KindVehicle, "veh-9", "auditor")
	require.NoError(t, err)
	assert.Equal(t, newer, report.KeptID)
	require.Len(t, report.Migrated, 1)
	assert.True(t, report.Migrated[0].Quantity.Equal(qty(2)))

	assert.True(t, balanceOf(t, store, "item-cable", newer).Equal(qty(11)))
	assert.True(t, balanceOf(t, store, "item-cable", older).IsZero())
}

func TestResolveActiveLocation_DuplicatesResolveToDedupKeeper(t *testing.T) {
	// While duplicates exist, movements must keep working: resolution picks
	// the same row Deduplicate would keep.

	store, registry := newTestLedger(t)
	_, newer := saveDuplicateVehicles(t, store)

	loc, err := registry.ResolveActiveLocation(context.Background(), ledger.KindVehicle, "veh-9")
	require.NoError(t, err)
	assert.Equal(t, newer, loc.ID)
}
