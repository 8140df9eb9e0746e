/*
registry.go - Location lifecycle and structural invariants

PURPOSE:
  The registry is the canonical view of stock locations. It enforces the
  structural invariants over them:
    - exactly one active warehouse and one active loading bay system-wide
    - at most one active location per (kind, owner) for vehicles and projects
  and repairs violations of the second one (Deduplicate) without losing or
  duplicating units.

DEDUPLICATION:
  Duplicate active locations for one owner are a data-integrity violation
  that historically arose from racing creations and operator imports. The
  repair keeps the most-recently-used row (tie-break: a non-zero balance,
  then newest created_at), deactivates the rest, and migrates every non-zero
  balance off a deactivated row with a pair of correcting adjustment entries
  in the SAME transaction as the deactivation. Conservation holds: each
  migrated quantity is debited from the loser and credited to the keeper.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Registry struct {
	store TxStore
}

func NewRegistry(store TxStore) *Registry {
	return &Registry{store: store}
}

// =============================================================================
// CORE SINGLETON LOCATIONS
// =============================================================================

// EnsureCoreResult reports which singleton locations had to be created.
type EnsureCoreResult struct {
	Created []LocationKind
}

// EnsureCoreLocations idempotently creates the singleton warehouse and
// loading-bay locations if absent. Safe to call on every startup.
func (r *Registry) EnsureCoreLocations(ctx context.Context) (*EnsureCoreResult, error) {
	result := &EnsureCoreResult{}
	err := r.store.WithTx(ctx, func(s Store) error {
		for _, kind := range SingletonKinds {
			existing, err := s.ActiveLocations(ctx, kind, "")
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				continue
			}
			now := time.Now().UTC()
			loc := StockLocation{
				ID:          coreLocationID(kind),
				Kind:        kind,
				DisplayName: coreDisplayName(kind),
				IsActive:    true,
				CreatedAt:   now,
				LastUsedAt:  now,
			}
			if err := s.SaveLocation(ctx, loc); err != nil {
				return err
			}
			result.Created = append(result.Created, kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CheckCoreLocations is the read-only variant used by health checks: it
// reports which singleton locations are missing instead of creating them.
func (r *Registry) CheckCoreLocations(ctx context.Context) ([]LocationKind, error) {
	var missing []LocationKind
	for _, kind := range SingletonKinds {
		existing, err := r.store.ActiveLocations(ctx, kind, "")
		if err != nil {
			return nil, err
		}
		if len(existing) == 0 {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

// RequireCoreLocations is the strict read-only variant: it fails with
// MissingCoreLocationError when any singleton location is absent, instead of
// creating it. Health checks call this.
func (r *Registry) RequireCoreLocations(ctx context.Context) error {
	missing, err := r.CheckCoreLocations(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &MissingCoreLocationError{Missing: missing}
	}
	return nil
}

func coreLocationID(kind LocationKind) LocationID {
	if kind == KindWarehouse {
		return WarehouseLocationID
	}
	return LoadingBayLocationID
}

func coreDisplayName(kind LocationKind) string {
	if kind == KindWarehouse {
		return "Main Warehouse"
	}
	return "Loading Bay"
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveActiveLocation returns the single active location for (kind, owner).
// When duplicates exist (an integrity violation the auditor will surface),
// the same row Deduplicate would keep is returned so movements keep working.
func (r *Registry) ResolveActiveLocation(ctx context.Context, kind LocationKind, ownerRef string) (*StockLocation, error) {
	return resolveActiveOn(ctx, r.store, kind, ownerRef)
}

// EnsureOwnedLocation returns the active location for an owner-scoped kind,
// creating it on first use.
func (r *Registry) EnsureOwnedLocation(ctx context.Context, kind LocationKind, ownerRef, displayName string) (*StockLocation, error) {
	if !kind.IsOwnerScoped() {
		return nil, fmt.Errorf("kind %s is not owner-scoped: %w", kind, ErrInvalidLocation)
	}
	if ownerRef == "" {
		return nil, fmt.Errorf("owner reference required for kind %s: %w", kind, ErrInvalidLocation)
	}
	var out *StockLocation
	err := r.store.WithTx(ctx, func(s Store) error {
		existing, err := resolveActiveOn(ctx, s, kind, ownerRef)
		if err == nil {
			out = existing
			return nil
		}
		if !IsNotFound(err) {
			return err
		}
		now := time.Now().UTC()
		loc := StockLocation{
			ID:             LocationID("loc-" + uuid.NewString()),
			Kind:           kind,
			OwnerReference: ownerRef,
			DisplayName:    displayName,
			IsActive:       true,
			CreatedAt:      now,
			LastUsedAt:     now,
		}
		if err := s.SaveLocation(ctx, loc); err != nil {
			return err
		}
		out = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveActiveOn resolves on an arbitrary store handle so movement
// operations can resolve inside their own transaction.
func resolveActiveOn(ctx context.Context, s Store, kind LocationKind, ownerRef string) (*StockLocation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, ErrInvalidLocation)
	}
	locs, err := s.ActiveLocations(ctx, kind, ownerRef)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("no active %s location for owner %q: %w", kind, ownerRef, ErrLocationNotFound)
	}
	keeper, err := pickKeeper(ctx, s, locs)
	if err != nil {
		return nil, err
	}
	return keeper, nil
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

// MigratedBalance records one quantity moved off a deactivated duplicate.
type MigratedBalance struct {
	ItemID   ItemID
	From     LocationID
	Quantity Quantity
}

// DedupReport is the audit trail of one Deduplicate call.
type DedupReport struct {
	Kind           LocationKind
	OwnerReference string
	KeptID         LocationID
	Deactivated    []LocationID
	Migrated       []MigratedBalance
}

// Deduplicate repairs multiple active locations for the same (kind, owner):
// it keeps one, deactivates the rest, and migrates their non-zero balances to
// the kept location, all in one transaction. A no-op report is returned when
// no duplicates exist.
func (r *Registry) Deduplicate(ctx context.Context, kind LocationKind, ownerRef, actor string) (*DedupReport, error) {
	report := &DedupReport{Kind: kind, OwnerReference: ownerRef}
	err := r.store.WithTx(ctx, func(s Store) error {
		locs, err := s.ActiveLocations(ctx, kind, ownerRef)
		if err != nil {
			return err
		}
		if len(locs) == 0 {
			return fmt.Errorf("no active %s location for owner %q: %w", kind, ownerRef, ErrLocationNotFound)
		}
		keeper, err := pickKeeper(ctx, s, locs)
		if err != nil {
			return err
		}
		report.KeptID = keeper.ID

		for _, loc := range locs {
			if loc.ID == keeper.ID {
				continue
			}
			if err := migrateBalances(ctx, s, loc.ID, keeper.ID, actor, report); err != nil {
				return err
			}
			if err := s.DeactivateLocation(ctx, loc.ID); err != nil {
				return err
			}
			report.Deactivated = append(report.Deactivated, loc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// migrateBalances zeroes every non-zero balance on a losing duplicate and
// credits the same quantity to the keeper with paired adjustment entries.
func migrateBalances(ctx context.Context, s Store, from, to LocationID, actor string, report *DedupReport) error {
	balances, err := s.BalancesAt(ctx, from)
	if err != nil {
		return err
	}
	for _, b := range balances {
		if b.QuantityOnHand.IsZero() {
			continue
		}
		// The correlation id doubles as the per-run component of the keys:
		// the same loser can need repair again (operator re-activation), and
		// a fresh run must not collide with a prior run's entries.
		correlationID := uuid.NewString()
		note := fmt.Sprintf("duplicate location repair: migrated from %s", from)
		out := Entry{
			ItemID:         b.ItemID,
			LocationID:     from,
			Delta:          b.QuantityOnHand.Neg(),
			Reason:         ReasonAdjustment,
			Reference:      "dedup:" + string(from),
			CorrelationID:  correlationID,
			Actor:          actor,
			Note:           note,
			IdempotencyKey: fmt.Sprintf("dedup:%s:%s:%s:out", from, b.ItemID, correlationID),
		}
		in := Entry{
			ItemID:         b.ItemID,
			LocationID:     to,
			Delta:          b.QuantityOnHand,
			Reason:         ReasonAdjustment,
			Reference:      "dedup:" + string(from),
			CorrelationID:  correlationID,
			Actor:          actor,
			Note:           note,
			IdempotencyKey: fmt.Sprintf("dedup:%s:%s:%s:in", from, b.ItemID, correlationID),
		}
		if err := appendAndProject(ctx, s, &out); err != nil {
			return err
		}
		if err := appendAndProject(ctx, s, &in); err != nil {
			return err
		}
		report.Migrated = append(report.Migrated, MigratedBalance{
			ItemID:   b.ItemID,
			From:     from,
			Quantity: b.QuantityOnHand,
		})
	}
	return nil
}

// pickKeeper chooses which duplicate stays active: most recently used, then
// the one still holding stock, then newest.
func pickKeeper(ctx context.Context, s Store, locs []StockLocation) (*StockLocation, error) {
	if len(locs) == 1 {
		return &locs[0], nil
	}
	holding := make(map[LocationID]bool, len(locs))
	for _, loc := range locs {
		balances, err := s.BalancesAt(ctx, loc.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range balances {
			if !b.QuantityOnHand.IsZero() {
				holding[loc.ID] = true
				break
			}
		}
	}
	sorted := make([]StockLocation, len(locs))
	copy(sorted, locs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		if holding[a.ID] != holding[b.ID] {
			return holding[a.ID]
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return &sorted[0], nil
}
