/*
Package ledger provides the multi-location inventory ledger engine.

PURPOSE:
  This package contains the domain types and operations for tracking how many
  units of each stock item exist at each location (warehouse, service vehicle,
  loading bay, project site), and how those counts change over time via
  auditable movements. The ledger of movements is the source of truth; the
  per-(item, location) balance is a derived projection maintained in the same
  transaction as every append.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity:      A decimal stock quantity (never floats)
  - StockLocation: A place units can sit, with an active/inactive lifecycle
  - StockItem:     An inventory-tracked item with immutable identity
  - Entry:         An immutable ledger record of a single signed quantity change
  - Balance:       The projected current quantity for an (item, location) pair

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified or deleted; corrections are
     new entries
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Idempotency: Every write carries an idempotency key so retries have
     at-most-once effect
  4. Auditability: Every entry has a reason, reference, and actor

SEE ALSO:
  - ledger.go:    Append + projection
  - movements.go: The transactional operations that produce entries
  - registry.go:  Location lifecycle and structural invariants
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Decimal stock quantity
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
}

func NewQuantity(value float64) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value)}
}

func QuantityFromInt(value int) Quantity {
	return Quantity{Value: decimal.NewFromInt(int64(value))}
}

func MustParseQuantity(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{Value: decimal.Zero}
	}
	return Quantity{Value: d}
}

func (q Quantity) Add(o Quantity) Quantity      { return Quantity{Value: q.Value.Add(o.Value)} }
func (q Quantity) Sub(o Quantity) Quantity      { return Quantity{Value: q.Value.Sub(o.Value)} }
func (q Quantity) Neg() Quantity                { return Quantity{Value: q.Value.Neg()} }
func (q Quantity) IsZero() bool                 { return q.Value.IsZero() }
func (q Quantity) IsNegative() bool             { return q.Value.IsNegative() }
func (q Quantity) IsPositive() bool             { return q.Value.IsPositive() }
func (q Quantity) Equal(o Quantity) bool        { return q.Value.Equal(o.Value) }
func (q Quantity) LessThan(o Quantity) bool     { return q.Value.LessThan(o.Value) }
func (q Quantity) GreaterThan(o Quantity) bool  { return q.Value.GreaterThan(o.Value) }
func (q Quantity) String() string               { return q.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type LocationID string
type EntryID string

// Core singleton locations have fixed IDs so EnsureCoreLocations is naturally
// idempotent.
const (
	WarehouseLocationID  LocationID = "loc-warehouse"
	LoadingBayLocationID LocationID = "loc-loading-bay"
)

// =============================================================================
// STOCK LOCATION
// =============================================================================

type LocationKind string

const (
	KindWarehouse  LocationKind = "warehouse"
	KindVehicle    LocationKind = "vehicle"
	KindLoadingBay LocationKind = "loading_bay"
	KindProject    LocationKind = "project"
)

// IsOwnerScoped reports whether locations of this kind belong to an owning
// entity (a vehicle or a project) identified by OwnerReference.
func (k LocationKind) IsOwnerScoped() bool {
	return k == KindVehicle || k == KindProject
}

// IsSingleton reports whether exactly one active location of this kind must
// exist system-wide.
func (k LocationKind) IsSingleton() bool {
	return k == KindWarehouse || k == KindLoadingBay
}

func (k LocationKind) Valid() bool {
	switch k {
	case KindWarehouse, KindVehicle, KindLoadingBay, KindProject:
		return true
	}
	return false
}

// SingletonKinds lists the kinds that must each have exactly one active
// location system-wide.
var SingletonKinds = []LocationKind{KindWarehouse, KindLoadingBay}

// StockLocation is a place units of stock can sit.
//
// Locations are deactivated, never hard-deleted: the ledger references them
// forever. At most one location per (kind, owner_reference) may be active at
// a time; the auditor detects and the registry repairs violations.
type StockLocation struct {
	ID             LocationID
	Kind           LocationKind
	OwnerReference string // vehicle/project id; empty for singleton kinds
	DisplayName    string
	IsActive       bool
	CreatedAt      time.Time
	LastUsedAt     time.Time // advanced by every movement touching the location
}

// =============================================================================
// STOCK ITEM
// =============================================================================

// StockItem has immutable identity; only descriptive fields may change.
type StockItem struct {
	ID              ItemID
	Name            string
	SKU             string // optional, unique when present
	Unit            string // "each", "m", "kg", ...
	TracksInventory bool
	CreatedAt       time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one signed quantity change
// =============================================================================

type EntryReason string

const (
	ReasonAdjustment   EntryReason = "adjustment"    // Manual correction or dedup migration
	ReasonTransferOut  EntryReason = "transfer_out"  // Units leaving a location
	ReasonTransferIn   EntryReason = "transfer_in"   // Units arriving at a location
	ReasonConsumption  EntryReason = "consumption"   // Units used up on a project
	ReasonReceipt      EntryReason = "receipt"       // Units delivered from a purchase order
	ReasonBaselineSeed EntryReason = "baseline_seed" // One-time stocktake reconciliation
)

type Entry struct {
	ID         EntryID
	Seq        int64 // monotonic insertion order, assigned by the store
	ItemID     ItemID
	LocationID LocationID
	Delta      Quantity // signed
	Reason     EntryReason
	Reference  string // PO id, project id, seed batch id
	// CorrelationID ties together the entries of one logical operation:
	// both legs of a transfer, all lines of a receipt.
	CorrelationID  string
	Actor          string
	Note           string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// BALANCE - Projected current quantity per (item, location)
// =============================================================================

// Balance rows are created lazily on first entry touching the pair and never
// deleted; zero is a valid, retained state. Only the projector may write
// them, inside the same transaction as the entry they fold in.
type Balance struct {
	ItemID         ItemID
	LocationID     LocationID
	QuantityOnHand Quantity
	AsOfSeq        int64 // last entry seq folded in
}

// =============================================================================
// BASELINE SEED RUN - Persisted single-run lock for stocktake seeding
// =============================================================================

type BaselineSeedRun struct {
	ID             string
	SeedBatchID    string
	ExecutedAt     time.Time
	ExecutedBy     string
	OverrideReason string // set only on re-runs
	ChangeCount    int
}

// StocktakeCount is one physically counted (item, location) quantity.
type StocktakeCount struct {
	ItemID     ItemID
	LocationID LocationID
	CountedQty Quantity
}

// BaselineChange is a non-zero correction the seeder proposes to apply.
type BaselineChange struct {
	ItemID     ItemID
	LocationID LocationID
	CountedQty Quantity
	Delta      Quantity // counted - projected
}
