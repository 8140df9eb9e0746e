/*
store.go - Persistence interfaces for the inventory ledger

PURPOSE:
  Defines the interface between the domain logic and the database. The Store
  enforces append-only semantics on ledger entries; balances are the only
  rows that are updated in place, and only by the projector.

APPEND-ONLY CONTRACT:
  - AppendEntry(): the ONLY write on the entries table
  - NO update or delete methods exist for entries
  - Corrections are new entries

ATOMICITY:
  Every movement operation and the baseline execute run inside WithTx: all
  entry appends and balance projections of one logical operation commit
  together or not at all. A crash can never leave an appended entry without
  its projection.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL mode, single writer)
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence interface (entries append-only)
// =============================================================================

type Store interface {
	// AppendEntry persists a ledger entry and returns its assigned seq.
	// Returns ErrDuplicateEntry if the idempotency key already exists.
	AppendEntry(ctx context.Context, e Entry) (int64, error)

	// EntryByIdempotencyKey returns the entry for a key, or nil.
	EntryByIdempotencyKey(ctx context.Context, key string) (*Entry, error)

	// EntriesByCorrelation returns all entries of one logical operation,
	// ordered by seq.
	EntriesByCorrelation(ctx context.Context, correlationID string) ([]Entry, error)

	// EntriesFor returns entries for an (item, location) pair with
	// seq > sinceSeq, ordered by seq. Restartable from any cursor.
	EntriesFor(ctx context.Context, itemID ItemID, locationID LocationID, sinceSeq int64) ([]Entry, error)

	// Balance returns the projected balance row, or nil if no entry has
	// touched the pair yet.
	Balance(ctx context.Context, itemID ItemID, locationID LocationID) (*Balance, error)

	// UpsertBalance folds delta into the balance row for the pair and
	// advances as_of_seq. Projector use only.
	UpsertBalance(ctx context.Context, itemID ItemID, locationID LocationID, delta Quantity, asOfSeq int64) error

	// SetBalance overwrites a balance row (rebuild use only).
	SetBalance(ctx context.Context, itemID ItemID, locationID LocationID, qty Quantity, asOfSeq int64) error

	// BalancesAt returns all balance rows at a location.
	BalancesAt(ctx context.Context, locationID LocationID) ([]Balance, error)

	// OrphanedBalances returns balance rows whose location no longer exists.
	// Unreachable unless a location was hard-removed by operator error.
	OrphanedBalances(ctx context.Context) ([]Balance, error)

	// SaveLocation inserts or updates a location.
	SaveLocation(ctx context.Context, loc StockLocation) error
	LocationByID(ctx context.Context, id LocationID) (*StockLocation, error)

	// ActiveLocations returns active locations for (kind, ownerRef),
	// most recently used first.
	ActiveLocations(ctx context.Context, kind LocationKind, ownerRef string) ([]StockLocation, error)
	ListLocations(ctx context.Context) ([]StockLocation, error)
	DeactivateLocation(ctx context.Context, id LocationID) error

	// TouchLocation advances last_used_at.
	TouchLocation(ctx context.Context, id LocationID, at time.Time) error

	SaveItem(ctx context.Context, item StockItem) error
	ItemByID(ctx context.Context, id ItemID) (*StockItem, error)
	ListItems(ctx context.Context) ([]StockItem, error)

	SaveSeedRun(ctx context.Context, run BaselineSeedRun) error
	SeedRuns(ctx context.Context) ([]BaselineSeedRun, error)
	SeedRunByBatchID(ctx context.Context, batchID string) (*BaselineSeedRun, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. All reads inside fn observe
// the transaction's own writes; resolveActiveLocation-style reads inside a
// movement see the same snapshot the movement commits against.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
