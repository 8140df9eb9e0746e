/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements exist for ledger_entries
  - The idempotency_key unique index is the last line of defense against a
    double-applied movement racing past the domain-level replay check

KEY TABLES:
  ledger_entries:     Immutable movement log (seq is the projection cursor)
  balances:           Derived (item, location) quantities, projector-owned
  stock_locations:    Location registry with active/inactive lifecycle
  stock_items:        Item catalog
  baseline_seed_runs: Persisted single-run lock for stocktake seeding

  There is deliberately NO unique index on active (kind, owner_reference)
  locations: duplicates are a repairable condition owned by the auditor, and
  historical data arrives with them.

CONCURRENCY:
  A sync.RWMutex serializes writers on top of SQLite's single-writer WAL
  mode. WithTx holds the write lock for the whole transaction, so every read
  inside a movement observes the state it will commit against.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldworks/stock-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only movement log)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		quantity_delta TEXT NOT NULL,
		reason TEXT NOT NULL,
		reference TEXT,
		correlation_id TEXT,
		actor TEXT,
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Hot path: balance projection and entry history per pair
	CREATE INDEX IF NOT EXISTS idx_entries_item_location
		ON ledger_entries(item_id, location_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_correlation
		ON ledger_entries(correlation_id) WHERE correlation_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON ledger_entries(reference) WHERE reference IS NOT NULL;

	-- Balance projection (one row per item x location, projector-owned)
	CREATE TABLE IF NOT EXISTS balances (
		item_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		quantity_on_hand TEXT NOT NULL,
		as_of_seq INTEGER NOT NULL,
		PRIMARY KEY (item_id, location_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_location
		ON balances(location_id);

	-- Stock locations
	CREATE TABLE IF NOT EXISTS stock_locations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner_reference TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		last_used_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locations_kind_owner
		ON stock_locations(kind, owner_reference, is_active);

	-- Stock items
	CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT,
		unit TEXT NOT NULL,
		tracks_inventory BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_sku
		ON stock_items(sku) WHERE sku IS NOT NULL AND sku != '';

	-- Baseline seed runs (persisted single-run lock)
	CREATE TABLE IF NOT EXISTS baseline_seed_runs (
		id TEXT PRIMARY KEY,
		seed_batch_id TEXT NOT NULL UNIQUE,
		executed_at TEXT NOT NULL,
		executed_by TEXT NOT NULL,
		override_reason TEXT,
		change_count INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers below
// run identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The store write lock is
// held for the duration, so transactions serialize and every read inside fn
// sees the state fn commits against.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every ledger.Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	return appendEntry(ctx, ts.tx, e)
}

func appendEntry(ctx context.Context, db dbtx, e ledger.Entry) (int64, error) {
	query := `
		INSERT INTO ledger_entries
		(id, item_id, location_id, quantity_delta, reason, reference,
		 correlation_id, actor, note, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.ExecContext(ctx, query,
		e.ID,
		e.ItemID,
		e.LocationID,
		e.Delta.String(),
		e.Reason,
		nullString(e.Reference),
		nullString(e.CorrelationID),
		nullString(e.Actor),
		nullString(e.Note),
		nullString(e.IdempotencyKey),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateEntry
		}
		return 0, fmt.Errorf("failed to append entry: %w", err)
	}
	return res.LastInsertId()
}

const entryColumns = `seq, id, item_id, location_id, quantity_delta, reason,
	reference, correlation_id, actor, note, idempotency_key, created_at`

func (s *Store) EntryByIdempotencyKey(ctx context.Context, key string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryByIdempotencyKey(ctx, s.db, key)
}

func (ts *txStore) EntryByIdempotencyKey(ctx context.Context, key string) (*ledger.Entry, error) {
	return entryByIdempotencyKey(ctx, ts.tx, key)
}

func entryByIdempotencyKey(ctx context.Context, db dbtx, key string) (*ledger.Entry, error) {
	entries, err := queryEntries(ctx, db,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE idempotency_key = ?", key)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) EntriesByCorrelation(ctx context.Context, correlationID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesByCorrelation(ctx, s.db, correlationID)
}

func (ts *txStore) EntriesByCorrelation(ctx context.Context, correlationID string) ([]ledger.Entry, error) {
	return entriesByCorrelation(ctx, ts.tx, correlationID)
}

func entriesByCorrelation(ctx context.Context, db dbtx, correlationID string) ([]ledger.Entry, error) {
	return queryEntries(ctx, db,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE correlation_id = ? ORDER BY seq ASC",
		correlationID)
}

func (s *Store) EntriesFor(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, sinceSeq int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesFor(ctx, s.db, itemID, locationID, sinceSeq)
}

func (ts *txStore) EntriesFor(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, sinceSeq int64) ([]ledger.Entry, error) {
	return entriesFor(ctx, ts.tx, itemID, locationID, sinceSeq)
}

func entriesFor(ctx context.Context, db dbtx, itemID ledger.ItemID, locationID ledger.LocationID, sinceSeq int64) ([]ledger.Entry, error) {
	return queryEntries(ctx, db,
		"SELECT "+entryColumns+` FROM ledger_entries
		 WHERE item_id = ? AND location_id = ? AND seq > ?
		 ORDER BY seq ASC`,
		itemID, locationID, sinceSeq)
}

func queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                                         ledger.Entry
		delta, createdAt                          string
		reference, correlation, actor, note, ikey sql.NullString
	)
	err := rows.Scan(
		&e.Seq, &e.ID, &e.ItemID, &e.LocationID, &delta, &e.Reason,
		&reference, &correlation, &actor, &note, &ikey, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Delta = ledger.MustParseQuantity(delta)
	e.Reference = reference.String
	e.CorrelationID = correlation.String
	e.Actor = actor.String
	e.Note = note.String
	e.IdempotencyKey = ikey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) Balance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, itemID, locationID)
}

func (ts *txStore) Balance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID) (*ledger.Balance, error) {
	return getBalance(ctx, ts.tx, itemID, locationID)
}

func getBalance(ctx context.Context, db dbtx, itemID ledger.ItemID, locationID ledger.LocationID) (*ledger.Balance, error) {
	var (
		b   ledger.Balance
		qty string
	)
	err := db.QueryRowContext(ctx,
		"SELECT item_id, location_id, quantity_on_hand, as_of_seq FROM balances WHERE item_id = ? AND location_id = ?",
		itemID, locationID,
	).Scan(&b.ItemID, &b.LocationID, &qty, &b.AsOfSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.QuantityOnHand = ledger.MustParseQuantity(qty)
	return &b, nil
}

func (s *Store) UpsertBalance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, delta ledger.Quantity, asOfSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertBalance(ctx, s.db, itemID, locationID, delta, asOfSeq)
}

func (ts *txStore) UpsertBalance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, delta ledger.Quantity, asOfSeq int64) error {
	return upsertBalance(ctx, ts.tx, itemID, locationID, delta, asOfSeq)
}

// Quantities are stored as decimal strings, so the fold happens here rather
// than in SQL. Safe because writers are serialized.
func upsertBalance(ctx context.Context, db dbtx, itemID ledger.ItemID, locationID ledger.LocationID, delta ledger.Quantity, asOfSeq int64) error {
	current, err := getBalance(ctx, db, itemID, locationID)
	if err != nil {
		return err
	}
	next := delta
	if current != nil {
		next = current.QuantityOnHand.Add(delta)
	}
	return setBalance(ctx, db, itemID, locationID, next, asOfSeq)
}

func (s *Store) SetBalance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, qty ledger.Quantity, asOfSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBalance(ctx, s.db, itemID, locationID, qty, asOfSeq)
}

func (ts *txStore) SetBalance(ctx context.Context, itemID ledger.ItemID, locationID ledger.LocationID, qty ledger.Quantity, asOfSeq int64) error {
	return setBalance(ctx, ts.tx, itemID, locationID, qty, asOfSeq)
}

func setBalance(ctx context.Context, db dbtx, itemID ledger.ItemID, locationID ledger.LocationID, qty ledger.Quantity, asOfSeq int64) error {
	query := `
		INSERT INTO balances (item_id, location_id, quantity_on_hand, as_of_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, location_id) DO UPDATE SET
			quantity_on_hand = excluded.quantity_on_hand,
			as_of_seq = excluded.as_of_seq
	`
	_, err := db.ExecContext(ctx, query, itemID, locationID, qty.String(), asOfSeq)
	return err
}

func (s *Store) BalancesAt(ctx context.Context, locationID ledger.LocationID) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balancesAt(ctx, s.db, locationID)
}

func (ts *txStore) BalancesAt(ctx context.Context, locationID ledger.LocationID) ([]ledger.Balance, error) {
	return balancesAt(ctx, ts.tx, locationID)
}

func balancesAt(ctx context.Context, db dbtx, locationID ledger.LocationID) ([]ledger.Balance, error) {
	return queryBalances(ctx, db,
		"SELECT item_id, location_id, quantity_on_hand, as_of_seq FROM balances WHERE location_id = ? ORDER BY item_id",
		locationID)
}

func (s *Store) OrphanedBalances(ctx context.Context) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return orphanedBalances(ctx, s.db)
}

func (ts *txStore) OrphanedBalances(ctx context.Context) ([]ledger.Balance, error) {
	return orphanedBalances(ctx, ts.tx)
}

func orphanedBalances(ctx context.Context, db dbtx) ([]ledger.Balance, error) {
	return queryBalances(ctx, db, `
		SELECT b.item_id, b.location_id, b.quantity_on_hand, b.as_of_seq
		FROM balances b
		LEFT JOIN stock_locations l ON l.id = b.location_id
		WHERE l.id IS NULL
		ORDER BY b.item_id, b.location_id`)
}

func queryBalances(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Balance, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.Balance
	for rows.Next() {
		var (
			b   ledger.Balance
			qty string
		)
		if err := rows.Scan(&b.ItemID, &b.LocationID, &qty, &b.AsOfSeq); err != nil {
			return nil, err
		}
		b.QuantityOnHand = ledger.MustParseQuantity(qty)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// STOCK LOCATIONS
// =============================================================================

func (s *Store) SaveLocation(ctx context.Context, loc ledger.StockLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLocation(ctx, s.db, loc)
}

func (ts *txStore) SaveLocation(ctx context.Context, loc ledger.StockLocation) error {
	return saveLocation(ctx, ts.tx, loc)
}

func saveLocation(ctx context.Context, db dbtx, loc ledger.StockLocation) error {
	query := `
		INSERT INTO stock_locations
		(id, kind, owner_reference, display_name, is_active, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			is_active = excluded.is_active,
			last_used_at = excluded.last_used_at
	`
	_, err := db.ExecContext(ctx, query,
		loc.ID, loc.Kind, loc.OwnerReference, loc.DisplayName, loc.IsActive,
		loc.CreatedAt.UTC().Format(time.RFC3339Nano),
		loc.LastUsedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const locationColumns = `id, kind, owner_reference, display_name, is_active, created_at, last_used_at`

func (s *Store) LocationByID(ctx context.Context, id ledger.LocationID) (*ledger.StockLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return locationByID(ctx, s.db, id)
}

func (ts *txStore) LocationByID(ctx context.Context, id ledger.LocationID) (*ledger.StockLocation, error) {
	return locationByID(ctx, ts.tx, id)
}

func locationByID(ctx context.Context, db dbtx, id ledger.LocationID) (*ledger.StockLocation, error) {
	locs, err := queryLocations(ctx, db,
		"SELECT "+locationColumns+" FROM stock_locations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}
	return &locs[0], nil
}

func (s *Store) ActiveLocations(ctx context.Context, kind ledger.LocationKind, ownerRef string) ([]ledger.StockLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeLocations(ctx, s.db, kind, ownerRef)
}

func (ts *txStore) ActiveLocations(ctx context.Context, kind ledger.LocationKind, ownerRef string) ([]ledger.StockLocation, error) {
	return activeLocations(ctx, ts.tx, kind, ownerRef)
}

func activeLocations(ctx context.Context, db dbtx, kind ledger.LocationKind, ownerRef string) ([]ledger.StockLocation, error) {
	return queryLocations(ctx, db,
		"SELECT "+locationColumns+` FROM stock_locations
		 WHERE kind = ? AND owner_reference = ? AND is_active
		 ORDER BY last_used_at DESC, created_at DESC`,
		kind, ownerRef)
}

func (s *Store) ListLocations(ctx context.Context) ([]ledger.StockLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLocations(ctx, s.db)
}

func (ts *txStore) ListLocations(ctx context.Context) ([]ledger.StockLocation, error) {
	return listLocations(ctx, ts.tx)
}

func listLocations(ctx context.Context, db dbtx) ([]ledger.StockLocation, error) {
	return queryLocations(ctx, db,
		"SELECT "+locationColumns+" FROM stock_locations ORDER BY kind, owner_reference, created_at")
}

func queryLocations(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.StockLocation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locs []ledger.StockLocation
	for rows.Next() {
		var (
			loc                 ledger.StockLocation
			createdAt, lastUsed string
		)
		if err := rows.Scan(&loc.ID, &loc.Kind, &loc.OwnerReference, &loc.DisplayName,
			&loc.IsActive, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		loc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		loc.LastUsedAt, _ = time.Parse(time.RFC3339Nano, lastUsed)
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

func (s *Store) DeactivateLocation(ctx context.Context, id ledger.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateLocation(ctx, s.db, id)
}

func (ts *txStore) DeactivateLocation(ctx context.Context, id ledger.LocationID) error {
	return deactivateLocation(ctx, ts.tx, id)
}

func deactivateLocation(ctx context.Context, db dbtx, id ledger.LocationID) error {
	_, err := db.ExecContext(ctx,
		"UPDATE stock_locations SET is_active = FALSE WHERE id = ?", id)
	return err
}

func (s *Store) TouchLocation(ctx context.Context, id ledger.LocationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return touchLocation(ctx, s.db, id, at)
}

func (ts *txStore) TouchLocation(ctx context.Context, id ledger.LocationID, at time.Time) error {
	return touchLocation(ctx, ts.tx, id, at)
}

func touchLocation(ctx context.Context, db dbtx, id ledger.LocationID, at time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE stock_locations SET last_used_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), id)
	return err
}

// HardDeleteLocation removes a location row outright. This is NOT part of the
// domain store interface - locations are deactivated, never deleted. It
// exists for maintenance tooling and for reproducing the orphaned-balance
// condition the auditor detects.
func (s *Store) HardDeleteLocation(ctx context.Context, id ledger.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM stock_locations WHERE id = ?", id)
	return err
}

// =============================================================================
// STOCK ITEMS
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item ledger.StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveItem(ctx, s.db, item)
}

func (ts *txStore) SaveItem(ctx context.Context, item ledger.StockItem) error {
	return saveItem(ctx, ts.tx, item)
}

func saveItem(ctx context.Context, db dbtx, item ledger.StockItem) error {
	query := `
		INSERT INTO stock_items (id, name, sku, unit, tracks_inventory, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sku = excluded.sku,
			unit = excluded.unit,
			tracks_inventory = excluded.tracks_inventory
	`
	_, err := db.ExecContext(ctx, query,
		item.ID, item.Name, nullString(item.SKU), item.Unit, item.TracksInventory,
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) ItemByID(ctx context.Context, id ledger.ItemID) (*ledger.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return itemByID(ctx, s.db, id)
}

func (ts *txStore) ItemByID(ctx context.Context, id ledger.ItemID) (*ledger.StockItem, error) {
	return itemByID(ctx, ts.tx, id)
}

func itemByID(ctx context.Context, db dbtx, id ledger.ItemID) (*ledger.StockItem, error) {
	var (
		item      ledger.StockItem
		sku       sql.NullString
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, sku, unit, tracks_inventory, created_at FROM stock_items WHERE id = ?",
		id,
	).Scan(&item.ID, &item.Name, &sku, &item.Unit, &item.TracksInventory, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.SKU = sku.String
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]ledger.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(ctx, s.db)
}

func (ts *txStore) ListItems(ctx context.Context) ([]ledger.StockItem, error) {
	return listItems(ctx, ts.tx)
}

func listItems(ctx context.Context, db dbtx) ([]ledger.StockItem, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, sku, unit, tracks_inventory, created_at FROM stock_items ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ledger.StockItem
	for rows.Next() {
		var (
			item      ledger.StockItem
			sku       sql.NullString
			createdAt string
		)
		if err := rows.Scan(&item.ID, &item.Name, &sku, &item.Unit,
			&item.TracksInventory, &createdAt); err != nil {
			return nil, err
		}
		item.SKU = sku.String
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// BASELINE SEED RUNS
// =============================================================================

func (s *Store) SaveSeedRun(ctx context.Context, run ledger.BaselineSeedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSeedRun(ctx, s.db, run)
}

func (ts *txStore) SaveSeedRun(ctx context.Context, run ledger.BaselineSeedRun) error {
	return saveSeedRun(ctx, ts.tx, run)
}

func saveSeedRun(ctx context.Context, db dbtx, run ledger.BaselineSeedRun) error {
	query := `
		INSERT INTO baseline_seed_runs
		(id, seed_batch_id, executed_at, executed_by, override_reason, change_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		run.ID, run.SeedBatchID,
		run.ExecutedAt.UTC().Format(time.RFC3339Nano),
		run.ExecutedBy, nullString(run.OverrideReason), run.ChangeCount,
	)
	return err
}

const seedRunColumns = `id, seed_batch_id, executed_at, executed_by, override_reason, change_count`

func (s *Store) SeedRuns(ctx context.Context) ([]ledger.BaselineSeedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySeedRuns(ctx, s.db,
		"SELECT "+seedRunColumns+" FROM baseline_seed_runs ORDER BY executed_at DESC")
}

func (ts *txStore) SeedRuns(ctx context.Context) ([]ledger.BaselineSeedRun, error) {
	return querySeedRuns(ctx, ts.tx,
		"SELECT "+seedRunColumns+" FROM baseline_seed_runs ORDER BY executed_at DESC")
}

func (s *Store) SeedRunByBatchID(ctx context.Context, batchID string) (*ledger.BaselineSeedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return seedRunByBatchID(ctx, s.db, batchID)
}

func (ts *txStore) SeedRunByBatchID(ctx context.Context, batchID string) (*ledger.BaselineSeedRun, error) {
	return seedRunByBatchID(ctx, ts.tx, batchID)
}

func seedRunByBatchID(ctx context.Context, db dbtx, batchID string) (*ledger.BaselineSeedRun, error) {
	runs, err := querySeedRuns(ctx, db,
		"SELECT "+seedRunColumns+" FROM baseline_seed_runs WHERE seed_batch_id = ?", batchID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func querySeedRuns(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.BaselineSeedRun, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.BaselineSeedRun
	for rows.Next() {
		var (
			run            ledger.BaselineSeedRun
			executedAt     string
			overrideReason sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.SeedBatchID, &executedAt, &run.ExecutedBy,
			&overrideReason, &run.ChangeCount); err != nil {
			return nil, err
		}
		run.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executedAt)
		run.OverrideReason = overrideReason.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
