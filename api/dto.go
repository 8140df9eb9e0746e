/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation (validate struct tags)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Quantities cross the wire as float64 and are converted to decimal at the
  API boundary. The domain never does float arithmetic.

VALIDATION:
  Request DTOs carry validate tags; handlers run them through a shared
  validator instance before touching the domain.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route definitions
*/
package api

import (
	"time"

	"github.com/fieldworks/stock-ledger/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ItemDTO represents a stock item in API responses.
type ItemDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SKU             string `json:"sku,omitempty"`
	Unit            string `json:"unit"`
	TracksInventory bool   `json:"tracks_inventory"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateItemRequest is the request to register a stock item.
type CreateItemRequest struct {
	ID              string `json:"id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	SKU             string `json:"sku"`
	Unit            string `json:"unit" validate:"required"`
	TracksInventory *bool  `json:"tracks_inventory"` // defaults to true
}

// LocationDTO represents a stock location in API responses.
type LocationDTO struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	OwnerReference string `json:"owner_reference,omitempty"`
	DisplayName    string `json:"display_name"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at,omitempty"`
	LastUsedAt     string `json:"last_used_at,omitempty"`
}

// EnsureLocationRequest is the request to resolve-or-create an owner-scoped
// location (vehicle, project).
type EnsureLocationRequest struct {
	Kind           string `json:"kind" validate:"required,oneof=vehicle project"`
	OwnerReference string `json:"owner_reference" validate:"required"`
	DisplayName    string `json:"display_name" validate:"required"`
}

// EntryDTO represents one immutable ledger entry.
type EntryDTO struct {
	ID            string  `json:"id"`
	Seq           int64   `json:"seq"`
	ItemID        string  `json:"item_id"`
	LocationID    string  `json:"location_id"`
	Delta         float64 `json:"delta"`
	Reason        string  `json:"reason"`
	Reference     string  `json:"reference,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Actor         string  `json:"actor,omitempty"`
	Note          string  `json:"note,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// BalanceDTO represents the projected quantity for one (item, location) pair.
type BalanceDTO struct {
	ItemID         string  `json:"item_id"`
	LocationID     string  `json:"location_id"`
	QuantityOnHand float64 `json:"quantity_on_hand"`
	AsOfSeq        int64   `json:"as_of_seq"`
}

// MovementResponseDTO wraps the entries produced (or replayed) by a movement.
type MovementResponseDTO struct {
	Entries       []EntryDTO `json:"entries"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Replayed      bool       `json:"replayed"`
}

// AdjustRequest is the request for a manual stock correction.
type AdjustRequest struct {
	ItemID         string  `json:"item_id" validate:"required"`
	LocationID     string  `json:"location_id" validate:"required"`
	Delta          float64 `json:"delta" validate:"required"`
	Note           string  `json:"note"`
	Actor          string  `json:"actor" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required"`
	AllowNegative  bool    `json:"allow_negative"`
}

// TransferRequest is the request to move stock between two locations.
type TransferRequest struct {
	ItemID         string  `json:"item_id" validate:"required"`
	FromLocationID string  `json:"from_location_id" validate:"required"`
	ToLocationID   string  `json:"to_location_id" validate:"required,nefield=FromLocationID"`
	Quantity       float64 `json:"quantity" validate:"required,gt=0"`
	Note           string  `json:"note"`
	Actor          string  `json:"actor" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required"`
}

// ConsumeRequest is the request to record stock used up on a project.
type ConsumeRequest struct {
	ItemID         string  `json:"item_id" validate:"required"`
	FromLocationID string  `json:"from_location_id" validate:"required"`
	ProjectID      string  `json:"project_id" validate:"required"`
	Quantity       float64 `json:"quantity" validate:"required,gt=0"`
	Actor          string  `json:"actor" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required"`
}

// ReceiptLineDTO is one delivered line of a purchase order.
type ReceiptLineDTO struct {
	ItemID   string  `json:"item_id" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

// ReceiveRequest is the request to book a delivered purchase order into the
// loading bay.
type ReceiveRequest struct {
	PurchaseOrderID string           `json:"purchase_order_id" validate:"required"`
	Lines           []ReceiptLineDTO `json:"lines" validate:"required,min=1,dive"`
	Actor           string           `json:"actor" validate:"required"`
}

// StocktakeCountDTO is one physically counted (item, location) quantity.
type StocktakeCountDTO struct {
	ItemID     string  `json:"item_id" validate:"required"`
	LocationID string  `json:"location_id" validate:"required"`
	CountedQty float64 `json:"counted_qty" validate:"gte=0"`
}

// BaselineProposeRequest carries stocktake counts for a dry-run diff.
type BaselineProposeRequest struct {
	Counts []StocktakeCountDTO `json:"counts" validate:"required,min=1,dive"`
}

// BaselineChangeDTO is one non-zero correction the seeder proposes.
type BaselineChangeDTO struct {
	ItemID     string  `json:"item_id"`
	LocationID string  `json:"location_id"`
	CountedQty float64 `json:"counted_qty"`
	Delta      float64 `json:"delta"`
}

// BaselineExecuteRequest applies proposed changes as seed entries.
type BaselineExecuteRequest struct {
	Changes        []BaselineChangeDTO `json:"changes"`
	Actor          string              `json:"actor" validate:"required"`
	AllowRerun     bool                `json:"allow_rerun"`
	OverrideReason string              `json:"override_reason"`
	SeedBatchID    string              `json:"seed_batch_id"`
}

// SeedRunDTO represents one recorded baseline seed run.
type SeedRunDTO struct {
	ID             string `json:"id"`
	SeedBatchID    string `json:"seed_batch_id"`
	ExecutedAt     string `json:"executed_at"`
	ExecutedBy     string `json:"executed_by"`
	OverrideReason string `json:"override_reason,omitempty"`
	ChangeCount    int    `json:"change_count"`
}

// SeedResultDTO is the response to a baseline execute.
type SeedResultDTO struct {
	Run      SeedRunDTO `json:"run"`
	Entries  []EntryDTO `json:"entries"`
	Replayed bool       `json:"replayed"`
}

// IntegrityReportDTO is the combined read-only health view.
type IntegrityReportDTO struct {
	Healthy                 bool                     `json:"healthy"`
	MissingCoreLocations    []string                 `json:"missing_core_locations"`
	DuplicateOwnerLocations []DuplicateViolationDTO  `json:"duplicate_owner_locations"`
	OrphanedBalances        []BalanceDTO             `json:"orphaned_balances"`
}

// DuplicateViolationDTO is one (kind, owner) pair with more than one active
// location.
type DuplicateViolationDTO struct {
	Kind           string   `json:"kind"`
	OwnerReference string   `json:"owner_reference,omitempty"`
	LocationIDs    []string `json:"location_ids"`
}

// EnsureCoreResultDTO reports which singleton locations had to be created.
type EnsureCoreResultDTO struct {
	Created []string `json:"created"`
}

// DeduplicateRequest repairs one (kind, owner) pair directly.
type DeduplicateRequest struct {
	Kind           string `json:"kind" validate:"required,oneof=warehouse vehicle loading_bay project"`
	OwnerReference string `json:"owner_reference"`
	Actor          string `json:"actor" validate:"required"`
}

// RepairRequest triggers duplicate-location repair.
type RepairRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// DedupReportDTO is the audit trail of one duplicate repair.
type DedupReportDTO struct {
	Kind           string               `json:"kind"`
	OwnerReference string               `json:"owner_reference,omitempty"`
	KeptID         string               `json:"kept_id"`
	Deactivated    []string             `json:"deactivated"`
	Migrated       []MigratedBalanceDTO `json:"migrated"`
}

// MigratedBalanceDTO records one quantity moved off a deactivated duplicate.
type MigratedBalanceDTO struct {
	ItemID   string  `json:"item_id"`
	From     string  `json:"from"`
	Quantity float64 `json:"quantity"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEntryDTO(e ledger.Entry) EntryDTO {
	delta, _ := e.Delta.Value.Float64()
	return EntryDTO{
		ID:            string(e.ID),
		Seq:           e.Seq,
		ItemID:        string(e.ItemID),
		LocationID:    string(e.LocationID),
		Delta:         delta,
		Reason:        string(e.Reason),
		Reference:     e.Reference,
		CorrelationID: e.CorrelationID,
		Actor:         e.Actor,
		Note:          e.Note,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	qty, _ := b.QuantityOnHand.Value.Float64()
	return BalanceDTO{
		ItemID:         string(b.ItemID),
		LocationID:     string(b.LocationID),
		QuantityOnHand: qty,
		AsOfSeq:        b.AsOfSeq,
	}
}

func toBalanceDTOs(balances []ledger.Balance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	return dtos
}

func toLocationDTO(loc ledger.StockLocation) LocationDTO {
	return LocationDTO{
		ID:             string(loc.ID),
		Kind:           string(loc.Kind),
		OwnerReference: loc.OwnerReference,
		DisplayName:    loc.DisplayName,
		IsActive:       loc.IsActive,
		CreatedAt:      loc.CreatedAt.Format(time.RFC3339),
		LastUsedAt:     loc.LastUsedAt.Format(time.RFC3339),
	}
}

func toItemDTO(item ledger.StockItem) ItemDTO {
	return ItemDTO{
		ID:              string(item.ID),
		Name:            item.Name,
		SKU:             item.SKU,
		Unit:            item.Unit,
		TracksInventory: item.TracksInventory,
		CreatedAt:       item.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTO(result *ledger.MovementResult) MovementResponseDTO {
	return MovementResponseDTO{
		Entries:       toEntryDTOs(result.Entries),
		CorrelationID: result.CorrelationID,
		Replayed:      result.Replayed,
	}
}

func toSeedRunDTO(run ledger.BaselineSeedRun) SeedRunDTO {
	return SeedRunDTO{
		ID:             run.ID,
		SeedBatchID:    run.SeedBatchID,
		ExecutedAt:     run.ExecutedAt.Format(time.RFC3339),
		ExecutedBy:     run.ExecutedBy,
		OverrideReason: run.OverrideReason,
		ChangeCount:    run.ChangeCount,
	}
}

func toDedupReportDTO(report ledger.DedupReport) DedupReportDTO {
	dto := DedupReportDTO{
		Kind:           string(report.Kind),
		OwnerReference: report.OwnerReference,
		KeptID:         string(report.KeptID),
		Deactivated:    make([]string, len(report.Deactivated)),
		Migrated:       make([]MigratedBalanceDTO, len(report.Migrated)),
	}
	for i, id := range report.Deactivated {
		dto.Deactivated[i] = string(id)
	}
	for i, m := range report.Migrated {
		qty, _ := m.Quantity.Value.Float64()
		dto.Migrated[i] = MigratedBalanceDTO{
			ItemID:   string(m.ItemID),
			From:     string(m.From),
			Quantity: qty,
		}
	}
	return dto
}
