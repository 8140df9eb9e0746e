/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the inventory ledger engine via REST API. Handles HTTP
  request/response, JSON serialization and validation, and delegates to
  domain logic.

ENDPOINTS:
  Items:
    GET    /api/items                       List items
    POST   /api/items                       Register an item
    GET    /api/items/{id}                  Get item details

  Locations:
    GET    /api/locations                   List all locations
    POST   /api/locations/ensure            Resolve-or-create owner location
    POST   /api/locations/ensure-core       Create missing singleton locations
    POST   /api/locations/deduplicate       Repair one (kind, owner) pair
    GET    /api/locations/{id}              Get location details
    GET    /api/locations/{id}/balances     Balances at a location
    GET    /api/locations/{id}/ledger       (via /api/ledger query params)

  Balances & ledger:
    GET    /api/balances?item_id=&location_id=
    GET    /api/ledger?item_id=&location_id=&since_seq=
    POST   /api/balances/rebuild            Recompute one projection

  Movements:
    POST   /api/movements/adjust
    POST   /api/movements/transfer
    POST   /api/movements/consume
    POST   /api/movements/receive

  Baseline:
    POST   /api/baseline/propose            Dry-run stocktake diff
    POST   /api/baseline/execute            Apply seed, exactly once
    GET    /api/baseline/runs               Past seed runs

  Integrity:
    GET    /api/integrity/report
    POST   /api/integrity/repair-duplicates

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, negative-balance rejections
  - 404: Item or location not found
  - 409: Insufficient stock, baseline already executed
  - 500: Internal errors
  A replayed idempotent retry is a 200 with "replayed": true, never an error.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/fieldworks/stock-ledger/ledger"
	"github.com/fieldworks/stock-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Ledger    *ledger.Ledger
	Registry  *ledger.Registry
	Movements *ledger.Movements
	Seeder    *ledger.Seeder
	Auditor   *ledger.Auditor

	validate *validator.Validate
	log      *logrus.Logger
}

// NewHandler creates a new handler wired to the given store.
func NewHandler(store *sqlite.Store, log *logrus.Logger) *Handler {
	registry := ledger.NewRegistry(store)
	return &Handler{
		Store:     store,
		Ledger:    ledger.NewLedger(store),
		Registry:  registry,
		Movements: ledger.NewMovements(store),
		Seeder:    ledger.NewSeeder(store),
		Auditor:   ledger.NewAuditor(store, registry),
		validate:  validator.New(),
		log:       log,
	}
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems returns all stock items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem registers a stock item.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	tracks := true
	if req.TracksInventory != nil {
		tracks = *req.TracksInventory
	}
	item := ledger.StockItem{
		ID:              ledger.ItemID(req.ID),
		Name:            req.Name,
		SKU:             req.SKU,
		Unit:            req.Unit,
		TracksInventory: tracks,
	}
	if err := h.Store.SaveItem(r.Context(), item); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to save item", err)
		return
	}
	saved, err := h.Store.ItemByID(r.Context(), item.ID)
	if err != nil || saved == nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load saved item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*saved))
}

// GetItem returns a single stock item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := ledger.ItemID(chi.URLParam(r, "id"))
	item, err := h.Store.ItemByID(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get item", err)
		return
	}
	if item == nil {
		h.writeError(w, http.StatusNotFound, "Item not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

// ListLocations returns every location, active and inactive.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.Store.ListLocations(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list locations", err)
		return
	}
	dtos := make([]LocationDTO, len(locs))
	for i, loc := range locs {
		dtos[i] = toLocationDTO(loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EnsureLocation resolves the active location for an owner-scoped kind,
// creating it on first use.
func (h *Handler) EnsureLocation(w http.ResponseWriter, r *http.Request) {
	var req EnsureLocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.Registry.EnsureOwnedLocation(r.Context(),
		ledger.LocationKind(req.Kind), req.OwnerReference, req.DisplayName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(*loc))
}

// EnsureCoreLocations idempotently creates the singleton warehouse and
// loading-bay locations if absent.
func (h *Handler) EnsureCoreLocations(w http.ResponseWriter, r *http.Request) {
	result, err := h.Registry.EnsureCoreLocations(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to ensure core locations", err)
		return
	}
	dto := EnsureCoreResultDTO{Created: make([]string, len(result.Created))}
	for i, kind := range result.Created {
		dto.Created[i] = string(kind)
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeduplicateLocation repairs one (kind, owner) pair with multiple active
// locations.
func (h *Handler) DeduplicateLocation(w http.ResponseWriter, r *http.Request) {
	var req DeduplicateRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := h.Registry.Deduplicate(r.Context(),
		ledger.LocationKind(req.Kind), req.OwnerReference, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDedupReportDTO(*report))
}

// GetLocation returns a single location.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id := ledger.LocationID(chi.URLParam(r, "id"))
	loc, err := h.Store.LocationByID(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get location", err)
		return
	}
	if loc == nil {
		h.writeError(w, http.StatusNotFound, "Location not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(*loc))
}

// LocationBalances returns every balance row at a location.
func (h *Handler) LocationBalances(w http.ResponseWriter, r *http.Request) {
	id := ledger.LocationID(chi.URLParam(r, "id"))
	balances, err := h.Store.BalancesAt(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// =============================================================================
// BALANCE AND LEDGER HANDLERS
// =============================================================================

// GetBalance returns the projected balance for ?item_id=&location_id=.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	itemID := ledger.ItemID(r.URL.Query().Get("item_id"))
	locationID := ledger.LocationID(r.URL.Query().Get("location_id"))
	if itemID == "" || locationID == "" {
		h.writeError(w, http.StatusBadRequest, "item_id and location_id are required", nil)
		return
	}
	qty, err := h.Ledger.BalanceOf(r.Context(), itemID, locationID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	value, _ := qty.Value.Float64()
	writeJSON(w, http.StatusOK, BalanceDTO{
		ItemID:         string(itemID),
		LocationID:     string(locationID),
		QuantityOnHand: value,
	})
}

// GetLedger returns the entry history for ?item_id=&location_id=, optionally
// after ?since_seq=.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	itemID := ledger.ItemID(r.URL.Query().Get("item_id"))
	locationID := ledger.LocationID(r.URL.Query().Get("location_id"))
	if itemID == "" || locationID == "" {
		h.writeError(w, http.StatusBadRequest, "item_id and location_id are required", nil)
		return
	}
	var sinceSeq int64
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since_seq must be an integer", err)
			return
		}
		sinceSeq = parsed
	}
	entries, err := h.Ledger.EntriesFor(r.Context(), itemID, locationID, sinceSeq)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// RebuildBalance recomputes one projection from the full entry history.
func (h *Handler) RebuildBalance(w http.ResponseWriter, r *http.Request) {
	itemID := ledger.ItemID(r.URL.Query().Get("item_id"))
	locationID := ledger.LocationID(r.URL.Query().Get("location_id"))
	if itemID == "" || locationID == "" {
		h.writeError(w, http.StatusBadRequest, "item_id and location_id are required", nil)
		return
	}
	qty, err := h.Ledger.Rebuild(r.Context(), itemID, locationID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to rebuild balance", err)
		return
	}
	value, _ := qty.Value.Float64()
	writeJSON(w, http.StatusOK, BalanceDTO{
		ItemID:         string(itemID),
		LocationID:     string(locationID),
		QuantityOnHand: value,
	})
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// Adjust records a manual stock correction.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Movements.Adjust(r.Context(), ledger.AdjustParams{
		ItemID:         ledger.ItemID(req.ItemID),
		LocationID:     ledger.LocationID(req.LocationID),
		Delta:          ledger.NewQuantity(req.Delta),
		Note:           req.Note,
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
		AllowNegative:  req.AllowNegative,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(result))
}

// Transfer moves stock between two locations.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Movements.Transfer(r.Context(), ledger.TransferParams{
		ItemID:         ledger.ItemID(req.ItemID),
		FromLocationID: ledger.LocationID(req.FromLocationID),
		ToLocationID:   ledger.LocationID(req.ToLocationID),
		Qty:            ledger.NewQuantity(req.Quantity),
		Actor:          req.Actor,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(result))
}

// Consume records stock used up on a project.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Movements.ConsumeForProject(r.Context(), ledger.ConsumeParams{
		ItemID:         ledger.ItemID(req.ItemID),
		FromLocationID: ledger.LocationID(req.FromLocationID),
		ProjectID:      req.ProjectID,
		Qty:            ledger.NewQuantity(req.Quantity),
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(result))
}

// Receive books a delivered purchase order into the loading bay.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]ledger.ReceiptLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = ledger.ReceiptLine{
			ItemID: ledger.ItemID(l.ItemID),
			Qty:    ledger.NewQuantity(l.Quantity),
		}
	}
	result, err := h.Movements.ReceiveFromPurchaseOrder(r.Context(), ledger.ReceiveParams{
		POID:  req.PurchaseOrderID,
		Lines: lines,
		Actor: req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(result))
}

// =============================================================================
// BASELINE HANDLERS
// =============================================================================

// BaselinePropose diffs stocktake counts against projected balances without
// writing anything.
func (h *Handler) BaselinePropose(w http.ResponseWriter, r *http.Request) {
	var req BaselineProposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	counts := make([]ledger.StocktakeCount, len(req.Counts))
	for i, c := range req.Counts {
		counts[i] = ledger.StocktakeCount{
			ItemID:     ledger.ItemID(c.ItemID),
			LocationID: ledger.LocationID(c.LocationID),
			CountedQty: ledger.NewQuantity(c.CountedQty),
		}
	}
	changes, err := h.Seeder.Propose(r.Context(), counts)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]BaselineChangeDTO, len(changes))
	for i, c := range changes {
		counted, _ := c.CountedQty.Value.Float64()
		delta, _ := c.Delta.Value.Float64()
		dtos[i] = BaselineChangeDTO{
			ItemID:     string(c.ItemID),
			LocationID: string(c.LocationID),
			CountedQty: counted,
			Delta:      delta,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// BaselineExecute applies proposed changes as seed entries, exactly once.
func (h *Handler) BaselineExecute(w http.ResponseWriter, r *http.Request) {
	var req BaselineExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}
	changes := make([]ledger.BaselineChange, len(req.Changes))
	for i, c := range req.Changes {
		changes[i] = ledger.BaselineChange{
			ItemID:     ledger.ItemID(c.ItemID),
			LocationID: ledger.LocationID(c.LocationID),
			CountedQty: ledger.NewQuantity(c.CountedQty),
			Delta:      ledger.NewQuantity(c.Delta),
		}
	}
	result, err := h.Seeder.Execute(r.Context(), ledger.ExecuteParams{
		Changes:        changes,
		Actor:          req.Actor,
		AllowRerun:     req.AllowRerun,
		OverrideReason: req.OverrideReason,
		SeedBatchID:    req.SeedBatchID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SeedResultDTO{
		Run:      toSeedRunDTO(result.Run),
		Entries:  toEntryDTOs(result.Entries),
		Replayed: result.Replayed,
	})
}

// BaselineRuns lists past seed runs, newest first.
func (h *Handler) BaselineRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Seeder.Runs(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list seed runs", err)
		return
	}
	dtos := make([]SeedRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSeedRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INTEGRITY HANDLERS
// =============================================================================

// IntegrityReport runs every read-only integrity check.
func (h *Handler) IntegrityReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.Report(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to run integrity checks", err)
		return
	}
	dto := IntegrityReportDTO{
		Healthy:                 report.Healthy(),
		MissingCoreLocations:    make([]string, len(report.MissingCoreLocations)),
		DuplicateOwnerLocations: make([]DuplicateViolationDTO, len(report.DuplicateOwnerLocations)),
		OrphanedBalances:        toBalanceDTOs(report.OrphanedBalances),
	}
	for i, kind := range report.MissingCoreLocations {
		dto.MissingCoreLocations[i] = string(kind)
	}
	for i, v := range report.DuplicateOwnerLocations {
		ids := make([]string, len(v.LocationIDs))
		for j, id := range v.LocationIDs {
			ids[j] = string(id)
		}
		dto.DuplicateOwnerLocations[i] = DuplicateViolationDTO{
			Kind:           string(v.Kind),
			OwnerReference: v.OwnerReference,
			LocationIDs:    ids,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// RepairDuplicates deduplicates every (kind, owner) pair with more than one
// active location.
func (h *Handler) RepairDuplicates(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if !h.decode(w, r, &req) {
		return
	}
	reports, err := h.Auditor.RepairDuplicates(r.Context(), req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]DedupReportDTO, len(reports))
	for i, report := range reports {
		dtos[i] = toDedupReportDTO(report)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports process and core-location health.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	err := h.Registry.RequireCoreLocations(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	var missingErr *ledger.MissingCoreLocationError
	if errors.As(err, &missingErr) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":                 "degraded",
			"missing_core_locations": missingErr.Missing,
		})
		return
	}
	h.writeError(w, http.StatusInternalServerError, "Health check failed", err)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a JSON request body. On failure it writes the
// error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsConflict(err):
		h.writeError(w, http.StatusConflict, err.Error(), nil)
	case ledger.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
		if status >= 500 {
			h.log.WithError(err).Error(msg)
		} else {
			h.log.WithError(err).Warn(msg)
		}
	}
	writeJSON(w, status, resp)
}
