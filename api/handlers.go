/*
handlers.go - HTTP handlers for the trade and inventory ledger API

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates every decision to the ledger package.

ENDPOINTS:
  Trades:
    POST   /api/trades                  Record a trade (atomic)
    GET    /api/trades                  Tenant's trades, newest first
    GET    /api/trades/{id}/profit      Profit at the trade's timestamp
    DELETE /api/trade-lines/{id}        Remove one line (privileged)

  Inventory views (net movements as of a point in time):
    GET /api/inventory/summary                     Per-item rollup
    GET /api/inventory/by-location                 Per-location rollup
    GET /api/inventory/items/{id}/by-location     One item across locations
    GET /api/inventory/locations/{id}/by-item     One location's contents

  Players:
    GET /api/players/{id}/inventory     Materialized holdings, valued
    GET /api/players/{id}/ledger        Movement history

  Valuations:
    POST /api/item-values               Record a price (append-only)
    GET  /api/item-values               Price history

  Catalog:
    POST|GET /api/items, /api/locations, /api/reasons
    POST     /api/members
    POST     /api/seed                  Demo dataset (dev convenience)

IDENTITY:
  The calling tenant arrives in X-Structure-ID and the acting user in
  X-User-ID. Authentication happens upstream; this API trusts the headers.
  Every read and write is scoped to the header tenant, and rows owned by
  other tenants answer exactly like missing ones.

ERROR HANDLING:
  Errors are returned as JSON with a machine-readable code:
  - 400: Validation errors, invalid input
  - 404: Missing or cross-tenant rows
  - 409: Uniqueness conflicts (valuations, external locations)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - schema.go: JSON Schema validation for trade submission
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stronghold/trade-engine/ledger"
	"github.com/stronghold/trade-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Engine  *ledger.Engine
	Queries *ledger.Queries
}

// NewHandler creates a new handler over the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:   store,
		Engine:  ledger.NewEngine(store),
		Queries: ledger.NewQueries(store),
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

func tenantFrom(r *http.Request) (ledger.TenantID, bool) {
	t := r.Header.Get("X-Structure-ID")
	return ledger.TenantID(t), t != ""
}

func userFrom(r *http.Request) (ledger.UserID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return ledger.UserID(id), true
}

// requireTenant writes a 400 and returns false when the header is absent.
func requireTenant(w http.ResponseWriter, r *http.Request) (ledger.TenantID, bool) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Structure-ID header", "missing_tenant", nil)
	}
	return tenant, ok
}

// =============================================================================
// TRADES
// =============================================================================

// CreateTrade records a trade as one atomic unit.
// POST /api/trades
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	user, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-User-ID header", "missing_user", nil)
		return
	}

	req, err := decodeTradeRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade payload", "invalid_payload", err)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC3339", "invalid_payload", err)
			return
		}
	}

	proposal := ledger.TradeProposal{
		Tenant:      tenant,
		RecordedBy:  user,
		Timestamp:   ts,
		DefaultFrom: locID(req.FromLocationID),
		DefaultTo:   locID(req.ToLocationID),
	}
	for _, ln := range req.Lines {
		proposal.Lines = append(proposal.Lines, ledger.LineProposal{
			ItemID:       ledger.ItemID(ln.ItemID),
			Quantity:     ln.Quantity,
			Direction:    ledger.Direction(ln.Direction),
			FromUser:     usrID(ln.FromUserID),
			FromLocation: locID(ln.FromLocationID),
			ToUser:       usrID(ln.ToUserID),
			ToLocation:   locID(ln.ToLocationID),
			Reason:       ledger.ReasonCode(ln.Reason),
		})
	}

	result, err := h.Engine.CreateTrade(ctx, proposal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tradeDTO(&result.Trade, result.Profit))
}

// ListTrades returns the tenant's trades, newest first, each with profit.
// GET /api/trades
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	trades, err := h.Store.Trades(ctx, tenant)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]TradeDTO, 0, len(trades))
	for i := range trades {
		profit, err := h.Engine.TradeProfitOf(ctx, &trades[i])
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		out = append(out, tradeDTO(&trades[i], profit))
	}
	writeJSON(w, http.StatusOK, out)
}

// TradeProfit computes a trade's profit at its own timestamp.
// GET /api/trades/{id}/profit
func (h *Handler) TradeProfit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade id", "invalid_payload", err)
		return
	}

	profit, err := h.Engine.TradeProfit(ctx, tenant, ledger.TradeID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfitDTO{TradeID: id, Profit: valueDTO(profit)})
}

// DeleteTradeLine removes one line, and its trade when it was the last one.
// DELETE /api/trade-lines/{id}
func (h *Handler) DeleteTradeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid line id", "invalid_payload", err)
		return
	}

	res, err := h.Engine.DeleteTradeLine(ctx, tenant, ledger.LineID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteLineDTO{
		DeletedLineID: int64(res.DeletedLineID),
		TradeID:       int64(res.TradeID),
		TradeDeleted:  res.TradeDeleted,
	})
}

// =============================================================================
// INVENTORY VIEWS
// =============================================================================

// InventorySummary returns the tenant-wide per-item net position.
// GET /api/inventory/summary?as_of=...&include_external=true
func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC3339", "invalid_payload", err)
		return
	}

	summary, err := h.Queries.Summary(ctx, tenant, asOf, includeExternalParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryDTO(summary))
}

// InventoryByLocation returns the per-location rollup.
// GET /api/inventory/by-location
func (h *Handler) InventoryByLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC3339", "invalid_payload", err)
		return
	}

	rows, err := h.Queries.ByLocation(ctx, tenant, asOf, includeExternalParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]LocationSummaryDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, LocationSummaryDTO{
			LocationID:   int64(row.LocationID),
			Name:         row.Name,
			External:     row.External,
			ExternalKind: string(row.ExternalKind),
			TotalQty:     row.TotalQty,
			TotalValue:   valueDTO(row.TotalValue),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ItemByLocation shows where one item sits.
// GET /api/inventory/items/{id}/by-location
func (h *Handler) ItemByLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id", "invalid_payload", err)
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC3339", "invalid_payload", err)
		return
	}

	rows, err := h.Queries.ItemByLocation(ctx, tenant, ledger.ItemID(id), asOf, includeExternalParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]ItemLocationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, ItemLocationDTO{
			LocationID:   int64(row.LocationID),
			Name:         row.Name,
			External:     row.External,
			ExternalKind: string(row.ExternalKind),
			Quantity:     row.Quantity,
			Value:        valueDTO(row.Value),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// LocationByItem shows what sits at one location.
// GET /api/inventory/locations/{id}/by-item
func (h *Handler) LocationByItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id", "invalid_payload", err)
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC3339", "invalid_payload", err)
		return
	}

	rows, err := h.Queries.LocationByItem(ctx, tenant, ledger.LocationID(id), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]LocationItemDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, LocationItemDTO{
			ItemID:   int64(row.ItemID),
			ItemName: row.ItemName,
			Quantity: row.Quantity,
			Value:    valueDTO(row.Value),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PLAYERS
// =============================================================================

// PlayerInventory returns a user's materialized holdings valued at asOf.
// GET /api/players/{id}/inventory
func (h *Handler) PlayerInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id", "invalid_payload", err)
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC3339", "invalid_payload", err)
		return
	}

	view, err := h.Queries.PlayerInventory(ctx, tenant, ledger.UserID(id), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playerInventoryDTO(view))
}

// PlayerLedger returns a user's movement history, chronologically.
// GET /api/players/{id}/ledger
func (h *Handler) PlayerLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id", "invalid_payload", err)
		return
	}

	entries, err := h.Store.LedgerEntries(ctx, tenant, ledger.UserID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// VALUATIONS
// =============================================================================

// CreateValuation appends a price row.
// POST /api/item-values
func (h *Handler) CreateValuation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	user, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-User-ID header", "missing_user", nil)
		return
	}

	var req CreateValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", "invalid_payload", err)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be a decimal string", "invalid_payload", err)
		return
	}
	effective := time.Now().UTC()
	if req.EffectiveFrom != "" {
		effective, err = time.Parse(time.RFC3339, req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "effective_from must be RFC3339", "invalid_payload", err)
			return
		}
	}

	valuation := ledger.ItemValuation{
		Tenant:        tenant,
		ItemID:        ledger.ItemID(req.ItemID),
		Value:         value,
		EffectiveFrom: effective,
		RecordedBy:    user,
	}
	if err := h.Engine.RecordValuation(ctx, &valuation); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, valuationDTO(valuation))
}

// ListValuations returns the price history, optionally for one item.
// GET /api/item-values?item_id=...
func (h *Handler) ListValuations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var item ledger.ItemID
	if raw := r.URL.Query().Get("item_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item_id", "invalid_payload", err)
			return
		}
		item = ledger.ItemID(id)
	}

	valuations, err := h.Store.Valuations(ctx, tenant, item)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]ValuationDTO, 0, len(valuations))
	for _, v := range valuations {
		out = append(out, valuationDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CATALOG
// =============================================================================

// CreateItem adds a catalog item.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", "invalid_payload", err)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "name and code are required", "invalid_payload", nil)
		return
	}
	if req.StackSize <= 0 {
		req.StackSize = 64
	}

	item := ledger.Item{
		Name:      req.Name,
		Code:      req.Code,
		Category:  req.Category,
		StackSize: req.StackSize,
		Active:    true,
	}
	if err := h.Store.SaveItem(ctx, &item); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemDTO(item))
}

// ListItems returns the global item catalog.
// GET /api/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]ItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, itemDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateLocation adds a location to the calling tenant.
// POST /api/locations
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req CreateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", "invalid_payload", err)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "name and code are required", "invalid_payload", nil)
		return
	}
	if req.External && req.ExternalKind != "IMPORT" && req.ExternalKind != "EXPORT" {
		writeError(w, http.StatusBadRequest, "external locations need external_kind IMPORT or EXPORT", "invalid_payload", nil)
		return
	}
	if req.Type == "" {
		req.Type = string(ledger.LocationOther)
	}

	loc := ledger.Location{
		Tenant:       tenant,
		Name:         req.Name,
		Code:         req.Code,
		Type:         ledger.LocationType(req.Type),
		X:            req.X,
		Y:            req.Y,
		Z:            req.Z,
		Active:       true,
		External:     req.External,
		ExternalKind: ledger.ExternalKind(req.ExternalKind),
	}
	if err := h.Store.SaveLocation(ctx, &loc); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, locationDTO(loc))
}

// ListLocations returns the calling tenant's locations.
// GET /api/locations
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	locs, err := h.Store.Locations(r.Context(), tenant)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]LocationDTO, 0, len(locs))
	for _, l := range locs {
		out = append(out, locationDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateReason adds a movement reason to the calling tenant.
// POST /api/reasons
func (h *Handler) CreateReason(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req CreateReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", "invalid_payload", err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required", "invalid_payload", nil)
		return
	}

	reason := ledger.MovementReason{
		Tenant: tenant,
		Code:   ledger.ReasonCode(req.Code),
		Name:   req.Name,
		Active: true,
	}
	if err := h.Store.SaveReason(ctx, &reason); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reasonDTO(reason))
}

// ListReasons returns the calling tenant's movement reasons.
// GET /api/reasons
func (h *Handler) ListReasons(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	reasons, err := h.Store.ListReasons(r.Context(), tenant)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]ReasonDTO, 0, len(reasons))
	for _, reason := range reasons {
		out = append(out, reasonDTO(reason))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddMember records a user as a member of the calling tenant.
// POST /api/members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", "invalid_payload", err)
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id must be positive", "invalid_payload", nil)
		return
	}

	if err := h.Store.AddMember(ctx, tenant, ledger.UserID(req.UserID)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": req.UserID})
}

// =============================================================================
// ERROR MAPPING AND HELPERS
// =============================================================================

// errorCode turns a domain error into a stable machine-readable code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidParty):
		return "invalid_party"
	case errors.Is(err, ledger.ErrCrossTenantUser):
		return "cross_tenant_user"
	case errors.Is(err, ledger.ErrInvalidReason):
		return "invalid_reason"
	case errors.Is(err, ledger.ErrExternalBoundary):
		return "external_boundary"
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ledger.ErrDuplicateValuation):
		return "duplicate_valuation"
	case errors.Is(err, ledger.ErrDuplicateExternalLocation):
		return "duplicate_external_location"
	case errors.Is(err, ledger.ErrValueOutOfRange):
		return "value_out_of_range"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", errorCode(err), nil)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", errorCode(err), err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid trade", errorCode(err), err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "internal", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// asOfParam reads the optional as_of query parameter, defaulting to now.
func asOfParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func includeExternalParam(r *http.Request) bool {
	v := r.URL.Query().Get("include_external")
	return v == "true" || v == "1"
}

func locID(v *int64) *ledger.LocationID {
	if v == nil {
		return nil
	}
	id := ledger.LocationID(*v)
	return &id
}

func usrID(v *int64) *ledger.UserID {
	if v == nil {
		return nil
	}
	id := ledger.UserID(*v)
	return &id
}
