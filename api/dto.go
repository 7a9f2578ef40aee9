/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire shapes for the REST surface, and converters between them and the
  ledger domain types. Handlers never expose domain structs directly.

CONVENTIONS:
  - Timestamps travel as RFC3339 strings
  - Currency values travel as decimal strings; an unknown value is null
  - Each line side is an object holding exactly one of user_id/location_id

SEE ALSO:
  - handlers.go: Handler implementations
  - schema.go: JSON Schema validation for trade submission
*/
package api

import (
	"time"

	"github.com/stronghold/trade-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateTradeRequest is the POST /api/trades payload. The header defaults
// fill in missing per-line locations.
type CreateTradeRequest struct {
	Timestamp      string             `json:"timestamp,omitempty"` // RFC3339; empty means now
	FromLocationID *int64             `json:"from_location_id,omitempty"`
	ToLocationID   *int64             `json:"to_location_id,omitempty"`
	Lines          []TradeLineRequest `json:"lines"`
}

type TradeLineRequest struct {
	ItemID         int64  `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	Direction      string `json:"direction"`
	FromUserID     *int64 `json:"from_user_id,omitempty"`
	FromLocationID *int64 `json:"from_location_id,omitempty"`
	ToUserID       *int64 `json:"to_user_id,omitempty"`
	ToLocationID   *int64 `json:"to_location_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type CreateItemRequest struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Category  string `json:"category,omitempty"`
	StackSize int    `json:"stack_size,omitempty"`
}

type CreateLocationRequest struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	Type         string `json:"type,omitempty"`
	X            *int   `json:"x,omitempty"`
	Y            *int   `json:"y,omitempty"`
	Z            *int   `json:"z,omitempty"`
	External     bool   `json:"is_external,omitempty"`
	ExternalKind string `json:"external_kind,omitempty"`
}

type CreateReasonRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type AddMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// CreateValuationRequest is the POST /api/item-values payload.
type CreateValuationRequest struct {
	ItemID        int64  `json:"item_id"`
	Value         string `json:"value"`
	EffectiveFrom string `json:"effective_from,omitempty"` // RFC3339; empty means now
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// PartyDTO holds exactly one of user_id/location_id.
type PartyDTO struct {
	UserID     *int64 `json:"user_id,omitempty"`
	LocationID *int64 `json:"location_id,omitempty"`
}

type TradeLineDTO struct {
	ID        int64    `json:"id"`
	ItemID    int64    `json:"item_id"`
	Quantity  int64    `json:"quantity"`
	Direction string   `json:"direction"`
	From      PartyDTO `json:"from"`
	To        PartyDTO `json:"to"`
	Reason    string   `json:"reason,omitempty"`
}

// TradeDTO groups lines by direction the way the trade log renders them.
type TradeDTO struct {
	ID             int64          `json:"id"`
	RecordedBy     int64          `json:"recorded_by"`
	Timestamp      string         `json:"timestamp"`
	FromLocationID *int64         `json:"from_location_id,omitempty"`
	ToLocationID   *int64         `json:"to_location_id,omitempty"`
	Gained         []TradeLineDTO `json:"gained"`
	Given          []TradeLineDTO `json:"given"`
	Profit         *string        `json:"profit"` // null when unknown
}

type ProfitDTO struct {
	TradeID int64   `json:"trade_id"`
	Profit  *string `json:"profit"` // null when unknown
}

type DeleteLineDTO struct {
	DeletedLineID int64 `json:"deleted_line_id"`
	TradeID       int64 `json:"trade_id"`
	TradeDeleted  bool  `json:"trade_deleted"`
}

type ItemDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Category  string `json:"category,omitempty"`
	StackSize int    `json:"stack_size"`
	Active    bool   `json:"is_active"`
}

type LocationDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	Type         string `json:"type"`
	X            *int   `json:"x,omitempty"`
	Y            *int   `json:"y,omitempty"`
	Z            *int   `json:"z,omitempty"`
	Active       bool   `json:"is_active"`
	External     bool   `json:"is_external"`
	ExternalKind string `json:"external_kind,omitempty"`
}

type ReasonDTO struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"is_active"`
}

type ValuationDTO struct {
	ID            int64  `json:"id"`
	ItemID        int64  `json:"item_id"`
	Value         string `json:"value"`
	EffectiveFrom string `json:"effective_from"`
	RecordedBy    int64  `json:"recorded_by"`
}

type SummaryRowDTO struct {
	ItemID     int64   `json:"item_id"`
	ItemName   string  `json:"item_name"`
	Quantity   int64   `json:"quantity"`
	UnitValue  *string `json:"unit_value"`
	TotalValue *string `json:"total_value"`
}

type SummaryDTO struct {
	AsOf            string          `json:"as_of"`
	IncludeExternal bool            `json:"include_external"`
	Rows            []SummaryRowDTO `json:"rows"`
	GrandTotal      string          `json:"grand_total"`
	Complete        bool            `json:"complete"`
}

type LocationSummaryDTO struct {
	LocationID   int64   `json:"location_id"`
	Name         string  `json:"name"`
	External     bool    `json:"is_external"`
	ExternalKind string  `json:"external_kind,omitempty"`
	TotalQty     int64   `json:"total_qty"`
	TotalValue   *string `json:"total_value"`
}

type ItemLocationDTO struct {
	LocationID   int64   `json:"location_id"`
	Name         string  `json:"name"`
	External     bool    `json:"is_external"`
	ExternalKind string  `json:"external_kind,omitempty"`
	Quantity     int64   `json:"quantity"`
	Value        *string `json:"value"`
}

type LocationItemDTO struct {
	ItemID   int64   `json:"item_id"`
	ItemName string  `json:"item_name"`
	Quantity int64   `json:"quantity"`
	Value    *string `json:"value"`
}

type PlayerHoldingDTO struct {
	ItemID     int64   `json:"item_id"`
	ItemName   string  `json:"item_name"`
	Quantity   int64   `json:"quantity"`
	UnitValue  *string `json:"unit_value"`
	TotalValue *string `json:"total_value"`
}

type PlayerInventoryDTO struct {
	AsOf       string             `json:"as_of"`
	Rows       []PlayerHoldingDTO `json:"rows"`
	TotalValue string             `json:"total_value"`
	Complete   bool               `json:"complete"`
}

type LedgerEntryDTO struct {
	ID        int64  `json:"id"`
	ItemID    int64  `json:"item_id"`
	DeltaQty  int64  `json:"delta_qty"`
	TradeID   int64  `json:"trade_id"`
	LineID    int64  `json:"line_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func valueDTO(v ledger.Value) *string {
	if !v.Known {
		return nil
	}
	s := v.Amount.String()
	return &s
}

func partyDTO(p ledger.Party) PartyDTO {
	var dto PartyDTO
	if u, ok := p.User(); ok {
		id := int64(u)
		dto.UserID = &id
	}
	if l, ok := p.Location(); ok {
		id := int64(l)
		dto.LocationID = &id
	}
	return dto
}

func lineDTO(l ledger.TradeLine) TradeLineDTO {
	return TradeLineDTO{
		ID:        int64(l.ID),
		ItemID:    int64(l.ItemID),
		Quantity:  l.Quantity,
		Direction: string(l.Direction),
		From:      partyDTO(l.From),
		To:        partyDTO(l.To),
		Reason:    string(l.Reason),
	}
}

func tradeDTO(t *ledger.Trade, profit ledger.Value) TradeDTO {
	dto := TradeDTO{
		ID:         int64(t.ID),
		RecordedBy: int64(t.RecordedBy),
		Timestamp:  t.Timestamp.UTC().Format(time.RFC3339),
		Gained:     []TradeLineDTO{},
		Given:      []TradeLineDTO{},
		Profit:     valueDTO(profit),
	}
	if t.DefaultFrom != nil {
		id := int64(*t.DefaultFrom)
		dto.FromLocationID = &id
	}
	if t.DefaultTo != nil {
		id := int64(*t.DefaultTo)
		dto.ToLocationID = &id
	}
	for _, l := range t.Lines {
		if l.Direction == ledger.DirectionGained {
			dto.Gained = append(dto.Gained, lineDTO(l))
		} else {
			dto.Given = append(dto.Given, lineDTO(l))
		}
	}
	return dto
}

func itemDTO(it ledger.Item) ItemDTO {
	return ItemDTO{
		ID:        int64(it.ID),
		Name:      it.Name,
		Code:      it.Code,
		Category:  it.Category,
		StackSize: it.StackSize,
		Active:    it.Active,
	}
}

func locationDTO(l ledger.Location) LocationDTO {
	return LocationDTO{
		ID:           int64(l.ID),
		Name:         l.Name,
		Code:         l.Code,
		Type:         string(l.Type),
		X:            l.X,
		Y:            l.Y,
		Z:            l.Z,
		Active:       l.Active,
		External:     l.External,
		ExternalKind: string(l.ExternalKind),
	}
}

func reasonDTO(r ledger.MovementReason) ReasonDTO {
	return ReasonDTO{ID: r.ID, Code: string(r.Code), Name: r.Name, Active: r.Active}
}

func valuationDTO(v ledger.ItemValuation) ValuationDTO {
	return ValuationDTO{
		ID:            v.ID,
		ItemID:        int64(v.ItemID),
		Value:         v.Value.String(),
		EffectiveFrom: v.EffectiveFrom.UTC().Format(time.RFC3339),
		RecordedBy:    int64(v.RecordedBy),
	}
}

func summaryDTO(s *ledger.InventorySummary) SummaryDTO {
	dto := SummaryDTO{
		AsOf:            s.AsOf.UTC().Format(time.RFC3339),
		IncludeExternal: s.IncludeExternal,
		Rows:            []SummaryRowDTO{},
		GrandTotal:      s.GrandTotal.String(),
		Complete:        s.Complete,
	}
	for _, row := range s.Rows {
		dto.Rows = append(dto.Rows, SummaryRowDTO{
			ItemID:     int64(row.ItemID),
			ItemName:   row.ItemName,
			Quantity:   row.Quantity,
			UnitValue:  valueDTO(row.UnitValue),
			TotalValue: valueDTO(row.TotalValue),
		})
	}
	return dto
}

func playerInventoryDTO(v *ledger.PlayerInventoryView) PlayerInventoryDTO {
	dto := PlayerInventoryDTO{
		AsOf:       v.AsOf.UTC().Format(time.RFC3339),
		Rows:       []PlayerHoldingDTO{},
		TotalValue: v.TotalValue.String(),
		Complete:   v.Complete,
	}
	for _, row := range v.Rows {
		dto.Rows = append(dto.Rows, PlayerHoldingDTO{
			ItemID:     int64(row.ItemID),
			ItemName:   row.ItemName,
			Quantity:   row.Quantity,
			UnitValue:  valueDTO(row.UnitValue),
			TotalValue: valueDTO(row.TotalValue),
		})
	}
	return dto
}

func ledgerEntryDTO(e ledger.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:        int64(e.ID),
		ItemID:    int64(e.ItemID),
		DeltaQty:  e.DeltaQty,
		TradeID:   int64(e.TradeID),
		LineID:    int64(e.LineID),
		Reason:    string(e.Reason),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
}
