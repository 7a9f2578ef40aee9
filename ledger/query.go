/*
query.go - Read-only net-movement aggregations

PURPOSE:
  Answers inventory questions by replaying the persisted trade lines up to
  an as-of timestamp. These views deliberately do NOT read the player ledger
  or the materialized balances: recomputing from trade history keeps them
  correct for location-only flows that never touch a player balance.

MOVEMENT REPLAY:
  Every line posts against its location parties: the FROM location loses
  quantity, the TO location gains it. User parties post nothing here (their
  flows live in the player ledger). Postings are grouped by (item, location)
  and then rolled up per view.

VALUE SEMANTICS (fail open):
  A missing valuation makes that row's value unknown without aborting the
  query. Roll-up totals carry a Complete flag that is false when any
  contributing row was unknown.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Queries serves the aggregation views. Read-only; safe to run concurrently
// with writers, observing some committed snapshot.
type Queries struct {
	store  Store
	pricer *Pricer
}

func NewQueries(store Store) *Queries {
	return &Queries{store: store, pricer: NewPricer(store)}
}

// =============================================================================
// ROW TYPES
// =============================================================================

type SummaryRow struct {
	ItemID     ItemID
	ItemName   string
	Quantity   int64
	UnitValue  Value
	TotalValue Value
}

// InventorySummary is the tenant-wide per-item net position.
type InventorySummary struct {
	AsOf            time.Time
	IncludeExternal bool
	Rows            []SummaryRow
	GrandTotal      decimal.Decimal // sum of the known row totals
	Complete        bool            // false when any row's value was unknown
}

type LocationSummaryRow struct {
	LocationID   LocationID
	Name         string
	External     bool
	ExternalKind ExternalKind
	TotalQty     int64
	TotalValue   Value // unknown when any contributing item lacks a price
}

type ItemLocationRow struct {
	LocationID   LocationID
	Name         string
	External     bool
	ExternalKind ExternalKind
	Quantity     int64
	Value        Value
}

type LocationItemRow struct {
	ItemID   ItemID
	ItemName string
	Quantity int64
	Value    Value
}

type PlayerHolding struct {
	ItemID     ItemID
	ItemName   string
	Quantity   int64
	UnitValue  Value
	TotalValue Value
}

// PlayerInventoryView is a user's materialized holdings valued at a point
// in time.
type PlayerInventoryView struct {
	AsOf       time.Time
	Rows       []PlayerHolding
	TotalValue decimal.Decimal
	Complete   bool
}

// =============================================================================
// MOVEMENT REPLAY
// =============================================================================

type locKey struct {
	item ItemID
	loc  LocationID
}

// movements replays the tenant's lines through asOf into per-(item,
// location) net quantities, alongside the tenant's location table.
func (q *Queries) movements(ctx context.Context, tenant TenantID, asOf time.Time) (map[locKey]int64, map[LocationID]Location, error) {
	lines, err := q.store.LinesThrough(ctx, tenant, asOf)
	if err != nil {
		return nil, nil, err
	}

	net := make(map[locKey]int64)
	for i := range lines {
		ln := &lines[i]
		if loc, ok := ln.From.Location(); ok {
			net[locKey{ln.ItemID, loc}] -= ln.Quantity
		}
		if loc, ok := ln.To.Location(); ok {
			net[locKey{ln.ItemID, loc}] += ln.Quantity
		}
	}

	locs, err := q.store.Locations(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[LocationID]Location, len(locs))
	for _, l := range locs {
		byID[l.ID] = l
	}
	return net, byID, nil
}

func (q *Queries) itemName(ctx context.Context, cache map[ItemID]string, id ItemID) (string, error) {
	if name, ok := cache[id]; ok {
		return name, nil
	}
	item, err := q.store.Item(ctx, id)
	if err != nil {
		return "", err
	}
	name := ""
	if item != nil {
		name = item.Name
	}
	cache[id] = name
	return name, nil
}

// =============================================================================
// VIEWS
// =============================================================================

// Summary rolls movements up per item. Items with net zero are omitted.
// With includeExternal false, quantity parked at external boundary
// locations does not count.
func (q *Queries) Summary(ctx context.Context, tenant TenantID, asOf time.Time, includeExternal bool) (*InventorySummary, error) {
	net, locs, err := q.movements(ctx, tenant, asOf)
	if err != nil {
		return nil, err
	}

	byItem := make(map[ItemID]int64)
	for k, qty := range net {
		if !includeExternal && locs[k.loc].External {
			continue
		}
		byItem[k.item] += qty
	}

	names := make(map[ItemID]string)
	out := InventorySummary{AsOf: asOf, IncludeExternal: includeExternal, Complete: true, GrandTotal: decimal.Zero}
	for item, qty := range byItem {
		if qty == 0 {
			continue
		}
		name, err := q.itemName(ctx, names, item)
		if err != nil {
			return nil, err
		}
		unit, err := q.pricer.ValueAt(ctx, tenant, item, asOf)
		if err != nil {
			return nil, err
		}
		row := SummaryRow{ItemID: item, ItemName: name, Quantity: qty, UnitValue: unit}
		if unit.Known {
			row.TotalValue = KnownValue(unit.Amount.Mul(decimal.NewFromInt(qty)))
			out.GrandTotal = out.GrandTotal.Add(row.TotalValue.Amount)
		} else {
			out.Complete = false
		}
		out.Rows = append(out.Rows, row)
	}

	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].Quantity != out.Rows[j].Quantity {
			return out.Rows[i].Quantity > out.Rows[j].Quantity
		}
		return out.Rows[i].ItemName < out.Rows[j].ItemName
	})
	return &out, nil
}

// ByLocation rolls movements up per location. Locations with net-zero
// stock are omitted; internal locations sort before external ones, then by
// value descending.
func (q *Queries) ByLocation(ctx context.Context, tenant TenantID, asOf time.Time, includeExternal bool) ([]LocationSummaryRow, error) {
	net, locs, err := q.movements(ctx, tenant, asOf)
	if err != nil {
		return nil, err
	}

	type acc struct {
		qty      int64
		value    decimal.Decimal
		complete bool
	}
	agg := make(map[LocationID]*acc)
	units := make(map[ItemID]Value)

	for k, qty := range net {
		loc, ok := locs[k.loc]
		if !ok || (!includeExternal && loc.External) {
			continue
		}
		a := agg[k.loc]
		if a == nil {
			a = &acc{value: decimal.Zero, complete: true}
			agg[k.loc] = a
		}
		a.qty += qty

		unit, cached := units[k.item]
		if !cached {
			unit, err = q.pricer.ValueAt(ctx, tenant, k.item, asOf)
			if err != nil {
				return nil, err
			}
			units[k.item] = unit
		}
		if unit.Known {
			a.value = a.value.Add(unit.Amount.Mul(decimal.NewFromInt(qty)))
		} else {
			a.complete = false
		}
	}

	var rows []LocationSummaryRow
	for id, a := range agg {
		if a.qty == 0 {
			continue
		}
		loc := locs[id]
		row := LocationSummaryRow{
			LocationID:   id,
			Name:         loc.Name,
			External:     loc.External,
			ExternalKind: loc.ExternalKind,
			TotalQty:     a.qty,
		}
		if a.complete {
			row.TotalValue = KnownValue(a.value)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].External != rows[j].External {
			return !rows[i].External
		}
		vi, vj := decimal.Zero, decimal.Zero
		if rows[i].TotalValue.Known {
			vi = rows[i].TotalValue.Amount
		}
		if rows[j].TotalValue.Known {
			vj = rows[j].TotalValue.Amount
		}
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return rows[i].Name < rows[j].Name
	})
	return rows, nil
}

// ItemByLocation shows where one item sits, per location.
func (q *Queries) ItemByLocation(ctx context.Context, tenant TenantID, item ItemID, asOf time.Time, includeExternal bool) ([]ItemLocationRow, error) {
	net, locs, err := q.movements(ctx, tenant, asOf)
	if err != nil {
		return nil, err
	}
	unit, err := q.pricer.ValueAt(ctx, tenant, item, asOf)
	if err != nil {
		return nil, err
	}

	var rows []ItemLocationRow
	for k, qty := range net {
		if k.item != item {
			continue
		}
		loc, ok := locs[k.loc]
		if !ok || (!includeExternal && loc.External) {
			continue
		}
		row := ItemLocationRow{
			LocationID:   k.loc,
			Name:         loc.Name,
			External:     loc.External,
			ExternalKind: loc.ExternalKind,
			Quantity:     qty,
		}
		if unit.Known {
			row.Value = KnownValue(unit.Amount.Mul(decimal.NewFromInt(qty)))
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].External != rows[j].External {
			return !rows[i].External
		}
		return rows[i].Name < rows[j].Name
	})
	return rows, nil
}

// LocationByItem shows what sits at one location, per item. Net-zero items
// are hidden.
func (q *Queries) LocationByItem(ctx context.Context, tenant TenantID, loc LocationID, asOf time.Time) ([]LocationItemRow, error) {
	net, _, err := q.movements(ctx, tenant, asOf)
	if err != nil {
		return nil, err
	}

	names := make(map[ItemID]string)
	var rows []LocationItemRow
	for k, qty := range net {
		if k.loc != loc || qty == 0 {
			continue
		}
		name, err := q.itemName(ctx, names, k.item)
		if err != nil {
			return nil, err
		}
		unit, err := q.pricer.ValueAt(ctx, tenant, k.item, asOf)
		if err != nil {
			return nil, err
		}
		row := LocationItemRow{ItemID: k.item, ItemName: name, Quantity: qty}
		if unit.Known {
			row.Value = KnownValue(unit.Amount.Mul(decimal.NewFromInt(qty)))
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ItemID < rows[j].ItemID })
	return rows, nil
}

// PlayerInventory values a user's materialized holdings at asOf. Unlike the
// movement views this one reads the balance snapshot, which is what the
// ledger writer maintains for player flows.
func (q *Queries) PlayerInventory(ctx context.Context, tenant TenantID, user UserID, asOf time.Time) (*PlayerInventoryView, error) {
	balances, err := q.store.Balances(ctx, tenant, user)
	if err != nil {
		return nil, err
	}

	names := make(map[ItemID]string)
	out := PlayerInventoryView{AsOf: asOf, Complete: true, TotalValue: decimal.Zero}
	for _, b := range balances {
		name, err := q.itemName(ctx, names, b.ItemID)
		if err != nil {
			return nil, err
		}
		unit, err := q.pricer.ValueAt(ctx, tenant, b.ItemID, asOf)
		if err != nil {
			return nil, err
		}
		row := PlayerHolding{ItemID: b.ItemID, ItemName: name, Quantity: b.Quantity, UnitValue: unit}
		if unit.Known {
			row.TotalValue = KnownValue(unit.Amount.Mul(decimal.NewFromInt(b.Quantity)))
			out.TotalValue = out.TotalValue.Add(row.TotalValue.Amount)
		} else {
			out.Complete = false
		}
		out.Rows = append(out.Rows, row)
	}

	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].ItemName < out.Rows[j].ItemName })
	return &out, nil
}
