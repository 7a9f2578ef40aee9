/*
seed.go - Demo dataset for local development

PURPOSE:
  Loads a small, self-consistent world into the database: one tenant with
  members, locations (including the external import/export boundary),
  reason codes, priced items, and a few recorded trades. Lets the API be
  explored immediately after startup without hand-crafting payloads.

The seed goes through the same engine path as the API, so every balance and
ledger row it produces is real materialized state, not fixture rows.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stronghold/trade-engine/ledger"
	"github.com/stronghold/trade-engine/store/sqlite"
)

// DemoTenant is the structure the seeder populates.
const DemoTenant = ledger.TenantID("stronghold-9")

// SeedDemo loads the demo dataset.
// POST /api/seed
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	if err := Seed(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "seed failed", "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"structure_id": string(DemoTenant),
		"users":        []int64{101, 102},
	})
}

// Seed populates the demo tenant. Safe to call once per fresh database.
func Seed(ctx context.Context, store *sqlite.Store) error {
	tenant := DemoTenant

	// Members
	for _, user := range []ledger.UserID{101, 102} {
		if err := store.AddMember(ctx, tenant, user); err != nil {
			return fmt.Errorf("seed member %d: %w", user, err)
		}
	}

	// Items
	coal := ledger.Item{Name: "Coal", Code: "coal", Category: "ore", StackSize: 64, Active: true}
	iron := ledger.Item{Name: "Iron Ingot", Code: "iron_ingot", Category: "metal", StackSize: 64, Active: true}
	gold := ledger.Item{Name: "Gold Ingot", Code: "gold_ingot", Category: "metal", StackSize: 64, Active: true}
	for _, item := range []*ledger.Item{&coal, &iron, &gold} {
		if err := store.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %s: %w", item.Code, err)
		}
	}

	// Locations
	x, y, z := 120, 14, -342
	mine := ledger.Location{Tenant: tenant, Name: "Mithril Mine", Code: "mithril-mine",
		Type: ledger.LocationMine, X: &x, Y: &y, Z: &z, Active: true}
	port := ledger.Location{Tenant: tenant, Name: "Trade Port", Code: "trade-port",
		Type: ledger.LocationPort, Active: true}
	imports := ledger.Location{Tenant: tenant, Name: "World Market (imports)", Code: "world-imports",
		Type: ledger.LocationOther, Active: true, External: true, ExternalKind: ledger.ExternalImport}
	exports := ledger.Location{Tenant: tenant, Name: "World Market (exports)", Code: "world-exports",
		Type: ledger.LocationOther, Active: true, External: true, ExternalKind: ledger.ExternalExport}
	for _, loc := range []*ledger.Location{&mine, &port, &imports, &exports} {
		if err := store.SaveLocation(ctx, loc); err != nil {
			return fmt.Errorf("seed location %s: %w", loc.Code, err)
		}
	}

	// Reason codes
	for code, name := range map[ledger.ReasonCode]string{
		"mined":       "Mined from a claim",
		"purchased":   "Purchased from the world market",
		"transferred": "Moved between locations",
		"sold":        "Sold to the world market",
	} {
		reason := ledger.MovementReason{Tenant: tenant, Code: code, Name: name, Active: true}
		if err := store.SaveReason(ctx, &reason); err != nil {
			return fmt.Errorf("seed reason %s: %w", code, err)
		}
	}

	// Prices, effective a week back so historical queries resolve
	priced := time.Now().UTC().AddDate(0, 0, -7)
	for item, price := range map[*ledger.Item]string{
		&coal: "2.5",
		&iron: "10",
		&gold: "120",
	} {
		v := ledger.ItemValuation{
			Tenant:        tenant,
			ItemID:        item.ID,
			Value:         decimal.RequireFromString(price),
			EffectiveFrom: priced,
			RecordedBy:    101,
		}
		if err := store.InsertValuation(ctx, &v); err != nil {
			return fmt.Errorf("seed valuation %s: %w", item.Code, err)
		}
	}

	// Trades go through the engine so balances and ledger rows materialize.
	engine := ledger.NewEngine(store)
	now := time.Now().UTC()

	trades := []ledger.TradeProposal{
		{
			// Restock from the world market into the mine depot.
			Tenant:     tenant,
			RecordedBy: 101,
			Timestamp:  now.AddDate(0, 0, -3),
			Lines: []ledger.LineProposal{
				{ItemID: coal.ID, Quantity: 500, Direction: ledger.DirectionGained,
					FromLocation: &imports.ID, ToLocation: &mine.ID, Reason: "purchased"},
			},
		},
		{
			// A mining run: the player banks gold and returns borrowed iron.
			// Header defaults count toward the XOR, so user-party lines
			// name their location side explicitly.
			Tenant:     tenant,
			RecordedBy: 101,
			Timestamp:  now.AddDate(0, 0, -2),
			Lines: []ledger.LineProposal{
				{ItemID: gold.ID, Quantity: 20, Direction: ledger.DirectionGained,
					FromLocation: &mine.ID, ToUser: ptr(ledger.UserID(101)), Reason: "mined"},
				{ItemID: iron.ID, Quantity: 50, Direction: ledger.DirectionGiven,
					FromUser: ptr(ledger.UserID(101)), ToLocation: &mine.ID, Reason: "transferred"},
			},
		},
		{
			// Internal logistics: coal moved to the port for sale.
			Tenant:     tenant,
			RecordedBy: 102,
			Timestamp:  now.AddDate(0, 0, -1),
			Lines: []ledger.LineProposal{
				{ItemID: coal.ID, Quantity: 200, Direction: ledger.DirectionGiven,
					FromLocation: &mine.ID, ToLocation: &port.ID, Reason: "transferred"},
			},
		},
	}
	for i, p := range trades {
		if _, err := engine.CreateTrade(ctx, p); err != nil {
			return fmt.Errorf("seed trade %d: %w", i, err)
		}
	}

	return nil
}

func ptr[T any](v T) *T { return &v }
