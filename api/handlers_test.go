package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stronghold/trade-engine/api"
	"github.com/stronghold/trade-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP - full HTTP stack over an in-memory database
// =============================================================================

const (
	testTenant = "stronghold-test"
	alice      = "1"
	bob        = "2"
)

var tradeTime = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(store), []string{"*"}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends a request with the identity headers and decodes the JSON body
// into out (when out is non-nil). Empty tenant/user omit the header.
func (s *testServer) do(method, path, tenant, user string, body, out any) int {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Structure-ID", tenant)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

// world holds the catalog ids a test set up through the API.
type world struct {
	coal, iron           int64
	mine, depot, imports int64
}

// setupWorld provisions members, items, locations, and a reason code the way
// an operator would, through the API itself.
func setupWorld(t *testing.T, s *testServer) world {
	t.Helper()
	var w world

	for _, user := range []int64{1, 2} {
		code := s.do("POST", "/api/members", testTenant, "", map[string]any{"user_id": user}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var item api.ItemDTO
	code := s.do("POST", "/api/items", testTenant, "", api.CreateItemRequest{Name: "Coal", Code: "coal"}, &item)
	require.Equal(t, http.StatusCreated, code)
	w.coal = item.ID
	code = s.do("POST", "/api/items", testTenant, "", api.CreateItemRequest{Name: "Iron Ingot", Code: "iron_ingot"}, &item)
	require.Equal(t, http.StatusCreated, code)
	w.iron = item.ID

	var loc api.LocationDTO
	code = s.do("POST", "/api/locations", testTenant, "", api.CreateLocationRequest{
		Name: "Mine", Code: "mine", Type: "MINE"}, &loc)
	require.Equal(t, http.StatusCreated, code)
	w.mine = loc.ID
	code = s.do("POST", "/api/locations", testTenant, "", api.CreateLocationRequest{
		Name: "Depot", Code: "depot", Type: "TOWN"}, &loc)
	require.Equal(t, http.StatusCreated, code)
	w.depot = loc.ID
	code = s.do("POST", "/api/locations", testTenant, "", api.CreateLocationRequest{
		Name: "Imports", Code: "imports", External: true, ExternalKind: "IMPORT"}, &loc)
	require.Equal(t, http.StatusCreated, code)
	w.imports = loc.ID

	code = s.do("POST", "/api/reasons", testTenant, "", api.CreateReasonRequest{Code: "mined", Name: "Mined"}, nil)
	require.Equal(t, http.StatusCreated, code)

	return w
}

func ptr64(v int64) *int64 { return &v }

// =============================================================================
// TRADES
// =============================================================================

func TestAPI_CreateTrade_EndToEnd(t *testing.T) {
	// GIVEN: A provisioned structure
	// WHEN: Recording a withdrawal of 40 coal from the mine to a player
	// THEN: The trade, the player's ledger, and the balance all reflect it

	s := newTestServer(t)
	w := setupWorld(t, s)

	var trade api.TradeDTO
	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Timestamp: tradeTime.Format(time.RFC3339),
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 40, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), ToUserID: ptr64(1), Reason: "mined",
		}},
	}, &trade)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, trade.Gained, 1)
	assert.Empty(t, trade.Given)
	assert.Equal(t, int64(1), trade.RecordedBy)
	assert.Nil(t, trade.Profit, "no price history yet")
	require.NotNil(t, trade.Gained[0].To.UserID)
	assert.Equal(t, int64(1), *trade.Gained[0].To.UserID)

	var inv api.PlayerInventoryDTO
	code = s.do("GET", "/api/players/1/inventory", testTenant, "", nil, &inv)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, inv.Rows, 1)
	assert.Equal(t, w.coal, inv.Rows[0].ItemID)
	assert.Equal(t, int64(40), inv.Rows[0].Quantity)

	var history []api.LedgerEntryDTO
	code = s.do("GET", "/api/players/1/ledger", testTenant, "", nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 1)
	assert.Equal(t, int64(40), history[0].DeltaQty)
	assert.Equal(t, trade.ID, history[0].TradeID)
	assert.Equal(t, "mined", history[0].Reason)

	var trades []api.TradeDTO
	code = s.do("GET", "/api/trades", testTenant, "", nil, &trades)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
}

func TestAPI_CreateTrade_MissingTenantHeader(t *testing.T) {
	s := newTestServer(t)

	var errResp api.ErrorResponse
	code := s.do("POST", "/api/trades", "", alice, api.CreateTradeRequest{
		Lines: []api.TradeLineRequest{{ItemID: 1, Quantity: 1, Direction: "GAINED"}},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing_tenant", errResp.Code)
}

func TestAPI_CreateTrade_MissingUserHeader(t *testing.T) {
	s := newTestServer(t)

	var errResp api.ErrorResponse
	code := s.do("POST", "/api/trades", testTenant, "", api.CreateTradeRequest{
		Lines: []api.TradeLineRequest{{ItemID: 1, Quantity: 1, Direction: "GAINED"}},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing_user", errResp.Code)
}

func TestAPI_CreateTrade_SchemaViolations(t *testing.T) {
	// Shape problems are rejected before any domain logic runs.
	s := newTestServer(t)
	setupWorld(t, s)

	payloads := []map[string]any{
		{},                    // no lines
		{"lines": []any{}},    // empty lines
		{"lines": "not-a-list"},
		{"lines": []any{map[string]any{"item_id": 1, "quantity": 0, "direction": "GAINED"}}},
		{"lines": []any{map[string]any{"item_id": 1, "quantity": 1, "direction": "SIDEWAYS"}}},
		{"lines": []any{map[string]any{"item_id": 1, "quantity": 1}}}, // direction missing
		{"lines": []any{map[string]any{"item_id": 1, "quantity": 1, "direction": "GAINED", "bogus": true}}},
	}
	for i, payload := range payloads {
		var errResp api.ErrorResponse
		code := s.do("POST", "/api/trades", testTenant, alice, payload, &errResp)
		assert.Equal(t, http.StatusBadRequest, code, "payload %d", i)
		assert.Equal(t, "invalid_payload", errResp.Code, "payload %d", i)
	}
}

func TestAPI_CreateTrade_DomainErrorCodes(t *testing.T) {
	// Semantic violations pass the schema and come back as 400s with the
	// matching machine code.
	s := newTestServer(t)
	w := setupWorld(t, s)

	cases := []struct {
		name string
		line api.TradeLineRequest
		code string
	}{
		{"external to user", api.TradeLineRequest{
			ItemID: w.coal, Quantity: 5, Direction: "GAINED",
			FromLocationID: ptr64(w.imports), ToUserID: ptr64(1)}, "external_boundary"},
		{"cross tenant user", api.TradeLineRequest{
			ItemID: w.coal, Quantity: 5, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), ToUserID: ptr64(999)}, "cross_tenant_user"},
		{"both parties on a side", api.TradeLineRequest{
			ItemID: w.coal, Quantity: 5, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), FromUserID: ptr64(1), ToUserID: ptr64(2)}, "invalid_party"},
		{"unknown reason", api.TradeLineRequest{
			ItemID: w.coal, Quantity: 5, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), ToUserID: ptr64(1), Reason: "nope"}, "invalid_reason"},
	}
	for _, tc := range cases {
		var errResp api.ErrorResponse
		code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
			Lines: []api.TradeLineRequest{tc.line},
		}, &errResp)
		assert.Equal(t, http.StatusBadRequest, code, tc.name)
		assert.Equal(t, tc.code, errResp.Code, tc.name)
	}
}

func TestAPI_TradeProfit_KnownAfterPricing(t *testing.T) {
	// GIVEN: A priced item and a trade after the price's effective instant
	// WHEN: Asking for the trade's profit
	// THEN: quantity * price, as a decimal string

	s := newTestServer(t)
	w := setupWorld(t, s)

	code := s.do("POST", "/api/item-values", testTenant, alice, api.CreateValuationRequest{
		ItemID: w.coal, Value: "2.5",
		EffectiveFrom: tradeTime.Add(-24 * time.Hour).Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var trade api.TradeDTO
	code = s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Timestamp: tradeTime.Format(time.RFC3339),
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 40, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), ToUserID: ptr64(1),
		}},
	}, &trade)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, trade.Profit)
	assert.Equal(t, "100", *trade.Profit)

	var profit api.ProfitDTO
	code = s.do("GET", fmt.Sprintf("/api/trades/%d/profit", trade.ID), testTenant, "", nil, &profit)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, profit.Profit)
	assert.Equal(t, "100", *profit.Profit)
}

func TestAPI_TradeProfit_UnknownTrade_404(t *testing.T) {
	s := newTestServer(t)

	var errResp api.ErrorResponse
	code := s.do("GET", "/api/trades/424242/profit", testTenant, "", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errResp.Code)
}

func TestAPI_DeleteTradeLine_LastLineDeletesTrade(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	var trade api.TradeDTO
	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 10, Direction: "GIVEN",
			FromLocationID: ptr64(w.mine), ToLocationID: ptr64(w.depot),
		}},
	}, &trade)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, trade.Given, 1)

	var del api.DeleteLineDTO
	code = s.do("DELETE", fmt.Sprintf("/api/trade-lines/%d", trade.Given[0].ID), testTenant, "", nil, &del)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, del.TradeDeleted)
	assert.Equal(t, trade.ID, del.TradeID)

	var trades []api.TradeDTO
	code = s.do("GET", "/api/trades", testTenant, "", nil, &trades)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, trades)
}

func TestAPI_DeleteTradeLine_CrossTenant_404(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	var trade api.TradeDTO
	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 10, Direction: "GIVEN",
			FromLocationID: ptr64(w.mine), ToLocationID: ptr64(w.depot),
		}},
	}, &trade)
	require.Equal(t, http.StatusCreated, code)

	var errResp api.ErrorResponse
	code = s.do("DELETE", fmt.Sprintf("/api/trade-lines/%d", trade.Given[0].ID), "other-structure", "", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errResp.Code)
}

// =============================================================================
// VALUATIONS AND CATALOG CONFLICTS
// =============================================================================

func TestAPI_CreateValuation_Duplicate_409(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	req := api.CreateValuationRequest{
		ItemID: w.coal, Value: "2.5",
		EffectiveFrom: tradeTime.Format(time.RFC3339),
	}
	code := s.do("POST", "/api/item-values", testTenant, alice, req, nil)
	require.Equal(t, http.StatusCreated, code)

	var errResp api.ErrorResponse
	req.Value = "9.9"
	code = s.do("POST", "/api/item-values", testTenant, alice, req, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_valuation", errResp.Code)
}

func TestAPI_CreateValuation_OutOfRange_400(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	var errResp api.ErrorResponse
	code := s.do("POST", "/api/item-values", testTenant, alice, api.CreateValuationRequest{
		ItemID: w.coal, Value: "0.0001",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "value_out_of_range", errResp.Code)
}

func TestAPI_ListValuations_FilterByItem(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	for item, value := range map[int64]string{w.coal: "2.5", w.iron: "10"} {
		code := s.do("POST", "/api/item-values", testTenant, alice, api.CreateValuationRequest{
			ItemID: item, Value: value,
			EffectiveFrom: tradeTime.Format(time.RFC3339),
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var all []api.ValuationDTO
	code := s.do("GET", "/api/item-values", testTenant, "", nil, &all)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, all, 2)

	var coalOnly []api.ValuationDTO
	code = s.do("GET", fmt.Sprintf("/api/item-values?item_id=%d", w.coal), testTenant, "", nil, &coalOnly)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, coalOnly, 1)
	assert.Equal(t, w.coal, coalOnly[0].ItemID)
}

func TestAPI_CreateLocation_SecondActiveImport_409(t *testing.T) {
	s := newTestServer(t)
	setupWorld(t, s) // already has an active IMPORT location

	var errResp api.ErrorResponse
	code := s.do("POST", "/api/locations", testTenant, "", api.CreateLocationRequest{
		Name: "Imports 2", Code: "imports-2", External: true, ExternalKind: "IMPORT",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_external_location", errResp.Code)
}

func TestAPI_CreateLocation_ExternalWithoutKind_400(t *testing.T) {
	s := newTestServer(t)

	var errResp api.ErrorResponse
	code := s.do("POST", "/api/locations", testTenant, "", api.CreateLocationRequest{
		Name: "Boundary", Code: "boundary", External: true,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_payload", errResp.Code)
}

// =============================================================================
// INVENTORY VIEWS
// =============================================================================

func TestAPI_InventorySummary_ExternalToggle(t *testing.T) {
	// GIVEN: 500 coal imported into the mine
	// WHEN: Summarizing with and without external locations
	// THEN: Internal-only sees 500; including external nets to zero

	s := newTestServer(t)
	w := setupWorld(t, s)

	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Timestamp: tradeTime.Format(time.RFC3339),
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 500, Direction: "GAINED",
			FromLocationID: ptr64(w.imports), ToLocationID: ptr64(w.mine),
		}},
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	asOf := tradeTime.Add(time.Hour).Format(time.RFC3339)

	var internal api.SummaryDTO
	code = s.do("GET", "/api/inventory/summary?as_of="+asOf, testTenant, "", nil, &internal)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, internal.Rows, 1)
	assert.Equal(t, int64(500), internal.Rows[0].Quantity)
	assert.Nil(t, internal.Rows[0].UnitValue)
	assert.False(t, internal.Complete)

	var all api.SummaryDTO
	code = s.do("GET", "/api/inventory/summary?as_of="+asOf+"&include_external=true", testTenant, "", nil, &all)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, all.Rows)
}

func TestAPI_InventorySummary_BadAsOf_400(t *testing.T) {
	s := newTestServer(t)

	var errResp api.ErrorResponse
	code := s.do("GET", "/api/inventory/summary?as_of=yesterday", testTenant, "", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_payload", errResp.Code)
}

func TestAPI_InventoryDrilldowns(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Timestamp: tradeTime.Format(time.RFC3339),
		Lines: []api.TradeLineRequest{
			{ItemID: w.coal, Quantity: 500, Direction: "GAINED",
				FromLocationID: ptr64(w.imports), ToLocationID: ptr64(w.mine)},
			{ItemID: w.coal, Quantity: 200, Direction: "GIVEN",
				FromLocationID: ptr64(w.mine), ToLocationID: ptr64(w.depot)},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	asOf := tradeTime.Add(time.Hour).Format(time.RFC3339)

	var byLoc []api.LocationSummaryDTO
	code = s.do("GET", "/api/inventory/by-location?as_of="+asOf, testTenant, "", nil, &byLoc)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, byLoc, 2)

	var itemView []api.ItemLocationDTO
	code = s.do("GET", fmt.Sprintf("/api/inventory/items/%d/by-location?as_of=%s", w.coal, asOf), testTenant, "", nil, &itemView)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, itemView, 2)

	var locView []api.LocationItemDTO
	code = s.do("GET", fmt.Sprintf("/api/inventory/locations/%d/by-item?as_of=%s", w.depot, asOf), testTenant, "", nil, &locView)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, locView, 1)
	assert.Equal(t, int64(200), locView[0].Quantity)
}

func TestAPI_Views_InvisibleToOtherTenants(t *testing.T) {
	s := newTestServer(t)
	w := setupWorld(t, s)

	code := s.do("POST", "/api/trades", testTenant, alice, api.CreateTradeRequest{
		Lines: []api.TradeLineRequest{{
			ItemID: w.coal, Quantity: 40, Direction: "GAINED",
			FromLocationID: ptr64(w.mine), ToUserID: ptr64(1),
		}},
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var trades []api.TradeDTO
	code = s.do("GET", "/api/trades", "other-structure", "", nil, &trades)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, trades)

	var inv api.PlayerInventoryDTO
	code = s.do("GET", "/api/players/1/inventory", "other-structure", "", nil, &inv)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, inv.Rows)
}

// =============================================================================
// SEED
// =============================================================================

func TestAPI_Seed_ProducesQueryableWorld(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: Loading the demo dataset
	// THEN: The demo structure answers trades and summary queries

	s := newTestServer(t)

	code := s.do("POST", "/api/seed", "", "", nil, nil)
	require.Equal(t, http.StatusOK, code)

	tenant := string(api.DemoTenant)

	var trades []api.TradeDTO
	code = s.do("GET", "/api/trades", tenant, "", nil, &trades)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, trades, 3)

	var sum api.SummaryDTO
	code = s.do("GET", "/api/inventory/summary", tenant, "", nil, &sum)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, sum.Rows)
	assert.True(t, sum.Complete, "every demo item is priced")
}
