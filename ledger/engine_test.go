package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stronghold/trade-engine/ledger"
)

// =============================================================================
// TRADE CREATION - materialization
// =============================================================================

func TestEngine_CreateTrade_MaterializesBalancesAndLedger(t *testing.T) {
	// GIVEN: A user-to-user transfer of 5 coal
	// WHEN: The trade commits
	// THEN: Two ledger entries exist and both balances moved

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
		FromUser: uid(f.alice), ToUser: uid(f.bob), Reason: "mined",
	}))
	require.NoError(t, err)
	require.Len(t, res.Trade.Lines, 1)
	assert.NotZero(t, res.Trade.ID)
	assert.NotZero(t, res.Trade.Lines[0].ID)

	aliceBal, err := f.store.Balance(ctx, f.tenant, f.alice, f.coal)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), aliceBal)

	bobBal, err := f.store.Balance(ctx, f.tenant, f.bob, f.coal)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bobBal)

	aliceLedger, err := f.store.LedgerEntries(ctx, f.tenant, f.alice)
	require.NoError(t, err)
	require.Len(t, aliceLedger, 1)
	assert.Equal(t, int64(-5), aliceLedger[0].DeltaQty)
	assert.Equal(t, res.Trade.ID, aliceLedger[0].TradeID)
	assert.Equal(t, ledger.ReasonCode("mined"), aliceLedger[0].Reason)
	assert.Equal(t, baseTime, aliceLedger[0].Timestamp)

	bobLedger, err := f.store.LedgerEntries(ctx, f.tenant, f.bob)
	require.NoError(t, err)
	require.Len(t, bobLedger, 1)
	assert.Equal(t, int64(5), bobLedger[0].DeltaQty)
}

func TestEngine_CreateTrade_LocationOnlyLine_WritesNoLedger(t *testing.T) {
	// GIVEN: A location-to-location move
	// WHEN: The trade commits
	// THEN: No player ledger or balance row is touched

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 200, Direction: ledger.DirectionGiven,
		FromLocation: lid(f.mine), ToLocation: lid(f.depot),
	}))
	require.NoError(t, err)

	for _, user := range []ledger.UserID{f.alice, f.bob} {
		entries, err := f.store.LedgerEntries(ctx, f.tenant, user)
		require.NoError(t, err)
		assert.Empty(t, entries)

		balances, err := f.store.Balances(ctx, f.tenant, user)
		require.NoError(t, err)
		assert.Empty(t, balances)
	}
}

func TestEngine_CreateTrade_BadThirdLine_NothingPersists(t *testing.T) {
	// GIVEN: Three lines where the third violates the external boundary rule
	// WHEN: The trade is submitted
	// THEN: It fails whole; no header, lines, ledger rows, or balances exist

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateTrade(ctx, f.proposal(
		ledger.LineProposal{
			ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
			FromUser: uid(f.alice), ToUser: uid(f.bob),
		},
		ledger.LineProposal{
			ItemID: f.iron, Quantity: 3, Direction: ledger.DirectionGained,
			FromLocation: lid(f.mine), ToUser: uid(f.bob),
		},
		ledger.LineProposal{
			ItemID: f.coal, Quantity: 7, Direction: ledger.DirectionGiven,
			FromUser: uid(f.bob), ToLocation: lid(f.exports),
		},
	))
	require.ErrorIs(t, err, ledger.ErrExternalBoundary)

	trades, err := f.store.Trades(ctx, f.tenant)
	require.NoError(t, err)
	assert.Empty(t, trades)

	for _, user := range []ledger.UserID{f.alice, f.bob} {
		bal, err := f.store.Balance(ctx, f.tenant, user, f.coal)
		require.NoError(t, err)
		assert.Zero(t, bal)

		entries, err := f.store.LedgerEntries(ctx, f.tenant, user)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestEngine_CreateTrade_BalanceEqualsLedgerSum(t *testing.T) {
	// GIVEN: Several committed trades touching the same user and item
	// WHEN: Comparing the materialized balance to the ledger sum
	// THEN: They agree exactly

	f := newFixture(t)
	ctx := context.Background()

	moves := []ledger.LineProposal{
		{ItemID: f.coal, Quantity: 50, Direction: ledger.DirectionGained,
			FromLocation: lid(f.mine), ToUser: uid(f.alice)},
		{ItemID: f.coal, Quantity: 20, Direction: ledger.DirectionGiven,
			FromUser: uid(f.alice), ToLocation: lid(f.depot)},
		{ItemID: f.coal, Quantity: 7, Direction: ledger.DirectionGiven,
			FromUser: uid(f.alice), ToUser: uid(f.bob)},
	}
	for _, mv := range moves {
		_, err := f.engine.CreateTrade(ctx, f.proposal(mv))
		require.NoError(t, err)
	}

	entries, err := f.store.LedgerEntries(ctx, f.tenant, f.alice)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.DeltaQty
	}

	bal, err := f.store.Balance(ctx, f.tenant, f.alice, f.coal)
	require.NoError(t, err)
	assert.Equal(t, sum, bal)
	assert.Equal(t, int64(23), bal) // +50 -20 -7
}

// =============================================================================
// LINE DELETION
// =============================================================================

func TestEngine_DeleteTradeLine_LastLineRemovesTrade(t *testing.T) {
	// GIVEN: A trade with a single line
	// WHEN: That line is deleted
	// THEN: The trade header goes with it

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
		FromLocation: lid(f.mine), ToLocation: lid(f.depot),
	}))
	require.NoError(t, err)

	del, err := f.engine.DeleteTradeLine(ctx, f.tenant, res.Trade.Lines[0].ID)
	require.NoError(t, err)
	assert.True(t, del.TradeDeleted)
	assert.Equal(t, res.Trade.ID, del.TradeID)

	gone, err := f.store.Trade(ctx, f.tenant, res.Trade.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestEngine_DeleteTradeLine_OtherLinesSurvive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(
		ledger.LineProposal{ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
			FromLocation: lid(f.mine), ToLocation: lid(f.depot)},
		ledger.LineProposal{ItemID: f.iron, Quantity: 2, Direction: ledger.DirectionGained,
			FromLocation: lid(f.mine), ToLocation: lid(f.depot)},
	))
	require.NoError(t, err)

	del, err := f.engine.DeleteTradeLine(ctx, f.tenant, res.Trade.Lines[0].ID)
	require.NoError(t, err)
	assert.False(t, del.TradeDeleted)

	kept, err := f.store.Trade(ctx, f.tenant, res.Trade.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Len(t, kept.Lines, 1)
	assert.Equal(t, f.iron, kept.Lines[0].ItemID)
}

func TestEngine_DeleteTradeLine_CrossTenant_NotFound(t *testing.T) {
	// GIVEN: A line owned by another structure
	// WHEN: Deleting it through the wrong tenant
	// THEN: NotFound, and the line still exists

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
		FromLocation: lid(f.mine), ToLocation: lid(f.depot),
	}))
	require.NoError(t, err)

	_, err = f.engine.DeleteTradeLine(ctx, f.other, res.Trade.Lines[0].ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	still, err := f.store.Line(ctx, f.tenant, res.Trade.Lines[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestEngine_DeleteTradeLine_RemovesLedgerRows_KeepsBalance(t *testing.T) {
	// GIVEN: A committed user-affecting line
	// WHEN: The line is deleted
	// THEN: Its ledger rows vanish but the materialized balance stays; the
	//       deletion path does not reverse balances

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 40, Direction: ledger.DirectionGained,
		FromLocation: lid(f.mine), ToUser: uid(f.alice),
	}))
	require.NoError(t, err)

	_, err = f.engine.DeleteTradeLine(ctx, f.tenant, res.Trade.Lines[0].ID)
	require.NoError(t, err)

	entries, err := f.store.LedgerEntries(ctx, f.tenant, f.alice)
	require.NoError(t, err)
	assert.Empty(t, entries)

	bal, err := f.store.Balance(ctx, f.tenant, f.alice, f.coal)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)
}

func TestEngine_DeleteTradeLine_Missing_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DeleteTradeLine(context.Background(), f.tenant, 9999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// TENANT ISOLATION ON READS
// =============================================================================

func TestEngine_Trades_ScopedToTenant(t *testing.T) {
	// GIVEN: A trade recorded in one structure
	// WHEN: Another structure lists trades or loads by id
	// THEN: It sees nothing

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTrade(ctx, f.proposal(ledger.LineProposal{
		ItemID: f.coal, Quantity: 5, Direction: ledger.DirectionGained,
		FromLocation: lid(f.mine), ToLocation: lid(f.depot),
	}))
	require.NoError(t, err)

	otherTrades, err := f.store.Trades(ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, otherTrades)

	cross, err := f.store.Trade(ctx, f.other, res.Trade.ID)
	require.NoError(t, err)
	assert.Nil(t, cross)
}

func TestEngine_Trades_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, ts := range []time.Time{baseTime, baseTime.Add(2 * time.Hour), baseTime.Add(time.Hour)} {
		p := f.proposal(ledger.LineProposal{
			ItemID: f.coal, Quantity: int64(i + 1), Direction: ledger.DirectionGained,
			FromLocation: lid(f.mine), ToLocation: lid(f.depot),
		})
		p.Timestamp = ts
		_, err := f.engine.CreateTrade(ctx, p)
		require.NoError(t, err)
	}

	trades, err := f.store.Trades(ctx, f.tenant)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.True(t, trades[0].Timestamp.After(trades[1].Timestamp))
	assert.True(t, trades[1].Timestamp.After(trades[2].Timestamp))
}
