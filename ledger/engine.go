/*
engine.go - Atomic trade persistence and balance materialization

PURPOSE:
  The Engine is the single write path into the movement log. CreateTrade
  validates a proposal, persists the header and lines, appends one ledger
  entry per user-party per line, and applies the matching balance delta,
  all inside one transaction. DeleteTradeLine removes a line (and its trade
  when it was the last one) in its own transaction.

WRITE UNIT:
  Everything inside WithTx commits or rolls back as one: no orphan headers,
  no partial ledgers, no balance drift. A request aborted before commit has
  no visible side effect; once committed a trade is final and corrected only
  by further trades or the deletion path.

LEDGER RULES:
  - from-user on a line  -> delta -quantity for that user
  - to-user on a line    -> delta +quantity for that user
  - location-to-location -> no ledger entry; pure location flow

KNOWN GAP (deliberate):
  Deleting a line removes its ledger entries but does NOT reverse the
  materialized balance, so the balance can diverge from the ledger sum after
  an admin deletion. This mirrors the system's historical behavior; the fix
  (full reversal, or refusing deletion once a line has ledger effects) is a
  product decision that has not been made. Do not "fix" it silently here.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Engine owns trade creation, deletion, and valuation recording. Reads for
// queries live in Queries (query.go); the Engine is the only writer.
type Engine struct {
	store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// TRADE CREATION
// =============================================================================

// TradeResult is the outcome of a committed trade: the persisted aggregate
// and its profit at the trade's timestamp (unknown when any line's item has
// no effective valuation).
type TradeResult struct {
	Trade  Trade
	Profit Value
}

// CreateTrade validates and persists a proposal as one atomic unit.
// Validation runs inside the same transaction as the writes, so a
// membership or location revoked mid-flight still aborts the trade.
func (e *Engine) CreateTrade(ctx context.Context, p TradeProposal) (*TradeResult, error) {
	var trade Trade

	err := e.store.WithTx(ctx, func(s Store) error {
		lines, err := NewValidator(s).ValidateTrade(ctx, p)
		if err != nil {
			return err
		}

		t := Trade{
			Tenant:      p.Tenant,
			RecordedBy:  p.RecordedBy,
			Timestamp:   p.Timestamp,
			DefaultFrom: p.DefaultFrom,
			DefaultTo:   p.DefaultTo,
		}
		if err := s.InsertTrade(ctx, &t); err != nil {
			return err
		}

		for i := range lines {
			ln := lines[i]
			ln.TradeID = t.ID
			if err := s.InsertLine(ctx, &ln); err != nil {
				return err
			}
			if err := materialize(ctx, s, &t, &ln); err != nil {
				return err
			}
			t.Lines = append(t.Lines, ln)
		}

		trade = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	profit, err := e.TradeProfitOf(ctx, &trade)
	if err != nil {
		return nil, err
	}
	return &TradeResult{Trade: trade, Profit: profit}, nil
}

// materialize appends ledger entries and applies balance deltas for the
// user parties of one persisted line. Lines between two locations touch no
// player balance and write nothing here.
func materialize(ctx context.Context, s Store, t *Trade, ln *TradeLine) error {
	if user, ok := ln.From.User(); ok {
		if err := post(ctx, s, t, ln, user, -ln.Quantity); err != nil {
			return err
		}
	}
	if user, ok := ln.To.User(); ok {
		if err := post(ctx, s, t, ln, user, +ln.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func post(ctx context.Context, s Store, t *Trade, ln *TradeLine, user UserID, delta int64) error {
	entry := LedgerEntry{
		Tenant:    t.Tenant,
		UserID:    user,
		ItemID:    ln.ItemID,
		DeltaQty:  delta,
		TradeID:   t.ID,
		LineID:    ln.ID,
		Reason:    ln.Reason,
		Timestamp: t.Timestamp,
	}
	if err := s.AppendLedger(ctx, &entry); err != nil {
		return fmt.Errorf("append ledger for user %d: %w", user, err)
	}
	if err := s.ApplyDelta(ctx, t.Tenant, user, ln.ItemID, delta, t.Timestamp); err != nil {
		return fmt.Errorf("apply balance delta for user %d: %w", user, err)
	}
	return nil
}

// =============================================================================
// TRADE / LINE DELETION (privileged)
// =============================================================================

// DeleteResult reports what a line deletion removed.
type DeleteResult struct {
	DeletedLineID LineID
	TradeID       TradeID
	TradeDeleted  bool
}

// DeleteTradeLine removes one line scoped to the caller's tenant. When the
// parent trade has no lines left it is removed too, atomically. A line
// owned by another tenant reports ErrNotFound, exactly like a missing one.
func (e *Engine) DeleteTradeLine(ctx context.Context, tenant TenantID, id LineID) (*DeleteResult, error) {
	var res DeleteResult

	err := e.store.WithTx(ctx, func(s Store) error {
		ln, err := s.Line(ctx, tenant, id)
		if err != nil {
			return err
		}
		if ln == nil {
			return ErrNotFound
		}

		if err := s.DeleteLine(ctx, ln.ID); err != nil {
			return err
		}

		remaining, err := s.CountLines(ctx, ln.TradeID)
		if err != nil {
			return err
		}
		res = DeleteResult{DeletedLineID: ln.ID, TradeID: ln.TradeID}
		if remaining == 0 {
			if err := s.DeleteTrade(ctx, ln.TradeID); err != nil {
				return err
			}
			res.TradeDeleted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// VALUATION RECORDING
// =============================================================================

// Allowed currency range for a recorded valuation.
var (
	minValuation = decimal.RequireFromString("0.001")
	maxValuation = decimal.NewFromInt(1_000_000)
)

// RecordValuation appends a price row. Prices are never edited; a
// correction is a newer row with a later effective_from.
func (e *Engine) RecordValuation(ctx context.Context, v *ItemValuation) error {
	item, err := e.store.Item(ctx, v.ItemID)
	if err != nil {
		return err
	}
	if item == nil || !item.Active {
		return fmt.Errorf("item %d: %w", v.ItemID, ErrNotFound)
	}
	if v.Value.LessThan(minValuation) || v.Value.GreaterThan(maxValuation) {
		return fmt.Errorf("value %s: %w", v.Value, ErrValueOutOfRange)
	}
	return e.store.InsertValuation(ctx, v)
}

// Profit and value-as-of lookups live in valuation.go; the Engine exposes
// them through the same Pricer the query side uses.
