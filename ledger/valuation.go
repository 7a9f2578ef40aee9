/*
valuation.go - Value-as-of lookups and trade profit

PURPOSE:
  Answers "what was item X worth in tenant T at time t" from the retained
  price history, and derives a trade's profit from its lines at the trade's
  timestamp.

DETERMINISM:
  ValueAt picks the row with the greatest effective_from <= asOf and never
  returns a price from the future of asOf. No row in range means unknown.

PROFIT SEMANTICS (fail closed):
  profit = sum(value * qty over GAINED lines) - sum(value * qty over GIVEN
  lines), valued at the trade's timestamp. If ANY line's item has no
  effective valuation the whole trade's profit is unknown, never a partial
  number and never zero. A trade with no lines has profit zero.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Pricer computes values and profit from the valuation history. Read-only.
type Pricer struct {
	store Store
}

func NewPricer(store Store) *Pricer {
	return &Pricer{store: store}
}

// ValueAt returns the value of (tenant, item) effective at asOf, or unknown
// when no valuation row has effective_from <= asOf.
func (p *Pricer) ValueAt(ctx context.Context, tenant TenantID, item ItemID, asOf time.Time) (Value, error) {
	v, found, err := p.store.ValueAt(ctx, tenant, item, asOf)
	if err != nil {
		return UnknownValue, err
	}
	if !found {
		return UnknownValue, nil
	}
	return KnownValue(v), nil
}

// TradeProfit values every line at the trade's timestamp. Unknown on any
// line makes the whole result unknown.
func (p *Pricer) TradeProfit(ctx context.Context, t *Trade) (Value, error) {
	total := decimal.Zero
	for i := range t.Lines {
		ln := &t.Lines[i]
		v, err := p.ValueAt(ctx, t.Tenant, ln.ItemID, t.Timestamp)
		if err != nil {
			return UnknownValue, err
		}
		if !v.Known {
			return UnknownValue, nil
		}
		lineValue := v.Amount.Mul(decimal.NewFromInt(ln.Quantity))
		if ln.Direction == DirectionGained {
			total = total.Add(lineValue)
		} else {
			total = total.Sub(lineValue)
		}
	}
	return KnownValue(total), nil
}

// =============================================================================
// ENGINE FACADE
// =============================================================================

// ValueAt answers the point-in-time valuation query.
func (e *Engine) ValueAt(ctx context.Context, tenant TenantID, item ItemID, asOf time.Time) (Value, error) {
	return NewPricer(e.store).ValueAt(ctx, tenant, item, asOf)
}

// TradeProfit loads the trade aggregate and computes its profit. A missing
// or cross-tenant trade reports ErrNotFound.
func (e *Engine) TradeProfit(ctx context.Context, tenant TenantID, id TradeID) (Value, error) {
	t, err := e.store.Trade(ctx, tenant, id)
	if err != nil {
		return UnknownValue, err
	}
	if t == nil {
		return UnknownValue, ErrNotFound
	}
	return NewPricer(e.store).TradeProfit(ctx, t)
}

// TradeProfitOf computes profit for an already-loaded aggregate.
func (e *Engine) TradeProfitOf(ctx context.Context, t *Trade) (Value, error) {
	return NewPricer(e.store).TradeProfit(ctx, t)
}
