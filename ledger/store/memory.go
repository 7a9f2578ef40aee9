/*
Package store provides an in-memory implementation of the ledger storage
interfaces, used by tests and local development.

WithTx here gives real rollback semantics: the transaction body runs
against a deep copy of the state and the copy is swapped in only on
success. Atomicity tests therefore behave the same against this store and
the SQLite one.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stronghold/trade-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type reasonKey struct {
	tenant ledger.TenantID
	code   ledger.ReasonCode
}

type memberKey struct {
	tenant ledger.TenantID
	user   ledger.UserID
}

type balKey struct {
	tenant ledger.TenantID
	user   ledger.UserID
	item   ledger.ItemID
}

type state struct {
	items      map[ledger.ItemID]ledger.Item
	locations  map[ledger.LocationID]ledger.Location
	reasons    map[reasonKey]ledger.MovementReason
	members    map[memberKey]bool
	trades     map[ledger.TradeID]ledger.Trade // headers only; lines live below
	lines      map[ledger.LineID]ledger.TradeLine
	entries    []ledger.LedgerEntry
	balances   map[balKey]ledger.BalanceRow
	valuations []ledger.ItemValuation

	nextItem, nextLocation, nextReason   int64
	nextTrade, nextLine, nextLedger      int64
	nextValuation                        int64
}

func newState() *state {
	return &state{
		items:     make(map[ledger.ItemID]ledger.Item),
		locations: make(map[ledger.LocationID]ledger.Location),
		reasons:   make(map[reasonKey]ledger.MovementReason),
		members:   make(map[memberKey]bool),
		trades:    make(map[ledger.TradeID]ledger.Trade),
		lines:     make(map[ledger.LineID]ledger.TradeLine),
		balances:  make(map[balKey]ledger.BalanceRow),
	}
}

func (s *state) clone() *state {
	c := &state{
		items:         make(map[ledger.ItemID]ledger.Item, len(s.items)),
		locations:     make(map[ledger.LocationID]ledger.Location, len(s.locations)),
		reasons:       make(map[reasonKey]ledger.MovementReason, len(s.reasons)),
		members:       make(map[memberKey]bool, len(s.members)),
		trades:        make(map[ledger.TradeID]ledger.Trade, len(s.trades)),
		lines:         make(map[ledger.LineID]ledger.TradeLine, len(s.lines)),
		balances:      make(map[balKey]ledger.BalanceRow, len(s.balances)),
		entries:       append([]ledger.LedgerEntry(nil), s.entries...),
		valuations:    append([]ledger.ItemValuation(nil), s.valuations...),
		nextItem:      s.nextItem,
		nextLocation:  s.nextLocation,
		nextReason:    s.nextReason,
		nextTrade:     s.nextTrade,
		nextLine:      s.nextLine,
		nextLedger:    s.nextLedger,
		nextValuation: s.nextValuation,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	for k, v := range s.reasons {
		c.reasons[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONS - clone and swap
// =============================================================================

// WithTx runs fn against a copy of the state; the copy becomes current only
// when fn succeeds.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.st.clone()
	if err := fn(&view{st: clone}); err != nil {
		return err
	}
	m.st = clone
	return nil
}

// view implements ledger.Store over a state without locking. Memory wraps
// every call with its own mutex; WithTx hands a view over the clone.
type view struct {
	st *state
}

// Memory delegates all Store reads/writes to a locked view.

func (m *Memory) read() *view  { return &view{st: m.st} }
func (m *Memory) write() *view { return &view{st: m.st} }

// =============================================================================
// CATALOG
// =============================================================================

func (v *view) Item(_ context.Context, id ledger.ItemID) (*ledger.Item, error) {
	if it, ok := v.st.items[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (v *view) Location(_ context.Context, tenant ledger.TenantID, id ledger.LocationID) (*ledger.Location, error) {
	if l, ok := v.st.locations[id]; ok && l.Tenant == tenant {
		return &l, nil
	}
	return nil, nil
}

func (v *view) Locations(_ context.Context, tenant ledger.TenantID) ([]ledger.Location, error) {
	var out []ledger.Location
	for _, l := range v.st.locations {
		if l.Tenant == tenant {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) IsMember(_ context.Context, tenant ledger.TenantID, user ledger.UserID) (bool, error) {
	return v.st.members[memberKey{tenant, user}], nil
}

func (v *view) ActiveReason(_ context.Context, tenant ledger.TenantID, code ledger.ReasonCode) (*ledger.MovementReason, error) {
	if r, ok := v.st.reasons[reasonKey{tenant, code}]; ok && r.Active {
		return &r, nil
	}
	return nil, nil
}

// =============================================================================
// TRADES
// =============================================================================

func (v *view) InsertTrade(_ context.Context, t *ledger.Trade) error {
	v.st.nextTrade++
	t.ID = ledger.TradeID(v.st.nextTrade)
	header := *t
	header.Lines = nil
	v.st.trades[t.ID] = header
	return nil
}

func (v *view) InsertLine(_ context.Context, l *ledger.TradeLine) error {
	v.st.nextLine++
	l.ID = ledger.LineID(v.st.nextLine)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	v.st.lines[l.ID] = *l
	return nil
}

func (v *view) Trade(_ context.Context, tenant ledger.TenantID, id ledger.TradeID) (*ledger.Trade, error) {
	t, ok := v.st.trades[id]
	if !ok || t.Tenant != tenant {
		return nil, nil
	}
	t.Lines = v.linesOf(id)
	return &t, nil
}

func (v *view) Trades(_ context.Context, tenant ledger.TenantID) ([]ledger.Trade, error) {
	var out []ledger.Trade
	for _, t := range v.st.trades {
		if t.Tenant != tenant {
			continue
		}
		t.Lines = v.linesOf(t.ID)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (v *view) linesOf(id ledger.TradeID) []ledger.TradeLine {
	var out []ledger.TradeLine
	for _, l := range v.st.lines {
		if l.TradeID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *view) Line(_ context.Context, tenant ledger.TenantID, id ledger.LineID) (*ledger.TradeLine, error) {
	l, ok := v.st.lines[id]
	if !ok {
		return nil, nil
	}
	t, ok := v.st.trades[l.TradeID]
	if !ok || t.Tenant != tenant {
		return nil, nil
	}
	return &l, nil
}

func (v *view) DeleteLine(_ context.Context, id ledger.LineID) error {
	delete(v.st.lines, id)
	kept := v.st.entries[:0]
	for _, e := range v.st.entries {
		if e.LineID != id {
			kept = append(kept, e)
		}
	}
	v.st.entries = kept
	return nil
}

func (v *view) CountLines(_ context.Context, id ledger.TradeID) (int, error) {
	n := 0
	for _, l := range v.st.lines {
		if l.TradeID == id {
			n++
		}
	}
	return n, nil
}

func (v *view) DeleteTrade(_ context.Context, id ledger.TradeID) error {
	delete(v.st.trades, id)
	return nil
}

func (v *view) LinesThrough(_ context.Context, tenant ledger.TenantID, asOf time.Time) ([]ledger.TimedLine, error) {
	var out []ledger.TimedLine
	for _, l := range v.st.lines {
		t, ok := v.st.trades[l.TradeID]
		if !ok || t.Tenant != tenant || t.Timestamp.After(asOf) {
			continue
		}
		out = append(out, ledger.TimedLine{TradeLine: l, Timestamp: t.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// LEDGER AND BALANCES
// =============================================================================

func (v *view) AppendLedger(_ context.Context, e *ledger.LedgerEntry) error {
	v.st.nextLedger++
	e.ID = ledger.LedgerID(v.st.nextLedger)
	v.st.entries = append(v.st.entries, *e)
	return nil
}

func (v *view) ApplyDelta(_ context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID, delta int64, at time.Time) error {
	k := balKey{tenant, user, item}
	row, ok := v.st.balances[k]
	if !ok {
		row = ledger.BalanceRow{Tenant: tenant, UserID: user, ItemID: item}
	}
	row.Quantity += delta
	row.UpdatedAt = at
	v.st.balances[k] = row
	return nil
}

func (v *view) Balance(_ context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID) (int64, error) {
	return v.st.balances[balKey{tenant, user, item}].Quantity, nil
}

func (v *view) Balances(_ context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.BalanceRow, error) {
	var out []ledger.BalanceRow
	for k, row := range v.st.balances {
		if k.tenant == tenant && k.user == user {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (v *view) LedgerEntries(_ context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.LedgerEntry, error) {
	var out []ledger.LedgerEntry
	for _, e := range v.st.entries {
		if e.Tenant == tenant && e.UserID == user {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// VALUATIONS
// =============================================================================

func (v *view) InsertValuation(_ context.Context, val *ledger.ItemValuation) error {
	for _, existing := range v.st.valuations {
		if existing.Tenant == val.Tenant && existing.ItemID == val.ItemID &&
			existing.EffectiveFrom.Equal(val.EffectiveFrom) {
			return ledger.ErrDuplicateValuation
		}
	}
	v.st.nextValuation++
	val.ID = v.st.nextValuation
	v.st.valuations = append(v.st.valuations, *val)
	return nil
}

func (v *view) ValueAt(_ context.Context, tenant ledger.TenantID, item ledger.ItemID, asOf time.Time) (decimal.Decimal, bool, error) {
	var best *ledger.ItemValuation
	for i := range v.st.valuations {
		val := &v.st.valuations[i]
		if val.Tenant != tenant || val.ItemID != item || val.EffectiveFrom.After(asOf) {
			continue
		}
		if best == nil || val.EffectiveFrom.After(best.EffectiveFrom) {
			best = val
		}
	}
	if best == nil {
		return decimal.Zero, false, nil
	}
	return best.Value, true, nil
}

func (v *view) Valuations(_ context.Context, tenant ledger.TenantID, item ledger.ItemID) ([]ledger.ItemValuation, error) {
	var out []ledger.ItemValuation
	for _, val := range v.st.valuations {
		if val.Tenant != tenant {
			continue
		}
		if item != 0 && val.ItemID != item {
			continue
		}
		out = append(out, val)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].EffectiveFrom.After(out[j].EffectiveFrom)
	})
	return out, nil
}

// =============================================================================
// LOCKED DELEGATES - ledger.Store on *Memory
// =============================================================================

func (m *Memory) Item(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Item(ctx, id)
}

func (m *Memory) Location(ctx context.Context, tenant ledger.TenantID, id ledger.LocationID) (*ledger.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Location(ctx, tenant, id)
}

func (m *Memory) Locations(ctx context.Context, tenant ledger.TenantID) ([]ledger.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Locations(ctx, tenant)
}

func (m *Memory) IsMember(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().IsMember(ctx, tenant, user)
}

func (m *Memory) ActiveReason(ctx context.Context, tenant ledger.TenantID, code ledger.ReasonCode) (*ledger.MovementReason, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ActiveReason(ctx, tenant, code)
}

func (m *Memory) InsertTrade(ctx context.Context, t *ledger.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().InsertTrade(ctx, t)
}

func (m *Memory) InsertLine(ctx context.Context, l *ledger.TradeLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().InsertLine(ctx, l)
}

func (m *Memory) Trade(ctx context.Context, tenant ledger.TenantID, id ledger.TradeID) (*ledger.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Trade(ctx, tenant, id)
}

func (m *Memory) Trades(ctx context.Context, tenant ledger.TenantID) ([]ledger.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Trades(ctx, tenant)
}

func (m *Memory) Line(ctx context.Context, tenant ledger.TenantID, id ledger.LineID) (*ledger.TradeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Line(ctx, tenant, id)
}

func (m *Memory) DeleteLine(ctx context.Context, id ledger.LineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeleteLine(ctx, id)
}

func (m *Memory) CountLines(ctx context.Context, id ledger.TradeID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountLines(ctx, id)
}

func (m *Memory) DeleteTrade(ctx context.Context, id ledger.TradeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeleteTrade(ctx, id)
}

func (m *Memory) LinesThrough(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]ledger.TimedLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LinesThrough(ctx, tenant, asOf)
}

func (m *Memory) AppendLedger(ctx context.Context, e *ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().AppendLedger(ctx, e)
}

func (m *Memory) ApplyDelta(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID, delta int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().ApplyDelta(ctx, tenant, user, item, delta, at)
}

func (m *Memory) Balance(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Balance(ctx, tenant, user, item)
}

func (m *Memory) Balances(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.BalanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Balances(ctx, tenant, user)
}

func (m *Memory) LedgerEntries(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LedgerEntries(ctx, tenant, user)
}

func (m *Memory) InsertValuation(ctx context.Context, v *ledger.ItemValuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().InsertValuation(ctx, v)
}

func (m *Memory) ValueAt(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID, asOf time.Time) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ValueAt(ctx, tenant, item, asOf)
}

func (m *Memory) Valuations(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID) ([]ledger.ItemValuation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Valuations(ctx, tenant, item)
}

// =============================================================================
// CATALOG MANAGEMENT - used by seeds and tests
// =============================================================================

// SaveItem inserts (ID zero) or replaces a catalog item.
func (m *Memory) SaveItem(_ context.Context, item *ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		m.st.nextItem++
		item.ID = ledger.ItemID(m.st.nextItem)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.st.items[item.ID] = *item
	return nil
}

// SaveLocation inserts or replaces a location, holding the one-active-
// external-location-per-kind invariant.
func (m *Memory) SaveLocation(_ context.Context, loc *ledger.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if loc.External && loc.Active {
		for _, other := range m.st.locations {
			if other.ID != loc.ID && other.Tenant == loc.Tenant &&
				other.External && other.Active && other.ExternalKind == loc.ExternalKind {
				return ledger.ErrDuplicateExternalLocation
			}
		}
	}
	if loc.ID == 0 {
		m.st.nextLocation++
		loc.ID = ledger.LocationID(m.st.nextLocation)
	}
	now := time.Now().UTC()
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = now
	}
	loc.UpdatedAt = now
	m.st.locations[loc.ID] = *loc
	return nil
}

func (m *Memory) SaveReason(_ context.Context, r *ledger.MovementReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.st.nextReason++
		r.ID = m.st.nextReason
	}
	m.st.reasons[reasonKey{r.Tenant, r.Code}] = *r
	return nil
}

func (m *Memory) AddMember(_ context.Context, tenant ledger.TenantID, user ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.members[memberKey{tenant, user}] = true
	return nil
}

func (m *Memory) ListItems(_ context.Context) ([]ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Item
	for _, it := range m.st.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListReasons(_ context.Context, tenant ledger.TenantID) ([]ledger.MovementReason, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.MovementReason
	for _, r := range m.st.reasons {
		if r.Tenant == tenant {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
