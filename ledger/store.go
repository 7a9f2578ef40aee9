/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine never
  talks SQL; it speaks these interfaces, which exist in two implementations:
  store/sqlite (production) and ledger/store (in-memory, for tests).

WRITE CONTRACT:
  Trades, lines, and ledger entries are insert-only. The single mutable
  entity is the materialized balance row, updated only through ApplyDelta,
  which must be an atomic increment (row lock or equivalent) keyed on
  (user, item, tenant) so concurrent trades never lose an update.

ATOMIC UNITS:
  TxStore.WithTx runs fn inside one transaction: commit on nil, roll back on
  error. Trade creation and line deletion each run entirely inside WithTx so
  the header, lines, ledger rows, and balance updates commit or fail as one.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - reference data reads
// =============================================================================

// Catalog answers reference-data lookups. Lookups are tenant-scoped where
// the entity is; a miss returns (nil, nil) rather than an error so callers
// decide how absence is reported.
type Catalog interface {
	// Item returns a global catalog item, or nil when absent.
	Item(ctx context.Context, id ItemID) (*Item, error)

	// Location returns a tenant's location, or nil when absent or owned by
	// another tenant.
	Location(ctx context.Context, tenant TenantID, id LocationID) (*Location, error)

	// Locations returns all of a tenant's locations.
	Locations(ctx context.Context, tenant TenantID) ([]Location, error)

	// IsMember reports whether the user belongs to the tenant.
	IsMember(ctx context.Context, tenant TenantID, user UserID) (bool, error)

	// ActiveReason returns the tenant's active movement reason for code, or
	// nil when absent or inactive.
	ActiveReason(ctx context.Context, tenant TenantID, code ReasonCode) (*MovementReason, error)
}

// =============================================================================
// STORE - everything the engine and queries need
// =============================================================================

type Store interface {
	Catalog

	// InsertTrade persists a trade header and assigns its ID.
	InsertTrade(ctx context.Context, t *Trade) error

	// InsertLine persists one line and assigns its ID. Party columns are
	// written exactly as resolved; a side never has both user and location.
	InsertLine(ctx context.Context, l *TradeLine) error

	// Trade loads a header together with all its lines, or nil when absent
	// or owned by another tenant.
	Trade(ctx context.Context, tenant TenantID, id TradeID) (*Trade, error)

	// Trades returns a tenant's trades newest-first, lines included.
	Trades(ctx context.Context, tenant TenantID) ([]Trade, error)

	// Line returns one line scoped through its parent trade's tenant, or
	// nil when absent or cross-tenant.
	Line(ctx context.Context, tenant TenantID, id LineID) (*TradeLine, error)

	// DeleteLine removes a line and the ledger entries it caused. The
	// materialized balance is intentionally left untouched; see engine.go.
	DeleteLine(ctx context.Context, id LineID) error

	// CountLines returns how many lines remain on a trade.
	CountLines(ctx context.Context, id TradeID) (int, error)

	// DeleteTrade removes an empty trade header.
	DeleteTrade(ctx context.Context, id TradeID) error

	// LinesThrough returns every line of the tenant's trades with trade
	// timestamp <= asOf, paired with that timestamp, for history replay.
	LinesThrough(ctx context.Context, tenant TenantID, asOf time.Time) ([]TimedLine, error)

	// AppendLedger persists one immutable balance delta and assigns its ID.
	AppendLedger(ctx context.Context, e *LedgerEntry) error

	// ApplyDelta atomically adds delta to the balance row for
	// (user, item, tenant), creating it at zero first when absent, and
	// advances the row's updated_at to at.
	ApplyDelta(ctx context.Context, tenant TenantID, user UserID, item ItemID, delta int64, at time.Time) error

	// Balance returns the materialized quantity for one key (zero when the
	// row does not exist).
	Balance(ctx context.Context, tenant TenantID, user UserID, item ItemID) (int64, error)

	// Balances returns all materialized rows for a user in a tenant.
	Balances(ctx context.Context, tenant TenantID, user UserID) ([]BalanceRow, error)

	// LedgerEntries returns a user's ledger history in a tenant,
	// chronologically.
	LedgerEntries(ctx context.Context, tenant TenantID, user UserID) ([]LedgerEntry, error)

	// InsertValuation appends a price row. Fails with ErrDuplicateValuation
	// when (tenant, item, effective_from) already exists.
	InsertValuation(ctx context.Context, v *ItemValuation) error

	// ValueAt returns the value with the greatest effective_from <= asOf
	// for (tenant, item). found is false when no row qualifies.
	ValueAt(ctx context.Context, tenant TenantID, item ItemID, asOf time.Time) (value decimal.Decimal, found bool, err error)

	// Valuations returns a tenant's price history, optionally filtered by
	// item (zero means all), newest effective_from first per item.
	Valuations(ctx context.Context, tenant TenantID, item ItemID) ([]ItemValuation, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction is rolled back and nothing is visible to other readers.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
