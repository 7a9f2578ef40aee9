/*
Package ledger implements the trade and inventory ledger engine.

PURPOSE:
  This package contains the tenant-scoped domain model and algorithms for
  recording item movements ("trades") between players and named locations,
  deriving per-player balances from an append-only movement ledger, and
  answering valuation-as-of and net-movement aggregation queries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Party: exactly one of {user, location} on each side of a movement
  - Trade/TradeLine: the recorded event and its per-item movements
  - LedgerEntry: an immutable signed balance delta caused by one line
  - BalanceRow: the materialized current quantity per (user, item, tenant)
  - ItemValuation: a time-stamped price record, never mutated

DESIGN PRINCIPLES:
  1. Immutability: trades and ledger entries are never modified after commit
  2. Isolation: every tenant-scoped entity carries a TenantID; cross-tenant
     references are rejected before any write
  3. Type safety: Party is a tagged variant built only through UserParty and
     LocationParty, so the one-party-per-side invariant holds by construction
  4. Precision: currency values use decimal.Decimal, quantities are int64

SEE ALSO:
  - validator.go: structural checks on proposed trades
  - engine.go: atomic trade persistence and balance materialization
  - valuation.go: value-as-of lookups and profit calculation
  - query.go: read-only net-movement aggregations
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TenantID identifies an isolated organization ("structure"). All
// tenant-scoped entities carry one; queries never cross it.
type TenantID string

type (
	UserID     int64
	ItemID     int64
	LocationID int64
	TradeID    int64
	LineID     int64
	LedgerID   int64
	ReasonCode string
)

// =============================================================================
// DIRECTION - advisory label from the recording user's perspective
// =============================================================================

// Direction labels a line as gained or given from the recording user's point
// of view. It drives profit math only; balance semantics come from the
// from/to parties.
type Direction string

const (
	DirectionGained Direction = "GAINED"
	DirectionGiven  Direction = "GIVEN"
)

func (d Direction) Valid() bool {
	return d == DirectionGained || d == DirectionGiven
}

// =============================================================================
// PARTY - tagged variant: user XOR location
// =============================================================================

type partyKind uint8

const (
	partyNone partyKind = iota
	partyUser
	partyLocation
)

// Party is one side of a trade line. It is constructed only through
// UserParty or LocationParty, so it can never hold both a user and a
// location, and a zero Party is detectably empty.
type Party struct {
	kind     partyKind
	user     UserID
	location LocationID
}

func UserParty(id UserID) Party         { return Party{kind: partyUser, user: id} }
func LocationParty(id LocationID) Party { return Party{kind: partyLocation, location: id} }

// User returns the user id and true when the party is a user.
func (p Party) User() (UserID, bool) { return p.user, p.kind == partyUser }

// Location returns the location id and true when the party is a location.
func (p Party) Location() (LocationID, bool) { return p.location, p.kind == partyLocation }

func (p Party) IsZero() bool { return p.kind == partyNone }

func (p Party) String() string {
	switch p.kind {
	case partyUser:
		return fmt.Sprintf("user:%d", p.user)
	case partyLocation:
		return fmt.Sprintf("location:%d", p.location)
	default:
		return "none"
	}
}

// =============================================================================
// CATALOG ENTITIES
// =============================================================================

// Item is a global catalog entry. Identity is immutable once a ledger row
// references it.
type Item struct {
	ID        ItemID
	Name      string
	Code      string // unique across the catalog
	Category  string
	StackSize int
	Active    bool
	CreatedAt time.Time
}

type LocationType string

const (
	LocationTown    LocationType = "TOWN"
	LocationOutpost LocationType = "OUTPOST"
	LocationMine    LocationType = "MINE"
	LocationPort    LocationType = "PORT"
	LocationOther   LocationType = "OTHER"
)

// ExternalKind marks which side of the tenant's import/export boundary an
// external location represents.
type ExternalKind string

const (
	ExternalImport ExternalKind = "IMPORT"
	ExternalExport ExternalKind = "EXPORT"
)

// Location is a tenant-scoped place. At most one active IMPORT and one
// active EXPORT location may exist per tenant; the stores enforce this.
type Location struct {
	ID           LocationID
	Tenant       TenantID
	Name         string
	Code         string // unique per tenant
	Type         LocationType
	X, Y, Z      *int
	Active       bool
	External     bool
	ExternalKind ExternalKind // set iff External
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MovementReason is a tenant-scoped catalog of allowed reason codes.
type MovementReason struct {
	ID     int64
	Tenant TenantID
	Code   ReasonCode // unique per tenant
	Name   string
	Active bool
}

// =============================================================================
// TRADE AGGREGATE
// =============================================================================

// Trade is the header of one recorded movement event. It owns its lines;
// the two are always loaded and persisted together as one aggregate.
type Trade struct {
	ID          TradeID
	Tenant      TenantID
	RecordedBy  UserID // who submitted the trade
	Timestamp   time.Time
	DefaultFrom *LocationID // per-line fallback for the FROM side
	DefaultTo   *LocationID // per-line fallback for the TO side
	Lines       []TradeLine
}

// TradeLine is one item movement within a trade. From and To each hold
// exactly one party.
type TradeLine struct {
	ID        LineID
	TradeID   TradeID
	ItemID    ItemID
	Quantity  int64 // always > 0; sign comes from the party roles
	Direction Direction
	From      Party
	To        Party
	Reason    ReasonCode // optional; empty means none
	CreatedAt time.Time
}

// TimedLine pairs a line with its trade's timestamp for history replay.
type TimedLine struct {
	TradeLine
	Timestamp time.Time
}

// =============================================================================
// LEDGER AND MATERIALIZED BALANCES
// =============================================================================

// LedgerEntry is one immutable signed delta for a (user, item, tenant) key,
// caused by one trade line. The ledger is the permanent source of truth;
// BalanceRow is derived from it.
type LedgerEntry struct {
	ID        LedgerID
	Tenant    TenantID
	UserID    UserID
	ItemID    ItemID
	DeltaQty  int64 // negative when the user is the FROM party
	TradeID   TradeID
	LineID    LineID
	Reason    ReasonCode
	Timestamp time.Time // the trade's timestamp, not insertion time
}

// BalanceRow is the materialized running sum of ledger deltas for one
// (user, item, tenant) key. Mutated only via atomic delta application.
type BalanceRow struct {
	Tenant    TenantID
	UserID    UserID
	ItemID    ItemID
	Quantity  int64
	UpdatedAt time.Time
}

// =============================================================================
// VALUATION
// =============================================================================

// ItemValuation is a price record effective from a point in time. History
// is retained indefinitely; a new price is a new row.
type ItemValuation struct {
	ID            int64
	Tenant        TenantID
	ItemID        ItemID
	Value         decimal.Decimal
	EffectiveFrom time.Time
	RecordedBy    UserID
}

// Value is a currency amount that may be unknown. Unknown is not an error:
// it means "no valuation row is effective at the requested time".
type Value struct {
	Amount decimal.Decimal
	Known  bool
}

// UnknownValue is the zero Value.
var UnknownValue = Value{}

func KnownValue(d decimal.Decimal) Value { return Value{Amount: d, Known: true} }

func (v Value) String() string {
	if !v.Known {
		return "unknown"
	}
	return v.Amount.String()
}

// =============================================================================
// PROPOSALS - validator input
// =============================================================================

// TradeProposal is a trade as submitted by a caller, before validation.
// Line parties are raw optional ids; the validator resolves them against the
// header defaults and returns fully-formed lines.
type TradeProposal struct {
	Tenant      TenantID
	RecordedBy  UserID
	Timestamp   time.Time
	DefaultFrom *LocationID
	DefaultTo   *LocationID
	Lines       []LineProposal
}

// LineProposal is one proposed movement. Each side may name a user or a
// location; naming both, or neither (after header defaults), is invalid.
type LineProposal struct {
	ItemID       ItemID
	Quantity     int64
	Direction    Direction
	FromUser     *UserID
	FromLocation *LocationID
	ToUser       *UserID
	ToLocation   *LocationID
	Reason       ReasonCode
}
