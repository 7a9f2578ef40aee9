/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore on SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - trades and trade_lines are insert-only in the normal flow; the only
    delete path is the privileged line-deletion operation
  - player_inventory_ledger rows are never updated; a line deletion removes
    the rows that line caused
  - item_values rows are never updated or deleted; corrections are newer
    rows with a later effective_from

KEY TABLES:
  items:                   Global item catalog
  locations:               Tenant-scoped places, including external boundary
                           locations (at most one active IMPORT and one
                           active EXPORT per tenant, held by a partial
                           unique index)
  movement_reasons:        Tenant-scoped reason codes
  structure_members:       Tenant membership
  trades / trade_lines:    Recorded movement events; lines cascade on trade
                           delete and carry CHECK constraints holding the
                           user-XOR-location invariant per side
  player_inventory_ledger: Immutable signed balance deltas
  player_inventory:        Materialized running sums, updated only via the
                           atomic upsert in applyDelta
  item_values:             Price history, unique per (tenant, item,
                           effective_from)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, plus WAL mode so readers never block
  the single writer. applyDelta uses INSERT .. ON CONFLICT DO UPDATE with an
  in-database addition, never read-modify-write, so concurrent trades can
  never lose a balance update.

USAGE:
  store, err := sqlite.New("./data/trades.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/engine.go: The single write path using this store
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stronghold/trade-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Global item catalog
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		stack_size INTEGER NOT NULL DEFAULT 64,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Tenant-scoped locations
	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		structure_id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'OTHER',
		x INTEGER,
		y INTEGER,
		z INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_external BOOLEAN NOT NULL DEFAULT FALSE,
		external_kind TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(structure_id, code),
		CHECK (is_external = FALSE OR external_kind IN ('IMPORT', 'EXPORT'))
	);

	-- CRITICAL: at most one ACTIVE external location per kind per tenant.
	-- "The import boundary" must be unambiguous when recording boundary flows.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_external
		ON locations(structure_id, external_kind)
		WHERE is_external = TRUE AND is_active = TRUE;

	CREATE INDEX IF NOT EXISTS idx_locations_structure
		ON locations(structure_id);

	-- Tenant-scoped movement reason codes
	CREATE TABLE IF NOT EXISTS movement_reasons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		structure_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(structure_id, code)
	);

	-- Tenant membership
	CREATE TABLE IF NOT EXISTS structure_members (
		structure_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (structure_id, user_id)
	);

	-- Trade headers
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		structure_id TEXT NOT NULL,
		recorded_by INTEGER NOT NULL,
		ts TEXT NOT NULL,
		default_from_location INTEGER REFERENCES locations(id),
		default_to_location INTEGER REFERENCES locations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_structure_ts
		ON trades(structure_id, ts DESC);

	-- Trade lines. Each side holds a user XOR a location; held here too so a
	-- buggy writer cannot persist an ambiguous side.
	CREATE TABLE IF NOT EXISTS trade_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
		item_id INTEGER NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		direction TEXT NOT NULL CHECK (direction IN ('GAINED', 'GIVEN')),
		from_user INTEGER,
		from_location INTEGER,
		to_user INTEGER,
		to_location INTEGER,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK ((from_user IS NULL) <> (from_location IS NULL)),
		CHECK ((to_user IS NULL) <> (to_location IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_trade_lines_trade
		ON trade_lines(trade_id);

	-- Immutable balance deltas (append-only ledger)
	CREATE TABLE IF NOT EXISTS player_inventory_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		structure_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		delta_qty INTEGER NOT NULL,
		trade_id INTEGER NOT NULL,
		line_id INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user
		ON player_inventory_ledger(structure_id, user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_ledger_line
		ON player_inventory_ledger(line_id);

	-- Materialized balances (hot path for player inventory reads)
	CREATE TABLE IF NOT EXISTS player_inventory (
		user_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		structure_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, item_id, structure_id)
	);

	-- Price history; one row per (tenant, item, effective_from)
	CREATE TABLE IF NOT EXISTS item_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		structure_id TEXT NOT NULL,
		item_id INTEGER NOT NULL REFERENCES items(id),
		value TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		recorded_by INTEGER NOT NULL,
		UNIQUE(structure_id, item_id, effective_from)
	);

	CREATE INDEX IF NOT EXISTS idx_item_values_lookup
		ON item_values(structure_id, item_id, effective_from DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the private query
// methods serve the plain store and the transactional one.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CATALOG (ledger.Catalog interface)
// =============================================================================

// Item returns a global catalog item, or nil when absent.
func (s *Store) Item(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.item(ctx, s.db, id)
}

func (s *Store) item(ctx context.Context, db dbtx, id ledger.ItemID) (*ledger.Item, error) {
	var (
		it        ledger.Item
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, code, category, stack_size, is_active, created_at FROM items WHERE id = ?",
		int64(id),
	).Scan(&it.ID, &it.Name, &it.Code, &it.Category, &it.StackSize, &it.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &it, nil
}

const locationColumns = `id, structure_id, name, code, type, x, y, z,
	is_active, is_external, external_kind, created_at, updated_at`

// Location returns a tenant's location, or nil when absent or owned by
// another tenant.
func (s *Store) Location(ctx context.Context, tenant ledger.TenantID, id ledger.LocationID) (*ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location(ctx, s.db, tenant, id)
}

func (s *Store) location(ctx context.Context, db dbtx, tenant ledger.TenantID, id ledger.LocationID) (*ledger.Location, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+locationColumns+" FROM locations WHERE id = ? AND structure_id = ?",
		int64(id), string(tenant),
	)
	loc, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return loc, nil
}

// Locations returns all of a tenant's locations.
func (s *Store) Locations(ctx context.Context, tenant ledger.TenantID) ([]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locationList(ctx, s.db, tenant)
}

func (s *Store) locationList(ctx context.Context, db dbtx, tenant ledger.TenantID) ([]ledger.Location, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+locationColumns+" FROM locations WHERE structure_id = ? ORDER BY id",
		string(tenant),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *loc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(r rowScanner) (*ledger.Location, error) {
	var (
		loc                  ledger.Location
		x, y, z              sql.NullInt64
		kind                 string
		createdAt, updatedAt string
	)
	err := r.Scan(&loc.ID, &loc.Tenant, &loc.Name, &loc.Code, &loc.Type,
		&x, &y, &z, &loc.Active, &loc.External, &kind, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	loc.X = nullIntPtr(x)
	loc.Y = nullIntPtr(y)
	loc.Z = nullIntPtr(z)
	loc.ExternalKind = ledger.ExternalKind(kind)
	loc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	loc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &loc, nil
}

// IsMember reports whether the user belongs to the tenant.
func (s *Store) IsMember(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMember(ctx, s.db, tenant, user)
}

func (s *Store) isMember(ctx context.Context, db dbtx, tenant ledger.TenantID, user ledger.UserID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM structure_members WHERE structure_id = ? AND user_id = ?",
		string(tenant), int64(user),
	).Scan(&count)
	return count > 0, err
}

// ActiveReason returns the tenant's active movement reason for code, or nil.
func (s *Store) ActiveReason(ctx context.Context, tenant ledger.TenantID, code ledger.ReasonCode) (*ledger.MovementReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeReason(ctx, s.db, tenant, code)
}

func (s *Store) activeReason(ctx context.Context, db dbtx, tenant ledger.TenantID, code ledger.ReasonCode) (*ledger.MovementReason, error) {
	var r ledger.MovementReason
	err := db.QueryRowContext(ctx,
		"SELECT id, structure_id, code, name, is_active FROM movement_reasons WHERE structure_id = ? AND code = ? AND is_active = TRUE",
		string(tenant), string(code),
	).Scan(&r.ID, &r.Tenant, &r.Code, &r.Name, &r.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reason: %w", err)
	}
	return &r, nil
}

// =============================================================================
// TRADES
// =============================================================================

// InsertTrade persists a trade header and assigns its ID.
func (s *Store) InsertTrade(ctx context.Context, t *ledger.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTrade(ctx, s.db, t)
}

func (s *Store) insertTrade(ctx context.Context, db dbtx, t *ledger.Trade) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO trades (structure_id, recorded_by, ts, default_from_location, default_to_location)
		 VALUES (?, ?, ?, ?, ?)`,
		string(t.Tenant), int64(t.RecordedBy), t.Timestamp.UTC().Format(time.RFC3339),
		nullLocation(t.DefaultFrom), nullLocation(t.DefaultTo),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = ledger.TradeID(id)
	return nil
}

// InsertLine persists one line and assigns its ID.
func (s *Store) InsertLine(ctx context.Context, l *ledger.TradeLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLine(ctx, s.db, l)
}

func (s *Store) insertLine(ctx context.Context, db dbtx, l *ledger.TradeLine) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	fromUser, fromLoc := partyColumns(l.From)
	toUser, toLoc := partyColumns(l.To)

	res, err := db.ExecContext(ctx,
		`INSERT INTO trade_lines
		 (trade_id, item_id, quantity, direction, from_user, from_location, to_user, to_location, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(l.TradeID), int64(l.ItemID), l.Quantity, string(l.Direction),
		fromUser, fromLoc, toUser, toLoc, string(l.Reason),
		l.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade line: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = ledger.LineID(id)
	return nil
}

// Trade loads a header together with all its lines.
func (s *Store) Trade(ctx context.Context, tenant ledger.TenantID, id ledger.TradeID) (*ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trade(ctx, s.db, tenant, id)
}

func (s *Store) trade(ctx context.Context, db dbtx, tenant ledger.TenantID, id ledger.TradeID) (*ledger.Trade, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, structure_id, recorded_by, ts, default_from_location, default_to_location
		 FROM trades WHERE id = ? AND structure_id = ?`,
		int64(id), string(tenant),
	)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade: %w", err)
	}

	t.Lines, err = s.tradeLines(ctx, db, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Trades returns a tenant's trades newest-first, lines included.
func (s *Store) Trades(ctx context.Context, tenant ledger.TenantID) ([]ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeList(ctx, s.db, tenant)
}

func (s *Store) tradeList(ctx context.Context, db dbtx, tenant ledger.TenantID) ([]ledger.Trade, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, structure_id, recorded_by, ts, default_from_location, default_to_location
		 FROM trades WHERE structure_id = ? ORDER BY ts DESC, id DESC`,
		string(tenant),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Lines, err = s.tradeLines(ctx, db, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanTrade(r rowScanner) (*ledger.Trade, error) {
	var (
		t        ledger.Trade
		ts       string
		from, to sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.Tenant, &t.RecordedBy, &ts, &from, &to); err != nil {
		return nil, err
	}
	t.Timestamp, _ = time.Parse(time.RFC3339, ts)
	if from.Valid {
		id := ledger.LocationID(from.Int64)
		t.DefaultFrom = &id
	}
	if to.Valid {
		id := ledger.LocationID(to.Int64)
		t.DefaultTo = &id
	}
	return &t, nil
}

const lineColumns = `id, trade_id, item_id, quantity, direction,
	from_user, from_location, to_user, to_location, reason, created_at`

func (s *Store) tradeLines(ctx context.Context, db dbtx, id ledger.TradeID) ([]ledger.TradeLine, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+lineColumns+" FROM trade_lines WHERE trade_id = ? ORDER BY id",
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeLine
	for rows.Next() {
		ln, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ln)
	}
	return out, rows.Err()
}

func scanLine(r rowScanner) (*ledger.TradeLine, error) {
	var (
		ln                               ledger.TradeLine
		fromUser, fromLoc, toUser, toLoc sql.NullInt64
		createdAt                        string
	)
	err := r.Scan(&ln.ID, &ln.TradeID, &ln.ItemID, &ln.Quantity, &ln.Direction,
		&fromUser, &fromLoc, &toUser, &toLoc, &ln.Reason, &createdAt)
	if err != nil {
		return nil, err
	}
	ln.From = scanParty(fromUser, fromLoc)
	ln.To = scanParty(toUser, toLoc)
	ln.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &ln, nil
}

// Line returns one line scoped through its parent trade's tenant.
func (s *Store) Line(ctx context.Context, tenant ledger.TenantID, id ledger.LineID) (*ledger.TradeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.line(ctx, s.db, tenant, id)
}

func (s *Store) line(ctx context.Context, db dbtx, tenant ledger.TenantID, id ledger.LineID) (*ledger.TradeLine, error) {
	row := db.QueryRowContext(ctx,
		`SELECT l.id, l.trade_id, l.item_id, l.quantity, l.direction,
		        l.from_user, l.from_location, l.to_user, l.to_location, l.reason, l.created_at
		 FROM trade_lines l
		 JOIN trades t ON t.id = l.trade_id
		 WHERE l.id = ? AND t.structure_id = ?`,
		int64(id), string(tenant),
	)
	ln, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade line: %w", err)
	}
	return ln, nil
}

// DeleteLine removes a line and the ledger entries it caused. The
// materialized balance is intentionally left untouched; see ledger/engine.go.
func (s *Store) DeleteLine(ctx context.Context, id ledger.LineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLine(ctx, s.db, id)
}

func (s *Store) deleteLine(ctx context.Context, db dbtx, id ledger.LineID) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM player_inventory_ledger WHERE line_id = ?", int64(id)); err != nil {
		return fmt.Errorf("failed to delete ledger rows for line: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		"DELETE FROM trade_lines WHERE id = ?", int64(id)); err != nil {
		return fmt.Errorf("failed to delete trade line: %w", err)
	}
	return nil
}

// CountLines returns how many lines remain on a trade.
func (s *Store) CountLines(ctx context.Context, id ledger.TradeID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLines(ctx, s.db, id)
}

func (s *Store) countLines(ctx context.Context, db dbtx, id ledger.TradeID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM trade_lines WHERE trade_id = ?", int64(id),
	).Scan(&count)
	return count, err
}

// DeleteTrade removes an empty trade header.
func (s *Store) DeleteTrade(ctx context.Context, id ledger.TradeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTrade(ctx, s.db, id)
}

func (s *Store) deleteTrade(ctx context.Context, db dbtx, id ledger.TradeID) error {
	_, err := db.ExecContext(ctx, "DELETE FROM trades WHERE id = ?", int64(id))
	return err
}

// LinesThrough returns every line of the tenant's trades with trade
// timestamp <= asOf, paired with that timestamp.
func (s *Store) LinesThrough(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]ledger.TimedLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linesThrough(ctx, s.db, tenant, asOf)
}

func (s *Store) linesThrough(ctx context.Context, db dbtx, tenant ledger.TenantID, asOf time.Time) ([]ledger.TimedLine, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT l.id, l.trade_id, l.item_id, l.quantity, l.direction,
		        l.from_user, l.from_location, l.to_user, l.to_location, l.reason, l.created_at,
		        t.ts
		 FROM trade_lines l
		 JOIN trades t ON t.id = l.trade_id
		 WHERE t.structure_id = ? AND t.ts <= ?
		 ORDER BY l.id`,
		string(tenant), asOf.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement history: %w", err)
	}
	defer rows.Close()

	var out []ledger.TimedLine
	for rows.Next() {
		var (
			ln                               ledger.TradeLine
			fromUser, fromLoc, toUser, toLoc sql.NullInt64
			createdAt, ts                    string
		)
		err := rows.Scan(&ln.ID, &ln.TradeID, &ln.ItemID, &ln.Quantity, &ln.Direction,
			&fromUser, &fromLoc, &toUser, &toLoc, &ln.Reason, &createdAt, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement history: %w", err)
		}
		ln.From = scanParty(fromUser, fromLoc)
		ln.To = scanParty(toUser, toLoc)
		ln.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tl := ledger.TimedLine{TradeLine: ln}
		tl.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, tl)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER AND BALANCES
// =============================================================================

// AppendLedger persists one immutable balance delta and assigns its ID.
func (s *Store) AppendLedger(ctx context.Context, e *ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLedger(ctx, s.db, e)
}

func (s *Store) appendLedger(ctx context.Context, db dbtx, e *ledger.LedgerEntry) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO player_inventory_ledger
		 (structure_id, user_id, item_id, delta_qty, trade_id, line_id, reason, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Tenant), int64(e.UserID), int64(e.ItemID), e.DeltaQty,
		int64(e.TradeID), int64(e.LineID), string(e.Reason),
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = ledger.LedgerID(id)
	return nil
}

// ApplyDelta atomically adds delta to the balance row for (user, item,
// tenant). The addition happens in the database, never read-modify-write.
func (s *Store) ApplyDelta(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID, delta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDelta(ctx, s.db, tenant, user, item, delta, at)
}

func (s *Store) applyDelta(ctx context.Context, db dbtx, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID, delta int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO player_inventory (user_id, item_id, structure_id, quantity, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, item_id, structure_id) DO UPDATE SET
			quantity = player_inventory.quantity + excluded.quantity,
			updated_at = excluded.updated_at`,
		int64(user), int64(item), string(tenant), delta,
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", err)
	}
	return nil
}

// Balance returns the materialized quantity for one key (zero when absent).
func (s *Store) Balance(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(ctx, s.db, tenant, user, item)
}

func (s *Store) balance(ctx context.Context, db dbtx, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID) (int64, error) {
	var qty int64
	err := db.QueryRowContext(ctx,
		"SELECT quantity FROM player_inventory WHERE structure_id = ? AND user_id = ? AND item_id = ?",
		string(tenant), int64(user), int64(item),
	).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

// Balances returns all materialized rows for a user in a tenant.
func (s *Store) Balances(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.BalanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceList(ctx, s.db, tenant, user)
}

func (s *Store) balanceList(ctx context.Context, db dbtx, tenant ledger.TenantID, user ledger.UserID) ([]ledger.BalanceRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT structure_id, user_id, item_id, quantity, updated_at
		 FROM player_inventory WHERE structure_id = ? AND user_id = ? ORDER BY item_id`,
		string(tenant), int64(user),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.BalanceRow
	for rows.Next() {
		var (
			b         ledger.BalanceRow
			updatedAt string
		)
		if err := rows.Scan(&b.Tenant, &b.UserID, &b.ItemID, &b.Quantity, &updatedAt); err != nil {
			return nil, err
		}
		b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// LedgerEntries returns a user's ledger history in a tenant, chronologically.
func (s *Store) LedgerEntries(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerEntries(ctx, s.db, tenant, user)
}

func (s *Store) ledgerEntries(ctx context.Context, db dbtx, tenant ledger.TenantID, user ledger.UserID) ([]ledger.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, structure_id, user_id, item_id, delta_qty, trade_id, line_id, reason, ts
		 FROM player_inventory_ledger
		 WHERE structure_id = ? AND user_id = ?
		 ORDER BY ts, id`,
		string(tenant), int64(user),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []ledger.LedgerEntry
	for rows.Next() {
		var (
			e  ledger.LedgerEntry
			ts string
		)
		err := rows.Scan(&e.ID, &e.Tenant, &e.UserID, &e.ItemID, &e.DeltaQty,
			&e.TradeID, &e.LineID, &e.Reason, &ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// VALUATIONS
// =============================================================================

// InsertValuation appends a price row.
func (s *Store) InsertValuation(ctx context.Context, v *ledger.ItemValuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertValuation(ctx, s.db, v)
}

func (s *Store) insertValuation(ctx context.Context, db dbtx, v *ledger.ItemValuation) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO item_values (structure_id, item_id, value, effective_from, recorded_by)
		 VALUES (?, ?, ?, ?, ?)`,
		string(v.Tenant), int64(v.ItemID), v.Value.String(),
		v.EffectiveFrom.UTC().Format(time.RFC3339), int64(v.RecordedBy),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateValuation
		}
		return fmt.Errorf("failed to insert valuation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

// ValueAt returns the value with the greatest effective_from <= asOf.
func (s *Store) ValueAt(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID, asOf time.Time) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueAt(ctx, s.db, tenant, item, asOf)
}

func (s *Store) valueAt(ctx context.Context, db dbtx, tenant ledger.TenantID, item ledger.ItemID, asOf time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := db.QueryRowContext(ctx,
		`SELECT value FROM item_values
		 WHERE structure_id = ? AND item_id = ? AND effective_from <= ?
		 ORDER BY effective_from DESC LIMIT 1`,
		string(tenant), int64(item), asOf.UTC().Format(time.RFC3339),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to look up valuation: %w", err)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt valuation %q: %w", raw, err)
	}
	return value, true, nil
}

// Valuations returns a tenant's price history, optionally filtered by item.
func (s *Store) Valuations(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID) ([]ledger.ItemValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valuationList(ctx, s.db, tenant, item)
}

func (s *Store) valuationList(ctx context.Context, db dbtx, tenant ledger.TenantID, item ledger.ItemID) ([]ledger.ItemValuation, error) {
	query := `SELECT id, structure_id, item_id, value, effective_from, recorded_by
	          FROM item_values WHERE structure_id = ?`
	args := []any{string(tenant)}
	if item != 0 {
		query += " AND item_id = ?"
		args = append(args, int64(item))
	}
	query += " ORDER BY item_id, effective_from DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()

	var out []ledger.ItemValuation
	for rows.Next() {
		var (
			v             ledger.ItemValuation
			raw           string
			effectiveFrom string
		)
		if err := rows.Scan(&v.ID, &v.Tenant, &v.ItemID, &raw, &effectiveFrom, &v.RecordedBy); err != nil {
			return nil, err
		}
		v.Value, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt valuation %q: %w", raw, err)
		}
		v.EffectiveFrom, _ = time.Parse(time.RFC3339, effectiveFrom)
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Item(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return ts.parent.item(ctx, ts.tx, id)
}

func (ts *txStore) Location(ctx context.Context, tenant ledger.TenantID, id ledger.LocationID) (*ledger.Location, error) {
	return ts.parent.location(ctx, ts.tx, tenant, id)
}

func (ts *txStore) Locations(ctx context.Context, tenant ledger.TenantID) ([]ledger.Location, error) {
	return ts.parent.locationList(ctx, ts.tx, tenant)
}

func (ts *txStore) IsMember(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) (bool, error) {
	return ts.parent.isMember(ctx, ts.tx, tenant, user)
}

func (ts *txStore) ActiveReason(ctx context.Context, tenant ledger.TenantID, code ledger.ReasonCode) (*ledger.MovementReason, error) {
	return ts.parent.activeReason(ctx, ts.tx, tenant, code)
}

func (ts *txStore) InsertTrade(ctx context.Context, t *ledger.Trade) error {
	return ts.parent.insertTrade(ctx, ts.tx, t)
}

func (ts *txStore) InsertLine(ctx context.Context, l *ledger.TradeLine) error {
	return ts.parent.insertLine(ctx, ts.tx, l)
}

func (ts *txStore) Trade(ctx context.Context, tenant ledger.TenantID, id ledger.TradeID) (*ledger.Trade, error) {
	return ts.parent.trade(ctx, ts.tx, tenant, id)
}

func (ts *txStore) Trades(ctx context.Context, tenant ledger.TenantID) ([]ledger.Trade, error) {
	return ts.parent.tradeList(ctx, ts.tx, tenant)
}

func (ts *txStore) Line(ctx context.Context, tenant ledger.TenantID, id ledger.LineID) (*ledger.TradeLine, error) {
	return ts.parent.line(ctx, ts.tx, tenant, id)
}

func (ts *txStore) DeleteLine(ctx context.Context, id ledger.LineID) error {
	return ts.parent.deleteLine(ctx, ts.tx, id)
}

func (ts *txStore) CountLines(ctx context.Context, id ledger.TradeID) (int, error) {
	return ts.parent.countLines(ctx, ts.tx, id)
}

func (ts *txStore) DeleteTrade(ctx context.Context, id ledger.TradeID) error {
	return ts.parent.deleteTrade(ctx, ts.tx, id)
}

func (ts *txStore) LinesThrough(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]ledger.TimedLine, error) {
	return ts.parent.linesThrough(ctx, ts.tx, tenant, asOf)
}

func (ts *txStore) AppendLedger(ctx context.Context, e *ledger.LedgerEntry) error {
	return ts.parent.appendLedger(ctx, ts.tx, e)
}

func (ts *txStore) ApplyDelta(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID, delta int64, at time.Time) error {
	return ts.parent.applyDelta(ctx, ts.tx, tenant, user, item, delta, at)
}

func (ts *txStore) Balance(ctx context.Context, tenant ledger.TenantID, user ledger.UserID, item ledger.ItemID) (int64, error) {
	return ts.parent.balance(ctx, ts.tx, tenant, user, item)
}

func (ts *txStore) Balances(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.BalanceRow, error) {
	return ts.parent.balanceList(ctx, ts.tx, tenant, user)
}

func (ts *txStore) LedgerEntries(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) ([]ledger.LedgerEntry, error) {
	return ts.parent.ledgerEntries(ctx, ts.tx, tenant, user)
}

func (ts *txStore) InsertValuation(ctx context.Context, v *ledger.ItemValuation) error {
	return ts.parent.insertValuation(ctx, ts.tx, v)
}

func (ts *txStore) ValueAt(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID, asOf time.Time) (decimal.Decimal, bool, error) {
	return ts.parent.valueAt(ctx, ts.tx, tenant, item, asOf)
}

func (ts *txStore) Valuations(ctx context.Context, tenant ledger.TenantID, item ledger.ItemID) ([]ledger.ItemValuation, error) {
	return ts.parent.valuationList(ctx, ts.tx, tenant, item)
}

// =============================================================================
// CATALOG MANAGEMENT - used by the admin API and the seeder
// =============================================================================

// SaveItem inserts (ID zero) or updates a catalog item.
func (s *Store) SaveItem(ctx context.Context, item *ledger.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	createdAt := item.CreatedAt.UTC().Format(time.RFC3339)

	if item.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO items (name, code, category, stack_size, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.Name, item.Code, item.Category, item.StackSize, item.Active, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		item.ID = ledger.ItemID(id)
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET name = ?, code = ?, category = ?, stack_size = ?, is_active = ?
		 WHERE id = ?`,
		item.Name, item.Code, item.Category, item.StackSize, item.Active, int64(item.ID),
	)
	return err
}

// SaveLocation inserts or updates a location. The partial unique index
// rejects a second active external location of the same kind.
func (s *Store) SaveLocation(ctx context.Context, loc *ledger.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = now
	}
	loc.UpdatedAt = now

	if loc.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO locations
			 (structure_id, name, code, type, x, y, z, is_active, is_external, external_kind, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(loc.Tenant), loc.Name, loc.Code, string(loc.Type),
			nullInt(loc.X), nullInt(loc.Y), nullInt(loc.Z),
			loc.Active, loc.External, string(loc.ExternalKind),
			loc.CreatedAt.UTC().Format(time.RFC3339), loc.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isExternalUniquenessError(err) {
				return ledger.ErrDuplicateExternalLocation
			}
			return fmt.Errorf("failed to insert location: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		loc.ID = ledger.LocationID(id)
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE locations SET name = ?, code = ?, type = ?, x = ?, y = ?, z = ?,
		 is_active = ?, is_external = ?, external_kind = ?, updated_at = ?
		 WHERE id = ? AND structure_id = ?`,
		loc.Name, loc.Code, string(loc.Type),
		nullInt(loc.X), nullInt(loc.Y), nullInt(loc.Z),
		loc.Active, loc.External, string(loc.ExternalKind),
		loc.UpdatedAt.Format(time.RFC3339),
		int64(loc.ID), string(loc.Tenant),
	)
	if err != nil && isExternalUniquenessError(err) {
		return ledger.ErrDuplicateExternalLocation
	}
	return err
}

// SaveReason inserts or updates a movement reason for a tenant.
func (s *Store) SaveReason(ctx context.Context, r *ledger.MovementReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO movement_reasons (structure_id, code, name, is_active)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(structure_id, code) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active`,
		string(r.Tenant), string(r.Code), r.Name, r.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save reason: %w", err)
	}
	if r.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
	}
	return nil
}

// AddMember records a user as a member of a tenant. Idempotent.
func (s *Store) AddMember(ctx context.Context, tenant ledger.TenantID, user ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO structure_members (structure_id, user_id) VALUES (?, ?)",
		string(tenant), int64(user),
	)
	return err
}

// ListItems returns the global item catalog.
func (s *Store) ListItems(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, code, category, stack_size, is_active, created_at FROM items ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var out []ledger.Item
	for rows.Next() {
		var (
			it        ledger.Item
			createdAt string
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Code, &it.Category, &it.StackSize, &it.Active, &createdAt); err != nil {
			return nil, err
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListReasons returns a tenant's movement reasons.
func (s *Store) ListReasons(ctx context.Context, tenant ledger.TenantID) ([]ledger.MovementReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, structure_id, code, name, is_active FROM movement_reasons WHERE structure_id = ? ORDER BY code",
		string(tenant),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reasons: %w", err)
	}
	defer rows.Close()

	var out []ledger.MovementReason
	for rows.Next() {
		var r ledger.MovementReason
		if err := rows.Scan(&r.ID, &r.Tenant, &r.Code, &r.Name, &r.Active); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func scanParty(user, loc sql.NullInt64) ledger.Party {
	switch {
	case user.Valid:
		return ledger.UserParty(ledger.UserID(user.Int64))
	case loc.Valid:
		return ledger.LocationParty(ledger.LocationID(loc.Int64))
	default:
		return ledger.Party{}
	}
}

func partyColumns(p ledger.Party) (user, loc sql.NullInt64) {
	if u, ok := p.User(); ok {
		user = sql.NullInt64{Int64: int64(u), Valid: true}
	}
	if l, ok := p.Location(); ok {
		loc = sql.NullInt64{Int64: int64(l), Valid: true}
	}
	return user, loc
}

func nullLocation(id *ledger.LocationID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isExternalUniquenessError(err error) bool {
	return err != nil && isUniqueConstraintError(err) &&
		strings.Contains(err.Error(), "locations")
}
