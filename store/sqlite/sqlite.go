/*
Package sqlite provides SQLite-backed persistence for drivers, loads,
cycle settings, and settlement snapshots.

PURPOSE:
  The settlement engine itself is pure; this package is the collaborator
  that hands it a consistent snapshot of driver and load records and keeps
  the operator's cycle settings between restarts.

KEY TABLES:
  drivers:               contract drivers (lease, default dispatch rate)
  loads:                 delivered loads, one row per haul
  settings:              single-row cycle configuration
  settlement_snapshots:  per-driver totals recorded after a cycle pays out

MONEY STORAGE:
  Money and percent columns are stored as decimal strings and parsed with
  settlement.ParseDecimal, which coerces malformed values to zero instead
  of failing a settlement view.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WAL mode keeps readers from
  blocking each other.

USAGE:
  store, err := sqlite.New("./settlement.db")   // ":memory:" for tests
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - settlement/types.go: the records persisted here
  - api/handlers.go: the HTTP layer tying store and engine together
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/settlement"
)

// ErrSnapshotExists is returned when a snapshot for the same driver and
// cycle start has already been recorded.
var ErrSnapshotExists = errors.New("settlement snapshot already recorded")

// Store implements persistence on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store at the given database path.
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

func (s *Store) migrate() error {
	schema := `
	-- Contract drivers
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		lease TEXT NOT NULL DEFAULT '0',
		default_dispatch_pct TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Delivered loads
	CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL REFERENCES drivers(id) ON DELETE CASCADE,
		delivered_at TEXT,
		bol_at TEXT,
		revenue TEXT NOT NULL DEFAULT '0',
		fuel TEXT NOT NULL DEFAULT '0',
		misc TEXT NOT NULL DEFAULT '0',
		dispatch_pct TEXT,
		load_no TEXT,
		origin TEXT,
		destination TEXT,
		owner_override TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loads_driver
		ON loads(driver_id);
	-- Hot path: fetching a cycle window across all drivers
	CREATE INDEX IF NOT EXISTS idx_loads_delivered_at
		ON loads(delivered_at);

	-- Single-row cycle configuration
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		anchor_weekday TEXT NOT NULL,
		business_days INTEGER NOT NULL,
		cutoff_hour INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Per-driver totals recorded once a cycle has paid out
	CREATE TABLE IF NOT EXISTS settlement_snapshots (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		cycle_start TEXT NOT NULL,
		cycle_end TEXT NOT NULL,
		pay_date TEXT NOT NULL,
		load_count INTEGER NOT NULL DEFAULT 0,
		gross TEXT NOT NULL DEFAULT '0',
		fuel TEXT NOT NULL DEFAULT '0',
		misc TEXT NOT NULL DEFAULT '0',
		dispatch TEXT NOT NULL DEFAULT '0',
		net TEXT NOT NULL DEFAULT '0',
		lease TEXT NOT NULL DEFAULT '0',
		final TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_driver_cycle
		ON settlement_snapshots(driver_id, cycle_start);
	CREATE INDEX IF NOT EXISTS idx_snapshots_cycle_start
		ON settlement_snapshots(cycle_start);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DRIVERS
// =============================================================================

// SaveDriver inserts or updates a driver.
func (s *Store) SaveDriver(ctx context.Context, d settlement.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO drivers (id, name, email, lease, default_dispatch_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			lease = excluded.lease,
			default_dispatch_pct = excluded.default_dispatch_pct
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Name, nullString(d.Email),
		d.Lease.String(), d.DefaultDispatchPct.String(),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save driver: %w", err)
	}
	return nil
}

// GetDriver returns a driver, or nil when there is no such record.
func (s *Store) GetDriver(ctx context.Context, id string) (*settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, lease, default_dispatch_pct, created_at
		FROM drivers WHERE id = ?
	`, id)

	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrivers returns all drivers ordered by name.
func (s *Store) ListDrivers(ctx context.Context) ([]settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, lease, default_dispatch_pct, created_at
		FROM drivers ORDER BY name COLLATE NOCASE ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	defer rows.Close()

	var drivers []settlement.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// DeleteDriver removes a driver. Their loads are removed by cascade.
func (s *Store) DeleteDriver(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM drivers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete driver: %w", err)
	}
	return nil
}

// =============================================================================
// LOADS
// =============================================================================

// SaveLoad inserts or updates a load.
func (s *Store) SaveLoad(ctx context.Context, l settlement.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pct sql.NullString
	if l.DispatchPct != nil {
		pct = sql.NullString{String: l.DispatchPct.String(), Valid: true}
	}

	query := `
		INSERT INTO loads
		(id, driver_id, delivered_at, bol_at, revenue, fuel, misc, dispatch_pct,
		 load_no, origin, destination, owner_override, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			driver_id = excluded.driver_id,
			delivered_at = excluded.delivered_at,
			bol_at = excluded.bol_at,
			revenue = excluded.revenue,
			fuel = excluded.fuel,
			misc = excluded.misc,
			dispatch_pct = excluded.dispatch_pct,
			load_no = excluded.load_no,
			origin = excluded.origin,
			destination = excluded.destination,
			owner_override = excluded.owner_override
	`
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.DriverID,
		nullTime(l.DeliveredAt), nullTime(l.BOLAt),
		l.Revenue.String(), l.Fuel.String(), l.Misc.String(), pct,
		nullString(l.LoadNo), nullString(l.Origin), nullString(l.Destination),
		nullString(string(l.Override)),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save load: %w", err)
	}
	return nil
}

// GetLoad returns a load, or nil when there is no such record.
func (s *Store) GetLoad(ctx context.Context, id string) (*settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, loadSelect+` WHERE id = ?`, id)
	l, err := scanLoad(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLoadsByDriver returns all of a driver's loads, newest delivery first.
func (s *Store) ListLoadsByDriver(ctx context.Context, driverID string) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		loadSelect+` WHERE driver_id = ? ORDER BY delivered_at DESC, created_at DESC`, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loads: %w", err)
	}
	defer rows.Close()
	return collectLoads(rows)
}

// ListLoadsInRange returns loads across all drivers delivered within
// [from, to]. Loads with no delivery timestamp are not returned; they can
// never be in a cycle window.
func (s *Store) ListLoadsInRange(ctx context.Context, from, to time.Time) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// datetime() normalizes zone offsets so the window compares correctly
	// even when rows were entered in different offsets (DST boundaries).
	rows, err := s.db.QueryContext(ctx,
		loadSelect+`
		WHERE delivered_at IS NOT NULL
		  AND datetime(delivered_at) >= datetime(?) AND datetime(delivered_at) <= datetime(?)
		ORDER BY delivered_at ASC`,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to list loads in range: %w", err)
	}
	defer rows.Close()
	return collectLoads(rows)
}

// SetOverride updates the operator override on a load.
func (s *Store) SetOverride(ctx context.Context, id string, o settlement.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE loads SET owner_override = ? WHERE id = ?`,
		nullString(string(o)), id)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// DeleteLoad removes a load.
func (s *Store) DeleteLoad(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM loads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete load: %w", err)
	}
	return nil
}

const loadSelect = `
	SELECT id, driver_id, delivered_at, bol_at, revenue, fuel, misc,
	       dispatch_pct, load_no, origin, destination, owner_override
	FROM loads`

func collectLoads(rows *sql.Rows) ([]settlement.Load, error) {
	var loads []settlement.Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the persisted cycle configuration. One row per deployment.
type Settings struct {
	AnchorWeekday string
	BusinessDays  int
	CutoffHour    int
	UpdatedAt     time.Time
}

// Schedule converts stored settings into a cycle schedule.
func (st Settings) Schedule() cycle.Schedule {
	return cycle.Schedule{
		Anchor:       cycle.ParseWeekday(st.AnchorWeekday),
		BusinessDays: st.BusinessDays,
	}
}

// GetSettings returns the stored settings, or stock defaults when the
// deployment has never saved any.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT anchor_weekday, business_days, cutoff_hour, updated_at FROM settings WHERE id = 1`)

	var (
		st        Settings
		updatedAt string
	)
	err := row.Scan(&st.AnchorWeekday, &st.BusinessDays, &st.CutoffHour, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{
			AnchorWeekday: cycle.WeekdayName(cycle.DefaultAnchor),
			BusinessDays:  cycle.DefaultBusinessDays,
			CutoffHour:    settlement.DefaultCutoffHour,
		}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return st, nil
}

// SaveSettings upserts the single settings row.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (id, anchor_weekday, business_days, cutoff_hour, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			anchor_weekday = excluded.anchor_weekday,
			business_days = excluded.business_days,
			cutoff_hour = excluded.cutoff_hour,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		st.AnchorWeekday, st.BusinessDays, st.CutoffHour,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// SETTLEMENT SNAPSHOTS
// =============================================================================

// SnapshotRecord is one driver's recorded totals for one completed cycle.
type SnapshotRecord struct {
	ID         string
	DriverID   string
	CycleStart time.Time
	CycleEnd   time.Time
	PayDate    time.Time
	Totals     settlement.Totals
	CreatedAt  time.Time
}

// SaveSnapshot records totals for a completed cycle. Returns
// ErrSnapshotExists if this driver+cycle has already been recorded.
func (s *Store) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settlement_snapshots
		(id, driver_id, cycle_start, cycle_end, pay_date, load_count,
		 gross, fuel, misc, dispatch, net, lease, final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.DriverID,
		rec.CycleStart.UTC().Format(time.RFC3339),
		rec.CycleEnd.UTC().Format(time.RFC3339),
		rec.PayDate.UTC().Format(time.RFC3339),
		rec.Totals.Loads,
		rec.Totals.Gross.String(), rec.Totals.Fuel.String(), rec.Totals.Misc.String(),
		rec.Totals.Dispatch.String(), rec.Totals.Net.String(),
		rec.Totals.Lease.String(), rec.Totals.Final.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSnapshotExists
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// HasSnapshot reports whether a snapshot exists for a driver and cycle start.
func (s *Store) HasSnapshot(ctx context.Context, driverID string, cycleStart time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlement_snapshots WHERE driver_id = ? AND cycle_start = ?`,
		driverID, cycleStart.UTC().Format(time.RFC3339),
	).Scan(&count)
	return count > 0, err
}

// ListSnapshots returns recorded snapshots, newest cycle first. An empty
// driverID returns snapshots for all drivers.
func (s *Store) ListSnapshots(ctx context.Context, driverID string) ([]SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, driver_id, cycle_start, cycle_end, pay_date, load_count,
		       gross, fuel, misc, dispatch, net, lease, final, created_at
		FROM settlement_snapshots`
	args := []any{}
	if driverID != "" {
		query += ` WHERE driver_id = ?`
		args = append(args, driverID)
	}
	query += ` ORDER BY cycle_start DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		var (
			rec                                    SnapshotRecord
			cycleStart, cycleEnd, payDate, created string
			gross, fuel, misc, dispatch, net       string
			lease, final                           string
		)
		err := rows.Scan(&rec.ID, &rec.DriverID, &cycleStart, &cycleEnd, &payDate,
			&rec.Totals.Loads, &gross, &fuel, &misc, &dispatch, &net, &lease, &final, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		rec.CycleStart, _ = time.Parse(time.RFC3339, cycleStart)
		rec.CycleEnd, _ = time.Parse(time.RFC3339, cycleEnd)
		rec.PayDate, _ = time.Parse(time.RFC3339, payDate)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		rec.Totals.DriverID = rec.DriverID
		rec.Totals.Gross = settlement.ParseDecimal(gross)
		rec.Totals.Fuel = settlement.ParseDecimal(fuel)
		rec.Totals.Misc = settlement.ParseDecimal(misc)
		rec.Totals.Dispatch = settlement.ParseDecimal(dispatch)
		rec.Totals.Net = settlement.ParseDecimal(net)
		rec.Totals.Lease = settlement.ParseDecimal(lease)
		rec.Totals.Final = settlement.ParseDecimal(final)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (settlement.Driver, error) {
	var (
		d         settlement.Driver
		email     sql.NullString
		lease     string
		pct       string
		createdAt string
	)
	if err := row.Scan(&d.ID, &d.Name, &email, &lease, &pct, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("failed to scan driver: %w", err)
	}
	d.Email = email.String
	d.Lease = settlement.ParseDecimal(lease)
	d.DefaultDispatchPct = settlement.ParseDecimal(pct)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return d, nil
}

func scanLoad(row rowScanner) (settlement.Load, error) {
	var (
		l                     settlement.Load
		deliveredAt, bolAt    sql.NullString
		revenue, fuel, misc   string
		pct                   sql.NullString
		loadNo, origin        sql.NullString
		destination, override sql.NullString
	)
	err := row.Scan(&l.ID, &l.DriverID, &deliveredAt, &bolAt,
		&revenue, &fuel, &misc, &pct, &loadNo, &origin, &destination, &override)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan load: %w", err)
	}

	l.DeliveredAt = parseTimePtr(deliveredAt)
	l.BOLAt = parseTimePtr(bolAt)
	l.Revenue = settlement.ParseDecimal(revenue)
	l.Fuel = settlement.ParseDecimal(fuel)
	l.Misc = settlement.ParseDecimal(misc)
	if pct.Valid {
		p := settlement.ParseDecimal(pct.String)
		l.DispatchPct = &p
	}
	l.LoadNo = loadNo.String
	l.Origin = origin.String
	l.Destination = destination.String
	l.Override = settlement.ParseOverride(override.String)
	return l, nil
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		// Unparseable timestamps behave like missing ones downstream.
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime keeps the original zone offset: the BOL cutoff is a local-hour
// rule, so converting to UTC here would shift lateness results.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
