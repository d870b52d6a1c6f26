/*
Package sqlite provides a SQLite-backed implementation of rental.Store.

PURPOSE:
  Persists vendors, rental units, agreements (with their service lines) and
  monthly revenue records. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  rental.AgreementStore: agreements + service lines
  rental.UnitStore:      rental units and their availability flag
  rental.VendorStore:    vendors and trial fields
  rental.RevenueStore:   monthly revenue records + per-unit breakdown

KEY TABLES:
  vendors:            Vendor records and trial lifecycle
  rental_units:       Shelf/fixture slots
  agreements:         One row per agreement, impact interval as two columns
  agreement_lines:    Service lines, ordered by position
  revenue_records:    One row per month
  revenue_unit_lines: Per-unit breakdown of a month

TIME ENCODING:
  Times are stored as fixed-width UTC text (millisecond precision) so string
  comparison in SQL orders the same as time comparison. An unset impact
  interval is stored as NULL.

ATOMICITY:
  SaveAgreement rewrites the agreement and its lines in one transaction.
  UpsertRevenueRecord replaces the record and its unit lines in one
  transaction: a month is written fully or not at all.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/rental.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rental.NewRevenueEngine(store, cache, log)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/rental"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

var errUnknownUnit = errors.New("unknown unit")

// Store implements rental.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ rental.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection of an in-memory database is a separate database.
		db.SetMaxOpenConns(1)
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
	CREATE TABLE IF NOT EXISTS vendors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		trial_status TEXT NOT NULL,
		trial_start TEXT,
		trial_end TEXT
	);

	CREATE TABLE IF NOT EXISTS rental_units (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		type TEXT NOT NULL,
		available BOOLEAN NOT NULL DEFAULT TRUE,
		size TEXT,
		location TEXT,
		base_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rental_units_type
		ON rental_units(type);

	CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		total_monthly_price TEXT NOT NULL,
		duration_months INTEGER NOT NULL,
		discount TEXT NOT NULL,
		commission_tier TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		scheduled_start TEXT NOT NULL,
		actual_start TEXT,
		impact_from TEXT,
		impact_to TEXT,
		is_trial BOOLEAN NOT NULL DEFAULT FALSE,
		payment_start TEXT NOT NULL,
		cancelled_during_trial BOOLEAN NOT NULL DEFAULT FALSE,
		trial_cancelled_at TEXT,
		add_ons_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Revenue selection: status set + scheduled start + impact end
	CREATE INDEX IF NOT EXISTS idx_agreements_status_start
		ON agreements(status, scheduled_start);
	CREATE INDEX IF NOT EXISTS idx_agreements_vendor
		ON agreements(vendor_id, is_trial);

	CREATE TABLE IF NOT EXISTS agreement_lines (
		agreement_id TEXT NOT NULL REFERENCES agreements(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		unit_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		price TEXT NOT NULL,
		PRIMARY KEY (agreement_id, position)
	);

	-- Availability: agreements referencing a unit (hot path)
	CREATE INDEX IF NOT EXISTS idx_agreement_lines_unit
		ON agreement_lines(unit_id);

	CREATE TABLE IF NOT EXISTS revenue_records (
		month TEXT PRIMARY KEY,
		total_revenue TEXT NOT NULL,
		paid_count INTEGER NOT NULL,
		trial_count INTEGER NOT NULL,
		calculated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revenue_unit_lines (
		month TEXT NOT NULL REFERENCES revenue_records(month) ON DELETE CASCADE,
		unit_id TEXT NOT NULL,
		label TEXT NOT NULL,
		revenue TEXT NOT NULL,
		agreement_count INTEGER NOT NULL,
		trial_count INTEGER NOT NULL,
		PRIMARY KEY (month, unit_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AGREEMENTS (rental.AgreementStore)
// =============================================================================

// FindAgreements pushes every filter predicate into SQL, including interval
// overlap, then loads service lines for the whole result in one query.
func (s *Store) FindAgreements(ctx context.Context, filter rental.AgreementFilter) ([]rental.Agreement, error) {
	const op = "sqlite.FindAgreements"
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if len(filter.IDs) > 0 {
		where = append(where, "a.id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.UnitID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM agreement_lines l WHERE l.agreement_id = a.id AND l.unit_id = ?)")
		args = append(args, filter.UnitID)
	}
	if filter.VendorID != "" {
		where = append(where, "a.vendor_id = ?")
		args = append(args, filter.VendorID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "a.status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.IsTrial != nil {
		where = append(where, "a.is_trial = ?")
		args = append(args, *filter.IsTrial)
	}
	if filter.ScheduledStartOnOrBefore != nil {
		where = append(where, "a.scheduled_start <= ?")
		args = append(args, formatTime(*filter.ScheduledStartOnOrBefore))
	}
	if filter.ScheduledStartOnOrAfter != nil {
		where = append(where, "a.scheduled_start >= ?")
		args = append(args, formatTime(*filter.ScheduledStartOnOrAfter))
	}
	if filter.ImpactEndsOnOrAfter != nil {
		where = append(where, "(a.impact_to IS NULL OR a.impact_to >= ?)")
		args = append(args, formatTime(*filter.ImpactEndsOnOrAfter))
	}
	if filter.Overlapping != nil {
		// Half-open overlap: a.from < r.to AND a.to > r.from
		where = append(where, "a.impact_from IS NOT NULL AND a.impact_from < ? AND a.impact_to > ?")
		args = append(args, formatTime(filter.Overlapping.To), formatTime(filter.Overlapping.From))
	}

	query := `
		SELECT a.id, a.vendor_id, COALESCE(v.name, ''), a.total_monthly_price, a.duration_months,
		       a.discount, a.commission_tier, a.commission_rate, a.status, a.scheduled_start,
		       a.actual_start, a.impact_from, a.impact_to, a.is_trial, a.payment_start,
		       a.cancelled_during_trial, a.trial_cancelled_at, a.add_ons_json, a.created_at, a.updated_at
		FROM agreements a
		LEFT JOIN vendors v ON v.id = a.vendor_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY a.scheduled_start, a.id"

	agreements, err := s.queryAgreements(ctx, query, args...)
	if err != nil {
		return nil, rental.Infra(op, err)
	}
	if err := s.attachLines(ctx, agreements); err != nil {
		return nil, rental.Infra(op, err)
	}

	// SQL and Go predicates must agree; Matches is the reference.
	result := agreements[:0]
	for _, a := range agreements {
		if filter.Matches(&a) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *Store) GetAgreement(ctx context.Context, id string) (*rental.Agreement, error) {
	agreements, err := s.FindAgreements(ctx, rental.AgreementFilter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(agreements) == 0 {
		return nil, nil
	}
	return &agreements[0], nil
}

// SaveAgreement inserts or replaces the agreement together with its lines.
func (s *Store) SaveAgreement(ctx context.Context, a rental.Agreement) error {
	const op = "sqlite.SaveAgreement"
	s.mu.Lock()
	defer s.mu.Unlock()

	var addOnsJSON sql.NullString
	if a.AddOns != nil {
		data, err := json.Marshal(a.AddOns)
		if err != nil {
			return rental.Infra(op, err)
		}
		addOnsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var impactFrom, impactTo sql.NullString
	if !a.Impact.IsZero() {
		impactFrom = nullTime(&a.Impact.From)
		impactTo = nullTime(&a.Impact.To)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rental.Infra(op, err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO agreements
		(id, vendor_id, total_monthly_price, duration_months, discount, commission_tier,
		 commission_rate, status, scheduled_start, actual_start, impact_from, impact_to,
		 is_trial, payment_start, cancelled_during_trial, trial_cancelled_at, add_ons_json,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			total_monthly_price = excluded.total_monthly_price,
			duration_months = excluded.duration_months,
			discount = excluded.discount,
			commission_tier = excluded.commission_tier,
			commission_rate = excluded.commission_rate,
			status = excluded.status,
			scheduled_start = excluded.scheduled_start,
			actual_start = excluded.actual_start,
			impact_from = excluded.impact_from,
			impact_to = excluded.impact_to,
			is_trial = excluded.is_trial,
			payment_start = excluded.payment_start,
			cancelled_during_trial = excluded.cancelled_during_trial,
			trial_cancelled_at = excluded.trial_cancelled_at,
			add_ons_json = excluded.add_ons_json,
			updated_at = excluded.updated_at
	`,
		a.ID,
		a.VendorID,
		a.TotalMonthlyPrice.String(),
		a.DurationMonths,
		a.Discount.String(),
		string(a.CommissionTier),
		a.CommissionRate.String(),
		string(a.Status),
		formatTime(a.ScheduledStart),
		nullTime(a.ActualStart),
		impactFrom,
		impactTo,
		a.IsTrial,
		formatTime(a.PaymentStart),
		a.CancelledDuringTrial,
		nullTime(a.TrialCancelledAt),
		addOnsJSON,
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		return rental.Infra(op, err)
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM agreement_lines WHERE agreement_id = ?`, a.ID); err != nil {
		return rental.Infra(op, err)
	}
	for i, l := range a.Lines {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO agreement_lines (agreement_id, position, unit_id, start_at, end_at, price)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a.ID, i, l.UnitID, formatTime(l.Start), formatTime(l.End), l.Price.String())
		if err != nil {
			return rental.Infra(op, err)
		}
	}

	return rental.Infra(op, sqlTx.Commit())
}

func (s *Store) queryAgreements(ctx context.Context, query string, args ...any) ([]rental.Agreement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rental.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanAgreement(rows *sql.Rows) (rental.Agreement, error) {
	var (
		a                                          rental.Agreement
		total, discount, rate                      string
		tier, status                               string
		scheduledStart, paymentStart               string
		createdAt, updatedAt                       string
		actualStart, impactFrom, impactTo, trialAt sql.NullString
		addOnsJSON                                 sql.NullString
	)
	err := rows.Scan(
		&a.ID, &a.VendorID, &a.VendorName, &total, &a.DurationMonths,
		&discount, &tier, &rate, &status, &scheduledStart,
		&actualStart, &impactFrom, &impactTo, &a.IsTrial, &paymentStart,
		&a.CancelledDuringTrial, &trialAt, &addOnsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}

	a.TotalMonthlyPrice, _ = decimal.NewFromString(total)
	a.Discount, _ = decimal.NewFromString(discount)
	a.CommissionRate, _ = decimal.NewFromString(rate)
	a.CommissionTier = rental.CommissionTier(tier)
	a.Status = rental.Status(status)
	a.ScheduledStart = parseTime(scheduledStart)
	a.PaymentStart = parseTime(paymentStart)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.ActualStart = parseNullTime(actualStart)
	a.TrialCancelledAt = parseNullTime(trialAt)
	if impactFrom.Valid && impactTo.Valid {
		a.Impact = interval.Range{From: parseTime(impactFrom.String), To: parseTime(impactTo.String)}
	}
	if addOnsJSON.Valid {
		var addOns rental.AddOns
		if err := json.Unmarshal([]byte(addOnsJSON.String), &addOns); err != nil {
			return a, fmt.Errorf("decode add-ons of %s: %w", a.ID, err)
		}
		a.AddOns = &addOns
	}
	return a, nil
}

// attachLines loads the service lines of every agreement in one query.
func (s *Store) attachLines(ctx context.Context, agreements []rental.Agreement) error {
	if len(agreements) == 0 {
		return nil
	}
	index := make(map[string]int, len(agreements))
	args := make([]any, len(agreements))
	for i, a := range agreements {
		index[a.ID] = i
		args[i] = a.ID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agreement_id, unit_id, start_at, end_at, price
		FROM agreement_lines
		WHERE agreement_id IN (`+placeholders(len(args))+`)
		ORDER BY agreement_id, position
	`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var agreementID, unitID, start, end, price string
		if err := rows.Scan(&agreementID, &unitID, &start, &end, &price); err != nil {
			return err
		}
		p, _ := decimal.NewFromString(price)
		i := index[agreementID]
		agreements[i].Lines = append(agreements[i].Lines, rental.ServiceLine{
			UnitID: unitID,
			Start:  parseTime(start),
			End:    parseTime(end),
			Price:  p,
		})
	}
	return rows.Err()
}

// =============================================================================
// RENTAL UNITS (rental.UnitStore)
// =============================================================================

func (s *Store) FindUnits(ctx context.Context, filter rental.UnitFilter) ([]rental.RentalUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := unitQuery("SELECT id, label, type, available, COALESCE(size, ''), COALESCE(location, ''), base_price FROM rental_units", filter)
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	units, err := s.queryUnits(ctx, query, args...)
	return units, rental.Infra("sqlite.FindUnits", err)
}

func (s *Store) CountUnits(ctx context.Context, filter rental.UnitFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := unitQuery("SELECT COUNT(*) FROM rental_units", filter)
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, rental.Infra("sqlite.CountUnits", err)
}

func (s *Store) GetUnit(ctx context.Context, id string) (*rental.RentalUnit, error) {
	units, err := s.GetUnits(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	u, ok := units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// GetUnits resolves all ids in a single query.
func (s *Store) GetUnits(ctx context.Context, ids []string) (map[string]rental.RentalUnit, error) {
	result := make(map[string]rental.RentalUnit, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	units, err := s.queryUnits(ctx, `
		SELECT id, label, type, available, COALESCE(size, ''), COALESCE(location, ''), base_price
		FROM rental_units WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, rental.Infra("sqlite.GetUnits", err)
	}
	for _, u := range units {
		result[u.ID] = u
	}
	return result, nil
}

func (s *Store) SaveUnit(ctx context.Context, u rental.RentalUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rental_units (id, label, type, available, size, location, base_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			type = excluded.type,
			available = excluded.available,
			size = excluded.size,
			location = excluded.location,
			base_price = excluded.base_price
	`, u.ID, u.Label, u.Type, u.Available, nullString(u.Size), nullString(u.Location), u.BasePrice.String())
	return rental.Infra("sqlite.SaveUnit", err)
}

func (s *Store) SetUnitAvailability(ctx context.Context, id string, available bool) error {
	const op = "sqlite.SetUnitAvailability"
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE rental_units SET available = ? WHERE id = ?`, available, id)
	if err != nil {
		return rental.Infra(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rental.Infra(op, fmt.Errorf("%w: %s", errUnknownUnit, id))
	}
	return nil
}

func unitQuery(base string, filter rental.UnitFilter) (string, []any) {
	if len(filter.Types) == 0 {
		return base, nil
	}
	args := make([]any, len(filter.Types))
	for i, t := range filter.Types {
		args[i] = t
	}
	return base + " WHERE type IN (" + placeholders(len(filter.Types)) + ")", args
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]rental.RentalUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rental.RentalUnit
	for rows.Next() {
		var (
			u     rental.RentalUnit
			price string
		)
		if err := rows.Scan(&u.ID, &u.Label, &u.Type, &u.Available, &u.Size, &u.Location, &price); err != nil {
			return nil, err
		}
		u.BasePrice, _ = decimal.NewFromString(price)
		result = append(result, u)
	}
	return result, rows.Err()
}

// =============================================================================
// VENDORS (rental.VendorStore)
// =============================================================================

func (s *Store) GetVendor(ctx context.Context, id string) (*rental.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		v                    rental.Vendor
		status               string
		trialStart, trialEnd sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, trial_status, trial_start, trial_end
		FROM vendors WHERE id = ?
	`, id).Scan(&v.ID, &v.Name, &status, &trialStart, &trialEnd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rental.Infra("sqlite.GetVendor", err)
	}
	v.TrialStatus = rental.TrialStatus(status)
	v.TrialStart = parseNullTime(trialStart)
	v.TrialEnd = parseNullTime(trialEnd)
	return &v, nil
}

func (s *Store) SaveVendor(ctx context.Context, v rental.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vendors (id, name, trial_status, trial_start, trial_end)
		VALUES (?, ?, ?, ?, ?)
	`, v.ID, v.Name, string(v.TrialStatus), nullTime(v.TrialStart), nullTime(v.TrialEnd))
	return rental.Infra("sqlite.SaveVendor", err)
}

// =============================================================================
// REVENUE RECORDS (rental.RevenueStore)
// =============================================================================

func (s *Store) GetRevenueRecord(ctx context.Context, month time.Time) (*rental.MonthlyRevenueRecord, error) {
	records, err := s.ListRevenueRecords(ctx, month, month)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// UpsertRevenueRecord replaces the month's record and breakdown atomically.
func (s *Store) UpsertRevenueRecord(ctx context.Context, rec rental.MonthlyRevenueRecord) error {
	const op = "sqlite.UpsertRevenueRecord"
	s.mu.Lock()
	defer s.mu.Unlock()

	month := formatTime(rec.Month)
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rental.Infra(op, err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM revenue_unit_lines WHERE month = ?`, month); err != nil {
		return rental.Infra(op, err)
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO revenue_records (month, total_revenue, paid_count, trial_count, calculated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			total_revenue = excluded.total_revenue,
			paid_count = excluded.paid_count,
			trial_count = excluded.trial_count,
			calculated_at = excluded.calculated_at
	`, month, rec.TotalRevenue.String(), rec.PaidCount, rec.TrialCount, formatTime(rec.CalculatedAt))
	if err != nil {
		return rental.Infra(op, err)
	}

	for _, u := range rec.Units {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO revenue_unit_lines (month, unit_id, label, revenue, agreement_count, trial_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, month, u.UnitID, u.Label, u.Revenue.String(), u.AgreementCount, u.TrialCount)
		if err != nil {
			return rental.Infra(op, err)
		}
	}

	return rental.Infra(op, sqlTx.Commit())
}

func (s *Store) ListRevenueRecords(ctx context.Context, from, to time.Time) ([]rental.MonthlyRevenueRecord, error) {
	const op = "sqlite.ListRevenueRecords"
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT month, total_revenue, paid_count, trial_count, calculated_at
		FROM revenue_records
		WHERE month >= ? AND month <= ?
		ORDER BY month
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, rental.Infra(op, err)
	}

	var records []rental.MonthlyRevenueRecord
	for rows.Next() {
		var (
			rec                  rental.MonthlyRevenueRecord
			month, total, calcAt string
		)
		if err := rows.Scan(&month, &total, &rec.PaidCount, &rec.TrialCount, &calcAt); err != nil {
			rows.Close()
			return nil, rental.Infra(op, err)
		}
		rec.Month = parseTime(month)
		rec.TotalRevenue, _ = decimal.NewFromString(total)
		rec.CalculatedAt = parseTime(calcAt)
		rec.Units = []rental.UnitRevenue{}
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, rental.Infra(op, err)
	}

	for i := range records {
		units, err := s.unitLines(ctx, records[i].Month)
		if err != nil {
			return nil, rental.Infra(op, err)
		}
		records[i].Units = units
	}
	return records, nil
}

func (s *Store) unitLines(ctx context.Context, month time.Time) ([]rental.UnitRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, label, revenue, agreement_count, trial_count
		FROM revenue_unit_lines WHERE month = ? ORDER BY unit_id
	`, formatTime(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []rental.UnitRevenue{}
	for rows.Next() {
		var (
			u       rental.UnitRevenue
			revenue string
		)
		if err := rows.Scan(&u.UnitID, &u.Label, &revenue, &u.AgreementCount, &u.TrialCount); err != nil {
			return nil, err
		}
		u.Revenue, _ = decimal.NewFromString(revenue)
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes every row. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"revenue_unit_lines", "revenue_records", "agreement_lines", "agreements", "rental_units", "vendors"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return rental.Infra("sqlite.Reset", err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
