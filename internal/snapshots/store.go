package snapshots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Reader is the read-only view of the feed consumed by the tracker.
type Reader interface {
	LatestSnapshotDate(ctx context.Context) (time.Time, error)
	UnitsByStatus(ctx context.Context, date time.Time, statuses []UnitStatus, property string) ([]UnitSnapshot, error)
	MostRecentSnapshot(ctx context.Context, property, unit string, statusNotIn []UnitStatus) (*UnitSnapshot, error)
	EarliestSnapshot(ctx context.Context, property, unit string, statusIn []UnitStatus, after *time.Time) (*UnitSnapshot, error)
	CountUnits(ctx context.Context, date time.Time, property string) (int, error)
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads unit_snapshots from PostgreSQL.
type Store struct {
	db Querier
}

var _ Reader = (*Store)(nil)

// NewStore constructs a Store.
func NewStore(db Querier) *Store {
	return &Store{db: db}
}

const snapshotColumns = `snapshot_date, property, unit, status, lease_to`

// LatestSnapshotDate returns the most recent feed date.
func (s *Store) LatestSnapshotDate(ctx context.Context) (time.Time, error) {
	var latest pgtype.Date
	if err := s.db.QueryRow(ctx, `SELECT MAX(snapshot_date) FROM unit_snapshots`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("snapshots: latest date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, ErrNoSnapshots
	}
	return DateOnly(latest.Time), nil
}

// UnitsByStatus lists the units reported in one of statuses on date.
// An empty property matches every property.
func (s *Store) UnitsByStatus(ctx context.Context, date time.Time, statuses []UnitStatus, property string) ([]UnitSnapshot, error) {
	rows, err := s.db.Query(ctx, `SELECT `+snapshotColumns+`
FROM unit_snapshots
WHERE snapshot_date = $1
  AND status = ANY($2)
  AND ($3::text = '' OR property = $3::text)
ORDER BY property, unit`, pgDate(date), statusStrings(statuses), property)
	if err != nil {
		return nil, fmt.Errorf("snapshots: units by status: %w", err)
	}
	defer rows.Close()

	var out []UnitSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("snapshots: scan unit: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshots: units by status: %w", err)
	}
	return out, nil
}

// MostRecentSnapshot returns the latest row for the unit whose status is not in
// statusNotIn, or nil when no such row exists.
func (s *Store) MostRecentSnapshot(ctx context.Context, property, unit string, statusNotIn []UnitStatus) (*UnitSnapshot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+snapshotColumns+`
FROM unit_snapshots
WHERE property = $1 AND unit = $2
  AND NOT (status = ANY($3))
ORDER BY snapshot_date DESC
LIMIT 1`, property, unit, statusStrings(statusNotIn))
	return optionalSnapshot(row, "most recent")
}

// EarliestSnapshot returns the first row for the unit whose status is in statusIn
// and, when after is set, whose date is strictly later than after.
func (s *Store) EarliestSnapshot(ctx context.Context, property, unit string, statusIn []UnitStatus, after *time.Time) (*UnitSnapshot, error) {
	var afterDate pgtype.Date
	if after != nil {
		afterDate = pgDate(*after)
	}
	row := s.db.QueryRow(ctx, `SELECT `+snapshotColumns+`
FROM unit_snapshots
WHERE property = $1 AND unit = $2
  AND status = ANY($3)
  AND ($4::date IS NULL OR snapshot_date > $4::date)
ORDER BY snapshot_date ASC
LIMIT 1`, property, unit, statusStrings(statusIn), afterDate)
	return optionalSnapshot(row, "earliest")
}

// CountUnits returns the number of distinct units reported on date.
func (s *Store) CountUnits(ctx context.Context, date time.Time, property string) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM (
  SELECT DISTINCT property, unit FROM unit_snapshots
  WHERE snapshot_date = $1 AND ($2::text = '' OR property = $2::text)
) units`, pgDate(date), property).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("snapshots: count units: %w", err)
	}
	return total, nil
}

func optionalSnapshot(row pgx.Row, label string) (*UnitSnapshot, error) {
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshots: %s: %w", label, err)
	}
	return &snap, nil
}

func scanSnapshot(row pgx.Row) (UnitSnapshot, error) {
	var (
		snap    UnitSnapshot
		date    pgtype.Date
		status  string
		leaseTo pgtype.Date
	)
	if err := row.Scan(&date, &snap.Property, &snap.Unit, &status, &leaseTo); err != nil {
		return UnitSnapshot{}, err
	}
	snap.SnapshotDate = DateOnly(date.Time)
	snap.Status = UnitStatus(status)
	if leaseTo.Valid {
		lt := DateOnly(leaseTo.Time)
		snap.LeaseTo = &lt
	}
	return snap, nil
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: DateOnly(t), Valid: true}
}
