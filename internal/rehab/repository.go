package rehab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turnover-ops/turnover/internal/platform/db"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

// UpdateFunc receives the locked current record and returns its replacement
// plus an optional history entry to append in the same transaction.
type UpdateFunc func(Record) (Record, *HistoryEntry, error)

// Store persists rehab records and their status history.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	ListActive(ctx context.Context, property string, includeCompleted bool) ([]Record, error)
	FindActiveByUnit(ctx context.Context, property, unit string) ([]Record, error)
	Create(ctx context.Context, rec Record, entry HistoryEntry) (Record, error)
	ReplaceCycle(ctx context.Context, supersede []uuid.UUID, rec Record, entry HistoryEntry) (Record, error)
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (Record, error)
	Archive(ctx context.Context, id uuid.UUID, at time.Time) (Record, error)
	ListHistory(ctx context.Context, rehabID uuid.UUID) ([]HistoryEntry, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

var (
	recordColumns = buildRecordColumns()
	selectRecord  = `SELECT ` + strings.Join(recordColumns, ", ") + ` FROM rehabs`
)

func buildRecordColumns() []string {
	cols := []string{"id", "property", "unit", "status", "rehab_status"}
	for _, item := range ChecklistItems {
		name := string(item)
		cols = append(cols, name+"_completed", name+"_excluded", name+"_completed_at")
	}
	return append(cols,
		"vacancy_start_date", "move_out_date", "source_type", "contractor",
		"goal_completion_date", "completion_date", "completed_at", "created_at", "updated_at",
	)
}

// Get loads a record by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return getRecord(ctx, r.pool, id, false)
}

// ListActive returns in-progress records, plus completed ones when requested.
// An empty property matches every property.
func (r *Repository) ListActive(ctx context.Context, property string, includeCompleted bool) ([]Record, error) {
	statuses := []string{string(StatusInProgress)}
	if includeCompleted {
		statuses = append(statuses, string(StatusCompleted))
	}
	rows, err := r.pool.Query(ctx, selectRecord+`
WHERE status = ANY($1) AND ($2::text = '' OR property = $2::text)
ORDER BY property, unit, vacancy_start_date`, statuses, property)
	if err != nil {
		return nil, fmt.Errorf("rehab: list active: %w", err)
	}
	return collectRecords(rows)
}

// FindActiveByUnit returns in-progress records for a unit.
func (r *Repository) FindActiveByUnit(ctx context.Context, property, unit string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, selectRecord+`
WHERE property = $1 AND unit = $2 AND status = $3
ORDER BY vacancy_start_date`, property, unit, string(StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("rehab: find active by unit: %w", err)
	}
	return collectRecords(rows)
}

// Create inserts rec and its initial history entry atomically.
func (r *Repository) Create(ctx context.Context, rec Record, entry HistoryEntry) (Record, error) {
	return r.ReplaceCycle(ctx, nil, rec, entry)
}

// ReplaceCycle archives the superseded in-progress records, inserts rec and
// appends entry in one transaction. A concurrent insert for the same cycle
// surfaces as ErrActiveRehabExists.
func (r *Repository) ReplaceCycle(ctx context.Context, supersede []uuid.UUID, rec Record, entry HistoryEntry) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if len(supersede) > 0 {
			ids := make([]string, 0, len(supersede))
			for _, id := range supersede {
				ids = append(ids, id.String())
			}
			if _, err := tx.Exec(ctx, `UPDATE rehabs SET status = $1, updated_at = $2 WHERE id = ANY($3::uuid[]) AND status = $4`,
				string(StatusArchived), rec.CreatedAt, ids, string(StatusInProgress)); err != nil {
				return fmt.Errorf("rehab: archive superseded: %w", err)
			}
		}
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update locks the record, applies fn and writes the result.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (Record, error) {
	var updated Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := getRecord(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next, entry, err := fn(current)
		if err != nil {
			return err
		}
		if err := writeRecord(ctx, tx, next); err != nil {
			return err
		}
		if entry != nil {
			if err := insertHistory(ctx, tx, *entry); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return updated, nil
}

// Archive soft-deletes a record by moving it to StatusArchived. Archiving an
// archived record returns ErrArchived.
func (r *Repository) Archive(ctx context.Context, id uuid.UUID, at time.Time) (Record, error) {
	row := r.pool.QueryRow(ctx, `UPDATE rehabs SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2
RETURNING `+strings.Join(recordColumns, ", "), id, string(StatusArchived), at)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("rehab: archive: %w", err)
	}
	if _, err := getRecord(ctx, r.pool, id, false); err != nil {
		return Record{}, err
	}
	return Record{}, ErrArchived
}

// ListHistory returns the status history of a record, newest first.
func (r *Repository) ListHistory(ctx context.Context, rehabID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, rehab_id, property, unit, previous_status, new_status,
       checklist_completed, checklist_total, created_at
FROM rehab_status_history
WHERE rehab_id = $1
ORDER BY created_at DESC, id`, rehabID)
	if err != nil {
		return nil, fmt.Errorf("rehab: list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			entry    HistoryEntry
			previous pgtype.Text
			next     string
		)
		if err := rows.Scan(&entry.ID, &entry.RehabID, &entry.Property, &entry.Unit, &previous, &next,
			&entry.ChecklistCompleted, &entry.ChecklistTotal, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("rehab: scan history: %w", err)
		}
		if previous.Valid {
			status := RehabStatus(previous.String)
			entry.PreviousStatus = &status
		}
		entry.NewStatus = RehabStatus(next)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func getRecord(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Record, error) {
	sql := selectRecord + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("rehab: get: %w", err)
	}
	return rec, nil
}

func insertRecord(ctx context.Context, q querier, rec Record) error {
	placeholders := make([]string, len(recordColumns))
	for i := range placeholders {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	_, err := q.Exec(ctx, `INSERT INTO rehabs (`+strings.Join(recordColumns, ", ")+`) VALUES (`+
		strings.Join(placeholders, ", ")+`)`, recordValues(rec)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s/%s", ErrActiveRehabExists, rec.Property, rec.Unit)
		}
		return fmt.Errorf("rehab: insert: %w", err)
	}
	return nil
}

func writeRecord(ctx context.Context, q querier, rec Record) error {
	values := recordValues(rec)
	sets := make([]string, 0, len(recordColumns))
	args := []any{rec.ID}
	for i, col := range recordColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		args = append(args, values[i])
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	tag, err := q.Exec(ctx, `UPDATE rehabs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s/%s", ErrActiveRehabExists, rec.Property, rec.Unit)
		}
		return fmt.Errorf("rehab: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertHistory(ctx context.Context, q querier, entry HistoryEntry) error {
	var previous pgtype.Text
	if entry.PreviousStatus != nil {
		previous = pgtype.Text{String: string(*entry.PreviousStatus), Valid: true}
	}
	_, err := q.Exec(ctx, `INSERT INTO rehab_status_history
  (id, rehab_id, property, unit, previous_status, new_status, checklist_completed, checklist_total, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.RehabID, entry.Property, entry.Unit, previous, string(entry.NewStatus),
		entry.ChecklistCompleted, entry.ChecklistTotal, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("rehab: insert history: %w", err)
	}
	return nil
}

func recordValues(rec Record) []any {
	values := []any{rec.ID, rec.Property, rec.Unit, string(rec.Status), string(rec.RehabStatus)}
	for _, state := range rec.Checklist {
		values = append(values, state.Completed, state.Excluded, timestamptz(state.CompletedAt))
	}
	var contractor pgtype.Text
	if rec.Contractor != nil {
		contractor = pgtype.Text{String: *rec.Contractor, Valid: true}
	}
	return append(values,
		pgtype.Date{Time: rec.VacancyStartDate, Valid: true},
		date(rec.MoveOutDate),
		string(rec.SourceType),
		contractor,
		date(rec.GoalCompletionDate),
		date(rec.CompletionDate),
		timestamptz(rec.CompletedAt),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("rehab: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                              Record
		status, rehabStatus, sourceType  string
		vacancyStart, moveOut, goal, end pgtype.Date
		contractor                       pgtype.Text
		completedAt                      pgtype.Timestamptz
		itemAt                           [checklistSize]pgtype.Timestamptz
	)
	dest := []any{&rec.ID, &rec.Property, &rec.Unit, &status, &rehabStatus}
	for i := range rec.Checklist {
		dest = append(dest, &rec.Checklist[i].Completed, &rec.Checklist[i].Excluded, &itemAt[i])
	}
	dest = append(dest, &vacancyStart, &moveOut, &sourceType, &contractor, &goal, &end, &completedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return Record{}, err
	}

	rec.Status = LifecycleStatus(status)
	rec.RehabStatus = RehabStatus(rehabStatus)
	rec.SourceType = vacancy.SourceType(sourceType)
	for i := range rec.Checklist {
		rec.Checklist[i].CompletedAt = timePtr(itemAt[i])
	}
	rec.VacancyStartDate = vacancyStart.Time
	rec.MoveOutDate = datePtr(moveOut)
	rec.GoalCompletionDate = datePtr(goal)
	rec.CompletionDate = datePtr(end)
	rec.CompletedAt = timePtr(completedAt)
	if contractor.Valid {
		c := contractor.String
		rec.Contractor = &c
	}
	return rec, nil
}

func date(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
