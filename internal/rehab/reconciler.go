package rehab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/turnover-ops/turnover/internal/shared"
	"github.com/turnover-ops/turnover/internal/snapshots"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

// CycleResolver resolves the current vacancy cycle of a unit.
type CycleResolver interface {
	ResolveUnit(ctx context.Context, current snapshots.UnitSnapshot) (vacancy.Cycle, error)
	ResolveCycleStart(ctx context.Context, property, unit string, asOf time.Time) (vacancy.Cycle, error)
}

// Locker serialises reconciliation writes across instances.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context), acquired bool, err error)
}

// MetricsRecorder receives the outcome of each pass.
type MetricsRecorder interface {
	RecordReconcile(outcome string, created, archived, failed int, elapsed time.Duration)
}

// ReconcileResult is the merged record set after a pass.
type ReconcileResult struct {
	// Rehabs holds untouched in-progress records followed by newly created ones.
	Rehabs []Record
	// Completed holds completed records in scope.
	Completed  []Record
	TotalUnits int
	Created    int
	Archived   int
	Failed     int
	// Skipped is set when another pass held the write lock and no writes were made.
	Skipped bool
}

// Reconciler derives the active rehab set from the snapshot feed on demand.
type Reconciler struct {
	feed     snapshots.Reader
	resolver CycleResolver
	store    Store
	policy   *ExemptionPolicy
	locker   Locker
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

// ReconcilerConfig groups Reconciler dependencies. Locker, Metrics and Policy are optional.
type ReconcilerConfig struct {
	Feed     snapshots.Reader
	Resolver CycleResolver
	Store    Store
	Policy   *ExemptionPolicy
	Locker   Locker
	Metrics  MetricsRecorder
	Logger   *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		feed:     cfg.Feed,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		policy:   cfg.Policy,
		locker:   cfg.Locker,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (r *Reconciler) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Reconcile archives superseded records and creates records for new vacancy
// cycles in the property scope (empty means all properties). It is safe to
// call on every read: with an unchanged feed a second pass writes nothing.
// Concurrent calls for the same scope share one pass, which runs detached from
// any single caller's cancellation; each caller stops waiting when its own
// context ends.
func (r *Reconciler) Reconcile(ctx context.Context, property string) (ReconcileResult, error) {
	results := r.group.DoChan(shared.ReconcileScopeKey(property), func() (any, error) {
		return r.reconcile(context.WithoutCancel(ctx), property)
	})
	select {
	case <-ctx.Done():
		return ReconcileResult{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return ReconcileResult{}, res.Err
		}
		return res.Val.(ReconcileResult), nil
	}
}

func (r *Reconciler) reconcile(ctx context.Context, property string) (ReconcileResult, error) {
	start := r.now()

	release, locked := r.lock(ctx, property)
	if release != nil {
		defer release(context.WithoutCancel(ctx))
	}

	existing, err := r.store.ListActive(ctx, property, true)
	if err != nil {
		return ReconcileResult{}, err
	}

	latest, err := r.feed.LatestSnapshotDate(ctx)
	if errors.Is(err, snapshots.ErrNoSnapshots) {
		plan := Plan(existing, nil)
		return ReconcileResult{Rehabs: plan.Kept, Completed: plan.Completed}, nil
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("rehab: latest snapshot: %w", err)
	}
	units, err := r.feed.UnitsByStatus(ctx, latest, snapshots.VacancyStatuses, property)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("rehab: vacant units: %w", err)
	}
	totalUnits, err := r.feed.CountUnits(ctx, latest, property)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("rehab: count units: %w", err)
	}

	cycles := make([]vacancy.Cycle, 0, len(units))
	for _, unit := range units {
		cycle, err := r.resolver.ResolveUnit(ctx, unit)
		if err != nil {
			return ReconcileResult{}, err
		}
		cycles = append(cycles, cycle)
	}

	plan := Plan(existing, cycles)
	result := ReconcileResult{
		Rehabs:     plan.Kept,
		Completed:  plan.Completed,
		TotalUnits: totalUnits,
	}
	if !locked {
		// Another instance is writing this scope; report what is stored and
		// leave new cycles to the next read.
		for _, c := range plan.ToCreate {
			result.Rehabs = append(result.Rehabs, c.Supersedes...)
		}
		result.Rehabs = append(result.Rehabs, plan.Duplicates...)
		result.Skipped = true
		r.record("skipped", result, start)
		return result, nil
	}

	for _, dup := range plan.Duplicates {
		if _, err := r.store.Archive(ctx, dup.ID, r.now()); err != nil {
			r.logger.Error("archive duplicate rehab",
				slog.String("rehab_id", dup.ID.String()),
				slog.String("property", dup.Property),
				slog.String("unit", dup.Unit),
				slog.Any("error", err))
			result.Rehabs = append(result.Rehabs, dup)
			result.Failed++
			continue
		}
		result.Archived++
	}

	for _, creation := range plan.ToCreate {
		rec, err := r.createForCycle(ctx, creation)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrActiveRehabExists) {
				level = slog.LevelInfo
			}
			r.logger.Log(ctx, level, "create rehab for vacancy cycle",
				slog.String("property", creation.Cycle.Property),
				slog.String("unit", creation.Cycle.Unit),
				slog.String("vacancy_start_date", creation.Cycle.StartDate.Format(time.DateOnly)),
				slog.Any("error", err))
			result.Rehabs = append(result.Rehabs, creation.Supersedes...)
			result.Failed++
			continue
		}
		result.Archived += len(creation.Supersedes)
		result.Created++
		result.Rehabs = append(result.Rehabs, rec)
	}

	r.record("applied", result, start)
	return result, nil
}

func (r *Reconciler) createForCycle(ctx context.Context, creation Creation) (Record, error) {
	now := r.now()
	rec := newRecordForCycle(creation.Cycle, r.policy, now)
	entry := newHistoryEntry(rec, nil, now)

	supersede := make([]uuid.UUID, 0, len(creation.Supersedes))
	for _, old := range creation.Supersedes {
		supersede = append(supersede, old.ID)
	}
	return r.store.ReplaceCycle(ctx, supersede, rec, entry)
}

// lock takes the reconciliation write lock. A Redis failure degrades to an unlocked pass so
// reads never fail on the lock.
func (r *Reconciler) lock(ctx context.Context, property string) (func(context.Context), bool) {
	if r.locker == nil {
		return nil, true
	}
	key := shared.ReconcileLockKey
	release, ok, err := r.locker.TryLock(ctx, key)
	if err != nil {
		r.logger.Warn("reconcile lock unavailable, continuing unlocked",
			slog.String("key", key), slog.String("property", property), slog.Any("error", err))
		return nil, true
	}
	if !ok {
		r.logger.Info("reconcile in progress elsewhere", slog.String("key", key), slog.String("property", property))
		return nil, false
	}
	return release, true
}

func (r *Reconciler) record(outcome string, result ReconcileResult, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordReconcile(outcome, result.Created, result.Archived, result.Failed, r.now().Sub(start))
}

// newRecordForCycle builds the in-progress record opened for a new cycle.
// Optional checklist items not listed in requested start excluded.
func newRecordForCycle(cycle vacancy.Cycle, policy *ExemptionPolicy, now time.Time, requested ...ChecklistItem) Record {
	rec := Record{
		ID:               uuid.New(),
		Property:         cycle.Property,
		Unit:             cycle.Unit,
		Status:           StatusInProgress,
		RehabStatus:      RehabNotStarted,
		VacancyStartDate: snapshots.DateOnly(cycle.StartDate),
		MoveOutDate:      cycle.MoveOutDate,
		SourceType:       cycle.SourceType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, item := range OptionalChecklistItems {
		if !slices.Contains(requested, item) {
			rec.Checklist.Set(item, ItemState{Excluded: true})
		}
	}
	if policy.VendorKeyExempt(cycle.Property) {
		rec.Checklist.Set(ItemVendorKey, ItemState{Excluded: true})
	}
	return rec
}
