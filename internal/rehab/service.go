package rehab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turnover-ops/turnover/internal/snapshots"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

// Service exposes the rehab operations used by the HTTP layer and jobs.
type Service struct {
	store      Store
	reconciler *Reconciler
	feed       snapshots.Reader
	resolver   CycleResolver
	policy     *ExemptionPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, reconciler *Reconciler, feed snapshots.Reader, resolver CycleResolver, policy *ExemptionPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		reconciler: reconciler,
		feed:       feed,
		resolver:   resolver,
		policy:     policy,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		if s.reconciler != nil {
			s.reconciler.WithNow(now)
		}
	}
}

// ListFilter scopes the listing.
type ListFilter struct {
	Property         string
	IncludeCompleted bool
}

// Listing is the reconciled rehab list with headline counts.
type Listing struct {
	Rehabs            []Record
	TotalActive       int
	TotalPendingSetup int
	TotalUnits        int
}

// List reconciles the scope against the feed and returns the merged set.
func (s *Service) List(ctx context.Context, filter ListFilter) (Listing, error) {
	result, err := s.reconciler.Reconcile(ctx, strings.TrimSpace(filter.Property))
	if err != nil {
		return Listing{}, err
	}
	listing := Listing{TotalUnits: result.TotalUnits}
	listing.Rehabs = append(listing.Rehabs, result.Rehabs...)
	for _, rec := range result.Rehabs {
		listing.TotalActive++
		if rec.RehabStatus == RehabNotStarted {
			listing.TotalPendingSetup++
		}
	}
	if filter.IncludeCompleted {
		listing.Rehabs = append(listing.Rehabs, result.Completed...)
	}
	return listing, nil
}

// Reconcile runs a reconciliation pass without building a listing.
func (s *Service) Reconcile(ctx context.Context, property string) (ReconcileResult, error) {
	return s.reconciler.Reconcile(ctx, strings.TrimSpace(property))
}

// CreateInput describes a manual onboarding.
type CreateInput struct {
	Property                 string
	Unit                     string
	Contractor               *string
	GoalCompletionDate       *time.Time
	PestControlNeeded        bool
	SurfaceRestorationNeeded bool
	JunkRemovalNeeded        bool
	SourceType               *vacancy.SourceType
	MoveOutDate              *time.Time
	VacancyStartDate         *time.Time
	RehabStatus              *RehabStatus
}

// Validate checks required fields and enum values.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Property) == "" || strings.TrimSpace(in.Unit) == "" {
		return ErrUnitRequired
	}
	if in.SourceType != nil && !in.SourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, *in.SourceType)
	}
	if in.RehabStatus != nil && !in.RehabStatus.Valid() {
		return fmt.Errorf("%w: unknown rehab status %q", ErrInvalidInput, *in.RehabStatus)
	}
	return nil
}

func (in CreateInput) requestedItems() []ChecklistItem {
	var items []ChecklistItem
	if in.PestControlNeeded {
		items = append(items, ItemPestControl)
	}
	if in.SurfaceRestorationNeeded {
		items = append(items, ItemSurfaceRestoration)
	}
	if in.JunkRemovalNeeded {
		items = append(items, ItemJunkRemoval)
	}
	return items
}

// Create onboards a rehab manually. It rejects units that already have an
// in-progress rehab and resolves the vacancy start when not supplied.
func (s *Service) Create(ctx context.Context, in CreateInput) (Record, error) {
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	in.Property = strings.TrimSpace(in.Property)
	in.Unit = strings.TrimSpace(in.Unit)

	active, err := s.store.FindActiveByUnit(ctx, in.Property, in.Unit)
	if err != nil {
		return Record{}, err
	}
	if len(active) > 0 {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrActiveRehabExists, in.Property, in.Unit)
	}

	now := s.now()
	cycle := vacancy.Cycle{Property: in.Property, Unit: in.Unit, SourceType: vacancy.SourceVacancy}
	if in.VacancyStartDate != nil {
		cycle.StartDate = snapshots.DateOnly(*in.VacancyStartDate)
	} else {
		asOf, err := s.feed.LatestSnapshotDate(ctx)
		if errors.Is(err, snapshots.ErrNoSnapshots) {
			asOf = now
		} else if err != nil {
			return Record{}, fmt.Errorf("rehab: latest snapshot: %w", err)
		}
		cycle, err = s.resolver.ResolveCycleStart(ctx, in.Property, in.Unit, asOf)
		if err != nil {
			return Record{}, err
		}
	}

	rec := newRecordForCycle(cycle, s.policy, now, in.requestedItems()...)
	if in.SourceType != nil {
		rec.SourceType = *in.SourceType
	}
	if in.MoveOutDate != nil {
		d := snapshots.DateOnly(*in.MoveOutDate)
		rec.MoveOutDate = &d
	}
	if in.GoalCompletionDate != nil {
		d := snapshots.DateOnly(*in.GoalCompletionDate)
		rec.GoalCompletionDate = &d
	}
	if in.Contractor != nil && strings.TrimSpace(*in.Contractor) != "" {
		c := strings.TrimSpace(*in.Contractor)
		rec.Contractor = &c
	}
	if in.RehabStatus != nil && *in.RehabStatus != rec.RehabStatus {
		rec = applyRehabStatus(rec, *in.RehabStatus, false, now)
	}

	entry := newHistoryEntry(rec, nil, now)
	return s.store.Create(ctx, rec, entry)
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.store.Get(ctx, id)
}

// Update applies a field-level patch. A history entry is appended only when
// the rehab status changes.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (Record, error) {
	if err := patch.Validate(); err != nil {
		return Record{}, err
	}
	now := s.now()
	return s.store.Update(ctx, id, func(current Record) (Record, *HistoryEntry, error) {
		if current.Status == StatusArchived {
			return Record{}, nil, ErrArchived
		}
		next, statusChanged := ApplyPatch(current, patch, now)
		if !statusChanged {
			return next, nil, nil
		}
		previous := current.RehabStatus
		entry := newHistoryEntry(next, &previous, now)
		return next, &entry, nil
	})
}

// CycleChecklistItem toggles item through pending -> completed -> excluded -> pending.
func (s *Service) CycleChecklistItem(ctx context.Context, id uuid.UUID, item ChecklistItem) (Record, error) {
	if _, ok := item.Index(); !ok {
		return Record{}, fmt.Errorf("%w: unknown checklist item %q", ErrInvalidInput, item)
	}
	now := s.now()
	return s.store.Update(ctx, id, func(current Record) (Record, *HistoryEntry, error) {
		if current.Status == StatusArchived {
			return Record{}, nil, ErrArchived
		}
		next := current
		next.Checklist.Set(item, current.Checklist.Get(item).Cycle(now))
		next.UpdatedAt = now
		return next, nil, nil
	})
}

// Archive soft-deletes a record.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := s.store.Archive(ctx, id, s.now())
	if err != nil {
		return Record{}, err
	}
	s.logger.Info("rehab archived", slog.String("rehab_id", id.String()),
		slog.String("property", rec.Property), slog.String("unit", rec.Unit))
	return rec, nil
}

// History returns the status history of a record, newest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, id)
}
