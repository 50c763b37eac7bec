package rehab

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnover-ops/turnover/internal/snapshots"
	"github.com/turnover-ops/turnover/internal/snapshots/snapshotstest"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

func newTestService(t *testing.T, rows ...snapshots.UnitSnapshot) (*Service, *memStore, *snapshotstest.Store) {
	t.Helper()
	feed := snapshotstest.New(rows...)
	store := newMemStore()
	resolver := vacancy.NewResolver(feed)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := NewReconciler(ReconcilerConfig{Feed: feed, Resolver: resolver, Store: store, Logger: logger})
	svc := NewService(store, reconciler, feed, resolver, nil, logger)
	svc.WithNow(fixedClock("2024-01-25T07:00:00Z"))
	return svc, store, feed
}

func TestServiceListTotals(t *testing.T) {
	svc, store, _ := newTestService(t,
		snapshotstest.Row("2024-01-25", "Oak", "101", snapshots.StatusVacantUnrented),
		snapshotstest.Row("2024-01-25", "Oak", "102", snapshots.StatusVacantRented),
		snapshotstest.Row("2024-01-25", "Oak", "103", snapshots.StatusCurrent),
		snapshotstest.Row("2024-01-25", "Elm", "1", snapshots.StatusCurrent),
	)
	ctx := context.Background()

	listing, err := svc.List(ctx, ListFilter{Property: "Oak"})
	require.NoError(t, err)
	assert.Len(t, listing.Rehabs, 2)
	assert.Equal(t, 2, listing.TotalActive)
	assert.Equal(t, 2, listing.TotalPendingSetup)
	assert.Equal(t, 3, listing.TotalUnits)

	started := RehabInProgress
	_, err = svc.Update(ctx, listing.Rehabs[0].ID, Patch{RehabStatus: &started})
	require.NoError(t, err)
	complete := RehabComplete
	_, err = svc.Update(ctx, listing.Rehabs[1].ID, Patch{RehabStatus: &complete})
	require.NoError(t, err)

	listing, err = svc.List(ctx, ListFilter{Property: "Oak"})
	require.NoError(t, err)
	assert.Equal(t, 1, listing.TotalActive)
	assert.Zero(t, listing.TotalPendingSetup)
	assert.Len(t, listing.Rehabs, 1)

	withCompleted, err := svc.List(ctx, ListFilter{Property: "Oak", IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, withCompleted.Rehabs, 2)
	assert.Equal(t, 1, withCompleted.TotalActive)
	assert.Equal(t, 2, store.creates)

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalUnits)
}

func TestServiceCreateResolvesVacancyStart(t *testing.T) {
	svc, store, _ := newTestService(t,
		snapshotstest.Row("2024-01-10", "Oak", "101", snapshots.StatusCurrent),
		snapshotstest.Row("2024-01-12", "Oak", "101", snapshots.StatusNoticeUnrented),
		snapshotstest.Row("2024-01-25", "Oak", "101", snapshots.StatusVacantUnrented),
	)
	contractor := " Acme "
	goal := day("2024-02-15")

	rec, err := svc.Create(context.Background(), CreateInput{
		Property:           "Oak",
		Unit:               "101",
		Contractor:         &contractor,
		GoalCompletionDate: &goal,
		PestControlNeeded:  true,
		JunkRemovalNeeded:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-12"), rec.VacancyStartDate)
	assert.Equal(t, vacancy.SourceNotice, rec.SourceType)
	assert.Equal(t, RehabNotStarted, rec.RehabStatus)
	assert.Equal(t, StatusInProgress, rec.Status)
	require.NotNil(t, rec.Contractor)
	assert.Equal(t, "Acme", *rec.Contractor)
	require.NotNil(t, rec.GoalCompletionDate)
	assert.Equal(t, goal, *rec.GoalCompletionDate)

	assert.Equal(t, ItemPending, rec.Checklist.Get(ItemPestControl).Status())
	assert.Equal(t, ItemPending, rec.Checklist.Get(ItemJunkRemoval).Status())
	assert.Equal(t, ItemExcluded, rec.Checklist.Get(ItemSurfaceRestoration).Status())

	require.Len(t, store.history, 1)
	assert.Equal(t, 7, store.history[0].ChecklistTotal)
	assert.Equal(t, rec.Progress().Total, store.history[0].ChecklistTotal)
	assert.Nil(t, store.history[0].PreviousStatus)
}

func TestServiceCreateRejectsSecondActiveRehab(t *testing.T) {
	svc, _, _ := newTestService(t)
	start := day("2024-01-05")
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Property: "Oak", Unit: "101", VacancyStartDate: &start})
	require.NoError(t, err)

	later := day("2024-01-20")
	_, err = svc.Create(ctx, CreateInput{Property: "Oak", Unit: "101", VacancyStartDate: &later})
	assert.ErrorIs(t, err, ErrActiveRehabExists)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Property: "Oak", Unit: "  "})
	assert.ErrorIs(t, err, ErrUnitRequired)

	bogus := RehabStatus("Painting")
	_, err = svc.Create(ctx, CreateInput{Property: "Oak", Unit: "1", RehabStatus: &bogus})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestServiceCreateWithoutFeedUsesToday(t *testing.T) {
	svc, _, _ := newTestService(t)
	complete := RehabComplete

	rec, err := svc.Create(context.Background(), CreateInput{Property: "Oak", Unit: "9", RehabStatus: &complete})
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-25"), rec.VacancyStartDate)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletionDate)
	assert.Equal(t, day("2024-01-25"), *rec.CompletionDate)
}

func TestServiceUpdateHistoryIsAppendOnly(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	start := day("2024-01-05")
	rec, err := svc.Create(ctx, CreateInput{Property: "Oak", Unit: "101", VacancyStartDate: &start})
	require.NoError(t, err)

	_, err = svc.Update(ctx, rec.ID, Patch{Contractor: Some("Acme")})
	require.NoError(t, err)
	history, err := svc.History(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	yes := true
	waiting := RehabWaiting
	_, err = svc.Update(ctx, rec.ID, Patch{
		RehabStatus: &waiting,
		Checklist:   map[ChecklistItem]ItemPatch{ItemUtilities: {Completed: &yes}},
	})
	require.NoError(t, err)

	history, err = svc.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	latest := history[0]
	require.NotNil(t, latest.PreviousStatus)
	assert.Equal(t, RehabNotStarted, *latest.PreviousStatus)
	assert.Equal(t, RehabWaiting, latest.NewStatus)
	assert.Equal(t, 1, latest.ChecklistCompleted)
	assert.Equal(t, 5, latest.ChecklistTotal)
	assert.Len(t, store.history, 2)
}

func TestServiceUpdateErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, uuid.New(), Patch{Contractor: Some("Acme")})
	assert.ErrorIs(t, err, ErrNotFound)

	start := day("2024-01-05")
	rec, err := svc.Create(ctx, CreateInput{Property: "Oak", Unit: "101", VacancyStartDate: &start})
	require.NoError(t, err)
	_, err = svc.Archive(ctx, rec.ID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, rec.ID, Patch{Contractor: Some("Acme")})
	assert.ErrorIs(t, err, ErrArchived)
	_, err = svc.CycleChecklistItem(ctx, rec.ID, ItemCleaned)
	assert.ErrorIs(t, err, ErrArchived)
	_, err = svc.Archive(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrArchived)
}

func TestServiceCycleChecklistItem(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	start := day("2024-01-05")
	rec, err := svc.Create(ctx, CreateInput{Property: "Oak", Unit: "101", VacancyStartDate: &start})
	require.NoError(t, err)

	want := []ItemStatus{ItemCompleted, ItemExcluded, ItemPending}
	for _, status := range want {
		rec, err = svc.CycleChecklistItem(ctx, rec.ID, ItemCleaned)
		require.NoError(t, err)
		assert.Equal(t, status, rec.Checklist.Get(ItemCleaned).Status())
	}
	assert.Len(t, store.history, 1)

	_, err = svc.CycleChecklistItem(ctx, rec.ID, ChecklistItem("painting"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestServiceArchiveUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Archive(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.History(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceArchivedUnitIsRecreatedOnNextList(t *testing.T) {
	svc, _, _ := newTestService(t,
		snapshotstest.Row("2024-01-25", "Oak", "101", snapshots.StatusVacantUnrented),
	)
	ctx := context.Background()

	listing, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, listing.Rehabs, 1)
	_, err = svc.Archive(ctx, listing.Rehabs[0].ID)
	require.NoError(t, err)

	again, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, again.Rehabs, 1)
	assert.NotEqual(t, listing.Rehabs[0].ID, again.Rehabs[0].ID)
}
