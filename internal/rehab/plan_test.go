package rehab

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnover-ops/turnover/internal/vacancy"
)

func record(property, unit, start string, status LifecycleStatus, created time.Time) Record {
	return Record{
		ID:               uuid.New(),
		Property:         property,
		Unit:             unit,
		Status:           status,
		RehabStatus:      RehabNotStarted,
		VacancyStartDate: day(start),
		SourceType:       vacancy.SourceVacancy,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func cycle(property, unit, start string) vacancy.Cycle {
	return vacancy.Cycle{Property: property, Unit: unit, StartDate: day(start), SourceType: vacancy.SourceVacancy}
}

func TestPlanCreatesMissingCyclesAndSupersedesOldOnes(t *testing.T) {
	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	old := record("Oak", "101", "2024-01-05", StatusInProgress, base)
	other := record("Oak", "102", "2024-01-02", StatusInProgress, base)

	plan := Plan([]Record{old, other}, []vacancy.Cycle{
		cycle("Oak", "101", "2024-01-25"),
		cycle("Oak", "102", "2024-01-02"),
	})

	require.Len(t, plan.ToCreate, 1)
	assert.Equal(t, "Oak|101|2024-01-25", plan.ToCreate[0].Cycle.Key())
	require.Len(t, plan.ToCreate[0].Supersedes, 1)
	assert.Equal(t, old.ID, plan.ToCreate[0].Supersedes[0].ID)
	require.Len(t, plan.Kept, 1)
	assert.Equal(t, other.ID, plan.Kept[0].ID)
	assert.Empty(t, plan.Duplicates)
}

func TestPlanIsEmptyAfterApplying(t *testing.T) {
	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	cycles := []vacancy.Cycle{cycle("Oak", "101", "2024-01-25"), cycle("Oak", "103", "2024-01-10")}

	first := Plan([]Record{record("Oak", "101", "2024-01-05", StatusInProgress, base)}, cycles)
	require.False(t, first.Empty())

	applied := append([]Record{}, first.Kept...)
	for _, c := range first.ToCreate {
		applied = append(applied, newRecordForCycle(c.Cycle, nil, base.Add(time.Hour)))
	}

	second := Plan(applied, cycles)
	assert.True(t, second.Empty())
	assert.Len(t, second.Kept, 2)
}

func TestPlanCompletedRecordTracksItsCycle(t *testing.T) {
	done := record("Oak", "101", "2024-01-05", StatusCompleted, time.Now())

	plan := Plan([]Record{done}, []vacancy.Cycle{cycle("Oak", "101", "2024-01-05")})
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Kept)
	require.Len(t, plan.Completed, 1)
}

func TestPlanArchivesNewerDuplicates(t *testing.T) {
	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	newer := record("Oak", "101", "2024-01-05", StatusInProgress, base.Add(time.Minute))
	older := record("Oak", "101", "2024-01-05", StatusInProgress, base)

	plan := Plan([]Record{newer, older}, []vacancy.Cycle{cycle("Oak", "101", "2024-01-05")})
	require.Len(t, plan.Kept, 1)
	assert.Equal(t, older.ID, plan.Kept[0].ID)
	require.Len(t, plan.Duplicates, 1)
	assert.Equal(t, newer.ID, plan.Duplicates[0].ID)
	assert.Empty(t, plan.ToCreate)
}

func TestPlanIgnoresArchivedAndRepeatedCycles(t *testing.T) {
	archived := record("Oak", "101", "2024-01-05", StatusArchived, time.Now())
	c := cycle("Oak", "101", "2024-01-05")

	plan := Plan([]Record{archived}, []vacancy.Cycle{c, c})
	require.Len(t, plan.ToCreate, 1)
	assert.Empty(t, plan.ToCreate[0].Supersedes)
}

func TestPlanKeepsRecordsForUnitsNoLongerVacant(t *testing.T) {
	rec := record("Oak", "101", "2024-01-05", StatusInProgress, time.Now())
	plan := Plan([]Record{rec}, nil)
	assert.True(t, plan.Empty())
	assert.Len(t, plan.Kept, 1)
}
