// Package rehab tracks one remediation effort per unit vacancy cycle: the
// record store, the checklist state machine, status history and the
// reconciliation that keeps records aligned with the snapshot feed.
package rehab

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turnover-ops/turnover/internal/vacancy"
)

// LifecycleStatus is the coarse record state used for matching and archiving.
type LifecycleStatus string

const (
	StatusInProgress LifecycleStatus = "in_progress"
	StatusCompleted  LifecycleStatus = "completed"
	StatusArchived   LifecycleStatus = "archived"
)

// RehabStatus is the workflow state shown to property staff.
type RehabStatus string

const (
	RehabNotStarted        RehabStatus = "Not Started"
	RehabSupervisorOnboard RehabStatus = "Supervisor onboard"
	RehabBackBurner        RehabStatus = "Back burner"
	RehabWaiting           RehabStatus = "Waiting"
	RehabInProgress        RehabStatus = "In Progress"
	RehabComplete          RehabStatus = "Complete"
)

// RehabStatuses lists every accepted RehabStatus in workflow order.
var RehabStatuses = []RehabStatus{
	RehabNotStarted,
	RehabSupervisorOnboard,
	RehabBackBurner,
	RehabWaiting,
	RehabInProgress,
	RehabComplete,
}

// Valid reports whether s is a known rehab status.
func (s RehabStatus) Valid() bool {
	for _, known := range RehabStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Record is the tracked remediation effort for exactly one vacancy cycle.
type Record struct {
	ID                 uuid.UUID
	Property           string
	Unit               string
	Status             LifecycleStatus
	RehabStatus        RehabStatus
	Checklist          Checklist
	VacancyStartDate   time.Time
	MoveOutDate        *time.Time
	SourceType         vacancy.SourceType
	Contractor         *string
	GoalCompletionDate *time.Time
	CompletionDate     *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CycleKey returns the natural key "property|unit|vacancy_start_date".
func (r Record) CycleKey() string {
	return vacancy.CycleKey(r.Property, r.Unit, r.VacancyStartDate)
}

// Progress returns the derived checklist progress.
func (r Record) Progress() Progress {
	return r.Checklist.Progress()
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Property) == "" || strings.TrimSpace(r.Unit) == "" {
		return ErrUnitRequired
	}
	if r.VacancyStartDate.IsZero() {
		return errors.New("rehab: vacancy start date required")
	}
	return nil
}

// HistoryEntry is one append-only audit row written whenever RehabStatus changes.
type HistoryEntry struct {
	ID                 uuid.UUID
	RehabID            uuid.UUID
	Property           string
	Unit               string
	PreviousStatus     *RehabStatus
	NewStatus          RehabStatus
	ChecklistCompleted int
	ChecklistTotal     int
	CreatedAt          time.Time
}

func newHistoryEntry(rec Record, previous *RehabStatus, at time.Time) HistoryEntry {
	progress := rec.Progress()
	return HistoryEntry{
		ID:                 uuid.New(),
		RehabID:            rec.ID,
		Property:           rec.Property,
		Unit:               rec.Unit,
		PreviousStatus:     previous,
		NewStatus:          rec.RehabStatus,
		ChecklistCompleted: progress.Completed,
		ChecklistTotal:     progress.Total,
		CreatedAt:          at,
	}
}

var (
	// ErrNotFound is returned for unknown rehab ids.
	ErrNotFound = errors.New("rehab: not found")
	// ErrUnitRequired is returned when property or unit is blank.
	ErrUnitRequired = errors.New("rehab: property and unit required")
	// ErrActiveRehabExists is returned when the unit already has an in-progress rehab.
	ErrActiveRehabExists = errors.New("rehab: active rehab already exists for unit")
	// ErrInvalidInput wraps validation failures on create and patch.
	ErrInvalidInput = errors.New("rehab: invalid input")
	// ErrArchived is returned when mutating an archived record.
	ErrArchived = errors.New("rehab: record archived")
)
