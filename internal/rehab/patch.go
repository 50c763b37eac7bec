package rehab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/turnover-ops/turnover/internal/snapshots"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

// Day is a calendar date encoded as "2006-01-02".
type Day struct {
	time.Time
}

// NewDay truncates t to its calendar date.
func NewDay(t time.Time) Day {
	return Day{Time: snapshots.DateOnly(t)}
}

// ParseDay parses "2006-01-02".
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Day{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return Day{Time: t}, nil
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Field distinguishes an absent JSON key from an explicit null.
type Field[T any] struct {
	Set   bool
	Value *T
}

// Some returns a Field set to v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: &v}
}

// Null returns a Field explicitly cleared.
func Null[T any]() Field[T] {
	return Field[T]{Set: true}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// Patch lists field-level changes; only set fields are applied.
type Patch struct {
	RehabStatus        *RehabStatus                `json:"rehab_status,omitempty"`
	Contractor         Field[string]               `json:"contractor"`
	GoalCompletionDate Field[Day]                  `json:"goal_completion_date"`
	CompletionDate     Field[Day]                  `json:"completion_date"`
	MoveOutDate        Field[Day]                  `json:"move_out_date"`
	SourceType         *vacancy.SourceType         `json:"source_type,omitempty"`
	Checklist          map[ChecklistItem]ItemPatch `json:"checklist,omitempty"`
}

// Validate checks enum values and checklist flag combinations.
func (p Patch) Validate() error {
	if p.RehabStatus != nil && !p.RehabStatus.Valid() {
		return fmt.Errorf("%w: unknown rehab status %q", ErrInvalidInput, *p.RehabStatus)
	}
	if p.SourceType != nil && !p.SourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, *p.SourceType)
	}
	for item, ip := range p.Checklist {
		if _, ok := item.Index(); !ok {
			return fmt.Errorf("%w: unknown checklist item %q", ErrInvalidInput, item)
		}
		if err := ip.validate(); err != nil {
			return fmt.Errorf("%s: %w", item, err)
		}
	}
	return nil
}

// ApplyPatch merges p into rec. It reports whether RehabStatus changed so the
// caller can append a history entry.
func ApplyPatch(rec Record, p Patch, now time.Time) (Record, bool) {
	next := rec
	if p.Contractor.Set {
		next.Contractor = nil
		if p.Contractor.Value != nil && strings.TrimSpace(*p.Contractor.Value) != "" {
			c := strings.TrimSpace(*p.Contractor.Value)
			next.Contractor = &c
		}
	}
	if p.GoalCompletionDate.Set {
		next.GoalCompletionDate = dayPtr(p.GoalCompletionDate.Value)
	}
	if p.MoveOutDate.Set {
		next.MoveOutDate = dayPtr(p.MoveOutDate.Value)
	}
	if p.CompletionDate.Set {
		next.CompletionDate = dayPtr(p.CompletionDate.Value)
	}
	if p.SourceType != nil {
		next.SourceType = *p.SourceType
	}
	for item, ip := range p.Checklist {
		next.Checklist.Set(item, next.Checklist.Get(item).apply(ip, now))
	}

	changed := false
	if p.RehabStatus != nil && *p.RehabStatus != rec.RehabStatus {
		changed = true
		next = applyRehabStatus(next, *p.RehabStatus, p.CompletionDate.Value != nil, now)
	}
	if changed || next != rec {
		next.UpdatedAt = now
	}
	return next, changed
}

// applyRehabStatus moves the record into status, keeping the lifecycle status
// in step: Complete closes the record, leaving Complete reopens it.
func applyRehabStatus(rec Record, status RehabStatus, completionDateGiven bool, now time.Time) Record {
	rec.RehabStatus = status
	if status == RehabComplete {
		if !completionDateGiven && rec.CompletionDate == nil {
			today := snapshots.DateOnly(now)
			rec.CompletionDate = &today
		}
		if rec.Status == StatusInProgress {
			rec.Status = StatusCompleted
			at := now
			rec.CompletedAt = &at
		}
		return rec
	}
	if rec.Status == StatusCompleted {
		rec.Status = StatusInProgress
		rec.CompletedAt = nil
	}
	return rec
}

func dayPtr(d *Day) *time.Time {
	if d == nil {
		return nil
	}
	t := snapshots.DateOnly(d.Time)
	return &t
}
