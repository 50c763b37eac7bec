// Package vacancy derives vacancy cycles for units from the snapshot feed.
package vacancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/turnover-ops/turnover/internal/snapshots"
)

// SourceType describes what started a vacancy cycle.
type SourceType string

const (
	SourceVacancy  SourceType = "vacancy"
	SourceNotice   SourceType = "notice"
	SourceEviction SourceType = "eviction"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceVacancy, SourceNotice, SourceEviction:
		return true
	}
	return false
}

// SourceFor maps a feed status to the source type of the cycle it opens.
func SourceFor(status snapshots.UnitStatus) SourceType {
	switch {
	case status.IsVacant():
		return SourceVacancy
	case status == snapshots.StatusEvict:
		return SourceEviction
	default:
		return SourceNotice
	}
}

// Cycle is a derived vacancy cycle. It is computed on demand and never stored.
type Cycle struct {
	Property    string
	Unit        string
	StartDate   time.Time
	SourceType  SourceType
	MoveOutDate *time.Time
}

// Key returns the natural key "property|unit|start".
func (c Cycle) Key() string {
	return CycleKey(c.Property, c.Unit, c.StartDate)
}

// CycleKey formats the natural key used to match cycles to rehab records.
func CycleKey(property, unit string, start time.Time) string {
	return property + "|" + unit + "|" + snapshots.DateOnly(start).Format(time.DateOnly)
}

// ErrStoreUnavailable marks resolver failures caused by the snapshot store.
var ErrStoreUnavailable = errors.New("vacancy: snapshot store unavailable")

// ErrUnitRequired is returned when property or unit is blank.
var ErrUnitRequired = errors.New("vacancy: property and unit required")

// Resolver finds the start of the current uninterrupted vacancy cycle of a unit.
type Resolver struct {
	store snapshots.Reader
}

// NewResolver constructs a Resolver over the feed.
func NewResolver(store snapshots.Reader) *Resolver {
	return &Resolver{store: store}
}

// ResolveCycleStart resolves the cycle for property/unit as of the given feed date.
func (r *Resolver) ResolveCycleStart(ctx context.Context, property, unit string, asOf time.Time) (Cycle, error) {
	return r.resolve(ctx, property, unit, asOf, nil)
}

// ResolveUnit resolves the cycle for a unit reported vacancy-like in current.
// current supplies the source type and move-out date when the feed has no
// earlier vacancy row to anchor on.
func (r *Resolver) ResolveUnit(ctx context.Context, current snapshots.UnitSnapshot) (Cycle, error) {
	return r.resolve(ctx, current.Property, current.Unit, current.SnapshotDate, &current)
}

func (r *Resolver) resolve(ctx context.Context, property, unit string, asOf time.Time, current *snapshots.UnitSnapshot) (Cycle, error) {
	if strings.TrimSpace(property) == "" || strings.TrimSpace(unit) == "" {
		return Cycle{}, ErrUnitRequired
	}

	// Anchor on the most recent occupied row so that earlier vacancy spans,
	// already closed by a move-in, are not merged into the current cycle.
	lastOccupied, err := r.store.MostRecentSnapshot(ctx, property, unit, snapshots.VacancyStatuses)
	if err != nil {
		return Cycle{}, fmt.Errorf("vacancy: last occupied %s/%s: %w: %w", property, unit, ErrStoreUnavailable, err)
	}
	var after *time.Time
	if lastOccupied != nil {
		d := lastOccupied.SnapshotDate
		after = &d
	}

	trigger, err := r.store.EarliestSnapshot(ctx, property, unit, snapshots.VacancyStatuses, after)
	if err != nil {
		return Cycle{}, fmt.Errorf("vacancy: cycle start %s/%s: %w: %w", property, unit, ErrStoreUnavailable, err)
	}

	cycle := Cycle{
		Property:   property,
		Unit:       unit,
		StartDate:  snapshots.DateOnly(asOf),
		SourceType: SourceVacancy,
	}
	if trigger == nil {
		trigger = current
	} else {
		cycle.StartDate = trigger.SnapshotDate
	}
	if trigger != nil {
		cycle.SourceType = SourceFor(trigger.Status)
		cycle.MoveOutDate = trigger.LeaseTo
	}
	return cycle, nil
}
