// Package snapshotstest provides an in-memory snapshots.Reader for tests.
package snapshotstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turnover-ops/turnover/internal/snapshots"
)

// Store keeps feed rows in memory. The zero value is ready to use.
type Store struct {
	mu    sync.RWMutex
	rows  map[string]snapshots.UnitSnapshot
	Err   error
	Calls int
}

var _ snapshots.Reader = (*Store)(nil)

// New returns a store seeded with rows.
func New(rows ...snapshots.UnitSnapshot) *Store {
	s := &Store{}
	s.Add(rows...)
	return s
}

// Add upserts rows, keeping one row per (date, property, unit).
func (s *Store) Add(rows ...snapshots.UnitSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]snapshots.UnitSnapshot)
	}
	for _, r := range rows {
		r.SnapshotDate = snapshots.DateOnly(r.SnapshotDate)
		s.rows[r.SnapshotDate.Format(time.DateOnly)+"|"+r.Property+"|"+r.Unit] = r
	}
}

// Row is a shorthand constructor for a feed row dated "2006-01-02".
func Row(date, property, unit string, status snapshots.UnitStatus) snapshots.UnitSnapshot {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		panic(err)
	}
	return snapshots.UnitSnapshot{SnapshotDate: d, Property: property, Unit: unit, Status: status}
}

func (s *Store) sorted() []snapshots.UnitSnapshot {
	out := make([]snapshots.UnitSnapshot, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		if out[i].Property != out[j].Property {
			return out[i].Property < out[j].Property
		}
		return out[i].Unit < out[j].Unit
	})
	return out
}

func (s *Store) enter() ([]snapshots.UnitSnapshot, error) {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.sorted(), nil
}

func (s *Store) LatestSnapshotDate(ctx context.Context) (time.Time, error) {
	rows, err := s.enter()
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, snapshots.ErrNoSnapshots
	}
	return rows[len(rows)-1].SnapshotDate, nil
}

func (s *Store) UnitsByStatus(ctx context.Context, date time.Time, statuses []snapshots.UnitStatus, property string) ([]snapshots.UnitSnapshot, error) {
	rows, err := s.enter()
	if err != nil {
		return nil, err
	}
	date = snapshots.DateOnly(date)
	var out []snapshots.UnitSnapshot
	for _, r := range rows {
		if r.SnapshotDate.Equal(date) && contains(statuses, r.Status) && (property == "" || r.Property == property) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) MostRecentSnapshot(ctx context.Context, property, unit string, statusNotIn []snapshots.UnitStatus) (*snapshots.UnitSnapshot, error) {
	rows, err := s.enter()
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.Property == property && r.Unit == unit && !contains(statusNotIn, r.Status) {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) EarliestSnapshot(ctx context.Context, property, unit string, statusIn []snapshots.UnitStatus, after *time.Time) (*snapshots.UnitSnapshot, error) {
	rows, err := s.enter()
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Property != property || r.Unit != unit || !contains(statusIn, r.Status) {
			continue
		}
		if after != nil && !r.SnapshotDate.After(snapshots.DateOnly(*after)) {
			continue
		}
		return &r, nil
	}
	return nil, nil
}

func (s *Store) CountUnits(ctx context.Context, date time.Time, property string) (int, error) {
	rows, err := s.enter()
	if err != nil {
		return 0, err
	}
	date = snapshots.DateOnly(date)
	seen := make(map[string]struct{})
	for _, r := range rows {
		if r.SnapshotDate.Equal(date) && (property == "" || r.Property == property) {
			seen[r.Property+"|"+r.Unit] = struct{}{}
		}
	}
	return len(seen), nil
}

func contains(statuses []snapshots.UnitStatus, status snapshots.UnitStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
