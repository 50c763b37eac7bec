package rehab

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store enforcing the one-in-progress-per-cycle rule
// the Postgres partial index provides.
type memStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]Record
	history   []HistoryEntry
	createErr map[string]error
	listErr   error
	creates   int
}

var _ Store = (*memStore)(nil)

func newMemStore(recs ...Record) *memStore {
	s := &memStore{records: make(map[uuid.UUID]Record), createErr: make(map[string]error)}
	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
	return s
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) ListActive(ctx context.Context, property string, includeCompleted bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Record
	for _, rec := range s.records {
		if property != "" && rec.Property != property {
			continue
		}
		if rec.Status == StatusInProgress || (includeCompleted && rec.Status == StatusCompleted) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindActiveByUnit(ctx context.Context, property, unit string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Property == property && rec.Unit == unit && rec.Status == StatusInProgress {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) Create(ctx context.Context, rec Record, entry HistoryEntry) (Record, error) {
	return s.ReplaceCycle(ctx, nil, rec, entry)
}

func (s *memStore) ReplaceCycle(ctx context.Context, supersede []uuid.UUID, rec Record, entry HistoryEntry) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	if err := s.createErr[rec.Unit]; err != nil {
		return Record{}, err
	}
	for _, existing := range s.records {
		if existing.Status == StatusInProgress && existing.CycleKey() == rec.CycleKey() {
			return Record{}, ErrActiveRehabExists
		}
	}
	for _, id := range supersede {
		old, ok := s.records[id]
		if !ok {
			return Record{}, ErrNotFound
		}
		old.Status = StatusArchived
		old.UpdatedAt = rec.CreatedAt
		s.records[id] = old
	}
	s.records[rec.ID] = rec
	s.history = append(s.history, entry)
	s.creates++
	return rec, nil
}

func (s *memStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, entry, err := fn(current)
	if err != nil {
		return Record{}, err
	}
	s.records[id] = next
	if entry != nil {
		s.history = append(s.history, *entry)
	}
	return next, nil
}

func (s *memStore) Archive(ctx context.Context, id uuid.UUID, at time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status == StatusArchived {
		return Record{}, ErrArchived
	}
	rec.Status = StatusArchived
	rec.UpdatedAt = at
	s.records[id] = rec
	return rec, nil
}

func (s *memStore) ListHistory(ctx context.Context, rehabID uuid.UUID) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].RehabID == rehabID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func (s *memStore) byStatus(status LifecycleStatus) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}

var errStoreDown = errors.New("store down")

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}
