package rehab

import (
	"sort"

	"github.com/turnover-ops/turnover/internal/vacancy"
)

// Creation is a new vacancy cycle to track, together with the in-progress
// records of the same unit it supersedes.
type Creation struct {
	Cycle      vacancy.Cycle
	Supersedes []Record
}

// ReconcilePlan is the outcome of diffing stored records against resolved cycles.
type ReconcilePlan struct {
	// Kept are in-progress records left untouched.
	Kept []Record
	// Completed are completed records; they still count as tracking their cycle.
	Completed []Record
	// ToCreate lists cycles without a record, each archiving what it supersedes.
	ToCreate []Creation
	// Duplicates are extra in-progress records sharing a cycle key with an older one.
	Duplicates []Record
}

// Plan computes the writes needed to bring existing records in line with the
// currently resolved cycles. It performs no I/O, and running it again on the
// post-write state yields an empty plan.
func Plan(existing []Record, cycles []vacancy.Cycle) ReconcilePlan {
	var plan ReconcilePlan

	active := make([]Record, 0, len(existing))
	tracked := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		switch rec.Status {
		case StatusInProgress:
			active = append(active, rec)
			tracked[rec.CycleKey()] = struct{}{}
		case StatusCompleted:
			plan.Completed = append(plan.Completed, rec)
			tracked[rec.CycleKey()] = struct{}{}
		}
	}

	// Concurrent passes can leave two in-progress records for one cycle; keep
	// the oldest and archive the rest.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	seen := make(map[string]struct{}, len(active))
	unique := active[:0:0]
	for _, rec := range active {
		key := rec.CycleKey()
		if _, dup := seen[key]; dup {
			plan.Duplicates = append(plan.Duplicates, rec)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, rec)
	}

	superseded := make(map[string]struct{})
	planned := make(map[string]struct{}, len(cycles))
	for _, cycle := range cycles {
		key := cycle.Key()
		if _, ok := tracked[key]; ok {
			continue
		}
		if _, ok := planned[key]; ok {
			continue
		}
		planned[key] = struct{}{}

		creation := Creation{Cycle: cycle}
		for _, rec := range unique {
			if rec.Property == cycle.Property && rec.Unit == cycle.Unit && rec.CycleKey() != key {
				creation.Supersedes = append(creation.Supersedes, rec)
				superseded[rec.ID.String()] = struct{}{}
			}
		}
		plan.ToCreate = append(plan.ToCreate, creation)
	}

	for _, rec := range unique {
		if _, ok := superseded[rec.ID.String()]; !ok {
			plan.Kept = append(plan.Kept, rec)
		}
	}
	return plan
}

// Empty reports whether the plan requires no writes.
func (p ReconcilePlan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.Duplicates) == 0
}
