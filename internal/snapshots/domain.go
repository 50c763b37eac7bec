// Package snapshots reads the daily unit occupancy feed imported from the
// property-management system. The feed is append-only and owned by the
// importer; nothing in this package writes to it.
package snapshots

import (
	"errors"
	"strings"
	"time"
)

// UnitStatus is the occupancy status reported for a unit on a snapshot date.
type UnitStatus string

const (
	StatusCurrent        UnitStatus = "Current"
	StatusVacantUnrented UnitStatus = "Vacant-Unrented"
	StatusVacantRented   UnitStatus = "Vacant-Rented"
	StatusNoticeUnrented UnitStatus = "Notice-Unrented"
	StatusNoticeRented   UnitStatus = "Notice-Rented"
	StatusEvict          UnitStatus = "Evict"
)

// VacancyStatuses lists every status that means the unit is not leased and occupied.
var VacancyStatuses = []UnitStatus{
	StatusVacantUnrented,
	StatusVacantRented,
	StatusNoticeUnrented,
	StatusNoticeRented,
	StatusEvict,
}

// IsVacancyLike reports whether status belongs to VacancyStatuses.
func (s UnitStatus) IsVacancyLike() bool {
	for _, v := range VacancyStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsVacant reports whether the status is one of the Vacant-* values.
func (s UnitStatus) IsVacant() bool {
	return strings.HasPrefix(string(s), "Vacant")
}

// UnitSnapshot is one feed row. At most one exists per (SnapshotDate, Property, Unit).
type UnitSnapshot struct {
	SnapshotDate time.Time
	Property     string
	Unit         string
	Status       UnitStatus
	LeaseTo      *time.Time
}

// ErrNoSnapshots is returned when the feed has not produced any rows yet.
var ErrNoSnapshots = errors.New("snapshots: feed is empty")

// DateOnly truncates t to midnight UTC so feed dates compare by calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusStrings(statuses []UnitStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
