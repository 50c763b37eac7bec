package rehab

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChecklistItem names one of the fixed remediation steps.
type ChecklistItem string

const (
	ItemVendorKey          ChecklistItem = "vendor_key"
	ItemUtilities          ChecklistItem = "utilities"
	ItemPestControl        ChecklistItem = "pest_control"
	ItemSurfaceRestoration ChecklistItem = "surface_restoration"
	ItemJunkRemoval        ChecklistItem = "junk_removal"
	ItemCleaned            ChecklistItem = "cleaned"
	ItemTenantKey          ChecklistItem = "tenant_key"
	ItemLeasingSignoff     ChecklistItem = "leasing_signoff"
)

// ChecklistItems lists the items in display order; Checklist is indexed by it.
var ChecklistItems = [checklistSize]ChecklistItem{
	ItemVendorKey,
	ItemUtilities,
	ItemPestControl,
	ItemSurfaceRestoration,
	ItemJunkRemoval,
	ItemCleaned,
	ItemTenantKey,
	ItemLeasingSignoff,
}

const checklistSize = 8

// OptionalChecklistItems are only tracked when requested at onboarding;
// otherwise they start excluded.
var OptionalChecklistItems = []ChecklistItem{
	ItemPestControl,
	ItemSurfaceRestoration,
	ItemJunkRemoval,
}

// Index returns the position of the item in ChecklistItems.
func (i ChecklistItem) Index() (int, bool) {
	for idx, item := range ChecklistItems {
		if item == i {
			return idx, true
		}
	}
	return 0, false
}

// ItemStatus is the three-way state of a checklist item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemExcluded  ItemStatus = "excluded"
)

// ItemState holds the persisted flags of one checklist item. Completed and
// Excluded are never both true; CompletedAt is set exactly when Completed is.
type ItemState struct {
	Completed   bool       `json:"completed"`
	Excluded    bool       `json:"excluded"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status collapses the flags into an ItemStatus.
func (s ItemState) Status() ItemStatus {
	switch {
	case s.Completed:
		return ItemCompleted
	case s.Excluded:
		return ItemExcluded
	default:
		return ItemPending
	}
}

// Cycle advances pending -> completed -> excluded -> pending.
func (s ItemState) Cycle(now time.Time) ItemState {
	switch s.Status() {
	case ItemPending:
		return s.complete(now)
	case ItemCompleted:
		return ItemState{Excluded: true}
	default:
		return ItemState{}
	}
}

func (s ItemState) complete(now time.Time) ItemState {
	if s.Completed && s.CompletedAt != nil {
		return s
	}
	at := now
	return ItemState{Completed: true, CompletedAt: &at}
}

// apply merges explicit flag changes. Setting one flag true clears the other.
func (s ItemState) apply(p ItemPatch, now time.Time) ItemState {
	next := s
	if p.Completed != nil {
		if *p.Completed {
			next = next.complete(now)
		} else {
			next.Completed = false
			next.CompletedAt = nil
		}
	}
	if p.Excluded != nil {
		if *p.Excluded {
			next = ItemState{Excluded: true}
		} else {
			next.Excluded = false
		}
	}
	return next
}

// ItemPatch carries optional flag changes for one item.
type ItemPatch struct {
	Completed *bool `json:"completed,omitempty"`
	Excluded  *bool `json:"excluded,omitempty"`
}

func (p ItemPatch) validate() error {
	if p.Completed != nil && p.Excluded != nil && *p.Completed && *p.Excluded {
		return fmt.Errorf("%w: item cannot be both completed and excluded", ErrInvalidInput)
	}
	return nil
}

// Checklist is the per-rehab set of item states, indexed like ChecklistItems.
type Checklist [checklistSize]ItemState

// Get returns the state of item.
func (c Checklist) Get(item ChecklistItem) ItemState {
	idx, ok := item.Index()
	if !ok {
		return ItemState{}
	}
	return c[idx]
}

// Set replaces the state of item. Unknown items are ignored.
func (c *Checklist) Set(item ChecklistItem, state ItemState) {
	if idx, ok := item.Index(); ok {
		c[idx] = state
	}
}

// Progress counts completed items over items not excluded.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// Progress derives completion, removing excluded items from the denominator.
func (c Checklist) Progress() Progress {
	var p Progress
	for _, s := range c {
		if s.Excluded {
			continue
		}
		p.Total++
		if s.Completed {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Completed * 100 / p.Total
	}
	return p
}

// MarshalJSON renders the checklist keyed by item name.
func (c Checklist) MarshalJSON() ([]byte, error) {
	out := make(map[ChecklistItem]ItemState, checklistSize)
	for idx, item := range ChecklistItems {
		out[item] = c[idx]
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a checklist keyed by item name.
func (c *Checklist) UnmarshalJSON(data []byte) error {
	var in map[ChecklistItem]ItemState
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	for item, state := range in {
		idx, ok := item.Index()
		if !ok {
			return fmt.Errorf("rehab: unknown checklist item %q", item)
		}
		c[idx] = state
	}
	return nil
}
