/*
conflict.go - Conflict detection

PURPOSE:
  Finds entries that cannot be validated as they stand and records it in
  their state. Three checks run over a window:

  1. Overlap: two active entries of one employee whose open intervals
     intersect. Both members are marked, whatever their state.
  2. Leave outside schedule: a leave entry (not validated, not cancelled)
     that shares no time with the attendance of its version's calendar.
     Versions without a calendar are not checked.
  3. Undefined type: the entry's type cannot be resolved.

RESTRICTION SET:
  A check may be restricted to a set S of entries. Only pairs with at least
  one member in S are reported, and only members of S are subject to the
  leave and type checks. Entries outside S are still loaded as neighbors.

STATE WRITES:
  Flagged entries move to conflict. Checked entries that were in conflict and
  are no longer flagged move back to draft. Nothing else is written.

  Detection never returns a domain error. Only storage and collaborator
  failures propagate.

BATCHING:
  One attendance query per calendar, spanning the checked entries of that
  calendar, however many entries there are.

SEE ALSO:
  - coordinator.go: runs the detector after every write
  - interval/interval.go: attendance intersection
*/
package workentry

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// REPORT
// =============================================================================

// Reason explains why an entry was flagged.
type Reason string

const (
	ReasonOverlap         Reason = "overlap"
	ReasonOutsideSchedule Reason = "leave_outside_schedule"
	ReasonUndefinedType   Reason = "undefined_type"
)

// Report is the outcome of one detection pass.
type Report struct {
	// Checked is the number of entries subject to the checks.
	Checked int

	// Flagged maps every flagged entry to its reasons.
	Flagged map[EntryID][]Reason

	// Cleared lists entries moved from conflict back to draft.
	Cleared []EntryID
}

func newReport() Report {
	return Report{Flagged: make(map[EntryID][]Reason)}
}

func (r Report) flag(id EntryID, reason Reason) {
	for _, existing := range r.Flagged[id] {
		if existing == reason {
			return
		}
	}
	r.Flagged[id] = append(r.Flagged[id], reason)
}

// FlaggedIDs returns the flagged ids in ascending order.
func (r Report) FlaggedIDs() []EntryID {
	ids := make([]EntryID, 0, len(r.Flagged))
	for id := range r.Flagged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Has reports whether id was flagged for reason.
func (r Report) Has(id EntryID, reason Reason) bool {
	for _, got := range r.Flagged[id] {
		if got == reason {
			return true
		}
	}
	return false
}

// Clean reports whether nothing was flagged.
func (r Report) Clean() bool { return len(r.Flagged) == 0 }

// =============================================================================
// SCOPE
// =============================================================================

// Scope selects what a detection pass looks at.
type Scope struct {
	Window interval.Span

	// Employees restricts the pass; empty means every employee.
	Employees []EmployeeID

	// Only is the restriction set S; nil means every candidate.
	Only []EntryID

	// States narrows S to entries in these states; empty means any.
	States []State
}

func (s Scope) restricted() (map[EntryID]bool, bool) {
	if s.Only == nil {
		return nil, false
	}
	set := make(map[EntryID]bool, len(s.Only))
	for _, id := range s.Only {
		set[id] = true
	}
	return set, true
}

// =============================================================================
// DETECTOR
// =============================================================================

// Detector runs the conflict checks inside a transaction.
type Detector struct {
	registry ContractRegistry
	calendar WorkingCalendar
	catalog  Catalog
	log      logrus.FieldLogger
}

func NewDetector(registry ContractRegistry, cal WorkingCalendar, catalog Catalog, log logrus.FieldLogger) *Detector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{registry: registry, calendar: cal, catalog: catalog, log: log}
}

// Check runs every check over scope and writes the resulting states.
func (d *Detector) Check(ctx context.Context, tx Store, scope Scope) (Report, error) {
	report := newReport()
	if !scope.Window.Valid() {
		return report, nil
	}
	candidates, checkedIDs, err := d.candidates(ctx, tx, scope)
	if err != nil {
		return report, err
	}
	inScope := func(id EntryID) bool { return checkedIDs[id] }

	var checked []WorkEntry
	for _, e := range candidates {
		if inScope(e.ID) {
			checked = append(checked, e)
		}
	}
	report.Checked = len(checked)
	if len(checked) == 0 {
		return report, nil
	}

	markOverlaps(candidates, inScope, report)

	types, err := d.catalog.EntryTypes(ctx, typeIDs(checked))
	if err != nil {
		return report, fmt.Errorf("load entry types: %w", err)
	}
	for _, e := range checked {
		if _, ok := types[e.TypeID]; !ok {
			report.flag(e.ID, ReasonUndefinedType)
		}
	}

	if err := d.markLeavesOutsideSchedule(ctx, checked, types, report); err != nil {
		return report, err
	}

	cleared, err := d.writeStates(ctx, tx, checked, candidates, report)
	if err != nil {
		return report, err
	}
	report.Cleared = cleared

	d.log.WithFields(logrus.Fields{
		"window":  scope.Window.String(),
		"checked": report.Checked,
		"flagged": len(report.Flagged),
		"cleared": len(report.Cleared),
	}).Debug("conflict check")
	return report, nil
}

// candidates loads the active entries of the window and decides which of
// them are checked. The window is then widened once to the checked entries'
// bounds so neighbors overlapping their outer parts are seen too.
func (d *Detector) candidates(ctx context.Context, tx Store, scope Scope) ([]WorkEntry, map[EntryID]bool, error) {
	window := scope.Window
	found, err := tx.Find(ctx, Query{Window: &window, EmployeeIDs: scope.Employees, ActiveOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("load conflict candidates: %w", err)
	}

	only, restricted := scope.restricted()
	checked := make(map[EntryID]bool)
	widened := false
	for _, e := range found {
		if (restricted && !only[e.ID]) || !contains(scope.States, e.State) {
			continue
		}
		checked[e.ID] = true
		if e.Start.Before(window.Start) {
			window.Start, widened = e.Start, true
		}
		if e.Stop.After(window.Stop) {
			window.Stop, widened = e.Stop, true
		}
	}
	if !widened {
		return found, checked, nil
	}

	found, err = tx.Find(ctx, Query{Window: &window, EmployeeIDs: scope.Employees, ActiveOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("load conflict neighbors: %w", err)
	}
	return found, checked, nil
}

// markOverlaps sweeps each employee's entries by start time.
func markOverlaps(candidates []WorkEntry, inScope func(EntryID) bool, report Report) {
	byEmployee := make(map[EmployeeID][]WorkEntry)
	for _, e := range candidates {
		byEmployee[e.EmployeeID] = append(byEmployee[e.EmployeeID], e)
	}
	for _, entries := range byEmployee {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].Start.Equal(entries[j].Start) {
				return entries[i].Start.Before(entries[j].Start)
			}
			return entries[i].ID < entries[j].ID
		})
		for i := range entries {
			for j := i + 1; j < len(entries) && entries[j].Start.Before(entries[i].Stop); j++ {
				a, b := entries[i], entries[j]
				if !a.Overlaps(b) || !(inScope(a.ID) || inScope(b.ID)) {
					continue
				}
				report.flag(a.ID, ReasonOverlap)
				report.flag(b.ID, ReasonOverlap)
			}
		}
	}
}

// markLeavesOutsideSchedule flags leaves sharing no time with attendance.
func (d *Detector) markLeavesOutsideSchedule(ctx context.Context, checked []WorkEntry, types map[TypeID]EntryType, report Report) error {
	var leaves []WorkEntry
	for _, e := range checked {
		if t, ok := types[e.TypeID]; ok && t.IsLeave && e.State != StateValidated && e.State != StateCancelled {
			leaves = append(leaves, e)
		}
	}
	if len(leaves) == 0 {
		return nil
	}

	versions, err := d.registry.Versions(ctx, versionIDs(leaves))
	if err != nil {
		return fmt.Errorf("load contract versions: %w", err)
	}

	byCalendar := make(map[CalendarID][]WorkEntry)
	var order []CalendarID
	for _, e := range leaves {
		v, ok := versions[e.VersionID]
		if !ok || v.CalendarID == "" {
			continue
		}
		if _, seen := byCalendar[v.CalendarID]; !seen {
			order = append(order, v.CalendarID)
		}
		byCalendar[v.CalendarID] = append(byCalendar[v.CalendarID], e)
	}

	for _, cal := range order {
		entries := byCalendar[cal]
		tagged := make([]interval.Interval[EntryID], len(entries))
		for i, e := range entries {
			tagged[i] = interval.New(e.Start, e.Stop, e.ID)
		}
		bounds, _ := interval.Bounds(tagged)
		attendance, err := d.calendar.AttendanceIntervals(ctx, cal, bounds.Start, bounds.Stop, false)
		if err != nil {
			return fmt.Errorf("load attendance of calendar %s: %w", cal, err)
		}
		inside := make(map[EntryID]bool)
		for _, piece := range interval.Intersect(tagged, attendance) {
			inside[piece.Payload] = true
		}
		for _, e := range entries {
			if !inside[e.ID] {
				report.flag(e.ID, ReasonOutsideSchedule)
			}
		}
	}
	return nil
}

// writeStates persists the report and returns the cleared ids.
func (d *Detector) writeStates(ctx context.Context, tx Store, checked, candidates []WorkEntry, report Report) ([]EntryID, error) {
	var toConflict []EntryID
	for _, e := range candidates {
		if _, flagged := report.Flagged[e.ID]; flagged && e.State != StateConflict {
			toConflict = append(toConflict, e.ID)
		}
	}
	var toDraft []EntryID
	for _, e := range checked {
		if _, flagged := report.Flagged[e.ID]; !flagged && e.State == StateConflict {
			toDraft = append(toDraft, e.ID)
		}
	}

	if len(toConflict) > 0 {
		if err := tx.SetState(ctx, toConflict, StateConflict); err != nil {
			return nil, fmt.Errorf("mark conflicts: %w", err)
		}
	}
	if len(toDraft) > 0 {
		if err := tx.SetState(ctx, toDraft, StateDraft); err != nil {
			return nil, fmt.Errorf("clear conflicts: %w", err)
		}
	}
	return toDraft, nil
}

func typeIDs(entries []WorkEntry) []TypeID {
	seen := make(map[TypeID]bool)
	var ids []TypeID
	for _, e := range entries {
		if e.TypeID != "" && !seen[e.TypeID] {
			seen[e.TypeID] = true
			ids = append(ids, e.TypeID)
		}
	}
	return ids
}

func versionIDs(entries []WorkEntry) []VersionID {
	seen := make(map[VersionID]bool)
	var ids []VersionID
	for _, e := range entries {
		if e.VersionID != "" && !seen[e.VersionID] {
			seen[e.VersionID] = true
			ids = append(ids, e.VersionID)
		}
	}
	return ids
}

func employeeIDs(entries []WorkEntry) []EmployeeID {
	seen := make(map[EmployeeID]bool)
	var ids []EmployeeID
	for _, e := range entries {
		if !seen[e.EmployeeID] {
			seen[e.EmployeeID] = true
			ids = append(ids, e.EmployeeID)
		}
	}
	return ids
}
