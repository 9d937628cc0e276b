/*
coordinator.go - Write operations on work entries

PURPOSE:
  The Coordinator is the only writer of work entries. Every operation runs
  in one storage transaction and follows the same order:

    normalize ──▶ bind contract ──▶ resolve duration ──▶ persist ──▶ re-check

  The re-check (conflict detection over the window the write touched) is
  part of the transaction: a batch commits together with the conflict states
  it produced, or not at all.

ERROR-CHECKING SCOPE:
  guarded() wraps a write closure. Before touching storage the closure records
  the window and the employees it touches in a footprint (old and new
  intervals for updates); after the write the detector runs over that
  footprint. On every exit path the check is attempted:
  - success: inside the transaction, before commit
  - user or constraint error: the transaction rolls back, then the footprint
    is re-checked in a transaction of its own and any failure is joined to
    the original error
  - transient storage error or cancelled context: the check is skipped and
    the original error is returned

OPERATIONS:
  Create     new entries in draft (or conflict if the check flags them)
  Update     patch fields, rebind and recompute when the interval changes
  Cancel     logical delete (state cancelled, Active false), not from conflict
  Reactivate cancelled back to draft
  Delete     physical delete, refused for validated entries
  Validate   move draft/conflict entries to validated if the check is clean
  Recheck    re-run detection over a window without writing entries

SEE ALSO:
  - conflict.go: the checks
  - duration.go: durations
  - contract.go: contract binding
  - generate.go, diagnostics.go: calendar-driven helpers
*/
package workentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// COORDINATOR
// =============================================================================

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	Store    TxStore
	Registry ContractRegistry
	Calendar WorkingCalendar
	Catalog  Catalog

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Coordinator serializes nothing itself; concurrent calls are safe and rely
// on storage transactions for isolation.
type Coordinator struct {
	store     TxStore
	registry  ContractRegistry
	calendar  WorkingCalendar
	catalog   Catalog
	detector  *Detector
	durations *DurationResolver
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewCoordinator(deps Dependencies) *Coordinator {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:     deps.Store,
		registry:  deps.Registry,
		calendar:  deps.Calendar,
		catalog:   deps.Catalog,
		detector:  NewDetector(deps.Registry, deps.Calendar, deps.Catalog, log),
		durations: NewDurationResolver(deps.Calendar),
		log:       log,
		now:       now,
	}
}

// =============================================================================
// FOOTPRINT - What a write touched
// =============================================================================

type footprint struct {
	window    interval.Span
	set       bool
	employees map[EmployeeID]bool
	order     []EmployeeID
}

func newFootprint(opts Options) *footprint {
	fp := &footprint{employees: make(map[EmployeeID]bool)}
	if opts.ErrorWindow != nil && opts.ErrorWindow.Valid() {
		fp.window, fp.set = *opts.ErrorWindow, true
	}
	return fp
}

func (fp *footprint) add(e WorkEntry) {
	if !e.Stop.After(e.Start) {
		return
	}
	if !fp.set {
		fp.window, fp.set = e.Span(), true
	} else {
		if e.Start.Before(fp.window.Start) {
			fp.window.Start = e.Start
		}
		if e.Stop.After(fp.window.Stop) {
			fp.window.Stop = e.Stop
		}
	}
	if !fp.employees[e.EmployeeID] {
		fp.employees[e.EmployeeID] = true
		fp.order = append(fp.order, e.EmployeeID)
	}
}

func (fp *footprint) empty() bool { return len(fp.order) == 0 }

// scope re-checks the draft and conflict entries of the footprint. Validated
// neighbors are still seen through the overlap check.
func (fp *footprint) scope() Scope {
	return Scope{
		Window:    fp.window,
		Employees: fp.order,
		States:    []State{StateDraft, StateConflict},
	}
}

// =============================================================================
// ERROR-CHECKING SCOPE
// =============================================================================

// guarded runs write in a transaction followed by the conflict check over
// the footprint the write recorded. Writes record their footprint before
// touching storage, so a failed write is still followed by a re-check in a
// fresh transaction, except on transient storage failures.
func (c *Coordinator) guarded(ctx context.Context, opts Options, write func(tx Store, fp *footprint) error) (Report, error) {
	fp := newFootprint(opts)
	var report Report
	var writeErr error

	err := c.store.WithTx(ctx, func(tx Store) error {
		if writeErr = write(tx, fp); writeErr != nil {
			return writeErr
		}
		if opts.SkipCheck || fp.empty() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("aborted before conflict check: %w", err)
		}
		r, err := c.detector.Check(ctx, tx, fp.scope())
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		report = r
		return nil
	})
	if err == nil {
		return report, nil
	}

	if writeErr == nil || opts.SkipCheck {
		return Report{}, err
	}
	if IsRetryable(writeErr) {
		c.log.WithError(writeErr).Warn("transient storage failure, conflict check skipped")
		return Report{}, err
	}
	if fp.empty() || ctx.Err() != nil {
		return Report{}, err
	}

	// The write rolled back. Re-evaluate what it would have touched so stale
	// conflict states around it are still refreshed.
	_, checkErr := c.check(ctx, fp.scope())
	return Report{}, errors.Join(err, checkErr)
}

func (c *Coordinator) check(ctx context.Context, scope Scope) (Report, error) {
	var report Report
	err := c.store.WithTx(ctx, func(tx Store) error {
		r, err := c.detector.Check(ctx, tx, scope)
		report = r
		return err
	})
	return report, err
}

// =============================================================================
// CREATE
// =============================================================================

// NewEntry is the input of Create. ID, VersionID, CompanyID and Stop are
// optional. When Stop is zero and Duration is set, Stop is planned on the
// calendar (calendar-driven types) or added to Start.
type NewEntry struct {
	ID         EntryID
	Name       string
	EmployeeID EmployeeID
	VersionID  VersionID
	TypeID     TypeID
	CompanyID  CompanyID
	Start      time.Time
	Stop       time.Time
	Duration   *decimal.Decimal
}

// Create persists a batch of entries. Any binding or interval error aborts
// the whole batch.
func (c *Coordinator) Create(ctx context.Context, batch []NewEntry, opts Options) ([]WorkEntry, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	now := c.now().UTC()
	entries := make([]WorkEntry, len(batch))
	for i, in := range batch {
		id := in.ID
		if id == "" {
			id = EntryID(uuid.NewString())
		}
		entries[i] = WorkEntry{
			ID:         id,
			Name:       in.Name,
			EmployeeID: in.EmployeeID,
			VersionID:  in.VersionID,
			TypeID:     in.TypeID,
			CompanyID:  in.CompanyID,
			Start:      normalizeTime(in.Start),
			Stop:       normalizeTime(in.Stop),
			State:      StateDraft,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	c.log.WithFields(logrus.Fields{
		"count":     len(entries),
		"employees": len(employeeIDs(entries)),
	}).Debug("create work entries")

	report, err := c.guarded(ctx, opts, func(tx Store, fp *footprint) error {
		for _, e := range entries {
			fp.add(e)
		}
		types, err := c.catalog.EntryTypes(ctx, typeIDs(entries))
		if err != nil {
			return fmt.Errorf("load entry types: %w", err)
		}
		contracts, err := loadContracts(ctx, c.registry, entries)
		if err != nil {
			return err
		}
		if err := c.planStops(ctx, entries, batch, types, contracts); err != nil {
			return err
		}
		for _, e := range entries {
			if err := checkInterval(e); err != nil {
				return err
			}
			fp.add(e)
		}

		versions := make(map[EntryID]ContractVersion, len(entries))
		for i := range entries {
			v, err := contracts.bind(entries[i])
			if err != nil {
				return err
			}
			entries[i].VersionID = v.ID
			versions[entries[i].ID] = v
		}

		if opts.PropagateCompany {
			if err := c.defaultCompanies(ctx, entries); err != nil {
				return err
			}
		}
		if err := c.resolveDurations(ctx, entries, types, versions); err != nil {
			return err
		}

		if err := tx.Insert(ctx, entries); err != nil {
			return fmt.Errorf("insert work entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyReport(entries, report), nil
}

// planStops fills the missing stops of entries that carry a duration.
func (c *Coordinator) planStops(ctx context.Context, entries []WorkEntry, batch []NewEntry, types map[TypeID]EntryType, contracts *contractIndex) error {
	for i := range entries {
		e := &entries[i]
		if !e.Stop.IsZero() || batch[i].Duration == nil || e.Start.IsZero() {
			continue
		}
		hours := *batch[i].Duration
		if hours.IsNegative() {
			return &IntervalError{EntryID: e.ID, Start: e.Start, Reason: "negative duration"}
		}
		v, ok := contracts.versionAt(*e, e.Start)
		if t := types[e.TypeID]; ok && t.UsesCalendarDuration && v.CalendarID != "" {
			stop, err := c.calendar.PlanHours(ctx, v.CalendarID, hours, e.Start, true)
			if err != nil {
				return fmt.Errorf("plan %s hours on calendar %s: %w", hours, v.CalendarID, err)
			}
			e.Stop = normalizeTime(stop)
			continue
		}
		e.Stop = normalizeTime(e.Start.Add(DurationOf(hours)))
	}
	return nil
}

func (c *Coordinator) defaultCompanies(ctx context.Context, entries []WorkEntry) error {
	var missing []WorkEntry
	for _, e := range entries {
		if e.CompanyID == "" {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	employees, err := c.catalog.Employees(ctx, employeeIDs(missing))
	if err != nil {
		return fmt.Errorf("load employees: %w", err)
	}
	for i := range entries {
		if entries[i].CompanyID != "" {
			continue
		}
		if emp, ok := employees[entries[i].EmployeeID]; ok {
			entries[i].CompanyID = emp.CompanyID
		}
	}
	return nil
}

func (c *Coordinator) resolveDurations(ctx context.Context, entries []WorkEntry, types map[TypeID]EntryType, versions map[EntryID]ContractVersion) error {
	inputs := make([]DurationInput, len(entries))
	for i, e := range entries {
		inputs[i] = DurationInput{Entry: e, Type: types[e.TypeID], Calendar: versions[e.ID].CalendarID}
	}
	hours, err := c.durations.Resolve(ctx, inputs)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].Duration = hours[entries[i].ID]
	}
	return nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Patch lists the fields to change. Nil fields are left alone.
type Patch struct {
	Name       *string
	EmployeeID *EmployeeID
	VersionID  *VersionID
	TypeID     *TypeID
	CompanyID  *CompanyID
	Start      *time.Time
	Stop       *time.Time
	State      *State
	Active     *bool
}

// touchesSchedule reports whether the patch can change conflict outcomes.
func (p Patch) touchesSchedule() bool {
	return p.Start != nil || p.Stop != nil || p.EmployeeID != nil || p.TypeID != nil ||
		p.Active != nil || p.State != nil
}

// Update applies patch to every entry in ids.
func (c *Coordinator) Update(ctx context.Context, ids []EntryID, patch Patch, opts Options) ([]WorkEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if !patch.touchesSchedule() {
		opts.SkipCheck = true
	}
	c.log.WithField("count", len(ids)).Debug("update work entries")

	var updated []WorkEntry
	report, err := c.guarded(ctx, opts, func(tx Store, fp *footprint) error {
		old, err := tx.Get(ctx, ids)
		if err != nil {
			return err
		}
		now := c.now().UTC()

		updated = make([]WorkEntry, len(old))
		var rebind []int
		for _, o := range old {
			fp.add(o)
			fp.add(patchSchedule(o, patch))
		}
		for i, o := range old {
			n, err := applyPatch(o, patch)
			if err != nil {
				return err
			}
			n.UpdatedAt = now
			if err := checkInterval(n); err != nil {
				return err
			}
			// a new employee or interval invalidates the old binding unless
			// the patch names the version itself
			if patch.VersionID == nil && (n.EmployeeID != o.EmployeeID || !n.Start.Equal(o.Start) || !n.Stop.Equal(o.Stop)) {
				n.VersionID = ""
			}
			if n.VersionID != o.VersionID || n.TypeID != o.TypeID || !n.Start.Equal(o.Start) || !n.Stop.Equal(o.Stop) {
				rebind = append(rebind, i)
			}
			updated[i] = n
		}

		if len(rebind) > 0 {
			if err := c.rebind(ctx, updated, rebind); err != nil {
				return err
			}
		}

		if err := tx.Update(ctx, updated); err != nil {
			return fmt.Errorf("update work entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyReport(updated, report), nil
}

// rebind binds and re-resolves the durations of updated[idx...].
func (c *Coordinator) rebind(ctx context.Context, updated []WorkEntry, idx []int) error {
	subset := make([]WorkEntry, len(idx))
	for k, i := range idx {
		subset[k] = updated[i]
	}
	types, err := c.catalog.EntryTypes(ctx, typeIDs(subset))
	if err != nil {
		return fmt.Errorf("load entry types: %w", err)
	}
	contracts, err := loadContracts(ctx, c.registry, subset)
	if err != nil {
		return err
	}
	versions := make(map[EntryID]ContractVersion, len(subset))
	for k := range subset {
		v, err := contracts.bind(subset[k])
		if err != nil {
			return err
		}
		subset[k].VersionID = v.ID
		versions[subset[k].ID] = v
	}
	if err := c.resolveDurations(ctx, subset, types, versions); err != nil {
		return err
	}
	for k, i := range idx {
		updated[i] = subset[k]
	}
	return nil
}

// applyPatch returns o with patch applied, enforcing the lifecycle rules:
// update may move entries to draft or cancelled only, validated entries
// cannot go back to draft and conflict entries cannot be cancelled. Active
// always mirrors the state.
func applyPatch(o WorkEntry, p Patch) (WorkEntry, error) {
	n := patchSchedule(o, p)
	if p.Name != nil {
		n.Name = *p.Name
	}
	if p.VersionID != nil {
		n.VersionID = *p.VersionID
	}
	if p.TypeID != nil {
		n.TypeID = *p.TypeID
	}
	if p.CompanyID != nil {
		n.CompanyID = *p.CompanyID
	}

	target := o.State
	if p.State != nil {
		target = *p.State
	}
	if p.Active != nil {
		mirrored := StateCancelled
		if *p.Active {
			mirrored = StateDraft
			if o.Active && p.State == nil {
				mirrored = o.State
			}
		}
		if p.State != nil && *p.State != mirrored {
			return o, &TransitionError{EntryID: o.ID, From: o.State, To: *p.State}
		}
		target = mirrored
	}

	if target != o.State {
		if err := checkTransition(o.ID, o.State, target); err != nil {
			return o, err
		}
	}
	n.State = target
	n.Active = target != StateCancelled
	return n, nil
}

// patchSchedule applies the fields of p that place an entry on the timeline.
func patchSchedule(o WorkEntry, p Patch) WorkEntry {
	n := o
	if p.EmployeeID != nil {
		n.EmployeeID = *p.EmployeeID
	}
	if p.Start != nil {
		n.Start = normalizeTime(*p.Start)
	}
	if p.Stop != nil {
		n.Stop = normalizeTime(*p.Stop)
	}
	return n
}

func checkTransition(id EntryID, from, to State) error {
	switch to {
	case StateDraft:
		if from == StateValidated {
			return &TransitionError{EntryID: id, From: from, To: to}
		}
		return nil
	case StateCancelled:
		// conflicts are resolved by editing or deleting the entry
		if from == StateConflict {
			return &TransitionError{EntryID: id, From: from, To: to}
		}
		return nil
	default:
		// validated and conflict are reached through Validate and the
		// conflict check only
		return &TransitionError{EntryID: id, From: from, To: to}
	}
}

// Cancel logically deletes entries.
func (c *Coordinator) Cancel(ctx context.Context, ids []EntryID, opts Options) ([]WorkEntry, error) {
	state := StateCancelled
	return c.Update(ctx, ids, Patch{State: &state}, opts)
}

// Reactivate brings cancelled entries back to draft.
func (c *Coordinator) Reactivate(ctx context.Context, ids []EntryID, opts Options) ([]WorkEntry, error) {
	state := StateDraft
	return c.Update(ctx, ids, Patch{State: &state}, opts)
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes entries physically. Validated entries block the whole call.
func (c *Coordinator) Delete(ctx context.Context, ids []EntryID, opts Options) error {
	if len(ids) == 0 {
		return nil
	}
	c.log.WithField("count", len(ids)).Debug("delete work entries")

	_, err := c.guarded(ctx, opts, func(tx Store, fp *footprint) error {
		entries, err := tx.Get(ctx, ids)
		if err != nil {
			return err
		}
		var validated []EntryID
		for _, e := range entries {
			fp.add(e)
			if e.State == StateValidated {
				validated = append(validated, e.ID)
			}
		}
		if len(validated) > 0 {
			return &DeleteValidatedError{EntryIDs: validated}
		}
		if err := tx.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete work entries: %w", err)
		}
		return nil
	})
	return err
}

// =============================================================================
// VALIDATE
// =============================================================================

// ValidationResult reports a Validate call. A failed validation is not an
// error: the flagged entries are committed in conflict and listed here.
type ValidationResult struct {
	// Validated lists entries moved to validated.
	Validated []EntryID

	// Conflicts lists every entry flagged by the check, including neighbors
	// outside the requested ids.
	Conflicts map[EntryID][]Reason

	// Skipped lists requested entries that were already validated or are
	// cancelled.
	Skipped []EntryID
}

// OK reports whether validation succeeded.
func (r ValidationResult) OK() bool { return len(r.Conflicts) == 0 }

// Validate moves draft and conflict entries to validated when the conflict
// check over them is clean. Otherwise the flagged entries end in conflict and
// nothing is validated.
func (c *Coordinator) Validate(ctx context.Context, ids []EntryID) (ValidationResult, error) {
	var result ValidationResult
	if len(ids) == 0 {
		return result, nil
	}

	err := c.store.WithTx(ctx, func(tx Store) error {
		result = ValidationResult{}
		entries, err := tx.Get(ctx, ids)
		if err != nil {
			return err
		}

		var targets []WorkEntry
		for _, e := range entries {
			if e.Active && (e.State == StateDraft || e.State == StateConflict) {
				targets = append(targets, e)
			} else {
				result.Skipped = append(result.Skipped, e.ID)
			}
		}
		if len(targets) == 0 {
			return nil
		}

		tagged := make([]interval.Span, len(targets))
		only := make([]EntryID, len(targets))
		for i, e := range targets {
			tagged[i] = e.Span()
			only[i] = e.ID
		}
		window, _ := interval.Bounds(tagged)

		report, err := c.detector.Check(ctx, tx, Scope{Window: window, Employees: employeeIDs(targets), Only: only})
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if !report.Clean() {
			result.Conflicts = report.Flagged
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.SetState(ctx, only, StateValidated); err != nil {
			return fmt.Errorf("validate work entries: %w", err)
		}
		result.Validated = only
		return nil
	})
	if err != nil {
		return ValidationResult{}, err
	}

	if !result.OK() {
		c.log.WithFields(logrus.Fields{
			"requested": len(ids),
			"conflicts": len(result.Conflicts),
		}).Warn("validation produced conflicts")
	} else {
		c.log.WithField("validated", len(result.Validated)).Debug("validate work entries")
	}
	return result, nil
}

// =============================================================================
// RECHECK
// =============================================================================

// Recheck re-runs conflict detection over the draft and conflict entries of
// a window, without any entry write. Use it after calendar or contract edits.
func (c *Coordinator) Recheck(ctx context.Context, window interval.Span, employees []EmployeeID) (Report, error) {
	if !window.Valid() {
		return Report{}, &IntervalError{Start: window.Start, Stop: window.Stop, Reason: "window stop must be after start"}
	}
	return c.check(ctx, Scope{Window: window, Employees: employees, States: []State{StateDraft, StateConflict}})
}

// =============================================================================
// HELPERS
// =============================================================================

func checkInterval(e WorkEntry) error {
	switch {
	case e.Start.IsZero():
		return &IntervalError{EntryID: e.ID, Start: e.Start, Stop: e.Stop, Reason: "start is missing"}
	case e.Stop.IsZero():
		return &IntervalError{EntryID: e.ID, Start: e.Start, Stop: e.Stop, Reason: "stop is missing"}
	case !e.Stop.After(e.Start):
		return &IntervalError{EntryID: e.ID, Start: e.Start, Stop: e.Stop, Reason: "stop must be after start"}
	}
	return nil
}

// normalizeTime stores instants in UTC at microsecond precision, the finest
// every backend keeps.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// applyReport reflects the check's state writes on entries.
func applyReport(entries []WorkEntry, report Report) []WorkEntry {
	cleared := make(map[EntryID]bool, len(report.Cleared))
	for _, id := range report.Cleared {
		cleared[id] = true
	}
	for i := range entries {
		if _, flagged := report.Flagged[entries[i].ID]; flagged && entries[i].Active {
			entries[i].State = StateConflict
		} else if cleared[entries[i].ID] {
			entries[i].State = StateDraft
		}
	}
	return entries
}
