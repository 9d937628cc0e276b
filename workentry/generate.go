package workentry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// GENERATION - Entries from contract calendars
// =============================================================================

// GenerateRequest asks for draft entries covering the attendance of the
// given employees over [From, To).
type GenerateRequest struct {
	Employees []EmployeeID
	From      time.Time
	To        time.Time
	TypeID    TypeID
}

// Generate creates draft entries of req.TypeID for every attendance slot of
// the employees' contract calendars in [From, To) that no active entry
// covers yet. Calendar closures are left empty. Versions without a calendar
// produce nothing.
func (c *Coordinator) Generate(ctx context.Context, req GenerateRequest, opts Options) ([]WorkEntry, error) {
	from, to := normalizeTime(req.From), normalizeTime(req.To)
	if !to.After(from) {
		return nil, &IntervalError{Start: from, Stop: to, Reason: "generation window stop must be after start"}
	}

	var batch []NewEntry
	for _, emp := range req.Employees {
		slots, err := c.freeSlots(ctx, emp, from, to, true)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			batch = append(batch, NewEntry{
				EmployeeID: emp,
				VersionID:  slot.Payload,
				TypeID:     req.TypeID,
				Start:      slot.Start,
				Stop:       slot.Stop,
			})
		}
	}

	c.log.WithFields(logrus.Fields{
		"employees": len(req.Employees),
		"count":     len(batch),
		"window":    interval.NewSpan(from, to).String(),
	}).Debug("generate work entries")

	return c.Create(ctx, batch, opts)
}

// UndefinedSlots returns the attendance time of employee in [from, to) that
// no active entry covers. Closures count as attendance, so a holiday without
// a leave entry shows up.
func (c *Coordinator) UndefinedSlots(ctx context.Context, employee EmployeeID, from, to time.Time) ([]interval.Span, error) {
	from, to = normalizeTime(from), normalizeTime(to)
	if !to.After(from) {
		return nil, &IntervalError{Start: from, Stop: to, Reason: "window stop must be after start"}
	}
	slots, err := c.freeSlots(ctx, employee, from, to, false)
	if err != nil {
		return nil, err
	}
	return interval.Union(slots), nil
}

// freeSlots returns the attendance of employee's versions within [from, to)
// minus its active entries, tagged with the version each slot falls in.
func (c *Coordinator) freeSlots(ctx context.Context, employee EmployeeID, from, to time.Time, excludeLeaves bool) ([]interval.Interval[VersionID], error) {
	versions, err := c.registry.VersionsOverlapping(ctx, employee, from, to)
	if err != nil {
		return nil, fmt.Errorf("load contract versions of employee %s: %w", employee, err)
	}

	var attendance []interval.Interval[VersionID]
	for _, v := range versions {
		if v.CalendarID == "" {
			continue
		}
		clip := v.Clip(from, to)
		if !clip.Valid() {
			continue
		}
		spans, err := c.calendar.AttendanceIntervals(ctx, v.CalendarID, clip.Start, clip.Stop, excludeLeaves)
		if err != nil {
			return nil, fmt.Errorf("load attendance of calendar %s: %w", v.CalendarID, err)
		}
		for _, s := range interval.Clip(spans, clip) {
			attendance = append(attendance, interval.New(s.Start, s.Stop, v.ID))
		}
	}
	if len(attendance) == 0 {
		return nil, nil
	}

	window := interval.NewSpan(from, to)
	existing, err := c.store.Find(ctx, Query{Window: &window, EmployeeIDs: []EmployeeID{employee}, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load work entries: %w", err)
	}
	covered := make([]interval.Span, len(existing))
	for i, e := range existing {
		covered[i] = e.Span()
	}
	return interval.Subtract(attendance, covered), nil
}
