package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// LOADER - Where calendar definitions come from
// =============================================================================

// Loader fetches a calendar definition by id. Implementations return an
// error wrapping ErrCalendarNotFound for unknown ids.
type Loader interface {
	LoadCalendar(ctx context.Context, id ID) (*Calendar, error)
}

// StaticLoader serves calendars from a fixed map. Useful in tests and demos.
type StaticLoader map[ID]*Calendar

func (s StaticLoader) LoadCalendar(_ context.Context, id ID) (*Calendar, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotFound, id)
	}
	return c, nil
}

// =============================================================================
// REGISTRY - Working-calendar queries by id
// =============================================================================

// Registry answers attendance and planning queries for stored calendars.
// It keeps no state of its own; every call loads the current revision.
type Registry struct {
	loader Loader
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{loader: loader}
}

// AttendanceIntervals returns the UTC attendance of calendar id within
// [from, to). With excludeLeaves the calendar's closures are removed.
func (r *Registry) AttendanceIntervals(ctx context.Context, id ID, from, to time.Time, excludeLeaves bool) ([]interval.Span, error) {
	cal, err := r.loader.LoadCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	spans, err := cal.Spans(from.UTC(), to.UTC(), excludeLeaves)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", id, err)
	}
	return spans, nil
}

// PlanHours returns the instant at which hours of work starting at from are
// done under calendar id.
func (r *Registry) PlanHours(ctx context.Context, id ID, hours decimal.Decimal, from time.Time, countLeaves bool) (time.Time, error) {
	cal, err := r.loader.LoadCalendar(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	end, err := cal.PlanHours(hours, from.UTC(), countLeaves)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar %s: %w", id, err)
	}
	return end, nil
}
