/*
Package interval provides set operations over half-open time intervals.

PURPOSE:
  Work entries, calendar attendances, contract versions and planned closures
  are all half-open intervals [Start, Stop). This package is the single place
  where they are combined: intersection, subtraction, coalescing and overlap
  detection.

KEY CONCEPTS:
  Interval[T]: a [Start, Stop) range carrying a payload (an entry id, a
               calendar attendance, nothing at all).
  Span:        an Interval without payload.

TOUCHING IS NOT OVERLAPPING:
  a.Stop == b.Start is permitted everywhere. Back-to-back entries
  (08:00-12:00, 12:00-16:00) never conflict.

DETERMINISM:
  Every operation is pure. Results are sorted by Start, then Stop. Inputs are
  never mutated.

SEE ALSO:
  - calendar/calendar.go: produces attendance spans
  - workentry/conflict.go: leave-outside-schedule check
*/
package interval

import (
	"sort"
	"time"
)

// =============================================================================
// INTERVAL
// =============================================================================

// Interval is a half-open range [Start, Stop) tagged with a payload.
type Interval[T any] struct {
	Start   time.Time
	Stop    time.Time
	Payload T
}

// Span is an interval without payload.
type Span = Interval[struct{}]

// NewSpan builds a payload-free interval.
func NewSpan(start, stop time.Time) Span {
	return Span{Start: start, Stop: stop}
}

// New builds a tagged interval.
func New[T any](start, stop time.Time, payload T) Interval[T] {
	return Interval[T]{Start: start, Stop: stop, Payload: payload}
}

// Valid reports whether Stop is strictly after Start.
func (i Interval[T]) Valid() bool { return i.Stop.After(i.Start) }

// Duration returns Stop - Start.
func (i Interval[T]) Duration() time.Duration { return i.Stop.Sub(i.Start) }

// Overlaps reports whether the open interiors of i and o intersect.
func (i Interval[T]) Overlaps(o Interval[T]) bool {
	return i.Start.Before(o.Stop) && o.Start.Before(i.Stop)
}

// Contains reports whether [start, stop) lies entirely within i.
func (i Interval[T]) Contains(start, stop time.Time) bool {
	return !start.Before(i.Start) && !stop.After(i.Stop)
}

// Span drops the payload.
func (i Interval[T]) Span() Span { return Span{Start: i.Start, Stop: i.Stop} }

func (i Interval[T]) String() string {
	return "[" + i.Start.UTC().Format(time.RFC3339) + ", " + i.Stop.UTC().Format(time.RFC3339) + ")"
}

// =============================================================================
// ORDERING
// =============================================================================

// Sort returns a copy of in ordered by Start then Stop.
func Sort[T any](in []Interval[T]) []Interval[T] {
	out := make([]Interval[T], len(in))
	copy(out, in)
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].Start.Equal(out[b].Start) {
			return out[a].Start.Before(out[b].Start)
		}
		return out[a].Stop.Before(out[b].Stop)
	})
	return out
}

// =============================================================================
// SET OPERATIONS
// =============================================================================

// Union coalesces touching or overlapping intervals regardless of payload.
func Union[T any](in []Interval[T]) []Span {
	sorted := Sort(in)
	var out []Span
	for _, iv := range sorted {
		if !iv.Valid() {
			continue
		}
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].Stop) {
			if iv.Stop.After(out[n-1].Stop) {
				out[n-1].Stop = iv.Stop
			}
			continue
		}
		out = append(out, iv.Span())
	}
	return out
}

// Intersect returns the maximal sub-intervals of A that are also covered by
// B. Payloads are taken from A.
func Intersect[T, U any](a []Interval[T], b []Interval[U]) []Interval[T] {
	cover := Union(b)
	var out []Interval[T]
	for _, iv := range Sort(a) {
		if !iv.Valid() {
			continue
		}
		// cover is sorted and disjoint: skip spans ending before iv starts.
		j := sort.Search(len(cover), func(k int) bool { return cover[k].Stop.After(iv.Start) })
		for ; j < len(cover) && cover[j].Start.Before(iv.Stop); j++ {
			start, stop := maxTime(iv.Start, cover[j].Start), minTime(iv.Stop, cover[j].Stop)
			if stop.After(start) {
				out = append(out, Interval[T]{Start: start, Stop: stop, Payload: iv.Payload})
			}
		}
	}
	return Sort(out)
}

// Subtract returns the portions of A not covered by B.
func Subtract[T, U any](a []Interval[T], b []Interval[U]) []Interval[T] {
	cover := Union(b)
	var out []Interval[T]
	for _, iv := range Sort(a) {
		if !iv.Valid() {
			continue
		}
		cursor := iv.Start
		j := sort.Search(len(cover), func(k int) bool { return cover[k].Stop.After(iv.Start) })
		for ; j < len(cover) && cover[j].Start.Before(iv.Stop); j++ {
			if cover[j].Start.After(cursor) {
				out = append(out, Interval[T]{Start: cursor, Stop: cover[j].Start, Payload: iv.Payload})
			}
			if cover[j].Stop.After(cursor) {
				cursor = cover[j].Stop
			}
		}
		if iv.Stop.After(cursor) {
			out = append(out, Interval[T]{Start: cursor, Stop: iv.Stop, Payload: iv.Payload})
		}
	}
	return Sort(out)
}

// MergeAdjacent coalesces touching or overlapping intervals that carry equal
// payloads. Intervals with different payloads are left apart even if they
// overlap.
func MergeAdjacent[T comparable](in []Interval[T]) []Interval[T] {
	groups := make(map[T][]Interval[T])
	var order []T
	for _, iv := range in {
		if !iv.Valid() {
			continue
		}
		if _, seen := groups[iv.Payload]; !seen {
			order = append(order, iv.Payload)
		}
		groups[iv.Payload] = append(groups[iv.Payload], iv)
	}

	var out []Interval[T]
	for _, payload := range order {
		for _, s := range Union(groups[payload]) {
			out = append(out, Interval[T]{Start: s.Start, Stop: s.Stop, Payload: payload})
		}
	}
	return Sort(out)
}

// AnyOverlap reports whether two intervals of in overlap in their open
// interiors.
func AnyOverlap[T any](in []Interval[T]) bool {
	sorted := Sort(in)
	if len(sorted) < 2 {
		return false
	}
	// sorted by start, so tracking the furthest stop is enough
	furthest := sorted[0].Stop
	for _, iv := range sorted[1:] {
		if iv.Start.Before(furthest) {
			return true
		}
		if iv.Stop.After(furthest) {
			furthest = iv.Stop
		}
	}
	return false
}

// Clip restricts every interval to window, dropping what falls outside.
func Clip[T any](in []Interval[T], window Span) []Interval[T] {
	return Intersect(in, []Span{window})
}

// TotalDuration sums the lengths of the intervals. Overlapping intervals are
// counted once per interval, so callers that need covered time should pass
// the result of Union.
func TotalDuration[T any](in []Interval[T]) time.Duration {
	var total time.Duration
	for _, iv := range in {
		if iv.Valid() {
			total += iv.Duration()
		}
	}
	return total
}

// Bounds returns the smallest span containing every interval. ok is false
// when in is empty.
func Bounds[T any](in []Interval[T]) (span Span, ok bool) {
	for i, iv := range in {
		if i == 0 || iv.Start.Before(span.Start) {
			span.Start = iv.Start
		}
		if i == 0 || iv.Stop.After(span.Stop) {
			span.Stop = iv.Stop
		}
	}
	return span, len(in) > 0
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
