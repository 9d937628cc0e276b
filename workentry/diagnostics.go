package workentry

import (
	"context"
	"fmt"

	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// DIAGNOSTICS - Read-only reports
// =============================================================================

// CountConflicts returns the number of active entries in conflict that meet
// window, optionally for some employees only.
func (c *Coordinator) CountConflicts(ctx context.Context, window interval.Span, employees []EmployeeID) (int, error) {
	entries, err := c.store.Find(ctx, Query{
		Window:      &window,
		EmployeeIDs: employees,
		States:      []State{StateConflict},
		ActiveOnly:  true,
	})
	if err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return len(entries), nil
}

// DanglingReason explains why an entry lost its contract binding.
type DanglingReason string

const (
	DanglingMissingVersion DanglingReason = "missing_version"
	DanglingNotCovered     DanglingReason = "not_covered"
	DanglingOtherEmployee  DanglingReason = "other_employee"
)

// DanglingEntry is an active entry whose bound version no longer covers it.
type DanglingEntry struct {
	Entry  WorkEntry
	Reason DanglingReason
}

// DanglingEntries reports active entries of window whose version was deleted
// or revised so it no longer covers them. Nothing is modified: fixing them
// is a human decision.
func (c *Coordinator) DanglingEntries(ctx context.Context, window interval.Span) ([]DanglingEntry, error) {
	entries, err := c.store.Find(ctx, Query{Window: &window, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load work entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	versions, err := c.registry.Versions(ctx, versionIDs(entries))
	if err != nil {
		return nil, fmt.Errorf("load contract versions: %w", err)
	}

	var out []DanglingEntry
	for _, e := range entries {
		v, ok := versions[e.VersionID]
		switch {
		case !ok:
			out = append(out, DanglingEntry{Entry: e, Reason: DanglingMissingVersion})
		case v.EmployeeID != e.EmployeeID:
			out = append(out, DanglingEntry{Entry: e, Reason: DanglingOtherEmployee})
		case !v.Covers(e.Start, e.Stop):
			out = append(out, DanglingEntry{Entry: e, Reason: DanglingNotCovered})
		}
	}
	return out, nil
}
