package workentry

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// contractIndex holds the contract versions relevant to one write batch.
// It is loaded with one registry call per employee, plus one call for
// explicitly referenced versions.
type contractIndex struct {
	byEmployee map[EmployeeID][]ContractVersion
	explicit   map[VersionID]ContractVersion
}

// loadContracts fetches the versions needed to bind entries. Entries whose
// stop is not known yet must still carry their start.
func loadContracts(ctx context.Context, registry ContractRegistry, entries []WorkEntry) (*contractIndex, error) {
	ix := &contractIndex{
		byEmployee: make(map[EmployeeID][]ContractVersion),
		explicit:   make(map[VersionID]ContractVersion),
	}

	var explicitIDs []VersionID
	type span struct{ from, to time.Time }
	ranges := make(map[EmployeeID]*span)
	var order []EmployeeID

	for _, e := range entries {
		if e.VersionID != "" {
			explicitIDs = append(explicitIDs, e.VersionID)
			continue
		}
		to := e.Stop
		if !to.After(e.Start) {
			to = e.Start.Add(time.Nanosecond)
		}
		r, ok := ranges[e.EmployeeID]
		if !ok {
			ranges[e.EmployeeID] = &span{from: e.Start, to: to}
			order = append(order, e.EmployeeID)
			continue
		}
		if e.Start.Before(r.from) {
			r.from = e.Start
		}
		if to.After(r.to) {
			r.to = to
		}
	}

	if len(explicitIDs) > 0 {
		found, err := registry.Versions(ctx, explicitIDs)
		if err != nil {
			return nil, fmt.Errorf("load contract versions: %w", err)
		}
		ix.explicit = found
	}

	for _, emp := range order {
		r := ranges[emp]
		versions, err := registry.VersionsOverlapping(ctx, emp, r.from, r.to)
		if err != nil {
			return nil, fmt.Errorf("load contract versions of employee %s: %w", emp, err)
		}
		ix.byEmployee[emp] = versions
	}
	return ix, nil
}

// versionAt returns the version in force at t for e, when exactly one is.
func (ix *contractIndex) versionAt(e WorkEntry, t time.Time) (ContractVersion, bool) {
	if e.VersionID != "" {
		v, ok := ix.explicit[e.VersionID]
		return v, ok && v.EmployeeID == e.EmployeeID
	}
	var found []ContractVersion
	for _, v := range ix.byEmployee[e.EmployeeID] {
		if v.Covers(t, t) && v.Intersects(t, t.Add(time.Nanosecond)) {
			found = append(found, v)
		}
	}
	if len(found) != 1 {
		return ContractVersion{}, false
	}
	return found[0], true
}

// bind resolves the unique version covering e and returns it. An explicit
// VersionID is checked rather than searched.
func (ix *contractIndex) bind(e WorkEntry) (ContractVersion, error) {
	if e.VersionID != "" {
		v, ok := ix.explicit[e.VersionID]
		if !ok || v.EmployeeID != e.EmployeeID || !v.Covers(e.Start, e.Stop) {
			return ContractVersion{}, &ContractError{EmployeeID: e.EmployeeID, Start: e.Start, Stop: e.Stop}
		}
		return v, nil
	}

	var candidates []ContractVersion
	for _, v := range ix.byEmployee[e.EmployeeID] {
		if v.Covers(e.Start, e.Stop) {
			candidates = append(candidates, v)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return ContractVersion{}, &ContractError{EmployeeID: e.EmployeeID, Start: e.Start, Stop: e.Stop}
	default:
		ids := make([]VersionID, len(candidates))
		for i, v := range candidates {
			ids[i] = v.ID
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ContractVersion{}, &ContractError{EmployeeID: e.EmployeeID, Start: e.Start, Stop: e.Stop, Candidates: ids}
	}
}
