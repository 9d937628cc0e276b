// Package store provides in-memory implementations of the work-entry
// storage and collaborator interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps work entries in a map. It enforces the storage contract on
// every write: stop after start, and no overlap between active validated
// entries of one employee.
type Memory struct {
	mu      sync.Mutex
	entries map[workentry.EntryID]workentry.WorkEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[workentry.EntryID]workentry.WorkEntry)}
}

func (m *Memory) Get(ctx context.Context, ids []workentry.EntryID) ([]workentry.WorkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ids)
}

func (m *Memory) Find(ctx context.Context, q workentry.Query) ([]workentry.WorkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(q), nil
}

func (m *Memory) Insert(ctx context.Context, entries []workentry.WorkEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func() error { return m.insertLocked(entries) })
}

func (m *Memory) Update(ctx context.Context, entries []workentry.WorkEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func() error { return m.updateLocked(entries) })
}

func (m *Memory) SetState(ctx context.Context, ids []workentry.EntryID, state workentry.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func() error { return m.setStateLocked(ids, state) })
}

func (m *Memory) Delete(ctx context.Context, ids []workentry.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ids)
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// atomically undoes fn's writes when it fails.
func (m *Memory) atomically(fn func() error) error {
	snapshot := m.snapshot()
	if err := fn(); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) getLocked(ids []workentry.EntryID) ([]workentry.WorkEntry, error) {
	out := make([]workentry.WorkEntry, 0, len(ids))
	var missing []string
	seen := make(map[workentry.EntryID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, ok := m.entries[id]
		if !ok {
			missing = append(missing, string(id))
			continue
		}
		out = append(out, e)
	}
	if len(missing) > 0 {
		return nil, &workentry.NotFoundError{Kind: "work entry", IDs: missing}
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) findLocked(q workentry.Query) []workentry.WorkEntry {
	var out []workentry.WorkEntry
	for _, e := range m.entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func (m *Memory) insertLocked(entries []workentry.WorkEntry) error {
	for _, e := range entries {
		if _, exists := m.entries[e.ID]; exists {
			return fmt.Errorf("work entry %s already exists", e.ID)
		}
		if err := checkRow(e); err != nil {
			return err
		}
		m.entries[e.ID] = e
	}
	return m.checkOverlapLocked(entries)
}

func (m *Memory) updateLocked(entries []workentry.WorkEntry) error {
	for _, e := range entries {
		if _, exists := m.entries[e.ID]; !exists {
			return &workentry.NotFoundError{Kind: "work entry", IDs: []string{string(e.ID)}}
		}
		if err := checkRow(e); err != nil {
			return err
		}
		m.entries[e.ID] = e
	}
	return m.checkOverlapLocked(entries)
}

func (m *Memory) setStateLocked(ids []workentry.EntryID, state workentry.State) error {
	changed := make([]workentry.WorkEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			return &workentry.NotFoundError{Kind: "work entry", IDs: []string{string(id)}}
		}
		e.State = state
		e.Active = state != workentry.StateCancelled
		m.entries[id] = e
		changed = append(changed, e)
	}
	return m.checkOverlapLocked(changed)
}

func (m *Memory) deleteLocked(ids []workentry.EntryID) error {
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// checkOverlapLocked is the in-memory stand-in for an exclusion constraint.
func (m *Memory) checkOverlapLocked(changed []workentry.WorkEntry) error {
	for _, c := range changed {
		c = m.entries[c.ID]
		if !c.CountsForOverlap() {
			continue
		}
		for _, other := range m.entries {
			if other.ID != c.ID && other.CountsForOverlap() && c.Overlaps(other) {
				return &workentry.OverlapError{
					EmployeeID: c.EmployeeID,
					EntryIDs:   []workentry.EntryID{c.ID, other.ID},
					Constraint: "memory_validated_no_overlap",
				}
			}
		}
	}
	return nil
}

func checkRow(e workentry.WorkEntry) error {
	if e.Stop.IsZero() || !e.Stop.After(e.Start) {
		return &workentry.IntervalError{EntryID: e.ID, Start: e.Start, Stop: e.Stop, Reason: "stop must be after start"}
	}
	return nil
}

func (m *Memory) snapshot() map[workentry.EntryID]workentry.WorkEntry {
	cp := make(map[workentry.EntryID]workentry.WorkEntry, len(m.entries))
	for k, v := range m.entries {
		cp[k] = v
	}
	return cp
}

func (m *Memory) restore(s map[workentry.EntryID]workentry.WorkEntry) {
	m.entries = s
}

func sortEntries(entries []workentry.WorkEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.Stop.Equal(b.Stop) {
			return a.Stop.Before(b.Stop)
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support. Transactions are
// serialized by the store lock, which also stands in for the lock manager
// a backend without exclusion constraints needs.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(workentry.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

// txMemoryView runs the store methods under the lock WithTx already holds.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Get(_ context.Context, ids []workentry.EntryID) ([]workentry.WorkEntry, error) {
	return tv.parent.getLocked(ids)
}

func (tv *txMemoryView) Find(_ context.Context, q workentry.Query) ([]workentry.WorkEntry, error) {
	return tv.parent.findLocked(q), nil
}

func (tv *txMemoryView) Insert(_ context.Context, entries []workentry.WorkEntry) error {
	return tv.parent.atomically(func() error { return tv.parent.insertLocked(entries) })
}

func (tv *txMemoryView) Update(_ context.Context, entries []workentry.WorkEntry) error {
	return tv.parent.atomically(func() error { return tv.parent.updateLocked(entries) })
}

func (tv *txMemoryView) SetState(_ context.Context, ids []workentry.EntryID, state workentry.State) error {
	return tv.parent.atomically(func() error { return tv.parent.setStateLocked(ids, state) })
}

func (tv *txMemoryView) Delete(_ context.Context, ids []workentry.EntryID) error {
	return tv.parent.deleteLocked(ids)
}
