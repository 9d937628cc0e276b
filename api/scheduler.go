/*
scheduler.go - Periodic conflict sweeper

PURPOSE:
  Calendars and contract versions change outside the write path: a closure
  is added, a version is shortened. Entries that were clean may now be in
  conflict, and entries in conflict may be clean again. The sweeper
  periodically re-runs conflict detection over the current month and reports
  entries whose contract version no longer covers them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run re-checks [first of month, first of next month) for everyone
  - Dangling entries are logged, never modified
  - Recent runs are kept in memory for the API (GET /api/sweeps)

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour, WORKENTRY_SWEEP_INTERVAL)
  - Enabled: Whether the sweeper is active (false when the interval is 0)

USAGE:
  sweeper := NewConflictSweeper(coordinator, time.Hour, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: RecheckConflicts endpoint (manual re-check)
  - workentry/coordinator.go: Recheck
  - workentry/diagnostics.go: DanglingEntries
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/workentry"
)

// keptRuns bounds the in-memory run history.
const keptRuns = 20

// SweepRun records one sweep.
type SweepRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	WindowStart time.Time `json:"window_start"`
	WindowStop  time.Time `json:"window_stop"`
	Checked     int       `json:"checked"`
	Flagged     int       `json:"flagged"`
	Cleared     int       `json:"cleared"`
	Dangling    int       `json:"dangling"`
	Error       string    `json:"error,omitempty"`
}

// ConflictSweeper periodically re-checks conflicts.
type ConflictSweeper struct {
	Coordinator *workentry.Coordinator
	Interval    time.Duration
	Enabled     bool
	Log         logrus.FieldLogger
	Clock       func() time.Time

	// Timeout bounds a single run.
	Timeout time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []SweepRun
}

// NewConflictSweeper creates a sweeper. An interval of 0 disables it.
func NewConflictSweeper(coord *workentry.Coordinator, every time.Duration, log logrus.FieldLogger) *ConflictSweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConflictSweeper{
		Coordinator: coord,
		Interval:    every,
		Enabled:     every > 0,
		Log:         log.WithField("component", "sweeper"),
		Clock:       func() time.Time { return time.Now().UTC() },
		Timeout:     5 * time.Minute,
	}
}

// Start begins the sweeper.
func (s *ConflictSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Log.WithField("interval", s.Interval.String()).Info("started")
}

// Stop stops the sweeper and waits for a run in progress.
func (s *ConflictSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("stopped")
}

func (s *ConflictSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.sweepOnce(stop)

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(stop)
		case <-stop:
			return
		}
	}
}

// sweepOnce runs with a context cancelled by Stop.
func (s *ConflictSweeper) sweepOnce(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	s.RunNow(ctx)
}

// RunNow sweeps the current month immediately (for testing/admin).
func (s *ConflictSweeper) RunNow(ctx context.Context) SweepRun {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	now := s.Clock()
	window := currentMonth(now)
	run := SweepRun{
		ID:          uuid.NewString(),
		StartedAt:   now,
		WindowStart: window.Start,
		WindowStop:  window.Stop,
	}
	log := s.Log.WithFields(logrus.Fields{"run_id": run.ID, "window": window.String()})

	s.sweep(ctx, window, &run, log)

	run.CompletedAt = s.Clock()
	s.record(run)
	return run
}

func (s *ConflictSweeper) sweep(ctx context.Context, window interval.Span, run *SweepRun, log logrus.FieldLogger) {
	report, err := s.Coordinator.Recheck(ctx, window, nil)
	if err != nil {
		run.Error = err.Error()
		log.WithError(err).Error("recheck failed")
		return
	}
	run.Checked = report.Checked
	run.Flagged = len(report.Flagged)
	run.Cleared = len(report.Cleared)

	dangling, err := s.Coordinator.DanglingEntries(ctx, window)
	if err != nil {
		run.Error = err.Error()
		log.WithError(err).Error("dangling entries query failed")
		return
	}
	run.Dangling = len(dangling)
	for _, d := range dangling {
		log.WithFields(logrus.Fields{
			"entry_id":    d.Entry.ID,
			"employee_id": d.Entry.EmployeeID,
			"version_id":  d.Entry.VersionID,
			"reason":      d.Reason,
		}).Info("dangling work entry")
	}

	log.WithFields(logrus.Fields{
		"checked":  run.Checked,
		"flagged":  run.Flagged,
		"cleared":  run.Cleared,
		"dangling": run.Dangling,
	}).Info("sweep completed")
}

func (s *ConflictSweeper) record(run SweepRun) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > keptRuns {
		s.runs = s.runs[len(s.runs)-keptRuns:]
	}
}

// Runs returns recent runs, newest first.
func (s *ConflictSweeper) Runs() []SweepRun {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	out := make([]SweepRun, len(s.runs))
	for i, r := range s.runs {
		out[len(s.runs)-1-i] = r
	}
	return out
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (s *ConflictSweeper) GetNextRunTime() time.Time {
	return s.Clock().Add(s.Interval)
}

// =============================================================================
// HTTP
// =============================================================================

// ListSweeps returns recent sweeper runs.
func (h *Handler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotFound, "Sweeper not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Sweeper.Runs())
}

// RunSweep triggers a sweep and returns its record.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotFound, "Sweeper not configured", nil)
		return
	}
	run := h.Sweeper.RunNow(r.Context())
	if run.Error != "" {
		writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
