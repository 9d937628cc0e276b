package workentry

import (
	"time"

	"github.com/warp/workentry-engine/interval"
)

// Options tune a single coordinator call.
type Options struct {
	// SkipCheck disables the conflict re-evaluation after the write.
	SkipCheck bool

	// ErrorWindow widens the re-evaluated window beyond the written entries.
	ErrorWindow *interval.Span

	// PropagateCompany defaults CompanyID from the employee on create.
	PropagateCompany bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{PropagateCompany: true}
}

// WithErrorWindow returns a copy of o checking at least [from, to).
func (o Options) WithErrorWindow(from, to time.Time) Options {
	w := interval.NewSpan(from, to)
	o.ErrorWindow = &w
	return o
}
