package sync

import (
	"time"
)

type Phase string

const (
	PhaseCreateDirs Phase = "create-dirs"
	PhaseCopy       Phase = "copy"
	PhaseDelete     Phase = "delete"
	PhaseCleanup    Phase = "cleanup"
)

// Progress is reported while a plan executes. Current counts actions
// processed across all phases, out of Total.
type Progress struct {
	Phase   Phase
	Current int
	Total   int
	Path    string
}

type ProgressFunc func(Progress)

// progressReporter throttles callbacks to at most one per interval or every
// n actions, whichever comes first. The first and last action always report.
type progressReporter struct {
	fn       ProgressFunc
	total    int
	current  int
	interval time.Duration
	every    int
	now      func() time.Time

	last      time.Time
	sinceLast int
}

func newProgressReporter(fn ProgressFunc, total int, interval time.Duration, every int, now func() time.Time) *progressReporter {
	return &progressReporter{
		fn:       fn,
		total:    total,
		interval: interval,
		every:    every,
		now:      now,
	}
}

func (p *progressReporter) step(phase Phase, path string) {
	p.current++
	p.sinceLast++
	if p.fn == nil {
		return
	}

	now := p.now()
	due := p.current == 1 || p.current >= p.total
	if p.every > 0 && p.sinceLast >= p.every {
		due = true
	}
	if p.interval > 0 && now.Sub(p.last) >= p.interval {
		due = true
	}
	if p.every <= 0 && p.interval <= 0 {
		due = true
	}
	if !due {
		return
	}

	p.last = now
	p.sinceLast = 0
	p.fn(Progress{Phase: phase, Current: p.current, Total: p.total, Path: path})
}
