package state

import (
	"sync"
	"sync/atomic"

	"market-depth/internal/depth"
)

// State is the host's view of the session: which instrument is shown, how
// many browser viewers are attached and which rows they asked to see.
type State struct {
	activeMu   sync.RWMutex
	instrument string
	from, to   int
	hasRange   bool

	// serializes viewer joins and leaves with range binds
	viewerMu sync.Mutex
	viewers  atomic.Int64
	feedOn   atomic.Bool
}

func NewState(instrument string) *State {
	s := &State{}
	s.SetInstrument(instrument)
	return s
}

func (s *State) SetInstrument(sym string) string {
	canon := depth.CanonicalInstrument(sym)
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.instrument = canon
	return canon
}

func (s *State) Instrument() string {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.instrument
}

// BindRange records the visible row range and calls bind with it. from and
// to are swapped if reversed and clamped at zero. bind runs under the viewer
// lock, so it cannot interleave with the last viewer's teardown.
func (s *State) BindRange(from, to int, bind func(from, to int)) (int, int) {
	if from > to {
		from, to = to, from
	}
	from, to = max(from, 0), max(to, 0)
	s.viewerMu.Lock()
	defer s.viewerMu.Unlock()
	s.setRange(from, to, true)
	if bind != nil {
		bind(from, to)
	}
	return from, to
}

// UnbindRange clears the range and calls unbind, under the viewer lock.
func (s *State) UnbindRange(unbind func()) {
	s.viewerMu.Lock()
	defer s.viewerMu.Unlock()
	s.setRange(0, 0, false)
	if unbind != nil {
		unbind()
	}
}

func (s *State) setRange(from, to int, ok bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.from, s.to, s.hasRange = from, to, ok
}

func (s *State) Range() (from, to int, ok bool) {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.from, s.to, s.hasRange
}

// AddViewer returns the viewer count after the join. It waits for a
// teardown started by RemoveViewer to finish.
func (s *State) AddViewer() int {
	s.viewerMu.Lock()
	defer s.viewerMu.Unlock()
	return int(s.viewers.Add(1))
}

// RemoveViewer returns the viewer count after the leave; it never goes below
// zero. When the last viewer leaves, the range is cleared and onLast runs
// before any other viewer can join or bind a range.
func (s *State) RemoveViewer(onLast func()) int {
	s.viewerMu.Lock()
	defer s.viewerMu.Unlock()
	n := s.viewers.Load()
	if n == 0 {
		return 0
	}
	s.viewers.Store(n - 1)
	if n == 1 {
		s.setRange(0, 0, false)
		if onLast != nil {
			onLast()
		}
	}
	return int(n - 1)
}

func (s *State) Viewers() int { return int(s.viewers.Load()) }

func (s *State) SetFeedRunning(v bool) { s.feedOn.Store(v) }
func (s *State) FeedRunning() bool     { return s.feedOn.Load() }
