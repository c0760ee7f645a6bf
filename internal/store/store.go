package store

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/btree"

	"market-depth/internal/depth"
)

// Store holds the latest row for every (instrument, level) key, ordered by
// instrument then level. The feed is its writer and views are its readers.
type Store struct {
	mu   sync.RWMutex
	rows *btree.BTreeG[depth.Row]

	subMu     sync.Mutex
	listeners map[uint64]func()
	nextID    uint64

	log *slog.Logger
}

func byKey(a, b depth.Row) bool {
	if a.Instrument != b.Instrument {
		return a.Instrument < b.Instrument
	}
	return a.Level < b.Level
}

func New(logger *slog.Logger) *Store {
	return &Store{
		rows:      btree.NewG[depth.Row](16, byKey),
		listeners: make(map[uint64]func()),
		log:       logger,
	}
}

// Upsert inserts or replaces rows by key. The whole batch is rejected if any
// row is malformed. Listeners are notified once per call, after the lock is
// released, on the caller's goroutine.
func (s *Store) Upsert(rows ...depth.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	s.mu.Lock()
	for _, r := range rows {
		s.rows.ReplaceOrInsert(r)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Remove drops a single level. It reports whether the key was present.
func (s *Store) Remove(instrument string, level int) bool {
	s.mu.Lock()
	_, ok := s.rows.Delete(depth.Row{Instrument: instrument, Level: level})
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Snapshot returns a copy of the instrument's ladder, best level first.
func (s *Store) Snapshot(instrument string) depth.Snapshot {
	snap := depth.Snapshot{Instrument: instrument}
	pivot := depth.Row{Instrument: instrument, Level: math.MinInt}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.rows.AscendGreaterOrEqual(pivot, func(r depth.Row) bool {
		if r.Instrument != instrument {
			return false
		}
		snap.Rows = append(snap.Rows, r)
		return true
	})
	return snap
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows.Len()
}

// Subscribe registers fn to be called after every change. The returned func
// removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.listeners, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	if s.log != nil {
		s.log.Debug("store changed", slog.Int("listeners", len(fns)))
	}
	for _, fn := range fns {
		fn()
	}
}
