package feed

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-depth/internal/depth"
	"market-depth/internal/store"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// countingStore records every upsert and optionally blocks inside it.
type countingStore struct {
	calls       atomic.Int64
	rows        atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	entered     chan struct{}
	gate        chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{entered: make(chan struct{}, 64)}
}

func (s *countingStore) Upsert(rows ...depth.Row) error {
	s.calls.Add(1)
	s.rows.Add(int64(len(rows)))
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case s.entered <- struct{}{}:
	default:
	}
	if s.gate != nil {
		<-s.gate
	}
	return nil
}

type fixedGen struct{ levels int }

func (g fixedGen) Generate(instrument string) (depth.Snapshot, error) {
	snap := depth.Snapshot{Instrument: instrument}
	for i := 0; i < g.levels; i++ {
		r, err := depth.NewRow(instrument, i, 100-float64(i), 10, 101+float64(i), 10)
		if err != nil {
			return depth.Snapshot{}, err
		}
		snap.Rows = append(snap.Rows, r)
	}
	return snap, nil
}

type badGen struct{}

func (badGen) Generate(instrument string) (depth.Snapshot, error) {
	return depth.Snapshot{Instrument: instrument, Rows: []depth.Row{{Instrument: instrument, BidQuantity: -1}}}, nil
}

func waitEntered(t *testing.T, s *countingStore) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick reached the store")
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never finished")
	}
}

func TestBindStoreAloneDoesNotStart(t *testing.T) {
	d := NewDriver(fixedGen{levels: 3}, "VOD.L", 5*time.Millisecond, discard())
	s := newCountingStore()
	d.BindStore(s)
	time.Sleep(30 * time.Millisecond)
	if d.Running() || s.calls.Load() != 0 {
		t.Fatal("binding only a store must not start the driver")
	}
	if _, err := d.Start(); !errors.Is(err, ErrNotBound) {
		t.Fatalf("got %v want ErrNotBound", err)
	}
}

func TestBindStoreThenRangeStartsTicking(t *testing.T) {
	d := NewDriver(fixedGen{levels: 3}, "VOD.L", 5*time.Millisecond, discard())
	s := newCountingStore()
	d.BindStore(s)
	d.BindRange(Range{From: 0, To: 10})
	if !d.Running() {
		t.Fatal("driver should be running")
	}
	for i := 0; i < 3; i++ {
		waitEntered(t, s)
	}
	h := d.Handle()
	d.UnbindRange()
	waitDone(t, h)
	if got := s.rows.Load(); got < 9 || got%3 != 0 {
		t.Fatalf("rows upserted got %d, want whole snapshots of 3", got)
	}
}

func TestRangeThenStoreNeedsStart(t *testing.T) {
	d := NewDriver(fixedGen{levels: 1}, "VOD.L", 5*time.Millisecond, discard())
	d.BindRange(Range{To: 5})
	s := newCountingStore()
	d.BindStore(s)
	if d.Running() {
		t.Fatal("BindStore must not start the loop")
	}
	h, err := d.Start()
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := d.Start()
	if h != h2 {
		t.Fatal("Start on a running driver must return the same handle")
	}
	waitEntered(t, s)
	h.Cancel()
	waitDone(t, h)
}

func TestUnbindRangeLetsInFlightTickComplete(t *testing.T) {
	d := NewDriver(fixedGen{levels: 2}, "VOD.L", 5*time.Millisecond, discard())
	s := newCountingStore()
	s.gate = make(chan struct{})
	d.BindStore(s)
	d.BindRange(Range{To: 10})

	waitEntered(t, s)
	h := d.Handle()
	d.UnbindRange()
	if d.Running() {
		t.Fatal("driver should report stopped after unbind")
	}
	select {
	case <-h.Done():
		t.Fatal("done before the in-flight tick completed")
	default:
	}
	close(s.gate)
	waitDone(t, h)

	calls := s.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if s.calls.Load() != calls || calls != 1 {
		t.Fatalf("ticks after unbind: before %d after %d", calls, s.calls.Load())
	}
}

func TestUnbindStoreStops(t *testing.T) {
	d := NewDriver(fixedGen{levels: 1}, "VOD.L", 5*time.Millisecond, discard())
	s := newCountingStore()
	d.BindStore(s)
	d.BindRange(Range{To: 1})
	waitEntered(t, s)
	h := d.Handle()
	d.UnbindStore()
	waitDone(t, h)
	calls := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if s.calls.Load() != calls {
		t.Fatal("driver kept ticking without a store")
	}
}

func TestRebindRestarts(t *testing.T) {
	d := NewDriver(fixedGen{levels: 1}, "VOD.L", 5*time.Millisecond, discard())
	s := newCountingStore()
	d.BindStore(s)
	d.BindRange(Range{To: 1})
	waitEntered(t, s)
	first := d.Handle()
	d.UnbindRange()
	waitDone(t, first)

	d.BindRange(Range{To: 2})
	waitEntered(t, s)
	second := d.Handle()
	if second == nil || second == first {
		t.Fatal("rebinding a range should start a new run")
	}
	second.Cancel()
	waitDone(t, second)
}

func TestRebindDuringInFlightTickDoesNotOverlap(t *testing.T) {
	d := NewDriver(fixedGen{levels: 2}, "VOD.L", time.Millisecond, discard())
	s := newCountingStore()
	s.gate = make(chan struct{})
	d.BindStore(s)
	d.BindRange(Range{To: 5})
	waitEntered(t, s)
	first := d.Handle()

	d.UnbindRange()
	d.BindRange(Range{To: 5})
	second := d.Handle()
	if second == nil || second == first {
		t.Fatal("rebind should start a new run")
	}

	select {
	case <-s.entered:
		t.Fatal("new run ticked while the previous tick was still upserting")
	case <-time.After(30 * time.Millisecond):
	}

	close(s.gate)
	waitDone(t, first)
	waitEntered(t, s)
	d.UnbindRange()
	waitDone(t, second)
	if got := s.maxInFlight.Load(); got != 1 {
		t.Fatalf("concurrent upserts got %d want 1", got)
	}
}

func TestCancelledHandleAllowsRestart(t *testing.T) {
	d := NewDriver(fixedGen{levels: 1}, "VOD.L", 5*time.Millisecond, discard())
	var mu sync.Mutex
	var statuses []bool
	d.OnStatus(func(running bool) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, running)
	})
	s := newCountingStore()
	d.BindStore(s)
	d.BindRange(Range{To: 5})
	waitEntered(t, s)

	h := d.Handle()
	h.Cancel()
	waitDone(t, h)
	if d.Running() || d.Handle() != nil {
		t.Fatal("driver still reports a cancelled run")
	}

	for len(s.entered) > 0 {
		<-s.entered
	}
	d.BindRange(Range{To: 5})
	h2 := d.Handle()
	if h2 == nil || h2 == h {
		t.Fatal("bind after cancel should start a new run")
	}
	waitEntered(t, s)
	d.UnbindRange()
	waitDone(t, h2)

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false, true, false}
	if len(statuses) != len(want) {
		t.Fatalf("statuses got %v want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses got %v want %v", statuses, want)
		}
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	var inFlight, overlaps atomic.Int32
	var mu sync.Mutex
	seen := 0
	s := storeFunc(func(rows ...depth.Row) error {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(3 * time.Millisecond)
		inFlight.Add(-1)
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})
	d := NewDriver(fixedGen{levels: 1}, "VOD.L", time.Millisecond, discard())
	d.BindStore(s)
	d.BindRange(Range{})
	time.Sleep(60 * time.Millisecond)
	h := d.Handle()
	d.UnbindRange()
	waitDone(t, h)
	if overlaps.Load() != 0 {
		t.Fatalf("%d overlapping ticks", overlaps.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if seen == 0 {
		t.Fatal("no ticks ran")
	}
}

type storeFunc func(rows ...depth.Row) error

func (f storeFunc) Upsert(rows ...depth.Row) error { return f(rows...) }

func TestMalformedSnapshotIsNotPublished(t *testing.T) {
	st := store.New(nil)
	d := NewDriver(badGen{}, "VOD.L", 5*time.Millisecond, discard())
	d.BindStore(st)
	d.BindRange(Range{})
	time.Sleep(30 * time.Millisecond)
	if !d.Running() {
		t.Fatal("a bad tick must not stop the driver")
	}
	h := d.Handle()
	d.UnbindRange()
	waitDone(t, h)
	if st.Len() != 0 {
		t.Fatalf("malformed rows reached the store: %d", st.Len())
	}
}

func TestDriverFeedsRealStore(t *testing.T) {
	st := store.New(nil)
	notified := make(chan struct{}, 16)
	st.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	d := NewDriver(fixedGen{levels: 4}, "vod.l", 5*time.Millisecond, discard())
	d.BindStore(st)
	d.BindRange(Range{To: 4})
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("store never notified")
	}
	h := d.Handle()
	d.UnbindRange()
	waitDone(t, h)
	if n := st.Snapshot("VOD.L").Len(); n != 4 {
		t.Fatalf("levels got %d want 4", n)
	}
}

func TestNewDriverDefaultInterval(t *testing.T) {
	d := NewDriver(fixedGen{}, "VOD.L", 0, discard())
	if d.Interval() != DefaultInterval {
		t.Fatalf("interval got %v want %v", d.Interval(), DefaultInterval)
	}
}
