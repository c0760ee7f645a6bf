package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"market-depth/internal/depth"
	"market-depth/internal/metrics"
)

// DefaultInterval is the delay between the end of one tick and the start of the next.
const DefaultInterval = 250 * time.Millisecond

var ErrNotBound = errors.New("feed: store and range must both be bound")

// Store is where generated rows go. Rows are upserted by their stable key.
type Store interface {
	Upsert(rows ...depth.Row) error
}

// Range is the visible row range of the viewer. The driver only cares
// whether one is bound.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Driver is the synthetic stand-in for a push feed. Once both a store and a
// range are bound it generates a snapshot, upserts every row, and schedules
// the next tick only after the current one has finished, so ticks never overlap.
type Driver struct {
	gen        Generator
	instrument string
	interval   time.Duration
	log        *slog.Logger

	// held for a whole tick, across runs: a restarted run waits for the
	// previous run's in-flight tick
	tickMu sync.Mutex

	mu       sync.Mutex
	store    Store
	rng      *Range
	handle   *Handle
	onStatus func(running bool)
}

func NewDriver(gen Generator, instrument string, interval time.Duration, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{
		gen:        gen,
		instrument: depth.CanonicalInstrument(instrument),
		interval:   interval,
		log:        logger,
	}
}

// OnStatus registers fn to be told whenever the driver starts or stops.
// fn is never called with the driver's lock held.
func (d *Driver) OnStatus(fn func(running bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStatus = fn
}

// BindStore sets the target store. It never starts the loop by itself.
func (d *Driver) BindStore(s Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = s
}

// BindRange sets the visible range and starts ticking when a store is bound
// and the driver is not already running.
func (d *Driver) BindRange(r Range) {
	d.mu.Lock()
	d.rng = &r
	started := d.store != nil && d.handle == nil
	if started {
		d.startLocked()
	}
	d.mu.Unlock()
	if started {
		d.notify(true)
	}
}

// UnbindRange stops scheduling. A tick already in flight still completes.
func (d *Driver) UnbindRange() {
	d.mu.Lock()
	d.rng = nil
	h := d.detachLocked()
	d.mu.Unlock()
	d.stop(h)
}

func (d *Driver) UnbindStore() {
	d.mu.Lock()
	d.store = nil
	h := d.detachLocked()
	d.mu.Unlock()
	d.stop(h)
}

// Start begins ticking and returns the running handle. It returns the
// existing handle if the driver is already running.
func (d *Driver) Start() (*Handle, error) {
	d.mu.Lock()
	if d.store == nil || d.rng == nil {
		d.mu.Unlock()
		return nil, ErrNotBound
	}
	started := d.handle == nil
	if started {
		d.startLocked()
	}
	h := d.handle
	d.mu.Unlock()
	if started {
		d.notify(true)
	}
	return h, nil
}

// Handle returns the running handle, or nil when stopped.
func (d *Driver) Handle() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

func (d *Driver) Running() bool { return d.Handle() != nil }

func (d *Driver) Instrument() string { return d.instrument }

func (d *Driver) Interval() time.Duration { return d.interval }

func (d *Driver) startLocked() {
	h := newHandle()
	h.onFinish = func() { d.finished(h) }
	d.handle = h
	metrics.FeedRunning.Set(1)
	d.log.Info("synthetic feed started",
		slog.String("instrument", d.instrument),
		slog.Duration("interval", d.interval),
	)
	h.schedule(0, func() { d.tick(h) })
}

// detachLocked forgets the running handle so a later bind starts a new run.
func (d *Driver) detachLocked() *Handle {
	h := d.handle
	if h != nil {
		d.handle = nil
		metrics.FeedRunning.Set(0)
	}
	return h
}

func (d *Driver) stop(h *Handle) {
	if h == nil {
		return
	}
	h.Cancel()
	d.log.Info("synthetic feed stopped", slog.String("instrument", d.instrument))
	d.notify(false)
}

// finished runs once per handle, however its run ended. A handle cancelled
// from outside the driver is detached here.
func (d *Driver) finished(h *Handle) {
	d.mu.Lock()
	current := d.handle == h
	if current {
		d.detachLocked()
	}
	d.mu.Unlock()
	if current {
		d.log.Info("synthetic feed ended", slog.String("instrument", d.instrument))
		d.notify(false)
	}
}

func (d *Driver) notify(running bool) {
	d.mu.Lock()
	fn := d.onStatus
	d.mu.Unlock()
	if fn != nil {
		fn(running)
	}
}

func (d *Driver) tick(h *Handle) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	d.mu.Lock()
	store, active := d.store, d.store != nil && d.rng != nil && d.handle == h
	d.mu.Unlock()

	if active {
		if err := d.publish(store); err != nil {
			d.log.Warn("synthetic feed tick", slog.String("err", err.Error()))
		}
	}

	if !active || !h.schedule(d.interval, func() { d.tick(h) }) {
		h.finish()
	}
}

func (d *Driver) publish(store Store) error {
	snap, err := d.gen.Generate(d.instrument)
	if err == nil {
		err = snap.Validate()
	}
	if err != nil {
		metrics.FeedRejectedTotal.Inc()
		return fmt.Errorf("generate %s: %w", d.instrument, err)
	}
	if err := store.Upsert(snap.Rows...); err != nil {
		metrics.FeedRejectedTotal.Inc()
		return fmt.Errorf("upsert %s: %w", d.instrument, err)
	}
	metrics.FeedTicksTotal.Inc()
	metrics.FeedRowsUpsertedTotal.Add(float64(len(snap.Rows)))
	return nil
}

// Handle controls one run of the driver. Cancel is checked before every
// reschedule; Done is closed once no further tick will run.
type Handle struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	done      chan struct{}
	doneOnce  sync.Once
	onFinish  func()
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) schedule(after time.Duration, fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.timer = time.AfterFunc(after, fn)
	return true
}

// Cancel prevents any further tick from being scheduled. If a tick is
// pending it is dropped; a tick already running finishes first. The driver
// stops reporting itself as running either way.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	t := h.timer
	h.mu.Unlock()

	if t != nil && t.Stop() {
		h.finish()
	}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// finish detaches the handle before closing Done, so Running is already
// false for anyone woken by Done.
func (h *Handle) finish() {
	h.doneOnce.Do(func() {
		if h.onFinish != nil {
			h.onFinish()
		}
		close(h.done)
	})
}
