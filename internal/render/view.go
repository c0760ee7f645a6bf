package render

import (
	"log/slog"
	"sync"

	"market-depth/internal/depth"
	"market-depth/internal/metrics"
)

// Source is the row store as seen by a view.
type Source interface {
	Snapshot(instrument string) depth.Snapshot
	Subscribe(fn func()) (unsubscribe func())
}

// View keeps one instrument's table in sync with a Source. It subscribes
// once on Mount and re-pulls the whole snapshot on every notification.
type View struct {
	src        Source
	instrument string
	table      *Table
	sink       func(Frame)
	log        *slog.Logger

	mu    sync.Mutex
	last  Frame
	unsub func()
}

func NewView(src Source, instrument string, sink func(Frame), logger *slog.Logger) *View {
	return &View{
		src:        src,
		instrument: depth.CanonicalInstrument(instrument),
		table:      NewTable(),
		sink:       sink,
		log:        logger,
		last:       Frame{Instrument: depth.CanonicalInstrument(instrument), Header: Header()},
	}
}

func (v *View) Mount() {
	v.mu.Lock()
	if v.unsub != nil {
		v.mu.Unlock()
		return
	}
	v.unsub = v.src.Subscribe(func() { v.Refresh() })
	v.mu.Unlock()

	v.Refresh()
	v.log.Info("depth view mounted", slog.String("instrument", v.instrument))
}

// Unmount drops the subscription and every price cell.
func (v *View) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsub == nil {
		return
	}
	v.unsub()
	v.unsub = nil
	v.table.Reset()
	v.log.Info("depth view unmounted", slog.String("instrument", v.instrument))
}

// Refresh renders the current snapshot and hands the frame to the sink.
func (v *View) Refresh() Frame {
	v.mu.Lock()
	defer v.mu.Unlock()

	f := v.table.Render(v.src.Snapshot(v.instrument))
	v.last = f
	metrics.FramesRenderedTotal.Inc()
	metrics.VisibleLevels.Set(float64(len(f.Rows)))
	if v.sink != nil {
		v.sink(f)
	}
	return f
}

// Last returns the most recently rendered frame.
func (v *View) Last() Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

func (v *View) Instrument() string { return v.instrument }
