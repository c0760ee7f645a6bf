package feed

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"market-depth/internal/depth"
)

// Generator produces a full ladder for an instrument on every call.
type Generator interface {
	Generate(instrument string) (depth.Snapshot, error)
}

// Rand is the subset of *rand.Rand the random walk needs, so tests can script it.
type Rand interface {
	IntN(n int) int
	Int64N(n int64) int64
}

// RandomWalk moves a mid price by at most one tick per call and lays out
// Levels bids below and offers above it, one tick apart, with random sizes.
type RandomWalk struct {
	mu          sync.Mutex
	rnd         Rand
	mid         decimal.Decimal
	tick        decimal.Decimal
	levels      int
	maxQuantity int64
}

func NewRandomWalk(rnd Rand, basePrice, tickSize float64, levels int, maxQuantity int64) (*RandomWalk, error) {
	mid, err := depth.PriceFromFloat(basePrice)
	if err != nil {
		return nil, err
	}
	tick, err := depth.PriceFromFloat(tickSize)
	if err != nil {
		return nil, err
	}
	if !tick.IsPositive() {
		return nil, errors.New("tick size must be > 0")
	}
	if levels < 1 {
		return nil, errors.New("levels must be >= 1")
	}
	if maxQuantity < 1 {
		return nil, errors.New("max quantity must be >= 1")
	}
	return &RandomWalk{rnd: rnd, mid: mid, tick: tick, levels: levels, maxQuantity: maxQuantity}, nil
}

// NewSeededRand returns a PCG source; equal seeds give equal walks.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (g *RandomWalk) Generate(instrument string) (depth.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inst := depth.CanonicalInstrument(instrument)
	step := int64(g.rnd.IntN(3) - 1)
	next := g.mid.Add(g.tick.Mul(decimal.NewFromInt(step)))
	// keep the whole bid side above zero
	if next.Sub(g.tick.Mul(decimal.NewFromInt(int64(g.levels)))).IsPositive() {
		g.mid = next
	}

	snap := depth.Snapshot{Instrument: inst, Rows: make([]depth.Row, 0, g.levels)}
	for i := 0; i < g.levels; i++ {
		off := g.tick.Mul(decimal.NewFromInt(int64(i + 1)))
		snap.Rows = append(snap.Rows, depth.Row{
			Instrument:    inst,
			Level:         i,
			Bid:           g.mid.Sub(off),
			BidQuantity:   g.rnd.Int64N(g.maxQuantity + 1),
			Offer:         g.mid.Add(off),
			OfferQuantity: g.rnd.Int64N(g.maxQuantity + 1),
		})
	}
	if err := snap.Validate(); err != nil {
		return depth.Snapshot{}, err
	}
	return snap, nil
}

// Mid returns the current mid price.
func (g *RandomWalk) Mid() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mid
}
