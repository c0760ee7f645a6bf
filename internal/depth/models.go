package depth

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNonFinitePrice   = errors.New("price must be a finite number")
	ErrNegativeQuantity = errors.New("quantity must be non-negative")
	ErrInvalidLevel     = errors.New("level must be non-negative")
	ErrEmptyInstrument  = errors.New("instrument required")
)

// Row is one price-ladder level of a single instrument.
type Row struct {
	Instrument    string          `json:"instrument"`
	Level         int             `json:"level"` // 0 is the best level
	Bid           decimal.Decimal `json:"bid"`
	BidQuantity   int64           `json:"bidQuantity"`
	Offer         decimal.Decimal `json:"offer"`
	OfferQuantity int64           `json:"offerQuantity"`
}

// Key is the stable identity of the row: the instrument and its ladder level.
// It survives reordering and quantity changes.
func (r Row) Key() string {
	return fmt.Sprintf("%s:%d", r.Instrument, r.Level)
}

func (r Row) Validate() error {
	if r.Instrument == "" {
		return ErrEmptyInstrument
	}
	if r.Level < 0 {
		return fmt.Errorf("%s: %w", r.Key(), ErrInvalidLevel)
	}
	if r.BidQuantity < 0 || r.OfferQuantity < 0 {
		return fmt.Errorf("%s: %w", r.Key(), ErrNegativeQuantity)
	}
	return nil
}

// NewRow builds a row from raw feed values, rejecting non-finite prices and
// negative quantities before they can reach a renderer.
func NewRow(instrument string, level int, bid float64, bidQty int64, offer float64, offerQty int64) (Row, error) {
	r := Row{
		Instrument:    CanonicalInstrument(instrument),
		Level:         level,
		BidQuantity:   bidQty,
		OfferQuantity: offerQty,
	}
	var err error
	if r.Bid, err = PriceFromFloat(bid); err != nil {
		return Row{}, fmt.Errorf("%s bid: %w", r.Key(), err)
	}
	if r.Offer, err = PriceFromFloat(offer); err != nil {
		return Row{}, fmt.Errorf("%s offer: %w", r.Key(), err)
	}
	if err := r.Validate(); err != nil {
		return Row{}, err
	}
	return r, nil
}

// PriceFromFloat converts a float price to a Decimal. decimal.NewFromFloat
// panics on NaN and Inf, so those are turned into ErrNonFinitePrice here.
func PriceFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrNonFinitePrice
	}
	return decimal.NewFromFloat(f), nil
}

// CanonicalInstrument trims and upper-cases an instrument code ("vod.l" -> "VOD.L").
func CanonicalInstrument(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Snapshot is the ordered ladder of one instrument at one instant, best level first.
// Consumers read it; nobody re-sorts it.
type Snapshot struct {
	Instrument string `json:"instrument"`
	Rows       []Row  `json:"rows"`
}

func (s Snapshot) Len() int { return len(s.Rows) }

// Validate checks every row and that all rows belong to the snapshot's instrument.
func (s Snapshot) Validate() error {
	for _, r := range s.Rows {
		if err := r.Validate(); err != nil {
			return err
		}
		if r.Instrument != s.Instrument {
			return fmt.Errorf("row %s does not belong to %s", r.Key(), s.Instrument)
		}
	}
	return nil
}
