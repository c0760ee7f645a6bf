package render

import (
	"github.com/shopspring/decimal"

	"market-depth/internal/depth"
)

// Indicator is the direction of the most recent price move of a cell.
type Indicator int

const (
	IndicatorNone Indicator = iota
	IndicatorUp
	IndicatorDown
)

func (i Indicator) Symbol() string {
	switch i {
	case IndicatorUp:
		return "▲"
	case IndicatorDown:
		return "▼"
	}
	return ""
}

// Class is the CSS class the browser styles the arrow with.
func (i Indicator) Class() string {
	switch i {
	case IndicatorUp:
		return "arrow-up"
	case IndicatorDown:
		return "arrow-down"
	}
	return ""
}

func (i Indicator) String() string {
	switch i {
	case IndicatorUp:
		return "up"
	case IndicatorDown:
		return "down"
	}
	return "none"
}

func (i Indicator) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// PriceView is what a price cell shows: the arrow and the price to two decimals.
type PriceView struct {
	Indicator Indicator `json:"indicator"`
	Text      string    `json:"text"`
}

// FormatPrice always yields exactly two decimal digits, rounding half away from zero.
func FormatPrice(p decimal.Decimal) string {
	return p.StringFixed(2)
}

// PriceCell remembers the last price rendered at one (level, side) position.
// The first observation never produces an arrow; after that the arrow follows
// the sign of the difference and is cleared when the price is unchanged.
type PriceCell struct {
	previous  decimal.Decimal
	seen      bool
	indicator Indicator
}

func NewPriceCell() *PriceCell { return &PriceCell{} }

func (c *PriceCell) Observe(p decimal.Decimal) PriceView {
	if c.seen {
		switch p.Cmp(c.previous) {
		case 1:
			c.indicator = IndicatorUp
		case -1:
			c.indicator = IndicatorDown
		default:
			c.indicator = IndicatorNone
		}
	}
	c.previous = p
	c.seen = true
	return PriceView{Indicator: c.indicator, Text: FormatPrice(p)}
}

// ObserveFloat is Observe for raw feed values. NaN and Inf are rejected and
// leave the comparison baseline untouched.
func (c *PriceCell) ObserveFloat(f float64) (PriceView, error) {
	p, err := depth.PriceFromFloat(f)
	if err != nil {
		return c.View(), err
	}
	return c.Observe(p), nil
}

// View returns the current display without observing a new price.
func (c *PriceCell) View() PriceView {
	if !c.seen {
		return PriceView{}
	}
	return PriceView{Indicator: c.indicator, Text: FormatPrice(c.previous)}
}

// Previous returns the comparison baseline; ok is false before the first observation.
func (c *PriceCell) Previous() (p decimal.Decimal, ok bool) {
	return c.previous, c.seen
}
