package render

import (
	"sync"

	"market-depth/internal/depth"
)

type Side int

const (
	SideBid Side = iota
	SideOffer
)

// HeaderCell is one <th> of the two-row header.
type HeaderCell struct {
	Label   string `json:"label"`
	RowSpan int    `json:"rowSpan,omitempty"`
	ColSpan int    `json:"colSpan,omitempty"`
}

// Header returns the two header rows: Index spans both rows, Bid and Ask span
// two columns each, and the second row labels the quantity/price columns.
func Header() [][]HeaderCell {
	return [][]HeaderCell{
		{
			{Label: "Index", RowSpan: 2},
			{Label: "Bid", ColSpan: 2},
			{Label: "Ask", ColSpan: 2},
		},
		{
			{Label: "Quantity"},
			{Label: "Price"},
			{Label: "Price"},
			{Label: "Quantity"},
		},
	}
}

// Bar is a quantity cell drawn as a bar Width percent wide.
type Bar struct {
	Quantity int64   `json:"quantity"`
	Width    float64 `json:"width"`
}

type BodyRow struct {
	Index    int       `json:"index"`
	Key      string    `json:"key"`
	BidBar   Bar       `json:"bidBar"`
	Bid      PriceView `json:"bid"`
	Offer    PriceView `json:"offer"`
	OfferBar Bar       `json:"offerBar"`
}

// Frame is one rendered table.
type Frame struct {
	Instrument  string         `json:"instrument"`
	Header      [][]HeaderCell `json:"header"`
	Rows        []BodyRow      `json:"rows"`
	MaxQuantity int64          `json:"maxQuantity"`
}

// MaxQuantity is the normalization denominator: the largest bid or offer
// quantity across all rows, 0 for an empty ladder.
func MaxQuantity(rows []depth.Row) int64 {
	var m int64
	for _, r := range rows {
		m = max(m, r.BidQuantity, r.OfferQuantity)
	}
	return m
}

// BarWidth scales q against maxQty into [0, 100]. A zero denominator gives 0.
func BarWidth(q, maxQty int64) float64 {
	if maxQty <= 0 || q <= 0 {
		return 0
	}
	w := float64(q) / float64(maxQty) * 100
	return min(w, 100)
}

type cellKey struct {
	row  string
	side Side
}

// Table renders snapshots and owns one PriceCell per (level key, side).
// Cells for levels that disappear from a snapshot are discarded.
type Table struct {
	mu    sync.Mutex
	cells map[cellKey]*PriceCell
}

func NewTable() *Table {
	return &Table{cells: make(map[cellKey]*PriceCell)}
}

// Render draws the snapshot in its given order. The snapshot is only read.
func (t *Table) Render(snap depth.Snapshot) Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	maxQty := MaxQuantity(snap.Rows)
	f := Frame{
		Instrument:  snap.Instrument,
		Header:      Header(),
		Rows:        make([]BodyRow, 0, len(snap.Rows)),
		MaxQuantity: maxQty,
	}
	live := make(map[cellKey]struct{}, 2*len(snap.Rows))
	for i, r := range snap.Rows {
		key := r.Key()
		bidKey, offerKey := cellKey{key, SideBid}, cellKey{key, SideOffer}
		live[bidKey], live[offerKey] = struct{}{}, struct{}{}
		f.Rows = append(f.Rows, BodyRow{
			Index:    i,
			Key:      key,
			BidBar:   Bar{Quantity: r.BidQuantity, Width: BarWidth(r.BidQuantity, maxQty)},
			Bid:      t.cell(bidKey).Observe(r.Bid),
			Offer:    t.cell(offerKey).Observe(r.Offer),
			OfferBar: Bar{Quantity: r.OfferQuantity, Width: BarWidth(r.OfferQuantity, maxQty)},
		})
	}
	for k := range t.cells {
		if _, ok := live[k]; !ok {
			delete(t.cells, k)
		}
	}
	return f
}

func (t *Table) cell(k cellKey) *PriceCell {
	c, ok := t.cells[k]
	if !ok {
		c = NewPriceCell()
		t.cells[k] = c
	}
	return c
}

// Cells reports how many price cells are currently mounted.
func (t *Table) Cells() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Reset discards every cell, as when the table is torn down.
func (t *Table) Reset() {
	t.mu.Lock()
	t.cells = make(map[cellKey]*PriceCell)
	t.mu.Unlock()
}
