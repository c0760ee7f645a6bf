package render

import (
	"bytes"
	"fmt"
	"html/template"
)

var tableTmpl = template.Must(template.New("depth").Funcs(template.FuncMap{
	"width": func(w float64) template.CSS { return template.CSS(fmt.Sprintf("width: %.2f%%", w)) },
	"span":  func(n int) bool { return n > 1 },
}).Parse(`<table class="MarketDepthPanel" data-instrument="{{.Instrument}}">
<thead>
{{- range .Header}}
<tr>{{range .}}<th{{if span .RowSpan}} rowspan="{{.RowSpan}}"{{end}}{{if span .ColSpan}} colspan="{{.ColSpan}}"{{end}}>{{.Label}}</th>{{end}}</tr>
{{- end}}
</thead>
<tbody>
{{- range .Rows}}
<tr data-key="{{.Key}}">
<td>{{.Index}}</td>
<td><div class="bid-bar" style="{{width .BidBar.Width}}">{{.BidBar.Quantity}}</div></td>
<td><span class="{{.Bid.Indicator.Class}}">{{.Bid.Indicator.Symbol}}</span><span>{{.Bid.Text}}</span></td>
<td><span class="{{.Offer.Indicator.Class}}">{{.Offer.Indicator.Symbol}}</span><span>{{.Offer.Text}}</span></td>
<td><div class="ask-bar" style="{{width .OfferBar.Width}}">{{.OfferBar.Quantity}}</div></td>
</tr>
{{- end}}
</tbody>
</table>`))

// HTML renders the frame as a table fragment for the browser.
func (f Frame) HTML() (string, error) {
	var buf bytes.Buffer
	if err := tableTmpl.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	return buf.String(), nil
}
