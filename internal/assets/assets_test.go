package assets

import (
	"html/template"
	"strings"
	"testing"
)

func TestManagerHashesAssets(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"app.js", "styles.css"} {
		a, ok := m.Get(name)
		if !ok {
			t.Fatalf("%s missing", name)
		}
		if len(a.Hash) != 40 || !strings.HasSuffix(a.URL, "?v="+a.Hash) {
			t.Fatalf("%s: bad hash/url %s %s", name, a.Hash, a.URL)
		}
		if len(a.Body) == 0 {
			t.Fatalf("%s: empty body", name)
		}
	}
	if _, ok := m.Get("index.html"); ok {
		t.Fatal("index is a template, not a static asset")
	}
}

func TestIndexRendersLayoutAndURLs(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}
	js, _ := m.Get("app.js")
	b, err := m.Index(Page{
		Title:      "VOD.L depth",
		Instrument: "VOD.L",
		Layout:     template.HTML(`<div data-component="MarketDepthFeature"></div>`),
	})
	if err != nil {
		t.Fatal(err)
	}
	page := string(b)
	if !strings.Contains(page, `<div data-component="MarketDepthFeature"></div>`) {
		t.Fatal("layout not mounted unescaped")
	}
	if !strings.Contains(page, js.Hash) {
		t.Fatal("app.js url missing hash")
	}
}
