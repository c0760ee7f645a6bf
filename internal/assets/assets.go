package assets

import (
	"bytes"
	"crypto/sha1" // #nosec G505 - hashing for cache-busting only
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"path"
)

//go:embed web
var webFS embed.FS

// Asset is one embedded static file with a cache-busting URL.
type Asset struct {
	Name        string
	ContentType string
	Body        []byte
	Hash        string
	URL         string // e.g. /app.js?v=<sha1>
}

type Manager struct {
	assets map[string]*Asset
	index  *template.Template
}

var contentTypes = map[string]string{
	".js":  "text/javascript; charset=utf-8",
	".css": "text/css; charset=utf-8",
}

func NewManager() (*Manager, error) {
	m := &Manager{assets: map[string]*Asset{}}
	for name, ct := range map[string]string{"app.js": contentTypes[".js"], "styles.css": contentTypes[".css"]} {
		b, err := fs.ReadFile(webFS, path.Join("web", name))
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", name, err)
		}
		sum := sha1.Sum(b)
		h := hex.EncodeToString(sum[:])
		m.assets[name] = &Asset{
			Name:        name,
			ContentType: ct,
			Body:        b,
			Hash:        h,
			URL:         fmt.Sprintf("/%s?v=%s", name, h),
		}
	}
	idx, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("index template: %w", err)
	}
	m.index = idx
	return m, nil
}

func (m *Manager) Get(name string) (*Asset, bool) {
	a, ok := m.assets[name]
	return a, ok
}

// Page is the data the index template is rendered with.
type Page struct {
	Title      string
	Instrument string
	Layout     template.HTML
}

// Index renders the SPA shell with hashed asset URLs.
func (m *Manager) Index(p Page) ([]byte, error) {
	data := struct {
		Page
		AppJS     string
		StylesCSS string
	}{Page: p, AppJS: m.assets["app.js"].URL, StylesCSS: m.assets["styles.css"].URL}

	var buf bytes.Buffer
	if err := m.index.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}
