package server

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"market-depth/internal/assets"
	"market-depth/internal/config"
	"market-depth/internal/feed"
	"market-depth/internal/layout"
	"market-depth/internal/metrics"
	"market-depth/internal/render"
	"market-depth/internal/state"
)

// FrameSource is the mounted depth view.
type FrameSource interface {
	Last() render.Frame
}

type HTTPServer struct {
	cfg    config.Config
	st     *state.State
	assets *assets.Manager
	driver *feed.Driver
	frames FrameSource
	tree   layout.Node
	page   template.HTML
	prom   *prometheus.Registry
	hub    *hub
	log    *slog.Logger
	mux    *http.ServeMux
}

func NewHTTPServer(cfg config.Config, st *state.State, am *assets.Manager, driver *feed.Driver, frames FrameSource,
	reg *layout.Registry, tree layout.Node, prom *prometheus.Registry, logger *slog.Logger) (*HTTPServer, error) {
	page, err := reg.Mount(tree)
	if err != nil {
		return nil, err
	}
	s := &HTTPServer{
		cfg:    cfg,
		st:     st,
		assets: am,
		driver: driver,
		frames: frames,
		tree:   tree,
		page:   page,
		prom:   prom,
		hub:    newHub(logger),
		log:    logger,
		mux:    http.NewServeMux(),
	}
	s.hub.onJoin = s.viewerJoined
	s.hub.onLeave = s.viewerLeft
	s.hub.onMessage = s.viewerMessage
	st.SetFeedRunning(driver.Running())
	driver.OnStatus(s.feedStatus)
	s.routes()
	go s.hub.run()
	return s, nil
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// --------- WS broadcasts ----------

func (s *HTTPServer) statusPayload() map[string]any {
	from, to, ok := s.st.Range()
	msg := map[string]any{
		"instrument":  s.st.Instrument(),
		"feedRunning": s.st.FeedRunning(),
		"viewers":     s.st.Viewers(),
	}
	if ok {
		msg["range"] = feed.Range{From: from, To: to}
	}
	return msg
}

func (s *HTTPServer) BroadcastStatus() {
	s.hub.broadcast <- marshalWS("status", s.statusPayload())
}

// feedStatus follows the driver, including runs ended by a cancelled handle.
func (s *HTTPServer) feedStatus(running bool) {
	s.st.SetFeedRunning(running)
	s.BroadcastStatus()
}

// BroadcastFrame is the sink of the depth view.
func (s *HTTPServer) BroadcastFrame(f render.Frame) {
	b, err := frameMessage(f)
	if err != nil {
		s.log.Error("render frame", slog.String("err", err.Error()))
		s.BroadcastError(err.Error())
		return
	}
	s.hub.broadcast <- b
}

func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.broadcast <- marshalWS("error", map[string]string{"message": msg})
}

func frameMessage(f render.Frame) ([]byte, error) {
	html, err := f.HTML()
	if err != nil {
		return nil, err
	}
	return marshalWS("frame", map[string]any{"frame": f, "html": html}), nil
}

// --------- viewer lifecycle ----------

func (s *HTTPServer) viewerJoined(c *client) []byte {
	n := s.st.AddViewer()
	metrics.Viewers.Set(float64(n))
	s.log.Info("viewer joined", slog.String("client", c.id), slog.Int("viewers", n))
	b, err := frameMessage(s.frames.Last())
	if err != nil {
		return nil
	}
	return b
}

// viewerLeft stops the feed once nobody is looking.
func (s *HTTPServer) viewerLeft(c *client) {
	n := s.st.RemoveViewer(s.driver.UnbindRange)
	metrics.Viewers.Set(float64(n))
	s.log.Info("viewer left", slog.String("client", c.id), slog.Int("viewers", n))
	if n == 0 {
		s.BroadcastStatus()
	}
}

func (s *HTTPServer) viewerMessage(c *client, msg inboundMessage) {
	switch msg.Type {
	case "range":
		var r feed.Range
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			s.log.Debug("bad range", slog.String("client", c.id), slog.String("err", err.Error()))
			return
		}
		s.bindRange(r)
	default:
		s.log.Debug("unknown ws message", slog.String("client", c.id), slog.String("type", msg.Type))
	}
}

func (s *HTTPServer) bindRange(r feed.Range) feed.Range {
	r.From, r.To = s.st.BindRange(r.From, r.To, func(from, to int) {
		s.driver.BindRange(feed.Range{From: from, To: to})
	})
	s.BroadcastStatus()
	return r
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	// SPA
	s.mux.HandleFunc("/", s.serveIndex)
	s.mux.HandleFunc("/index.html", s.serveIndex)
	s.mux.HandleFunc("/app.js", s.serveAsset("app.js"))
	s.mux.HandleFunc("/styles.css", s.serveAsset("styles.css"))

	// WS
	s.mux.HandleFunc("/ws", s.hub.serveWS)

	// API
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/config", s.apiConfig)
	s.mux.HandleFunc("/api/snapshot", s.apiSnapshot)
	s.mux.HandleFunc("/api/layout", s.apiLayout)
	s.mux.HandleFunc("/api/start", s.apiStart)
	s.mux.HandleFunc("/api/stop", s.apiStop)

	s.mux.Handle("/metrics", metrics.Handler(s.prom))
}

func (s *HTTPServer) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	b, err := s.assets.Index(assets.Page{
		Title:      s.st.Instrument() + " depth",
		Instrument: s.st.Instrument(),
		Layout:     s.page,
	})
	if err != nil {
		s.log.Error("index", slog.String("err", err.Error()))
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *HTTPServer) serveAsset(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.assets.Get(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		// strong caching only when the request carries the content hash
		if r.URL.Query().Get("v") == a.Hash {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		w.Header().Set("Content-Type", a.ContentType)
		_, _ = w.Write(a.Body)
	}
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":          true,
		"feedRunning": s.st.FeedRunning(),
		"viewers":     s.st.Viewers(),
	})
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"instrument":       s.cfg.Instrument,
		"levels":           s.cfg.Levels,
		"updateIntervalMs": s.cfg.UpdateIntervalMs,
		"tickSize":         s.cfg.TickSize,
		"maxQuantity":      s.cfg.MaxQuantity,
	})
}

func (s *HTTPServer) apiSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.frames.Last())
}

func (s *HTTPServer) apiLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tree)
}

// POST /api/start { "from": 0, "to": 10 } binds a visible range without a browser.
func (s *HTTPServer) apiStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req feed.Range
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	rng := s.bindRange(req)
	writeJSON(w, map[string]any{"ok": true, "range": rng, "feedRunning": s.st.FeedRunning()})
}

func (s *HTTPServer) apiStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.st.UnbindRange(s.driver.UnbindRange)
	s.BroadcastStatus()
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
