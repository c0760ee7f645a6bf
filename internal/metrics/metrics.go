package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedTicksTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_feed_ticks_total", Help: "Synthetic feed ticks completed"})
	FeedRejectedTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_feed_rejected_snapshots_total", Help: "Generated snapshots rejected as malformed"})
	FeedRowsUpsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_feed_rows_upserted_total", Help: "Rows pushed into the row store"})
	FeedRunning           = prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth_feed_running", Help: "1 while the synthetic feed is scheduling ticks"})
	FramesRenderedTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_frames_rendered_total", Help: "Depth table frames rendered"})
	VisibleLevels         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth_visible_levels", Help: "Body rows in the last rendered frame"})
	Viewers               = prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth_viewers", Help: "Connected browser viewers"})
	WSDroppedTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_ws_dropped_clients_total", Help: "Viewers dropped because their send buffer was full"})
)

func Init(logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		FeedTicksTotal, FeedRejectedTotal, FeedRowsUpsertedTotal, FeedRunning,
		FramesRenderedTotal, VisibleLevels, Viewers, WSDroppedTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info("prometheus metrics initialized", slog.Int("collectors", len(toRegister)))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
