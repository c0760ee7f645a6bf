package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-depth/internal/assets"
	"market-depth/internal/config"
	"market-depth/internal/feed"
	"market-depth/internal/layout"
	"market-depth/internal/metrics"
	"market-depth/internal/render"
	"market-depth/internal/server"
	"market-depth/internal/state"
	"market-depth/internal/store"

	"github.com/joho/godotenv"
)

const depthComponent = "MarketDepthFeature"

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	defaultPath := "config.yaml"
	if p := os.Getenv("MARKET_DEPTH_CONFIG"); p != "" {
		defaultPath = p
	}
	cfgPath := flag.String("config", defaultPath, "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	missing := errors.Is(err, fs.ErrNotExist)
	if err != nil && !missing {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *cfgPath, err)
		os.Exit(1)
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if missing {
		logger.Warn("config file not found, using defaults", slog.String("path", *cfgPath))
	}
	logger.Info("market-depth starting",
		slog.Int("port", cfg.Port),
		slog.String("instrument", cfg.Instrument),
		slog.Int("levels", cfg.Levels),
		slog.Duration("update_interval", cfg.UpdateInterval()),
	)

	// Layout host
	reg := layout.NewRegistry()
	for name, kind := range map[string]layout.Kind{depthComponent: layout.KindView, "Flexbox": layout.KindContainer} {
		if err := reg.Register(name, kind); err != nil {
			logger.Error("register component", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	tree := layout.Default(depthComponent)
	if cfg.LayoutFile != "" {
		if tree, err = layout.LoadFile(cfg.LayoutFile); err != nil {
			logger.Error("layout", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}

	am, err := assets.NewManager()
	if err != nil {
		logger.Error("assets", slog.String("err", err.Error()))
		os.Exit(1)
	}
	prom := metrics.Init(logger)

	// Row store + synthetic feed
	st := state.NewState(cfg.Instrument)
	rows := store.New(logger)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen, err := feed.NewRandomWalk(feed.NewSeededRand(seed), cfg.BasePrice, cfg.TickSize, cfg.Levels, cfg.MaxQuantity)
	if err != nil {
		logger.Error("generator", slog.String("err", err.Error()))
		os.Exit(1)
	}
	driver := feed.NewDriver(gen, cfg.Instrument, cfg.UpdateInterval(), logger)
	driver.BindStore(rows)

	// Depth view: store change -> render -> WS hub
	var srv *server.HTTPServer
	view := render.NewView(rows, cfg.Instrument, func(f render.Frame) {
		if srv != nil {
			srv.BroadcastFrame(f)
		}
	}, logger)

	srv, err = server.NewHTTPServer(cfg, st, am, driver, view, reg, tree, prom, logger)
	if err != nil {
		logger.Error("http server init", slog.String("err", err.Error()))
		os.Exit(1)
	}
	view.Mount()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// HTTP serving
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	h := driver.Handle()
	driver.UnbindStore()
	if h != nil {
		select {
		case <-h.Done():
		case <-shCtx.Done():
		}
	}
	view.Unmount()
	_ = httpSrv.Shutdown(shCtx)
	<-done
	logger.Info("bye")
}
