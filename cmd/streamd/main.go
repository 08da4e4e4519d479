// Command streamd serves live market candles and incrementally recomputed
// indicators over websocket, fanning one upstream exchange stream out to any
// number of subscribers per symbol and interval.
package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"torypto-stream/internal/config"
	"torypto-stream/internal/dispatch"
	"torypto-stream/internal/feed"
	"torypto-stream/internal/gateway"
	"torypto-stream/internal/metrics"
	"torypto-stream/internal/publish"
	"torypto-stream/internal/window"
	"torypto-stream/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("config load failed: %v", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		stdlog.Fatalf("logger init failed: %v", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	store := window.NewStore(cfg.Window.Capacity, log)

	fd := feed.NewBinance(log)
	fd.OnReconnect = met.FeedReconnects.Inc

	var pub dispatch.Publisher
	if cfg.Redis.Enabled {
		r, err := publish.New(publish.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Fatal("redis mirror init failed", zap.Error(err))
		}
		defer r.Close()
		pub = r
	}

	d := dispatch.New(fd, store, pub, met, log, dispatch.Config{
		HistoryLimit: cfg.Dispatch.HistoryLimit,
		InboundQueue: cfg.Dispatch.InboundQueue,
		SeedTimeout:  cfg.Dispatch.SeedTimeout,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	gw := gateway.NewServer(d, met, log, cfg.Gateway.ClientQueue)
	gw.Register(e)
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
