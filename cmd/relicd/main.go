// Command relicd hosts the embedded listener in a plain Go process, the way
// a foreign host would through start_server, with config-driven logging,
// metrics and tracing around it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relic/go-backend/internal/composition/embedded"
	"relic/go-backend/internal/platform/config"
	"relic/go-backend/internal/platform/logging"
	"relic/go-backend/internal/platform/otel"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("relicd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("relicd failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "relicd", cfg)
	if err != nil {
		log.Fatalf("relicd failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing flush failed", "component", "relicd", "error", err.Error())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if addr := cfg.Metrics.ListenAddress; addr != "" {
		go serveMetrics(logger, addr, reg)
	}

	h := embedded.Start(embedded.Options{Logger: logger, Registerer: reg})
	logger.Info("relicd started", "component", "relicd", "instance_id", h.InstanceID())

	select {
	case <-ctx.Done():
		// The listener has no stop operation; exiting the process ends it.
		logger.Info("relicd exiting", "component", "relicd")
	case <-h.Done():
		log.Fatalf("relicd listener ended: %v", h.Err())
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serveMetrics(logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics endpoint listening", "component", "relicd", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics endpoint failed", "component", "relicd", "error", err.Error())
	}
}
