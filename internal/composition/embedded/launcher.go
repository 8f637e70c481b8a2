// Package embedded launches the listener on its own thread for a host process
// that must not be blocked, stalled or re-entered by the launch.
package embedded

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"relic/go-backend/internal/adapters/httpserver"
	"relic/go-backend/internal/app"
	"relic/go-backend/internal/domains/greeting"
	"relic/go-backend/internal/platform/config"
	"relic/go-backend/internal/platform/logging"
	"relic/go-backend/internal/platform/metrics"
)

type Options struct {
	Logger *slog.Logger
	// Registerer receives the listener collectors; nil means
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// StartDetached is what the foreign entry point calls: default logging to
// stderr, no handle kept.
func StartDetached() {
	_ = Start(Options{Logger: logging.New(config.Default().Logging)})
}

// Start launches a new listener instance on httpserver.DefaultAddr and
// returns immediately. Each call is independent; a second call while the
// first instance holds the address ends with *httpserver.BindError on its
// own thread and leaves the first untouched.
func Start(opts Options) *Handle {
	return launch(httpserver.DefaultAddr, opts)
}

func launch(addr string, opts Options) *Handle {
	h := newHandle()
	logger := logging.OrDefault(opts.Logger).With("instance_id", h.id)
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := metrics.NewListener(reg)
	go run(h, addr, logger, m)
	return h
}

// run owns the dedicated thread. The thread is never unlocked, so it retires
// together with this goroutine instead of returning to the scheduler pool.
func run(h *Handle, addr string, logger *slog.Logger, m *metrics.Listener) {
	runtime.LockOSThread()

	rt, err := app.NewRuntime(context.Background(), app.RuntimeOptions{Logger: logger})
	if err != nil {
		m.RuntimeFailures.Inc()
		logger.Error("execution context failed", "component", "embedded", "operation", "start", "error", err.Error())
		h.finish(err)
		return
	}

	srv := httpserver.New(greeting.Hello(), httpserver.Options{Logger: logger, Metrics: m})
	err = rt.BlockOn(func(ctx context.Context) error {
		ln, err := srv.Bind(ctx, addr)
		if err != nil {
			return err
		}
		h.markReady(ln.Addr())
		return srv.ServeListener(ctx, ln)
	})

	var panicErr *app.PanicError
	if errors.As(err, &panicErr) {
		m.RuntimeFailures.Inc()
	}
	logger.Error("server error", "component", "embedded", "operation", "serve", "error", errString(err))
	h.finish(err)
}

func errString(err error) string {
	if err == nil {
		return "listener stopped"
	}
	return err.Error()
}
