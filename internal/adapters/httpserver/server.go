package httpserver

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"relic/go-backend/internal/domains/greeting"
	"relic/go-backend/internal/platform/logging"
	"relic/go-backend/internal/platform/metrics"
	"relic/go-backend/internal/platform/ratelimiter"
)

// DefaultAddr is the only address the embedded listener ever binds.
const DefaultAddr = "127.0.0.1:3000"

const componentName = "httpserver"

// Transport diagnostics are throttled per peer.
const (
	diagRPS   = 1
	diagBurst = 5
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Listener
	Tracer  trace.Tracer
}

// Server answers every connection it accepts with its responder. It has no
// stop operation: the accept loop ends only when the owner of the socket
// closes it or the process exits.
type Server struct {
	responder greeting.FallibleResponder
	logger    *slog.Logger
	metrics   *metrics.Listener
	tracer    trace.Tracer
	diag      *ratelimiter.KeyedLimiter
}

// New builds a server around a responder that cannot fail.
func New(responder greeting.Responder, opts Options) *Server {
	return NewFallible(greeting.Infallible(responder), opts)
}

// NewFallible builds a server around a responder that may fail; failures are
// answered with 500.
func NewFallible(responder greeting.FallibleResponder, opts Options) *Server {
	s := &Server{
		responder: responder,
		logger:    logging.OrDefault(opts.Logger).With("component", componentName),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		diag:      ratelimiter.New(diagRPS, diagBurst, 0),
	}
	if s.metrics == nil {
		s.metrics = metrics.NewListener(nil)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("relic/go-backend/httpserver")
	}
	return s
}

// Serve binds addr and runs the accept loop on it. A bind failure is returned
// as *BindError; otherwise Serve only returns if the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := s.Bind(ctx, addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// Bind claims addr for exclusive use by this server.
func (s *Server) Bind(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.metrics.BindFailures.Inc()
		return nil, &BindError{Addr: addr, Err: err}
	}
	return ln, nil
}

// ServeListener runs the accept loop on an already bound listener. Each
// connection is served on its own goroutine; requests pipelined on one
// HTTP/1.x connection are answered in order. HTTP/2 with prior knowledge is
// accepted on the same socket.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	bound := ln.Addr()
	s.logger.Info("listener bound",
		"operation", "serve",
		"addr", bound.String(),
		"multiaddr", Multiaddr(bound),
	)

	srv := &http.Server{
		Handler:  h2c.NewHandler(s, &http2.Server{}),
		ErrorLog: log.New(newTransportLogWriter(s.logger, s.diag, time.Now), "", 0),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	if err := srv.Serve(&trackingListener{Listener: ln, metrics: s.metrics}); err != nil {
		return fmt.Errorf("serve %s: %w", bound, err)
	}
	return nil
}
