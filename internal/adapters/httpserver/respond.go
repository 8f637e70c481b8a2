package httpserver

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relic/go-backend/internal/domains/greeting"
)

const internalErrorBody = "Internal Server Error"

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "relic.respond",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("network.protocol.version", r.Proto),
		),
	)
	defer span.End()

	resp, err := s.responder.Respond(r.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "responder failed")
		s.logger.Error("responder failed",
			"operation", "respond",
			"method", r.Method,
			"remote_addr", r.RemoteAddr,
			"error", err.Error(),
		)
		resp = greeting.Response{
			Status: http.StatusInternalServerError,
			Body:   []byte(internalErrorBody),
		}
	}

	status := writeResponse(w, resp)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	s.metrics.ObserveRequest(status)
}

func writeResponse(w http.ResponseWriter, resp greeting.Response) int {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(status)
	// A write failure means the peer went away; nothing to report to it.
	_, _ = w.Write(resp.Body)
	return status
}
