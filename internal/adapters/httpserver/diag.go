package httpserver

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"relic/go-backend/internal/platform/privacylog"
	"relic/go-backend/internal/platform/ratelimiter"
)

var peerPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}|\[[0-9a-fA-F:.%]+\]):\d+`)

// transportLogWriter receives the transport's own error lines (malformed
// requests, aborted handshakes, accept retries). They stay per-connection
// noise: debug level only, peer fingerprinted, throttled per peer.
type transportLogWriter struct {
	logger  *slog.Logger
	limiter *ratelimiter.KeyedLimiter
	now     func() time.Time
}

func newTransportLogWriter(logger *slog.Logger, limiter *ratelimiter.KeyedLimiter, now func() time.Time) *transportLogWriter {
	return &transportLogWriter{logger: logger, limiter: limiter, now: now}
}

func (w *transportLogWriter) Write(p []byte) (int, error) {
	if !w.logger.Enabled(context.Background(), slog.LevelDebug) {
		return len(p), nil
	}
	msg := strings.TrimSpace(string(p))
	key := "transport"
	if peer := peerPattern.FindString(msg); peer != "" {
		key = privacylog.Fingerprint(privacylog.PeerHost(peer))
		msg = strings.ReplaceAll(msg, peer, key)
	}
	if !w.limiter.Allow(key, w.now()) {
		return len(p), nil
	}
	w.logger.Debug("transport error", "operation", "transport", "detail", msg)
	return len(p), nil
}
