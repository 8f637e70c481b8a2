package privacylog

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

var (
	bootKey    = randomKey()
	peerKeys   = map[string]struct{}{"remote_addr": {}, "peer": {}, "client_ip": {}, "x_forwarded_for": {}}
	secretKeys = []string{"authorization", "cookie", "token", "secret", "password"}
)

// SanitizingHandler scrubs peer identifiers and credentials before records
// reach the wrapped handler.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clean = append(clean, SanitizeAttr(a))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr applies redaction and fingerprinting to a single attribute,
// descending into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)
	switch {
	case isSecretKey(lower):
		return slog.String(key, redactedValue)
	case isPeerKey(lower):
		return slog.String(key+"_fp", Fingerprint(attr.Value.Resolve().String()))
	case attr.Value.Kind() == slog.KindGroup:
		group := attr.Value.Group()
		clean := make([]any, 0, len(group))
		for _, g := range group {
			clean = append(clean, SanitizeAttr(g))
		}
		return slog.Group(key, clean...)
	default:
		return attr
	}
}

// Fingerprint returns a stable per-process token for value that cannot be
// reversed without the boot key. Empty input stays empty.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	h, err := blake2b.New256(bootKey)
	if err != nil {
		return "fp_unavailable"
	}
	_, _ = h.Write([]byte(trimmed))
	enc := base58.Encode(h.Sum(nil))
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return "fp_" + enc
}

// PeerHost strips the port from a host:port peer address.
func PeerHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

func isPeerKey(key string) bool {
	_, ok := peerKeys[key]
	return ok
}

func isSecretKey(key string) bool {
	for _, part := range secretKeys {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func randomKey() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(fmt.Sprintf("fallback-%p", &buf))
	}
	return buf
}
