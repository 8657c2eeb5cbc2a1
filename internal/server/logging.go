package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"upload-drop/internal/logging"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// uptimeProbeAgent identifies the monitoring agent whose root-path
// heartbeats are kept out of the request log.
const uptimeProbeAgent = "Uptime-Kuma"

// logFailures receives a note when writing a request record panics, since
// the logger itself cannot be trusted at that point.
var logFailures io.Writer = os.Stderr

// RequestIDFromContext returns the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}

// requestIDMiddleware ensures every request has a request id.
// If the client supplies X-Request-Id, we keep it; otherwise we generate one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one record per request once the handler has returned
// and the status code is final. A panicking handler is logged as a 500 and
// the panic is passed on to net/http.
func requestLogger(logger *slog.Logger, auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				p := recover()
				if p != nil && !rec.wroteHeader {
					rec.status = http.StatusInternalServerError
				}
				logRequest(logger, auth, r, rec, time.Since(start))
				if p != nil {
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func logRequest(logger *slog.Logger, auth *Authenticator, r *http.Request, rec *statusRecorder, elapsed time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(logFailures, "request log failed: %s %s: %v\n", r.Method, r.URL.EscapedPath(), p)
		}
	}()

	ua := r.UserAgent()
	if ua == "" {
		ua = "-"
	}
	ip := clientIP(r)

	if r.URL.Path == "/" && strings.Contains(ua, uptimeProbeAgent) {
		if auth.Matches(r) {
			logger.LogAttrs(r.Context(), logging.LevelNotice, "heartbeat",
				slog.String("ip", ip),
				slog.String("ua", ua),
				slog.Int("status", rec.status),
			)
		}
		return
	}

	raw := r.URL.EscapedPath()
	attrs := []slog.Attr{
		slog.String("rid", RequestIDFromContext(r.Context())),
		slog.String("ip", ip),
		slog.String("method", r.Method),
		slog.String("path", raw),
	}
	if decoded := decodePath(raw); decoded != raw {
		attrs = append(attrs, slog.String("decoded_path", decoded))
	}
	attrs = append(attrs,
		slog.String("ua", ua),
		slog.Int("status", rec.status),
		slog.Int64("ms", elapsed.Milliseconds()),
		slog.Int("bytes", rec.size),
	)

	level := slog.LevelInfo
	if rec.status >= http.StatusBadRequest {
		level = slog.LevelWarn
	}
	logger.LogAttrs(r.Context(), level, "request", attrs...)
}

// decodePath percent-decodes p, falling back to p itself when it is not
// valid escaping.
func decodePath(p string) string {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return decoded
}

// clientIP prefers the address reported by the fronting proxy: Cloudflare's
// CF-Connecting-IP, then X-Real-IP, then the TCP peer.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("Cf-Connecting-Ip")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
