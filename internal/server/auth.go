package server

import (
	"log/slog"
	"net/http"
	"sync"
)

// AuthHeader carries the raw shared secret. There is no scheme prefix: the
// whole header value must equal the configured secret.
const AuthHeader = "Authorization"

// Authenticator checks requests against the single shared secret.
type Authenticator struct {
	secret  string
	logger  *slog.Logger
	metrics *Metrics
	audit   *auditTrail
}

func NewAuthenticator(secret string, logger *slog.Logger, metrics *Metrics, audit Auditor) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if audit == nil {
		audit = nopAuditor{}
	}
	return newAuthenticator(secret, logger, metrics, &auditTrail{
		auditor: audit,
		logger:  logger,
		pending: &sync.WaitGroup{},
	})
}

func newAuthenticator(secret string, logger *slog.Logger, metrics *Metrics, trail *auditTrail) *Authenticator {
	return &Authenticator{secret: secret, logger: logger, metrics: metrics, audit: trail}
}

// Matches reports whether the first Authorization value equals the secret.
// The comparison is plain string equality, not constant-time.
func (a *Authenticator) Matches(r *http.Request) bool {
	values := r.Header.Values(AuthHeader)
	if len(values) == 0 {
		return false
	}
	return values[0] == a.secret
}

// Require wraps next so it only runs for authorized requests. Anything else
// gets 401 before the body is read.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Matches(r) {
			a.reject(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusUnauthorized, "Unauthorized")

	ip := clientIP(r)
	// The attempted credential is logged as-is so misconfigured clients are
	// easy to spot. Log sinks must be treated as sensitive.
	attempted := r.Header.Get(AuthHeader)
	a.logger.Warn("unauthorized upload attempt",
		"rid", RequestIDFromContext(r.Context()),
		"ip", ip,
		"ua", r.UserAgent(),
		"credential", attempted,
	)
	a.metrics.AuthFailed()

	a.audit.record(r, AuditEvent{
		Action:    AuditActionUnauthorized,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Resource:  r.URL.Path,
		Success:   false,
		ErrorMsg:  "shared secret mismatch",
	})
}
