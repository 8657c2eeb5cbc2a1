package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// auditTimeout bounds a single audit write so a stuck database cannot hold
// up shutdown for long.
const auditTimeout = 2 * time.Second

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionFileUpload   AuditAction = "file_upload"
	AuditActionUnauthorized AuditAction = "unauthorized"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	Action    AuditAction
	IPAddress string
	UserAgent string
	Resource  string
	Details   map[string]any
	Success   bool
	ErrorMsg  string
}

// Auditor persists audit events. Implementations must be safe for
// concurrent use.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEvent) error { return nil }

// PostgresAuditor writes events to the audit_logs table.
type PostgresAuditor struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresAuditor(db *sql.DB) *PostgresAuditor {
	return &PostgresAuditor{db: db, now: time.Now}
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, timestamp, action, ip_address, user_agent,
			resource, details, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(),
		a.now(),
		string(ev.Action),
		ev.IPAddress,
		nullString(ev.UserAgent),
		nullString(ev.Resource),
		detailsJSON,
		ev.Success,
		nullString(ev.ErrorMsg),
	)
	return err
}

// Ping reports whether the database is reachable.
func (a *PostgresAuditor) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// auditTrail hands events to an Auditor in the background so a slow
// database never delays a response. pending is drained on shutdown.
type auditTrail struct {
	auditor Auditor
	logger  *slog.Logger
	pending *sync.WaitGroup
}

func (t *auditTrail) record(r *http.Request, ev AuditEvent) {
	ctx := context.WithoutCancel(r.Context())
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		recordAudit(ctx, t.logger, t.auditor, ev)
	}()
}

// recordAudit writes ev without letting the outcome reach the client: the
// write survives request cancellation and failures are only logged.
func recordAudit(parent context.Context, logger *slog.Logger, auditor Auditor, ev AuditEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), auditTimeout)
	defer cancel()

	if err := auditor.Record(ctx, ev); err != nil {
		logger.Warn("audit write failed",
			"rid", RequestIDFromContext(parent),
			"action", string(ev.Action),
			"err", err,
		)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
