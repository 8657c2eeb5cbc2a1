package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config wires the server to its storage root and collaborators. Only
// Secret and UploadDir are required; nil collaborators are replaced by
// no-op implementations.
type Config struct {
	Addr           string // e.g. ":8080"
	Secret         string
	UploadDir      string
	TempDir        string // defaults to <UploadDir>/.incoming
	MaxUploadBytes int64  // 0 means no limit

	Logger  *slog.Logger
	Metrics *Metrics
	Auditor Auditor
	Mirror  Replicator
}

type Server struct {
	httpServer *http.Server

	root           string
	tempDir        string
	maxUploadBytes int64

	auth    *Authenticator
	logger  *slog.Logger
	metrics *Metrics
	audit   *auditTrail
	mirror  Replicator

	// background tracks audit writes and mirror uploads still in flight.
	background sync.WaitGroup
}

// New validates cfg, creates the storage root and scratch directory, and
// builds the HTTP server. It does not start listening.
func New(cfg Config) (*Server, error) {
	if cfg.Secret == "" {
		return nil, errors.New("server: empty shared secret")
	}
	if cfg.UploadDir == "" {
		return nil, errors.New("server: empty upload directory")
	}

	root, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("server: resolve upload directory: %w", err)
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(root, ".incoming")
	}
	if tempDir, err = filepath.Abs(tempDir); err != nil {
		return nil, fmt.Errorf("server: resolve temp directory: %w", err)
	}
	for _, dir := range []string{root, tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("server: create %s: %w", dir, err)
		}
	}

	s := &Server{
		root:           root,
		tempDir:        tempDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		mirror:         cfg.Mirror,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	auditor := cfg.Auditor
	if auditor == nil {
		auditor = nopAuditor{}
	}
	s.audit = &auditTrail{auditor: auditor, logger: s.logger, pending: &s.background}
	s.auth = newAuthenticator(cfg.Secret, s.logger, s.metrics, s.audit)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the full request pipeline:
// request id -> request logger -> metrics -> security headers -> routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /upload", s.auth.Require(http.HandlerFunc(s.handleUpload)))
	mux.HandleFunc("GET /files/", s.handleFiles)
	mux.HandleFunc("/", notFound)

	var handler http.Handler = mux
	handler = securityHeaders(handler)
	handler = s.metrics.Middleware(handler)
	handler = requestLogger(s.logger, s.auth)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Root returns the absolute storage root.
func (s *Server) Root() string {
	return s.root
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and then for
// pending audit writes and mirror uploads, as far as ctx allows.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background work: %w", ctx.Err())
	}
}

type messageResp struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResp{Message: msg})
}

// notFound is the fixed response for every unmatched route and missing file.
func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not found")
}
