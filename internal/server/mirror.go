package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	mirrorTimeout         = 5 * time.Minute
	mirrorBreakerFailures = 5
	mirrorBreakerCooldown = 30 * time.Second
)

// Replicator copies a stored file to secondary storage. key is the file's
// path relative to the storage root, in slash form.
type Replicator interface {
	Replicate(ctx context.Context, key, localPath string) error
}

// MirrorOptions configures the S3-compatible mirror.
type MirrorOptions struct {
	Endpoint  string // "host:port" or "http(s)://host:port"
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// MinioMirror uploads stored files to an S3-compatible bucket. Calls go
// through a circuit breaker so an unreachable endpoint is not retried on
// every upload.
type MinioMirror struct {
	client  *minio.Client
	bucket  string
	prefix  string
	breaker *CircuitBreaker
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// NewMinioMirror connects to the endpoint and checks that the bucket exists.
func NewMinioMirror(ctx context.Context, opts MirrorOptions, logger *slog.Logger) (*MinioMirror, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, errors.New("mirror configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("mirror bucket does not exist: %s", opts.Bucket)
	}

	return &MinioMirror{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		breaker: NewCircuitBreaker("mirror", mirrorBreakerFailures, mirrorBreakerCooldown, logger),
	}, nil
}

func (m *MinioMirror) Replicate(ctx context.Context, key, localPath string) error {
	return m.breaker.Execute(func() error {
		_, err := m.client.FPutObject(ctx, m.bucket, objectName(m.prefix, key), localPath, minio.PutObjectOptions{
			ContentType: contentTypeFor(localPath),
		})
		return err
	})
}

// BreakerStats exposes the mirror's circuit for health reporting.
func (m *MinioMirror) BreakerStats() CircuitBreakerStats {
	return m.breaker.Stats()
}

func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// replicate mirrors dest in the background. The upload response has already
// been sent; failures are logged and counted only.
func (s *Server) replicate(rid, key, dest string) {
	if s.mirror == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		err := s.mirror.Replicate(ctx, key, dest)
		s.metrics.MirrorResult(err)
		switch {
		case err == nil:
			s.logger.Debug("mirrored upload", "rid", rid, "key", key)
		case isCircuitRejection(err):
			s.logger.Debug("mirror skipped", "rid", rid, "key", key, "err", err)
		default:
			s.logger.Warn("mirror upload failed", "rid", rid, "key", key, "err", err)
		}
	}()
}
