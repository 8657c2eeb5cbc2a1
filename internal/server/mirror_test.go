package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{" minio:9000 ", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://minio:9000", "minio:9000", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"http://minio:9000/foo", "", false, true},
		{"http://", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.wantEndpoint, ep, "input %q", tt.in)
		assert.Equal(t, tt.wantSecure, secure, "input %q", tt.in)
	}
}

func TestNewMinioMirror_Incomplete(t *testing.T) {
	_, err := NewMinioMirror(context.Background(), MirrorOptions{Endpoint: "minio:9000", Bucket: "b"}, nil)
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "notes/a.txt", objectName("", "notes/a.txt"))
	assert.Equal(t, "backup/notes/a.txt", objectName("backup", "notes/a.txt"))
	assert.Equal(t, "a/b/c.txt", objectName("a/b", "c.txt"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("/x/report.pdf"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("/x/noext"))
}

func TestUpload_MirrorFailureIsInvisible(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("endpoint unreachable")}
	m := NewMetrics(nil)
	env := newTestEnv(t, func(c *Config) {
		c.Mirror = mirror
		c.Metrics = m
	})

	rr := env.do(uploadRequest(t, testSecret, filePart("a.txt", "hello")))
	require.Equal(t, http.StatusOK, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	assert.Equal(t, []string{"a.txt=hello"}, mirror.keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorOpsTotal.WithLabelValues("error")))
	assert.Contains(t, env.logs.String(), "mirror upload failed")
}

func TestUpload_NoMirrorOnFailure(t *testing.T) {
	mirror := &fakeMirror{}
	env := newTestEnv(t, func(c *Config) { c.Mirror = mirror })

	rr := env.do(uploadRequest(t, testSecret, filePart("a.txt", "x"), namePart("../a.txt")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, env.srv.Shutdown(context.Background()))
	assert.Empty(t, mirror.keys())
}
