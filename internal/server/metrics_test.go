package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_UploadOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	env := newTestEnv(t, func(c *Config) { c.Metrics = m })

	env.do(uploadRequest(t, testSecret, filePart("a.txt", "hello")))
	env.do(uploadRequest(t, testSecret, filePart("b.txt", "x"), namePart("../b.txt")))
	env.do(uploadRequest(t, "nope", filePart("c.txt", "x")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("client_error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/upload", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/upload", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/upload", "401")))
}

func TestMetrics_RouteLabels(t *testing.T) {
	m := NewMetrics(nil)
	env := newTestEnv(t, func(c *Config) { c.Metrics = m })

	env.do(httptest.NewRequest(http.MethodGet, "/files/a.txt", nil))
	env.do(httptest.NewRequest(http.MethodGet, "/files/b.txt", nil))
	env.do(httptest.NewRequest(http.MethodGet, "/random", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/files", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "other", "404")))
}

func TestMetrics_MirrorResult(t *testing.T) {
	m := NewMetrics(nil)

	m.MirrorResult(nil)
	m.MirrorResult(errors.New("boom"))
	m.MirrorResult(ErrCircuitOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorOpsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorOpsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorOpsTotal.WithLabelValues("skipped")))
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	require.Panics(t, func() { NewMetrics(reg) })
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/upload", routeLabel("/upload"))
	assert.Equal(t, "/files", routeLabel("/files/a/b.txt"))
	assert.Equal(t, "/", routeLabel("/"))
	assert.Equal(t, "other", routeLabel("/upload/extra"))
}
