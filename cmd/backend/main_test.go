package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upload-drop/internal/config"
)

// clearEnv isolates run from the developer's environment and any .env file.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	for _, k := range []string{"PASSWORD", "PORT", "DATABASE_URL", "S3_ENDPOINT", "METRICS_ADDR"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestRun_MissingConfigFailsBeforeListening(t *testing.T) {
	clearEnv(t)
	uploads := filepath.Join(t.TempDir(), "uploads")
	t.Setenv("UPLOAD_DIR", uploads)

	err := run()

	require.Error(t, err)
	var verrs config.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, err.Error(), "PASSWORD")
	assert.Contains(t, err.Error(), "PORT")
	assert.NoDirExists(t, uploads, "nothing is created when configuration is invalid")
}

func TestRun_UnreachableAuditDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("PASSWORD", "s3cret")
	t.Setenv("PORT", "18080")
	t.Setenv("UPLOAD_DIR", filepath.Join(t.TempDir(), "uploads"))
	t.Setenv("DATABASE_URL", "postgres://x:y@127.0.0.1:1/none?sslmode=disable")
	t.Setenv("LOG_FORMAT", "json")

	err := run()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect audit database")
}
