// Package config loads the process configuration once at startup.
//
// Values come from an optional dotenv file overlaid by the process
// environment. Load collects every problem it finds and returns them
// together so a misconfigured deployment fails fast with a full report.
package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config is the immutable configuration handed to the server and its
// collaborators.
type Config struct {
	Secret         string
	Port           int
	Location       *time.Location
	UploadDir      string
	TempDir        string
	MaxUploadBytes int64

	Log     LogConfig
	Metrics MetricsConfig
	Audit   AuditConfig
	Mirror  MirrorConfig
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Color  string // auto, always, never
}

// MetricsConfig enables the admin listener serving /metrics and /healthz.
type MetricsConfig struct {
	Addr string
}

// AuditConfig enables the Postgres audit trail.
type AuditConfig struct {
	DatabaseURL string
}

// MirrorConfig enables replication of stored files to an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Enabled reports whether every setting needed by the mirror is present.
func (m MirrorConfig) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != "" && m.Bucket != ""
}

// Addr is the listen address of the public server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

const (
	defaultEnvFile   = ".env"
	defaultTimezone  = "Asia/Bangkok"
	defaultUploadDir = "uploads"
	tempDirName      = ".incoming"
)

// Load reads configuration from the dotenv file named by ENV_FILE (default
// ".env", missing file tolerated) and the process environment, which wins.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	envFile := v.GetString("ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	v.SetDefault("TZ", defaultTimezone)
	v.SetDefault("UPLOAD_DIR", defaultUploadDir)
	v.SetDefault("MAX_UPLOAD_BYTES", "0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_COLOR", "auto")

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	val := NewValidator()

	secret := val.Required("PASSWORD", v.GetString("PASSWORD"))
	port := val.Port("PORT", val.Required("PORT", v.GetString("PORT")))
	maxBytes := val.NonNegativeInt("MAX_UPLOAD_BYTES", v.GetString("MAX_UPLOAD_BYTES"))
	loc := val.Timezone("TZ", v.GetString("TZ"))

	logCfg := LogConfig{
		Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
		Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		Color:  strings.ToLower(v.GetString("LOG_COLOR")),
	}
	val.Enum("LOG_LEVEL", logCfg.Level, []string{"debug", "info", "warn", "error"})
	val.Enum("LOG_FORMAT", logCfg.Format, []string{"text", "json"})
	val.Enum("LOG_COLOR", logCfg.Color, []string{"auto", "always", "never"})

	uploadDir := v.GetString("UPLOAD_DIR")
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		val.AddError("UPLOAD_DIR", err.Error())
	}
	tempDir := v.GetString("UPLOAD_TMP_DIR")
	if tempDir == "" {
		tempDir = filepath.Join(root, tempDirName)
	} else if abs, err := filepath.Abs(tempDir); err != nil {
		val.AddError("UPLOAD_TMP_DIR", err.Error())
	} else {
		tempDir = abs
	}
	if tempDir == root {
		val.AddError("UPLOAD_TMP_DIR", "must differ from UPLOAD_DIR")
	}

	mirror := MirrorConfig{
		Endpoint:  v.GetString("S3_ENDPOINT"),
		AccessKey: v.GetString("S3_ACCESS_KEY"),
		SecretKey: v.GetString("S3_SECRET_KEY"),
		Bucket:    v.GetString("S3_BUCKET"),
		Prefix:    strings.Trim(v.GetString("S3_PREFIX"), "/"),
	}
	if mirror.Endpoint != "" && !mirror.Enabled() {
		val.AddError("S3_ENDPOINT", "S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET are required with S3_ENDPOINT")
	}

	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL != "" && !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		val.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	if err := val.Err(); err != nil {
		return Config{}, err
	}

	return Config{
		Secret:         secret,
		Port:           port,
		Location:       loc,
		UploadDir:      root,
		TempDir:        tempDir,
		MaxUploadBytes: maxBytes,
		Log:            logCfg,
		Metrics:        MetricsConfig{Addr: v.GetString("METRICS_ADDR")},
		Audit:          AuditConfig{DatabaseURL: databaseURL},
		Mirror:         mirror,
	}, nil
}
