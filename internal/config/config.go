// Package config loads backend configuration from the environment.
//
// Values come from real environment variables first and then from an
// optional .env file in the working directory or next to the binary.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAllowedFiles are the save targets the catalog editor writes.
var DefaultAllowedFiles = []string{"apps_output.csv", "apps.csv", "appSources.json"}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// UpdateConfig describes the external update script.
type UpdateConfig struct {
	Command string // shell-style command line, empty disables /run-update
	Dir     string
	Timeout time.Duration
}

// WatchConfig controls the self-restart watcher.
type WatchConfig struct {
	Enabled  bool
	Path     string
	Interval time.Duration
}

// MirrorConfig holds the optional S3/MinIO mirror settings.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Enabled reports whether all required mirror settings are present.
func (m MirrorConfig) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != "" && m.Bucket != ""
}

// Config is the complete backend configuration.
type Config struct {
	Addr         string
	DataDir      string
	WebRoot      string
	AllowedFiles []string
	MaxBodyBytes int64
	JSONErrors   bool
	RateLimit    int // POST requests per minute per client IP, 0 disables

	Update UpdateConfig
	Watch  WatchConfig
	Mirror MirrorConfig

	DatabaseURL     string
	AuditRetention  time.Duration // 0 keeps save events forever
	AuditPruneEvery time.Duration

	Env       string
	LogLevel  string
	LogFormat string
	Build     BuildInfo
}

// Load reads .env files (without overriding the environment) and returns
// the resulting configuration. Parsing problems are left for Validate.
func Load() Config {
	loadDotEnv()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		Addr:         getenvDefault("ACD_ADDR", ":8000"),
		DataDir:      getenvDefault("ACD_DATA_DIR", "data"),
		WebRoot:      getenvDefault("ACD_WEB_ROOT", "."),
		AllowedFiles: splitList(getenvDefault("ACD_ALLOWED_FILES", strings.Join(DefaultAllowedFiles, ","))),
		MaxBodyBytes: getenvInt64("ACD_MAX_BODY_BYTES", 10<<20),
		JSONErrors:   getenvBool("ACD_JSON_ERRORS", false),
		RateLimit:    int(getenvInt64("ACD_RATE_LIMIT", 120)),
		Update: UpdateConfig{
			Command: os.Getenv("ACD_UPDATE_COMMAND"),
			Dir:     os.Getenv("ACD_UPDATE_DIR"),
			Timeout: getenvDuration("ACD_UPDATE_TIMEOUT", 10*time.Minute),
		},
		Watch: WatchConfig{
			Enabled:  getenvBool("ACD_WATCH_ENABLED", false),
			Path:     os.Getenv("ACD_WATCH_PATH"),
			Interval: getenvDuration("ACD_WATCH_INTERVAL", time.Second),
		},
		Mirror: MirrorConfig{
			Endpoint:  os.Getenv("ACD_S3_ENDPOINT"),
			AccessKey: os.Getenv("ACD_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("ACD_S3_SECRET_KEY"),
			Bucket:    os.Getenv("ACD_BUCKET"),
			Prefix:    getenvDefault("ACD_S3_PREFIX", "catalog"),
		},
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AuditRetention:  getenvDuration("ACD_AUDIT_RETENTION", 0),
		AuditPruneEvery: getenvDuration("ACD_AUDIT_PRUNE_INTERVAL", time.Hour),
		Env:         getenvDefault("ACD_ENV", "development"),
		LogLevel:    getenvDefault("ACD_LOG_LEVEL", "info"),
		LogFormat:   os.Getenv("ACD_LOG_FORMAT"),
		Build: BuildInfo{
			Version: getenvDefault("ACD_VERSION", "dev"),
			Commit:  getenvDefault("ACD_COMMIT", "unknown"),
		},
	}
}

// loadDotEnv loads .env from the working directory and from the directory
// of the executable. godotenv.Load never overrides variables already set.
func loadDotEnv() {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), ".env"))
	}
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			_ = godotenv.Load(p)
		}
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
