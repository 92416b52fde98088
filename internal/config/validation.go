// validation.go - Startup configuration validation.
//
// Checks every environment variable up front so the backend fails fast with
// a list of problems rather than misbehaving at request time.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates configuration errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidateAddr validates a listen address of the form "host:port" or ":port".
func (v *Validator) ValidateAddr(key, value string) {
	if value == "" {
		v.AddError(key, "must not be empty")
		return
	}

	i := strings.LastIndex(value, ":")
	if i < 0 {
		v.AddError(key, "must be host:port or :port")
		return
	}

	port, err := strconv.Atoi(value[i+1:])
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}

	if port < 0 || port > 65535 {
		v.AddError(key, "port must be between 0 and 65535")
	}
}

// ValidateURL validates that a value is an http(s) URL.
func (v *Validator) ValidateURL(key, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}

	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidateRawInt checks that an environment variable, if set, parses as an
// integer no smaller than min.
func (v *Validator) ValidateRawInt(key string, min int64) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return
	}

	if n < min {
		v.AddError(key, fmt.Sprintf("must be at least %d", min))
	}
}

// ValidateRawDuration checks that an environment variable, if set, parses
// as a positive Go duration.
func (v *Validator) ValidateRawDuration(key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		v.AddError(key, "must be a valid duration (e.g., 500ms, 10m)")
		return
	}

	if d <= 0 {
		v.AddError(key, "must be a positive duration")
	}
}

// ValidateRawBool checks that an environment variable, if set, parses as a bool.
func (v *Validator) ValidateRawBool(key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}

	if _, err := strconv.ParseBool(raw); err != nil {
		v.AddError(key, "must be true or false")
	}
}

// ValidateFilenames checks allowlist entries are bare file names.
func (v *Validator) ValidateFilenames(key string, names []string) {
	if len(names) == 0 {
		v.AddError(key, "must list at least one file name")
		return
	}

	for _, n := range names {
		if strings.ContainsAny(n, `/\`) || n == "." || n == ".." {
			v.AddError(key, fmt.Sprintf("entry %q must be a bare file name", n))
		}
	}
}

// Validate performs validation of the whole configuration.
func Validate(cfg Config) error {
	v := NewValidator()

	v.ValidateAddr("ACD_ADDR", cfg.Addr)

	if strings.TrimSpace(cfg.DataDir) == "" {
		v.AddError("ACD_DATA_DIR", "must not be empty")
	}

	v.ValidateFilenames("ACD_ALLOWED_FILES", cfg.AllowedFiles)

	v.ValidateRawInt("ACD_MAX_BODY_BYTES", 1)
	v.ValidateRawInt("ACD_RATE_LIMIT", 0)
	v.ValidateRawBool("ACD_JSON_ERRORS")
	v.ValidateRawBool("ACD_WATCH_ENABLED")
	v.ValidateRawDuration("ACD_UPDATE_TIMEOUT")
	v.ValidateRawDuration("ACD_WATCH_INTERVAL")
	if raw := os.Getenv("ACD_AUDIT_RETENTION"); raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			v.AddError("ACD_AUDIT_RETENTION", "must be a valid duration (e.g., 720h), 0 disables pruning")
		}
	}
	v.ValidateRawDuration("ACD_AUDIT_PRUNE_INTERVAL")

	if cfg.DatabaseURL != "" &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	m := cfg.Mirror
	anyMirror := m.Endpoint != "" || m.AccessKey != "" || m.SecretKey != "" || m.Bucket != ""
	if anyMirror && !m.Enabled() {
		v.AddError("ACD_S3_ENDPOINT", "ACD_S3_ENDPOINT, ACD_S3_ACCESS_KEY, ACD_S3_SECRET_KEY and ACD_BUCKET must be set together")
	}
	if strings.Contains(m.Endpoint, "://") {
		v.ValidateURL("ACD_S3_ENDPOINT", m.Endpoint)
	}

	v.ValidateEnum("ACD_LOG_FORMAT", cfg.LogFormat, []string{"", "json", "text"})
	v.ValidateEnum("ACD_LOG_LEVEL", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum("ACD_ENV", cfg.Env, []string{"development", "production", "staging"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}

	return nil
}

// Warnings lists optional settings that are unset but worth knowing about.
func Warnings(cfg Config) []string {
	warnings := make([]string, 0)

	if cfg.Update.Command == "" {
		warnings = append(warnings, "ACD_UPDATE_COMMAND not set - /run-update will report an error")
	}

	if cfg.DatabaseURL == "" {
		warnings = append(warnings, "DATABASE_URL not set - save audit disabled")
	}

	if !cfg.Mirror.Enabled() {
		warnings = append(warnings, "ACD_S3_ENDPOINT not set - object store mirror disabled")
	}

	if cfg.LogFormat == "" {
		warnings = append(warnings, "ACD_LOG_FORMAT not set - using text format (consider 'json' for production)")
	}

	return warnings
}
