package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError describes one invalid configuration key.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ValidationErrors is returned by Load when at least one key is invalid.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):", len(errs))
	for i, err := range errs {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return sb.String()
}

// Validator accumulates configuration errors.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

// AddError records a validation error for key.
func (v *Validator) AddError(key, message string) {
	v.errors = append(v.errors, ValidationError{Field: key, Message: message})
}

// Err returns the collected errors, or nil.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return v.errors
}

// Required records an error when value is empty and returns value unchanged.
func (v *Validator) Required(key, value string) string {
	if value == "" {
		v.AddError(key, "required environment variable not set")
	}
	return value
}

// Port parses a TCP port number. Empty values are left to Required.
func (v *Validator) Port(key, value string) int {
	if value == "" {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimPrefix(value, ":"))
	if err != nil {
		v.AddError(key, "port must be a number")
		return 0
	}
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
		return 0
	}
	return port
}

// NonNegativeInt parses an int64 that must be >= 0.
func (v *Validator) NonNegativeInt(key, value string) int64 {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return 0
	}
	if n < 0 {
		v.AddError(key, "must not be negative")
		return 0
	}
	return n
}

// Enum checks value against the allowed options.
func (v *Validator) Enum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// Timezone resolves an IANA zone name. On failure it records an error and
// returns UTC so callers never see a nil location.
func (v *Validator) Timezone(key, value string) *time.Location {
	loc, err := time.LoadLocation(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("unknown time zone %q", value))
		return time.UTC
	}
	return loc
}
