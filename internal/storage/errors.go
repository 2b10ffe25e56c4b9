// Package storage holds helpers shared by the contact store backends: reading
// free-form backend configuration maps and reporting configuration errors.
package storage

import "fmt"

// ConfigError reports an unusable backend setting.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	var b []byte
	b = append(b, e.Backend...)
	if e.Field != "" {
		b = append(b, ": "...)
		b = append(b, e.Field...)
		if e.Value != "" {
			b = fmt.Appendf(b, "=%q", e.Value)
		}
	}
	b = append(b, ": "...)
	b = append(b, e.Message...)
	if e.Cause != nil {
		b = fmt.Appendf(b, ": %v", e.Cause)
	}
	return string(b)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError reports a problem with a backend as a whole (empty field)
// or with one of its settings.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}
