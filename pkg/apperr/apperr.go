// Package apperr defines the error types surfaced to callers of promptlab.
//
// Remote call failures are never returned as errors; they travel inside a
// model response. The types here cover the conditions a caller must handle
// explicitly:
//   - [ConfigurationError] unknown provider, missing credential, no adapter resolvable
//   - [ModelError] an adapter could not be built or a model call could not be used
//   - [ValidationError] a prompt or config violates a hard constraint
//   - [TemplateError] a template key or file is missing or fails to render
package apperr

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a setup problem that makes a call impossible.
type ConfigurationError struct {
	Msg string
	Err error
}

// Configuration returns a ConfigurationError with a formatted message.
func Configuration(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ModelError wraps failures tied to a specific provider and model.
type ModelError struct {
	Provider string
	Model    string
	Msg      string
	Err      error
}

func (e *ModelError) Error() string {
	target := e.Provider
	if e.Model != "" {
		target += ":" + e.Model
	}

	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if target == "" {
		return "model error: " + msg
	}
	return fmt.Sprintf("model error (%s): %s", target, msg)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ValidationError reports invalid caller input detected before any network call.
type ValidationError struct {
	Field string
	Msg   string
}

// Validation returns a ValidationError for field with a formatted message.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
}

// TemplateError reports a missing or broken template.
type TemplateError struct {
	Key string
	Msg string
	Err error
}

func (e *TemplateError) Error() string {
	msg := fmt.Sprintf("template error: %s: %s", e.Key, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsModel reports whether err wraps a ModelError.
func IsModel(err error) bool {
	var target *ModelError
	return errors.As(err, &target)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTemplate reports whether err wraps a TemplateError.
func IsTemplate(err error) bool {
	var target *TemplateError
	return errors.As(err, &target)
}
