package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/stretchr/testify/assert"
)

func TestConfigurationError_Message(t *testing.T) {
	err := apperr.Configuration("unknown provider %q", "foo")

	assert.Equal(t, `configuration error: unknown provider "foo"`, err.Error())
	assert.True(t, apperr.IsConfiguration(err))
	assert.False(t, apperr.IsModel(err))
}

func TestModelError_WrapsCause(t *testing.T) {
	cause := apperr.Configuration("missing API key")
	err := &apperr.ModelError{Provider: "openai", Model: "gpt-4o", Msg: "create adapter", Err: cause}

	assert.Contains(t, err.Error(), "openai:gpt-4o")
	assert.Contains(t, err.Error(), "missing API key")
	assert.True(t, apperr.IsModel(err))
	assert.True(t, apperr.IsConfiguration(err))
}

func TestIsHelpers_ThroughFmtWrap(t *testing.T) {
	wrapped := fmt.Errorf("optimizer: %w", apperr.Validation("prompt", "must not be empty"))

	assert.True(t, apperr.IsValidation(wrapped))
	assert.False(t, apperr.IsTemplate(wrapped))
	assert.Equal(t, "optimizer: validation error: prompt: must not be empty", wrapped.Error())
}

func TestTemplateError_Unwrap(t *testing.T) {
	cause := errors.New("file missing")
	err := &apperr.TemplateError{Key: "optimization/general", Msg: "render", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.True(t, apperr.IsTemplate(err))
	assert.Equal(t, "template error: optimization/general: render: file missing", err.Error())
}
