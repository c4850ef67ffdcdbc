package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mutator/internal/config"
	"github.com/sells-group/mutator/internal/model"
)

func newTestValidator() *Validator {
	return NewValidator(config.SandboxConfig{TimeoutSecs: 5, MaxCodeBytes: 1 << 20})
}

func TestValidator_ValidPython(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "python", "def greet(name):\n    return f'hello {name}'\n")
	require.NoError(t, err)
}

func TestValidator_InvalidPython(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "python", "def greet(:\n    return\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestValidator_ValidJavaScript(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "javascript", "function greet(name) { return `hello ${name}`; }\n")
	require.NoError(t, err)
}

func TestValidator_InvalidGo(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "go", "package main\n\nfunc main() {\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
}

func TestValidator_EmptyCode(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "python", "   \n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
	assert.Contains(t, err.Error(), "empty")
}

func TestValidator_UnsupportedLanguage(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(context.Background(), "cobol", "IDENTIFICATION DIVISION.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestValidator_CodeTooLarge(t *testing.T) {
	v := NewValidator(config.SandboxConfig{TimeoutSecs: 5, MaxCodeBytes: 16})

	err := v.Validate(context.Background(), "python", "x = 'this is longer than sixteen bytes'\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
}

func TestValidator_CanceledContext(t *testing.T) {
	v := newTestValidator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Cancellation is the caller's condition, never a verdict on the code.
	err := v.Validate(ctx, "python", "x = 1\nprint(x)\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, model.ErrValidationFailed))
	assert.False(t, errors.Is(err, model.ErrValidationTimeout))
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	long := strings.Repeat("π", 80)

	got := truncate(long, 50)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("π", 50)+"...", got)

	assert.Equal(t, "short", truncate("short", 50))
}
