package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SetsCategoryAndRetryable(t *testing.T) {
	err := New(CodeProviderHTTP, "boom", nil)
	assert.Equal(t, CategoryProvider, err.Category)
	assert.True(t, err.Retryable)
}

func TestNew_ConfigErrorsNotRetryable(t *testing.T) {
	err := New(CodeUnknownFormat, "bad format", nil)
	assert.Equal(t, CategoryConfig, err.Category)
	assert.False(t, err.Retryable)
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(CodeServiceMismatch, "first", nil)
	b := New(CodeServiceMismatch, "second", nil)
	assert.True(t, errors.Is(a, b))
}

func TestUnwrap_ReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := New(CodeStorageIO, "wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(CodeChunkingExceedsMax, "exceeds", nil).
		WithDetail("a", "1").
		WithDetail("b", "2")
	require.Len(t, err.Details, 2)
	assert.Equal(t, "1", err.Details["a"])
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeStorageIO, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeProviderTransport, "x", nil)))
	assert.False(t, IsRetryable(New(CodeInvalidParams, "x", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
}
