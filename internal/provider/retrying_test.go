package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trans/memo/internal/errs"
)

// flakyProvider fails the first N calls with a retryable error, then
// delegates to MockProvider.
type flakyProvider struct {
	Provider
	failures int
	calls    int
}

func (f *flakyProvider) EmbedText(ctx context.Context, text string) ([]float32, int, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, 0, errs.New(errs.CodeProviderTransport, "transient failure", nil)
	}
	return f.Provider.EmbedText(ctx, text)
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryingProvider_RetriesTransientFailure(t *testing.T) {
	inner := &flakyProvider{Provider: NewMockProvider(4), failures: 2}
	rp := NewRetryingProvider(inner, fastRetryConfig())

	vec, _, err := rp.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingProvider_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyProvider{Provider: NewMockProvider(4), failures: 10}
	rp := NewRetryingProvider(inner, fastRetryConfig())

	_, _, err := rp.EmbedText(context.Background(), "hello")
	assert.Error(t, err)
}

// nonRetryableProvider always fails with a non-retryable error.
type nonRetryableProvider struct {
	Provider
	calls int
}

func (n *nonRetryableProvider) EmbedText(ctx context.Context, text string) ([]float32, int, error) {
	n.calls++
	return nil, 0, errs.New(errs.CodeInvalidParams, "bad input", nil)
}

func TestRetryingProvider_NonRetryableFailsImmediately(t *testing.T) {
	inner := &nonRetryableProvider{Provider: NewMockProvider(4)}
	rp := NewRetryingProvider(inner, fastRetryConfig())

	_, _, err := rp.EmbedText(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
