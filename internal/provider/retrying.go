package provider

import "context"

// RetryingProvider wraps a Provider so individual embed_text/embed_texts
// calls retry transient transport failures with exponential backoff, per
// RetryConfig. Distinct from the queue's attempts/max_retries bookkeeping:
// this retries one call inline; the queue retries a whole
// chunk-batch embed-and-store cycle on a later ProcessQueue pass.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// NewRetryingProvider wraps inner with cfg's backoff policy.
func NewRetryingProvider(inner Provider, cfg RetryConfig) *RetryingProvider {
	return &RetryingProvider{inner: inner, cfg: cfg}
}

func (r *RetryingProvider) EmbedText(ctx context.Context, text string) ([]float32, int, error) {
	var vec []float32
	var tokens int
	err := WithRetry(ctx, r.cfg, func() error {
		v, t, err := r.inner.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		vec, tokens = v, t
		return nil
	})
	return vec, tokens, err
}

func (r *RetryingProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, []int, int, error) {
	var vecs [][]float32
	var counts []int
	var total int
	err := WithRetry(ctx, r.cfg, func() error {
		v, c, t, err := r.inner.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		vecs, counts, total = v, c, t
		return nil
	})
	return vecs, counts, total, err
}

func (r *RetryingProvider) Dimensions() int   { return r.inner.Dimensions() }
func (r *RetryingProvider) ModelName() string { return r.inner.ModelName() }

// Inner returns the wrapped provider.
func (r *RetryingProvider) Inner() Provider { return r.inner }
