package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the cached vector count; at typical dimensions
// this stays a few megabytes even at the default size.
const DefaultCacheSize = 1000

// CachedProvider wraps a Provider with an LRU cache keyed on text+model, so
// repeated queries (common in interactive search) skip the remote call.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps inner with an LRU cache of the given size; size
// <= 0 uses DefaultCacheSize.
func NewCachedProvider(inner Provider, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedProvider{inner: inner, cache: cache}
}

func (c *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) EmbedText(ctx context.Context, text string) ([]float32, int, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, estimateTokens(text), nil
	}
	vec, tokens, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	c.cache.Add(key, vec)
	return vec, tokens, nil
}

func (c *CachedProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, []int, int, error) {
	if len(texts) == 0 {
		return nil, nil, 0, nil
	}

	vectors := make([][]float32, len(texts))
	counts := make([]int, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(t)); ok {
			vectors[i] = vec
			counts[i] = estimateTokens(t)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return vectors, counts, sum(counts), nil
	}

	newVecs, newCounts, _, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, nil, 0, err
	}
	for j, idx := range missIdx {
		vectors[idx] = newVecs[j]
		counts[idx] = newCounts[j]
		c.cache.Add(c.cacheKey(texts[idx]), newVecs[j])
	}

	return vectors, counts, sum(counts), nil
}

func sum(xs []int) int {
	t := 0
	for _, x := range xs {
		t += x
	}
	return t
}

func (c *CachedProvider) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// Inner returns the wrapped provider, for callers needing provider-specific
// behavior not expressed by the Provider interface.
func (c *CachedProvider) Inner() Provider { return c.inner }
