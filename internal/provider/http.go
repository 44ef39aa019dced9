package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trans/memo/internal/errs"
)

func init() {
	Register("openai", newHTTPProvider)
	Register("http", newHTTPProvider)
}

func newHTTPProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.CodeMissingAPIKey, "format "+cfg.Format+" requires an api_key", nil)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/embeddings"
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dimensions,
	}, nil
}

// HTTPProvider embeds text via a single bearer-authenticated POST to a
// remote embeddings endpoint. It issues one HTTP request per EmbedTexts
// call, passing the entire input batch (spec.md §4.4).
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	dims    int
}

type httpRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type httpResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) EmbedText(ctx context.Context, text string) ([]float32, int, error) {
	vecs, counts, _, err := p.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vecs[0], counts[0], nil
}

func (p *HTTPProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, []int, int, error) {
	if len(texts) == 0 {
		return nil, nil, 0, nil
	}

	body, err := json.Marshal(httpRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, nil, 0, errs.ProviderError("marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, 0, errs.ProviderError("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, 0, errs.New(errs.CodeProviderTransport, "embedding request transport failure", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, 0, errs.New(errs.CodeProviderTransport, "read embedding response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, 0, errs.New(errs.CodeProviderHTTP,
			fmt.Sprintf("embedding provider returned HTTP %d", resp.StatusCode), nil).
			WithDetail("body", string(respBody))
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, 0, errs.ProviderError("decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, nil, 0, errs.New(errs.CodeProviderHTTP,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		vectors[d.Index] = d.Embedding
	}

	counts := make([]int, len(texts))
	perText := parsed.Usage.TotalTokens / len(texts)
	for i, t := range texts {
		if perText > 0 {
			counts[i] = perText
		} else {
			counts[i] = estimateTokens(t)
		}
	}

	return vectors, counts, parsed.Usage.TotalTokens, nil
}

func (p *HTTPProvider) Dimensions() int   { return p.dims }
func (p *HTTPProvider) ModelName() string { return p.model }
