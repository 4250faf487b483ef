package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// PollinationsProvider talks to an OpenAI-compatible chat endpoint and, when
// an embed URL is configured, an embeddings endpoint. Implements Generator
// and Embedder.
type PollinationsProvider struct {
	genURL   string
	embedURL string
	model    string
	apiKey   string
	client   *http.Client
}

// ProviderOptions configures NewPollinationsProvider. Zero values fall back
// to the public pollinations endpoint with no auth.
type ProviderOptions struct {
	GenURL   string
	EmbedURL string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

func NewPollinationsProvider(opts ProviderOptions) *PollinationsProvider {
	if opts.GenURL == "" {
		opts.GenURL = "https://text.pollinations.ai/openai"
	}
	if opts.Model == "" {
		opts.Model = "openai"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	return &PollinationsProvider{
		genURL:   opts.GenURL,
		embedURL: opts.EmbedURL,
		model:    opts.Model,
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

// HasEmbedder reports whether an embeddings endpoint is configured.
func (p *PollinationsProvider) HasEmbedder() bool { return p.embedURL != "" }

func (p *PollinationsProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"temperature": 1,
		"private":     true,
	}

	body, err := p.post(ctx, p.genURL, payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", Permanent(errors.New("empty choices"))
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if isGarbageResponse(reply) {
		return "", Permanent(errors.New("garbage response"))
	}
	return reply, nil
}

func (p *PollinationsProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embedURL == "" {
		return nil, Permanent(errors.New("no embeddings endpoint configured"))
	}
	payload := map[string]interface{}{
		"model": p.model,
		"input": text,
	}

	body, err := p.post(ctx, p.embedURL, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, Permanent(fmt.Errorf("decode embedding: %w", err))
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, Permanent(errors.New("empty embedding"))
	}
	vec := parsed.Data[0].Embedding
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, Permanent(errors.New("non-finite embedding component"))
		}
	}
	return vec, nil
}

func (p *PollinationsProvider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Network and deadline failures are worth another attempt.
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, Permanent(errors.New("endpoint returned html"))
	}
	return body, nil
}
