package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "qwen2.5:7b"
	defaultOllamaTimeout = 300 * time.Second
)

// NewOllama creates a new Ollama ChatModel.
func NewOllama(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}

	opts := &einoollama.Options{Temperature: cfg.Temperature}
	if cfg.NumCtx > 0 {
		opts.NumCtx = cfg.NumCtx
	}

	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   name,
		Timeout: timeout,
		Options: opts,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: &ollamaTransport{inner: http.DefaultTransport, provider: "ollama"},
		},
	})
}

// ollamaTransport turns non-JSON answers (proxies, gateways) into ErrModelUnavailable.
type ollamaTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *ollamaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, t.reject(resp)
	}

	// Ollama sends application/x-ndjson for streaming, application/json otherwise.
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") {
		return nil, t.reject(resp)
	}
	return resp, nil
}

func (t *ollamaTransport) reject(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	return &ErrModelUnavailable{Provider: t.provider, Body: strings.TrimSpace(string(body))}
}
