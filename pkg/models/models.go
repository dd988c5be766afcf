// Package models builds the chat model used for inference.
package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// Config selects and tunes the chat model.
type Config struct {
	Driver      string        `mapstructure:"driver"`
	BaseURL     string        `mapstructure:"base_url" split_words:"true"`
	Name        string        `mapstructure:"name"`
	Temperature float32       `mapstructure:"temperature"`
	NumCtx      int           `mapstructure:"num_ctx" split_words:"true"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ErrModelUnavailable reports a backend that answered with something other than a model response.
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("%s unavailable: %s", e.Provider, e.Body)
}

func (e *ErrModelUnavailable) Unwrap() error {
	return e.Cause
}

// New creates the chat model named by cfg.Driver.
func New(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "ollama":
		return NewOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}
