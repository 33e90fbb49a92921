// Package provider abstracts the external AI API used for embeddings and
// retrieval-augmented answers.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/todomyday/recall/config"
	openai_provider "github.com/todomyday/recall/internal/retrieval/provider/openai"
)

// Provider is the interface all AI API implementations must satisfy.
type Provider interface {
	// CreateEmbedding embeds the given texts with the named model. One call
	// covers the whole slice; batching is the caller's responsibility.
	CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error)
	// Complete generates a chat completion from a system and user prompt.
	Complete(ctx context.Context, system, user string) (string, error)
}

// NewProvider creates the AI provider from configuration. Only OpenAI-style
// APIs are implemented; BaseURL redirects to compatible servers.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, timeout), nil
}
