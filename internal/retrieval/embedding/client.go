// Package embedding turns text into fixed-dimension vectors via an external
// embedding API. It owns batching and rate limiting: callers always hand over
// slices, and the client never issues one API call per text.
package embedding

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/telemetry"
)

// Provider is the slice of the AI provider the client needs.
type Provider interface {
	CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Client batches texts into as few provider calls as possible and throttles
// outbound calls with a token bucket.
type Client struct {
	provider Provider
	cache    *Cache // nil when caching is disabled
	cfg      config.EmbeddingConfig
	limiter  *rate.Limiter
	logger   *log.Logger
}

// NewClient builds an embedding client. cache may be nil.
func NewClient(provider Provider, cache *Cache, cfg config.EmbeddingConfig, logger *log.Logger) (*Client, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, err, "embedding client")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	interval := time.Minute / time.Duration(cfg.RatePerMinute)
	return &Client{
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger:   logger,
	}, nil
}

// Dimensions reports the configured vector dimension. All vectors produced by
// this client share it.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Embed embeds the given texts with the passage model. The returned slice is
// parallel to texts. When one batch fails, entries for that batch are nil and
// a *rerr.Partial describes which inputs failed; entries for other batches
// are still returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, c.cfg.Model, texts)
}

// EmbedQuery embeds a single query string, using the query-specific model
// when one is configured.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	model := c.cfg.QueryModel
	if model == "" {
		model = c.cfg.Model
	}
	vecs, err := c.embed(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, rerr.Validation("embed: no texts provided")
	}
	prepared := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, rerr.Validation("embed: text %d is empty", i)
		}
		prepared[i] = c.truncate(t)
	}

	out := make([][]float32, len(prepared))

	// Cache lookup first; only misses go to the provider.
	missIdx := make([]int, 0, len(prepared))
	if c.cache != nil {
		hits := c.cache.Get(ctx, model, prepared)
		for i := range prepared {
			if hits[i] != nil {
				out[i] = hits[i]
			} else {
				missIdx = append(missIdx, i)
			}
		}
	} else {
		for i := range prepared {
			missIdx = append(missIdx, i)
		}
	}

	var failures []rerr.ItemError
	for start := 0; start < len(missIdx); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batchIdx := missIdx[start:end]
		batch := make([]string, len(batchIdx))
		for i, idx := range batchIdx {
			batch[i] = prepared[idx]
		}

		if err := c.waitTurn(ctx); err != nil {
			// Limiter exhaustion fails this batch and every one after it;
			// results collected so far are still returned.
			for _, idx := range batchIdx {
				failures = append(failures, rerr.ItemError{Index: idx, Err: err})
			}
			return out, &rerr.Partial{Op: "embed", Items: failures}
		}

		telemetry.EmbeddingCallsTotal.Inc()
		vecs, err := c.provider.CreateEmbedding(ctx, model, batch)
		if err != nil {
			c.logger.Printf("batch %d-%d failed: %v", batchIdx[0], batchIdx[len(batchIdx)-1], err)
			for _, idx := range batchIdx {
				failures = append(failures, rerr.ItemError{Index: idx, Err: err})
			}
			continue
		}
		if len(vecs) != len(batch) {
			return out, rerr.External("embed: provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for i, vec := range vecs {
			if len(vec) != c.cfg.Dimensions {
				return out, rerr.Configuration("embed: vector dimension %d does not match configured %d", len(vec), c.cfg.Dimensions)
			}
			out[batchIdx[i]] = vec
		}
		if c.cache != nil {
			c.cache.Put(ctx, model, batch, vecs)
		}
	}

	if len(failures) > 0 {
		return out, &rerr.Partial{Op: "embed", Items: failures}
	}
	return out, nil
}

// waitTurn blocks on the rate limiter up to the configured bound. Exceeding
// the bound surfaces a retryable error rather than waiting indefinitely.
func (c *Client) waitTurn(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()
	if err := c.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return rerr.External("embedding rate limit: no token within %s", c.cfg.MaxWait)
	}
	return nil
}

func (c *Client) truncate(text string) string {
	if len(text) <= c.cfg.MaxChars {
		return text
	}
	truncated := text[:c.cfg.MaxChars]
	severity := truncationSeverity(len(text), len(truncated))
	telemetry.EmbeddingTruncationsTotal.WithLabelValues(severity).Inc()
	c.logger.Printf("truncated text for embedding: original=%d chars truncated=%d chars severity=%s",
		len(text), len(truncated), severity)
	return truncated
}

// truncationSeverity buckets the character loss of a truncation.
func truncationSeverity(original, truncated int) string {
	loss := float64(original-truncated) / float64(original)
	switch {
	case loss < 0.10:
		return "minor"
	case loss < 0.25:
		return "moderate"
	case loss < 0.50:
		return "significant"
	default:
		return "severe"
	}
}
