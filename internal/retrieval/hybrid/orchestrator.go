// Package hybrid fans a query out to the vector and keyword indexes
// concurrently and fuses the two rankings with reciprocal rank fusion.
package hybrid

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/keywordindex"
	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/telemetry"
	"github.com/todomyday/recall/internal/retrieval/vectorindex"
)

// VectorSearcher is the read side of the vector index.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]vectorindex.Hit, error)
}

// KeywordSearcher is the read side of the keyword index.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, limit int, filter map[string]string) ([]keywordindex.Hit, error)
}

// Embedder embeds query strings.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerProvider generates an answer from a question and retrieved sources.
// The implementation (an external AI provider) is a collaborator; the
// orchestrator only owns retrieval and context assembly.
type AnswerProvider interface {
	Answer(ctx context.Context, question string, sources []model.Document) (string, error)
}

// Params are the inputs of one hybrid search call.
type Params struct {
	OwnerID       string
	Query         string
	Limit         int
	VectorWeight  *float64 // nil means configured default
	MinSimilarity float64
	ContentTypes  []string
}

// Answer is the result of an ask call: the generated answer plus the sources
// actually packed into the context window, so callers can attribute claims.
type Answer struct {
	Answer  string           `json:"answer"`
	Sources []model.Document `json:"sources"`
}

// Orchestrator is stateless per call; all state lives in the two indexes.
type Orchestrator struct {
	embedder Embedder
	vectors  VectorSearcher
	keywords KeywordSearcher
	answerer AnswerProvider
	cfg      config.SearchConfig
	logger   *log.Logger
}

func NewOrchestrator(embedder Embedder, vectors VectorSearcher, keywords KeywordSearcher, answerer AnswerProvider, cfg config.SearchConfig, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[HYBRID] ", log.LstdFlags)
	}
	return &Orchestrator{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		answerer: answerer,
		cfg:      cfg.Normalize(),
		logger:   logger,
	}
}

// sideHit is the neutral shape both index hit types collapse into before
// fusion.
type sideHit struct {
	docID      string
	score      float64
	doc        model.Document
	highlights []string
}

// Search runs both index queries concurrently and fuses the rankings. If one
// index fails the request degrades to the other's results; only when both
// fail does the request fail.
func (o *Orchestrator) Search(ctx context.Context, p Params) ([]model.SearchResult, error) {
	start := time.Now()
	defer func() { telemetry.SearchDuration.Observe(time.Since(start).Seconds()) }()
	telemetry.SearchesTotal.WithLabelValues("search").Inc()

	if strings.TrimSpace(p.Query) == "" {
		return nil, rerr.Validation("search: query is required")
	}
	if p.OwnerID == "" {
		return nil, rerr.Validation("search: owner id is required")
	}
	weight := o.cfg.VectorWeight
	if p.VectorWeight != nil {
		weight = *p.VectorWeight
		if weight < 0 || weight > 1 {
			return nil, rerr.Validation("search: vector_weight %.2f outside [0,1]", weight)
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = o.cfg.DefaultLimit
	}
	// Fetch deeper than the final limit so fusion has signal from both lists.
	fetchLimit := limit * 3

	queryVec, embedErr := o.embedder.EmbedQuery(ctx, p.Query)
	if embedErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Printf("query embedding failed, degrading to keyword-only: %v", embedErr)
	}

	vectorList, keywordList, vecErr, kwErr := o.fanOut(ctx, p, queryVec, fetchLimit)
	if ctx.Err() != nil {
		// Cancelled fan-outs are abandoned as a unit: no partial result.
		return nil, ctx.Err()
	}
	vectorFailed := embedErr != nil || vecErr != nil
	keywordFailed := kwErr != nil
	if vectorFailed && keywordFailed {
		return nil, rerr.External("search: both indexes failed (vector: %v, keyword: %v)", firstErr(embedErr, vecErr), kwErr)
	}
	if vectorFailed {
		telemetry.SearchDegradedTotal.WithLabelValues("vector").Inc()
		o.logger.Printf("degraded to keyword-only results: %v", firstErr(embedErr, vecErr))
	}
	if keywordFailed {
		telemetry.SearchDegradedTotal.WithLabelValues("keyword").Inc()
		o.logger.Printf("degraded to vector-only results: %v", kwErr)
	}

	results := fuseRRF(vectorList, keywordList, weight, o.cfg.RRFK)
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= p.MinSimilarity || p.MinSimilarity <= 0 {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// fanOut launches one concurrent sub-search per (index, content type) so
// latency does not scale with the number of content types. Per-side results
// are merged into a single deterministic ranking per index.
func (o *Orchestrator) fanOut(ctx context.Context, p Params, queryVec []float32, fetchLimit int) (vectorList, keywordList []sideHit, vecErr, kwErr error) {
	types := p.ContentTypes
	if len(types) == 0 {
		types = []string{""}
	}

	type subResult struct {
		side string
		hits []sideHit
		err  error
	}
	expected := 0
	ch := make(chan subResult, 2*len(types))

	for _, ct := range types {
		filter := map[string]string{"owner_id": p.OwnerID}
		if ct != "" {
			filter["content_type"] = ct
		}

		if queryVec != nil {
			expected++
			go func(filter map[string]string) {
				hits, err := o.vectors.Search(ctx, queryVec, fetchLimit, filter)
				ch <- subResult{side: "vector", hits: vectorHits(hits), err: err}
			}(filter)
		}
		expected++
		go func(filter map[string]string) {
			hits, err := o.keywords.Search(ctx, p.Query, fetchLimit, filter)
			ch <- subResult{side: "keyword", hits: keywordHits(hits), err: err}
		}(filter)
	}

	var vectorAll, keywordAll []sideHit
	vectorOK, keywordOK := false, false
	for i := 0; i < expected; i++ {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err(), ctx.Err()
		case sub := <-ch:
			if sub.err != nil {
				o.logger.Printf("%s sub-search failed: %v", sub.side, sub.err)
				if sub.side == "vector" {
					vecErr = sub.err
				} else {
					kwErr = sub.err
				}
				continue
			}
			if sub.side == "vector" {
				vectorOK = true
				vectorAll = append(vectorAll, sub.hits...)
			} else {
				keywordOK = true
				keywordAll = append(keywordAll, sub.hits...)
			}
		}
	}
	// One successful sub-search keeps the side alive; a side fails only when
	// every one of its sub-searches failed.
	if vectorOK {
		vecErr = nil
	}
	if keywordOK {
		kwErr = nil
	}
	if queryVec == nil {
		vecErr = nil // vector side already accounted for by the embed failure
	}
	return mergeSide(vectorAll, fetchLimit), mergeSide(keywordAll, fetchLimit), vecErr, kwErr
}

// mergeSide collapses per-content-type sub-results into one ranking and
// drops duplicate documents, keeping each document's best-scoring hit. The
// ordering is deterministic regardless of sub-search completion order.
func mergeSide(hits []sideHit, limit int) []sideHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].docID < hits[j].docID
	})
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if seen[h.docID] {
			continue
		}
		seen[h.docID] = true
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// vectorHits maps chunk-level hits onto their parent documents.
func vectorHits(hits []vectorindex.Hit) []sideHit {
	out := make([]sideHit, 0, len(hits))
	for _, h := range hits {
		docID := h.Metadata["parent_id"]
		if docID == "" {
			docID = h.ID
		}
		out = append(out, sideHit{
			docID: docID,
			score: h.Score,
			doc: model.Document{
				ID:          docID,
				OwnerID:     h.Metadata["owner_id"],
				ContentType: model.ContentType(h.Metadata["content_type"]),
				ContentID:   h.Metadata["content_id"],
				Title:       h.Metadata["title"],
				Body:        h.Metadata["text"],
			},
		})
	}
	return out
}

func keywordHits(hits []keywordindex.Hit) []sideHit {
	out := make([]sideHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, sideHit{
			docID: h.ID,
			score: h.Score,
			doc: model.Document{
				ID:          h.ID,
				OwnerID:     h.OwnerID,
				ContentType: model.ContentType(h.ContentType),
				Title:       h.Title,
				Body:        h.Body,
			},
			highlights: h.Highlights,
		})
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
