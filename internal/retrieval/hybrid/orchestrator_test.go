package hybrid

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/keywordindex"
	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/vectorindex"
)

type embedderStub struct {
	vec []float32
	err error
}

func (e *embedderStub) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

type vectorStub struct {
	mu      sync.Mutex
	hits    []vectorindex.Hit
	err     error
	filters []map[string]string
}

func (v *vectorStub) Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]vectorindex.Hit, error) {
	v.mu.Lock()
	v.filters = append(v.filters, filter)
	v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	out := make([]vectorindex.Hit, 0, len(v.hits))
	for _, h := range v.hits {
		if ct := filter["content_type"]; ct != "" && h.Metadata["content_type"] != ct {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

type keywordStub struct {
	mu   sync.Mutex
	hits []keywordindex.Hit
	err  error
}

func (k *keywordStub) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]keywordindex.Hit, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	out := make([]keywordindex.Hit, 0, len(k.hits))
	for _, h := range k.hits {
		if ct := filter["content_type"]; ct != "" && h.ContentType != ct {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func vecHit(parent string, score float64) vectorindex.Hit {
	return vectorindex.Hit{
		ID:    parent + "#000",
		Score: score,
		Metadata: map[string]string{
			"parent_id":    parent,
			"owner_id":     "u1",
			"content_type": "note",
			"title":        "title " + parent,
			"text":         "chunk of " + parent,
		},
	}
}

func kwHit(id string, score float64) keywordindex.Hit {
	return keywordindex.Hit{ID: id, Score: score, OwnerID: "u1", ContentType: "note", Title: "title " + id, Body: "body of " + id}
}

func newTestOrchestrator(emb Embedder, v VectorSearcher, k KeywordSearcher) *Orchestrator {
	return NewOrchestrator(emb, v, k, nil, config.SearchConfig{VectorWeight: 0.7, RRFK: 60, DefaultLimit: 10, AskTopK: 5, ContextBudget: 6000}, nil)
}

func TestSearchFusesBothSides(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	v := &vectorStub{hits: []vectorindex.Hit{vecHit("ml-notes", 0.92), vecHit("standup", 0.4)}}
	k := &keywordStub{hits: []keywordindex.Hit{kwHit("ml-notes", 3.2), kwHit("lunch", 1.1)}}
	o := newTestOrchestrator(emb, v, k)

	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "machine learning"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(results))
	}
	if results[0].Document.ID != "ml-notes" || results[0].MatchType != model.MatchHybrid {
		t.Fatalf("doc in both indexes should lead as hybrid, got %s (%s)", results[0].Document.ID, results[0].MatchType)
	}
	// Keyword-side body replaces the chunk fragment.
	if results[0].Document.Body != "body of ml-notes" {
		t.Fatalf("expected stored body, got %q", results[0].Document.Body)
	}
}

func TestSearchDegradesToKeywordOnEmbedFailure(t *testing.T) {
	emb := &embedderStub{err: rerr.External("provider down")}
	v := &vectorStub{hits: []vectorindex.Hit{vecHit("a", 0.9)}}
	k := &keywordStub{hits: []keywordindex.Hit{kwHit("b", 2.0)}}
	o := newTestOrchestrator(emb, v, k)

	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "anything"})
	if err != nil {
		t.Fatalf("degraded search should not fail: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "b" {
		t.Fatalf("expected keyword-only results, got %v", results)
	}
	if results[0].MatchType != model.MatchKeyword {
		t.Fatalf("expected keyword match type, got %s", results[0].MatchType)
	}
	if len(v.filters) != 0 {
		t.Fatalf("vector index must not be queried without a query vector")
	}
}

func TestSearchDegradesToVectorOnKeywordFailure(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	v := &vectorStub{hits: []vectorindex.Hit{vecHit("a", 0.9)}}
	k := &keywordStub{err: errors.New("index corrupted")}
	o := newTestOrchestrator(emb, v, k)

	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "anything"})
	if err != nil {
		t.Fatalf("degraded search should not fail: %v", err)
	}
	if len(results) != 1 || results[0].MatchType != model.MatchVector {
		t.Fatalf("expected vector-only results, got %v", results)
	}
}

func TestSearchFailsWhenBothSidesFail(t *testing.T) {
	emb := &embedderStub{err: rerr.External("provider down")}
	v := &vectorStub{}
	k := &keywordStub{err: errors.New("index corrupted")}
	o := newTestOrchestrator(emb, v, k)

	_, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "anything"})
	if !rerr.IsKind(err, rerr.KindExternal) {
		t.Fatalf("expected external error when both sides fail, got %v", err)
	}
}

func TestSearchValidation(t *testing.T) {
	o := newTestOrchestrator(&embedderStub{vec: []float32{1}}, &vectorStub{}, &keywordStub{})

	if _, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "  "}); !rerr.IsKind(err, rerr.KindValidation) {
		t.Fatalf("blank query: got %v", err)
	}
	if _, err := o.Search(context.Background(), Params{Query: "q"}); !rerr.IsKind(err, rerr.KindValidation) {
		t.Fatalf("missing owner: got %v", err)
	}
	bad := 1.5
	if _, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", VectorWeight: &bad}); !rerr.IsKind(err, rerr.KindValidation) {
		t.Fatalf("out-of-range weight: got %v", err)
	}
}

func TestSearchMinSimilarityCutoff(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	v := &vectorStub{hits: []vectorindex.Hit{vecHit("a", 0.9)}}
	k := &keywordStub{hits: []keywordindex.Hit{kwHit("b", 2.0)}}
	o := newTestOrchestrator(emb, v, k)

	// RRF scores are bounded well below 1, so a cutoff above 1 empties the
	// result set without being an error.
	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", MinSimilarity: 1.01})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results above cutoff, got %d", len(results))
	}
}

func TestSearchContentTypeFanOut(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	note := vecHit("n", 0.9)
	task := vecHit("t", 0.8)
	task.Metadata["content_type"] = "task"
	v := &vectorStub{hits: []vectorindex.Hit{note, task}}
	k := &keywordStub{}
	o := newTestOrchestrator(emb, v, k)

	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", ContentTypes: []string{"note", "task"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected hits from both content types, got %d", len(results))
	}
	if len(v.filters) != 2 {
		t.Fatalf("expected one vector sub-search per content type, got %d", len(v.filters))
	}
	for _, f := range v.filters {
		if f["owner_id"] != "u1" {
			t.Fatalf("owner filter missing: %v", f)
		}
		if f["content_type"] != "note" && f["content_type"] != "task" {
			t.Fatalf("unexpected content type filter: %v", f)
		}
	}
}

func TestSearchWeightShiftsRanking(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	// vec-doc leads the vector ranking, kw-doc leads the keyword ranking.
	v := &vectorStub{hits: []vectorindex.Hit{vecHit("vec-doc", 0.95), vecHit("kw-doc", 0.5)}}
	k := &keywordStub{hits: []keywordindex.Hit{kwHit("kw-doc", 5), kwHit("vec-doc", 1)}}
	o := newTestOrchestrator(emb, v, k)

	high := 0.9
	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", VectorWeight: &high})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Document.ID != "vec-doc" {
		t.Fatalf("high vector weight should favor the vector leader, got %s", results[0].Document.ID)
	}

	low := 0.1
	results, err = o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", VectorWeight: &low})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Document.ID != "kw-doc" {
		t.Fatalf("low vector weight should favor the keyword leader, got %s", results[0].Document.ID)
	}
}

func TestSearchCancelledContext(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	o := newTestOrchestrator(emb, &vectorStub{}, &keywordStub{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Search(ctx, Params{OwnerID: "u1", Query: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSearchLimitTruncates(t *testing.T) {
	emb := &embedderStub{vec: []float32{1, 0, 0}}
	var hits []vectorindex.Hit
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		hits = append(hits, vecHit(id, 0.5))
	}
	o := newTestOrchestrator(emb, &vectorStub{hits: hits}, &keywordStub{})

	results, err := o.Search(context.Background(), Params{OwnerID: "u1", Query: "q", Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit to apply after fusion, got %d", len(results))
	}
}
