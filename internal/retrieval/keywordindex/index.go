// Package keywordindex is the full-text half of hybrid search: a bleve index
// over the same documents the vector index holds, with stemmed tokenization
// and highlighted snippets.
package keywordindex

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/analysis/lang/en"
	"github.com/blevesearch/bleve/mapping"

	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// Entry is one document as the keyword index sees it.
type Entry struct {
	ID          string
	OwnerID     string
	ContentType string
	Title       string
	Body        string
	Category    string
	Tags        []string
}

// Hit is one ranked keyword match. Highlights hold snippet fragments around
// the matched terms.
type Hit struct {
	ID          string
	Score       float64
	OwnerID     string
	ContentType string
	Title       string
	Body        string
	Category    string
	Highlights  []string
}

// Index wraps a bleve index. The on-disk form is the index's own durable
// store, independent of the vector index.
type Index struct {
	idx    bleve.Index
	logger *log.Logger
}

// Open opens or creates the index at path. path "" builds a memory-only
// index, used by tests.
func Open(path string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[KEYWORD] ", log.LstdFlags)
	}
	mapping := buildMapping()
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	return &Index{idx: idx, logger: logger}, nil
}

// buildMapping gives title/body the english analyzer so queries match across
// inflections, and keeps filter fields verbatim under the keyword analyzer.
func buildMapping() *mapping.IndexMappingImpl {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = en.AnalyzerName

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("body", text)
	doc.AddFieldMappingsAt("owner_id", exact)
	doc.AddFieldMappingsAt("content_type", exact)
	doc.AddFieldMappingsAt("category", exact)
	doc.AddFieldMappingsAt("tags", exact)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Add upserts a document into the index.
func (i *Index) Add(entry Entry) error {
	if entry.ID == "" {
		return rerr.Validation("keyword index: empty id")
	}
	fields := map[string]interface{}{
		"owner_id":     entry.OwnerID,
		"content_type": entry.ContentType,
		"title":        entry.Title,
		"body":         entry.Body,
	}
	if entry.Category != "" {
		fields["category"] = entry.Category
	}
	if len(entry.Tags) > 0 {
		fields["tags"] = entry.Tags
	}
	if err := i.idx.Index(entry.ID, fields); err != nil {
		return fmt.Errorf("keyword index %s: %w", entry.ID, err)
	}
	return nil
}

// Remove is idempotent; deleting an unknown id is not an error.
func (i *Index) Remove(id string) error {
	if err := i.idx.Delete(id); err != nil {
		return fmt.Errorf("keyword delete %s: %w", id, err)
	}
	return nil
}

// Search runs a stemmed match over title and body, restricted by exact-match
// filters (owner_id, content_type, ...). Results carry highlight fragments.
func (i *Index) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rerr.Validation("keyword search: empty query")
	}
	if limit <= 0 {
		return nil, nil
	}

	titleQ := bleve.NewMatchQuery(query)
	titleQ.SetField("title")
	bodyQ := bleve.NewMatchQuery(query)
	bodyQ.SetField("body")
	textQ := bleve.NewDisjunctionQuery(titleQ, bodyQ)

	full := bleve.NewConjunctionQuery(textQ)
	for field, value := range filter {
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		full.AddQuery(tq)
	}

	req := bleve.NewSearchRequestOptions(full, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Fields = []string{"owner_id", "content_type", "title", "body", "category"}

	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternal, err, "keyword search")
	}

	out := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := Hit{
			ID:          hit.ID,
			Score:       hit.Score,
			OwnerID:     fieldString(hit.Fields, "owner_id"),
			ContentType: fieldString(hit.Fields, "content_type"),
			Title:       fieldString(hit.Fields, "title"),
			Body:        fieldString(hit.Fields, "body"),
			Category:    fieldString(hit.Fields, "category"),
		}
		for _, fragments := range hit.Fragments {
			h.Highlights = append(h.Highlights, fragments...)
		}
		if len(h.Highlights) == 0 && h.Body != "" {
			h.Highlights = []string{snippet(h.Body)}
		}
		out = append(out, h)
	}
	return out, nil
}

func (i *Index) Close() error { return i.idx.Close() }

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func snippet(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "…"
}
