// Package index keeps the vector and keyword indexes in step. Both are
// updated inside the same logical transaction boundary: when one side fails
// after the other succeeded the discrepancy is logged and surfaced so a
// repair pass can reconcile, never silently diverging.
package index

import (
	"context"
	"log"
	"sync"

	"github.com/todomyday/recall/internal/retrieval/chunker"
	"github.com/todomyday/recall/internal/retrieval/keywordindex"
	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/vectorindex"
)

// Embedder is the slice of the embedding client the writer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Keywords is the slice of the keyword index the writer needs.
type Keywords interface {
	Add(entry keywordindex.Entry) error
	Remove(id string) error
}

// Writer indexes documents into both stores. Writes to the same document id
// are serialized; writes to different ids proceed concurrently.
type Writer struct {
	vectors  vectorindex.Store
	keywords Keywords
	embedder Embedder
	chunker  *chunker.Chunker
	logger   *log.Logger

	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func NewWriter(vectors vectorindex.Store, keywords Keywords, embedder Embedder, ch *chunker.Chunker, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	return &Writer{
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		chunker:  ch,
		logger:   logger,
		locks:    make(map[string]*docLock),
	}
}

func (w *Writer) lock(id string) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &docLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

// Index chunks, embeds and indexes one document into both stores. Embedding
// is a single batched call regardless of chunk count.
func (w *Writer) Index(ctx context.Context, doc model.Document) error {
	if doc.ID == "" {
		return rerr.Validation("index: document id is required")
	}
	unlock := w.lock(doc.ID)
	defer unlock()

	chunks := w.chunker.Split(doc)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = embeddableText(doc.Title, ch.Text)
	}

	vecs, embedErr := w.embedder.Embed(ctx, texts)
	if embedErr != nil && !rerr.IsKind(embedErr, rerr.KindPartial) {
		return embedErr
	}

	items := make([]vectorindex.Item, 0, len(chunks))
	var skipped []rerr.ItemError
	for i, ch := range chunks {
		if vecs[i] == nil {
			skipped = append(skipped, rerr.ItemError{ID: ch.ID(), Index: i, Err: embedErr})
			continue
		}
		items = append(items, vectorindex.Item{
			ID:       ch.ID(),
			Vector:   vecs[i],
			Metadata: chunkMetadata(doc, ch),
		})
	}

	vecErr := w.vectors.AddBatch(ctx, items)
	kwErr := w.keywords.Add(keywordindex.Entry{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		ContentType: string(doc.ContentType),
		Title:       doc.Title,
		Body:        doc.Body,
		Category:    doc.Metadata["category"],
		Tags:        nil,
	})

	switch {
	case vecErr != nil && kwErr == nil:
		w.logger.Printf("index discrepancy for %s: vector write failed, keyword write succeeded: %v", doc.ID, vecErr)
	case vecErr == nil && kwErr != nil:
		w.logger.Printf("index discrepancy for %s: keyword write failed, vector write succeeded: %v", doc.ID, kwErr)
	}

	failures := append([]rerr.ItemError(nil), skipped...)
	if vecErr != nil {
		if p, ok := vecErr.(*rerr.Partial); ok {
			failures = append(failures, p.Items...)
		} else {
			failures = append(failures, rerr.ItemError{ID: doc.ID, Err: vecErr})
		}
	}
	if kwErr != nil {
		failures = append(failures, rerr.ItemError{ID: doc.ID, Err: kwErr})
	}
	if len(failures) > 0 {
		return &rerr.Partial{Op: "index document " + doc.ID, Items: failures}
	}
	return nil
}

// Remove drops the document from both indexes, including every chunk derived
// from it. Idempotent.
func (w *Writer) Remove(ctx context.Context, docID string) error {
	if docID == "" {
		return rerr.Validation("remove: document id is required")
	}
	unlock := w.lock(docID)
	defer unlock()

	_, vecErr := w.vectors.RemoveMatching(ctx, map[string]string{"parent_id": docID})
	kwErr := w.keywords.Remove(docID)

	switch {
	case vecErr != nil && kwErr == nil:
		w.logger.Printf("remove discrepancy for %s: vector removal failed: %v", docID, vecErr)
		return vecErr
	case vecErr == nil && kwErr != nil:
		w.logger.Printf("remove discrepancy for %s: keyword removal failed: %v", docID, kwErr)
		return kwErr
	case vecErr != nil && kwErr != nil:
		return rerr.Wrap(rerr.KindExternal, vecErr, "remove %s failed in both indexes", docID)
	}
	return nil
}

// chunkMetadata carries the parent's filterable attributes on every chunk so
// searches can filter without loading the document.
func chunkMetadata(doc model.Document, ch chunker.Chunk) map[string]string {
	meta := map[string]string{
		"parent_id":    doc.ID,
		"owner_id":     doc.OwnerID,
		"content_type": string(doc.ContentType),
		"title":        doc.Title,
		// Chunk text rides along so retrieval can assemble context without
		// loading the canonical record.
		"text": ch.Text,
	}
	if doc.ContentID != "" {
		meta["content_id"] = doc.ContentID
	}
	for k, v := range doc.Metadata {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	return meta
}

// embeddableText prefixes chunk text with the document title; short titles
// carry a lot of the semantic signal for notes.
func embeddableText(title, text string) string {
	if title == "" {
		return text
	}
	return title + "\n" + text
}
