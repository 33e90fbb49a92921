// Package vectorindex stores (id, vector, metadata) triples and answers
// cosine-similarity searches filtered by metadata. The baseline is an exact
// in-memory scan; the Store interface lets an approximate-nearest-neighbor
// backend replace it without touching callers.
package vectorindex

import "context"

// Item is one stored vector with its metadata.
type Item struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Hit is one search result, ordered by cosine similarity descending with ties
// broken by insertion recency (most recent first).
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the vector index contract.
type Store interface {
	// Add upserts by id, overwriting any existing vector and metadata.
	Add(ctx context.Context, item Item) error
	// AddBatch applies Add per item. A partial failure reports which ids
	// failed; successful items stay stored.
	AddBatch(ctx context.Context, items []Item) error
	// Search returns the limit nearest neighbors among items whose metadata
	// matches every filter key/value exactly.
	Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Hit, error)
	// Remove is idempotent; removing a nonexistent id is not an error.
	Remove(ctx context.Context, id string) error
	// RemoveMatching removes every item whose metadata matches the filter and
	// reports how many were removed. Used to drop all chunks of one document.
	RemoveMatching(ctx context.Context, filter map[string]string) (int, error)
	Close() error
}

func matchesFilter(meta map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
