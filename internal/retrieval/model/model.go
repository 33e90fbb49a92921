// Package model holds the shared data types of the retrieval subsystem.
package model

import (
	"fmt"
	"time"
)

// ContentType classifies what kind of record a document was derived from.
type ContentType string

const (
	ContentTypeNote ContentType = "note"
	ContentTypeTask ContentType = "task"
)

// Document is the logical unit indexed by both the vector and keyword
// indexes. ContentID references the canonical record in the (excluded)
// application store. Immutable once embedded; a re-index on update replaces
// the old vectors by id.
type Document struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	ContentType ContentType       `json:"content_type"`
	ContentID   string            `json:"content_id,omitempty"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MatchType records which index contributed a search result.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
	MatchHybrid  MatchType = "hybrid"
)

// SearchResult is one fused search hit. Score is fusion-relative: it orders
// results within a single search call and is not a probability.
type SearchResult struct {
	Document   Document  `json:"document"`
	Score      float64   `json:"score"`
	MatchType  MatchType `json:"match_type"`
	Highlights []string  `json:"highlights,omitempty"`
}

// ChunkID derives the index id of a chunk from its parent document id and
// ordinal.
func ChunkID(parentID string, ordinal int) string {
	return fmt.Sprintf("%s#%03d", parentID, ordinal)
}
