package hybrid

import (
	"sort"

	"github.com/todomyday/recall/internal/retrieval/model"
)

// fuseRRF merges the two rankings with reciprocal rank fusion: a result at
// rank r (1-indexed) contributes weight/(k+r) to its document's score, with
// weight vectorWeight for the vector list and 1-vectorWeight for the keyword
// list. A document absent from a list contributes 0 from it. Ties on fused
// score keep merge order, vector results first, so the outcome is stable.
func fuseRRF(vectorList, keywordList []sideHit, vectorWeight float64, k int) []model.SearchResult {
	type agg struct {
		doc        model.Document
		highlights []string
		score      float64
		inVector   bool
		inKeyword  bool
		order      int
	}

	byID := make(map[string]*agg, len(vectorList)+len(keywordList))
	var merged []*agg

	add := func(list []sideHit, weight float64, vector bool) {
		for rank, h := range list {
			a, ok := byID[h.docID]
			if !ok {
				a = &agg{doc: h.doc, order: len(merged)}
				byID[h.docID] = a
				merged = append(merged, a)
			}
			a.score += weight / float64(k+rank+1)
			if vector {
				a.inVector = true
				if a.doc.Body == "" {
					a.doc.Body = h.doc.Body
				}
			} else {
				a.inKeyword = true
				// Keyword hits carry the stored document body and snippets;
				// prefer them over chunk-derived fields.
				a.doc.Body = h.doc.Body
				if h.doc.Title != "" {
					a.doc.Title = h.doc.Title
				}
				a.highlights = append(a.highlights, h.highlights...)
			}
		}
	}
	add(vectorList, vectorWeight, true)
	add(keywordList, 1-vectorWeight, false)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].order < merged[j].order
	})

	out := make([]model.SearchResult, 0, len(merged))
	for _, a := range merged {
		mt := model.MatchHybrid
		switch {
		case a.inVector && !a.inKeyword:
			mt = model.MatchVector
		case a.inKeyword && !a.inVector:
			mt = model.MatchKeyword
		}
		out = append(out, model.SearchResult{
			Document:   a.doc,
			Score:      a.score,
			MatchType:  mt,
			Highlights: a.highlights,
		})
	}
	return out
}
