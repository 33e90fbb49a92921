// Package chunker splits long document bodies into overlapping, sentence-aware
// windows sized for embedding.
package chunker

import (
	"github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/model"
)

// Chunk is one window of a document body. CharStart/CharEnd are byte offsets
// into the body; the union of all chunk ranges covers [0, len(body)).
type Chunk struct {
	ParentID  string
	Ordinal   int
	Text      string
	CharStart int
	CharEnd   int
}

// ID returns the index id of the chunk (parentId#ordinal).
func (c Chunk) ID() string { return model.ChunkID(c.ParentID, c.Ordinal) }

// Chunker produces deterministic chunk boundaries: the same input always
// yields the same chunks.
type Chunker struct {
	threshold int
	size      int
	overlap   int
	slack     int
}

func New(cfg config.ChunkingConfig) *Chunker {
	cfg = cfg.Normalize()
	return &Chunker{
		threshold: cfg.Threshold,
		size:      cfg.Size,
		overlap:   cfg.Overlap,
		slack:     cfg.Slack,
	}
}

// Split chunks a document body. Bodies at or under the threshold come back as
// a single chunk covering the whole document.
func (c *Chunker) Split(doc model.Document) []Chunk {
	body := doc.Body
	if len(body) <= c.threshold {
		return []Chunk{{
			ParentID: doc.ID,
			Text:     body,
			CharEnd:  len(body),
		}}
	}

	var chunks []Chunk
	start := 0
	for ordinal := 0; start < len(body); ordinal++ {
		end := start + c.size
		if end >= len(body) {
			end = len(body)
		} else {
			end = c.adjust(body, end)
		}
		chunks = append(chunks, Chunk{
			ParentID:  doc.ID,
			Ordinal:   ordinal,
			Text:      body[start:end],
			CharStart: start,
			CharEnd:   end,
		})
		if end == len(body) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// adjust moves a cut point to the best boundary within slack distance of the
// exact offset: paragraph break, then sentence end, then word break. When no
// boundary exists inside the window the exact offset stands.
func (c *Chunker) adjust(body string, offset int) int {
	lo := offset - c.slack
	if lo < 1 {
		lo = 1
	}
	hi := offset + c.slack
	if hi > len(body) {
		hi = len(body)
	}

	if cut := bestCut(body, lo, hi, offset, isParagraphBreak); cut >= 0 {
		return cut
	}
	if cut := bestCut(body, lo, hi, offset, isSentenceEnd); cut >= 0 {
		return cut
	}
	if cut := bestCut(body, lo, hi, offset, isWordBreak); cut >= 0 {
		return cut
	}
	return offset
}

// bestCut returns the candidate cut closest to offset for which match reports
// a boundary ending at that position, or -1. Backward candidates win ties so
// repeated runs stay deterministic.
func bestCut(body string, lo, hi, offset int, match func(string, int) bool) int {
	best := -1
	bestDist := hi - lo + 1
	for cut := lo; cut <= hi; cut++ {
		if !match(body, cut) {
			continue
		}
		dist := cut - offset
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist || (dist == bestDist && cut < best) {
			best = cut
			bestDist = dist
		}
	}
	return best
}

// isParagraphBreak reports a cut directly after a blank line.
func isParagraphBreak(body string, cut int) bool {
	return cut >= 2 && cut <= len(body) && body[cut-1] == '\n' && body[cut-2] == '\n'
}

// isSentenceEnd reports a cut directly after sentence punctuation followed by
// whitespace.
func isSentenceEnd(body string, cut int) bool {
	if cut < 2 || cut > len(body) {
		return false
	}
	p, q := body[cut-2], body[cut-1]
	return (p == '.' || p == '!' || p == '?') && (q == ' ' || q == '\n' || q == '\t')
}

// isWordBreak reports a cut directly after whitespace, so no word is split
// mid-way.
func isWordBreak(body string, cut int) bool {
	if cut < 1 || cut > len(body) {
		return false
	}
	q := body[cut-1]
	return q == ' ' || q == '\n' || q == '\t'
}
