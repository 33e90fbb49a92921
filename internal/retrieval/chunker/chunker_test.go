package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/model"
)

func newTestChunker() *Chunker {
	return New(config.ChunkingConfig{Threshold: 100, Size: 80, Overlap: 20, Slack: 15})
}

func TestSplitShortBodySingleChunk(t *testing.T) {
	c := newTestChunker()
	doc := model.Document{ID: "doc-1", Body: "a short note"}

	chunks := c.Split(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short note", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(doc.Body), chunks[0].CharEnd)
	assert.Equal(t, "doc-1#000", chunks[0].ID())
}

func TestSplitCoversWholeBody(t *testing.T) {
	c := newTestChunker()
	body := strings.Repeat("one two three four five. ", 40)
	doc := model.Document{ID: "doc-2", Body: body}

	chunks := c.Split(doc)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(body), chunks[len(chunks)-1].CharEnd)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.Equal(t, body[ch.CharStart:ch.CharEnd], ch.Text)
		if i > 0 {
			// Overlapping windows: each chunk starts inside the previous one.
			assert.Less(t, ch.CharStart, chunks[i-1].CharEnd)
			assert.Greater(t, ch.CharEnd, chunks[i-1].CharEnd)
		}
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	c := newTestChunker()
	body := strings.Repeat("This is a sentence. ", 20)
	doc := model.Document{ID: "doc-3", Body: body}

	chunks := c.Split(doc)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, ". "),
			"chunk should end on a sentence boundary, got %q", ch.Text[len(ch.Text)-10:])
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := newTestChunker()
	body := strings.Repeat("alpha beta gamma delta epsilon. ", 30)
	doc := model.Document{ID: "doc-4", Body: body}

	first := c.Split(doc)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Split(doc))
	}
}

func TestSplitNoBoundaryFallsBackToExactOffset(t *testing.T) {
	c := newTestChunker()
	// No whitespace at all, so no boundary exists inside any slack window.
	body := strings.Repeat("x", 400)
	doc := model.Document{ID: "doc-5", Body: body}

	chunks := c.Split(doc)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 80, chunks[0].CharEnd)
	assert.Equal(t, len(body), chunks[len(chunks)-1].CharEnd)
}
