package keywordindex

import (
	"context"
	"strings"
	"testing"

	"github.com/todomyday/recall/internal/retrieval/rerr"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seed(t *testing.T, idx *Index, entries ...Entry) {
	t.Helper()
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			t.Fatalf("Add %s: %v", e.ID, err)
		}
	}
}

func TestSearchMatchesStemmedForms(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx,
		Entry{ID: "d1", OwnerID: "u1", ContentType: "note", Title: "Running notes", Body: "I went running along the river this morning."},
		Entry{ID: "d2", OwnerID: "u1", ContentType: "note", Title: "Groceries", Body: "Buy milk and eggs."},
	)

	hits, err := idx.Search(context.Background(), "run", 10, map[string]string{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "d1" {
		t.Fatalf("stemmed query should match 'running', got %v", hits)
	}
	if hits[0].Title != "Running notes" {
		t.Fatalf("stored fields should come back, got title %q", hits[0].Title)
	}
}

func TestSearchOwnerIsolation(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx,
		Entry{ID: "mine", OwnerID: "u1", ContentType: "note", Title: "secret plan", Body: "the plan"},
		Entry{ID: "theirs", OwnerID: "u2", ContentType: "note", Title: "secret plan", Body: "the plan"},
	)

	hits, err := idx.Search(context.Background(), "secret plan", 10, map[string]string{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "mine" {
		t.Fatalf("owner filter leaked results: %v", hits)
	}
}

func TestSearchContentTypeFilter(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx,
		Entry{ID: "n1", OwnerID: "u1", ContentType: "note", Title: "project kickoff", Body: "kickoff meeting notes"},
		Entry{ID: "t1", OwnerID: "u1", ContentType: "task", Title: "project kickoff", Body: "schedule the kickoff"},
	)

	hits, err := idx.Search(context.Background(), "kickoff", 10, map[string]string{"owner_id": "u1", "content_type": "task"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "t1" {
		t.Fatalf("content type filter failed: %v", hits)
	}
}

func TestSearchHighlights(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx, Entry{
		ID: "d1", OwnerID: "u1", ContentType: "note",
		Title: "Kubernetes upgrade",
		Body:  "We postponed the kubernetes upgrade until the storage migration lands.",
	})

	hits, err := idx.Search(context.Background(), "kubernetes", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if len(hits[0].Highlights) == 0 {
		t.Fatalf("expected highlight fragments")
	}
	found := false
	for _, frag := range hits[0].Highlights {
		if strings.Contains(strings.ToLower(frag), "kubernetes") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no fragment mentions the matched term: %v", hits[0].Highlights)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx, Entry{ID: "d1", OwnerID: "u1", ContentType: "note", Title: "temp", Body: "temp"})

	if err := idx.Remove("d1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := idx.Remove("d1"); err != nil {
		t.Fatalf("second Remove should be a no-op, got %v", err)
	}
	hits, err := idx.Search(context.Background(), "temp", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("removed entry still matches: %v", hits)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	if _, err := idx.Search(context.Background(), "  ", 10, nil); !rerr.IsKind(err, rerr.KindValidation) {
		t.Fatalf("blank query should fail validation, got %v", err)
	}
}
