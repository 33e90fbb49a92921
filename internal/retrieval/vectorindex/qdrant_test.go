package vectorindex

import "testing"

func TestPointIDStable(t *testing.T) {
	a := pointID("doc-1#000")
	b := pointID("doc-1#000")
	if a != b {
		t.Fatalf("point id must be deterministic: %s vs %s", a, b)
	}
	if a == pointID("doc-1#001") {
		t.Fatalf("different logical ids mapped to the same point id")
	}
	if len(a) != 36 {
		t.Fatalf("expected canonical UUID form, got %q", a)
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(nil) != nil {
		t.Fatalf("empty filter should be nil")
	}
	f := buildFilter(map[string]string{"owner_id": "u1", "parent_id": "d1"})
	if f == nil || len(f.Must) != 2 {
		t.Fatalf("expected two must conditions, got %+v", f)
	}
}
