package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
  "server": {"listen": ":9090"},
  "retrieval": {
    "enabled": true,
    "embedding": {"model": "text-embedding-3-small", "dimensions": 1536},
    "search": {"vector_weight": 0.6}
  },
  "storage": {"vector": {"backend": "memory"}}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Fatalf("listen: %q", cfg.Server.Listen)
	}
	if cfg.Retrieval.Embedding.Model != "text-embedding-3-small" || cfg.Retrieval.Embedding.Dimensions != 1536 {
		t.Fatalf("embedding config: %+v", cfg.Retrieval.Embedding)
	}
	if cfg.Retrieval.Search.VectorWeight != 0.6 {
		t.Fatalf("vector weight: %f", cfg.Retrieval.Search.VectorWeight)
	}
	// Unset values pick up defaults.
	if cfg.Retrieval.Embedding.BatchSize != 200 {
		t.Fatalf("batch size default: %d", cfg.Retrieval.Embedding.BatchSize)
	}
	if cfg.Retrieval.Search.RRFK != 60 {
		t.Fatalf("rrf k default: %d", cfg.Retrieval.Search.RRFK)
	}
	if cfg.Jobs.Retention != time.Hour {
		t.Fatalf("retention default: %v", cfg.Jobs.Retention)
	}
}

func TestLoadConfigRequiresEmbeddingWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"retrieval": {"enabled": true, "embedding": {"model": "", "dimensions": 0}}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("enabled retrieval without embedding config should fail")
	}
}

func TestLoadConfigDisabledSkipsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"retrieval": {"enabled": false}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("disabled retrieval should load without embedding settings: %v", err)
	}
	if cfg.Retrieval.Enabled {
		t.Fatalf("enabled flag not honored")
	}
}

func TestChunkingNormalize(t *testing.T) {
	c := ChunkingConfig{}.Normalize()
	if c.Size != 1000 || c.Overlap != 200 || c.Threshold != 1200 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Slack <= 0 || c.Slack > c.Size/2 {
		t.Fatalf("slack out of range: %d", c.Slack)
	}

	// Overlap larger than size is replaced, not accepted.
	c = ChunkingConfig{Size: 100, Overlap: 150}.Normalize()
	if c.Overlap != 20 {
		t.Fatalf("invalid overlap should fall back to size/5, got %d", c.Overlap)
	}
}

func TestSearchNormalize(t *testing.T) {
	s := SearchConfig{}.Normalize()
	if s.VectorWeight != 0.7 || s.RRFK != 60 || s.DefaultLimit != 10 || s.AskTopK != 5 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	s = SearchConfig{VectorWeight: 1.5}.Normalize()
	if s.VectorWeight != 0.7 {
		t.Fatalf("out-of-range weight should reset to default, got %f", s.VectorWeight)
	}
}

func TestVectorStorageValidate(t *testing.T) {
	if err := (VectorStorageConfig{Backend: "memory"}).Validate(); err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if err := (VectorStorageConfig{Backend: "qdrant"}).Validate(); err == nil {
		t.Fatalf("qdrant backend without url should fail")
	}
	if err := (VectorStorageConfig{Backend: "qdrant", QdrantURL: "http://localhost:6334"}).Validate(); err != nil {
		t.Fatalf("qdrant backend with url: %v", err)
	}
	if err := (VectorStorageConfig{Backend: "cassandra"}).Validate(); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}
