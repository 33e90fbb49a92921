package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/todomyday/recall/internal/retrieval/rerr"
)

const shardCount = 16

// Memory is the exact-scan baseline Store. Entries are spread over shards so
// a write locks only its own shard and concurrent searches on other shards
// keep going during batch loads.
type Memory struct {
	dims         int
	seq          atomic.Uint64
	shards       [shardCount]shard
	snapshotPath string // "" disables persistence
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Seq      uint64            `json:"seq"`
}

type snapshot struct {
	Dims    int              `json:"dims"`
	Entries map[string]entry `json:"entries"`
}

// NewMemory opens the in-memory store, restoring a snapshot from
// snapshotPath when one exists. dims is the process-wide vector dimension.
func NewMemory(dims int, snapshotPath string) (*Memory, error) {
	if dims <= 0 {
		return nil, rerr.Configuration("vector index: dimensions must be > 0")
	}
	m := &Memory{dims: dims, snapshotPath: snapshotPath}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	if snapshotPath != "" {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Memory) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Add(ctx context.Context, item Item) error {
	if len(item.Vector) != m.dims {
		return rerr.Configuration("vector index: dimension %d does not match configured %d for id %s",
			len(item.Vector), m.dims, item.ID)
	}
	if item.ID == "" {
		return rerr.Validation("vector index: empty id")
	}
	s := m.shardFor(item.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[item.ID] = &entry{
		Vector:   append([]float32(nil), item.Vector...),
		Metadata: item.Metadata,
		Seq:      m.seq.Add(1),
	}
	return nil
}

func (m *Memory) AddBatch(ctx context.Context, items []Item) error {
	var failed []rerr.ItemError
	for i, item := range items {
		if err := m.Add(ctx, item); err != nil {
			failed = append(failed, rerr.ItemError{ID: item.ID, Index: i, Err: err})
		}
	}
	if len(failed) > 0 {
		return &rerr.Partial{Op: "vector add batch", Items: failed}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Hit, error) {
	if len(query) != m.dims {
		return nil, rerr.Configuration("vector index: query dimension %d does not match configured %d", len(query), m.dims)
	}
	if limit <= 0 {
		return nil, nil
	}

	type scored struct {
		id    string
		score float64
		seq   uint64
		meta  map[string]string
	}
	var scoreds []scored
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for id, e := range s.entries {
			if !matchesFilter(e.Metadata, filter) {
				continue
			}
			scoreds = append(scoreds, scored{id: id, score: cosine(query, e.Vector), seq: e.Seq, meta: e.Metadata})
		}
		s.mu.RUnlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sort.Slice(scoreds, func(i, j int) bool {
		if scoreds[i].score != scoreds[j].score {
			return scoreds[i].score > scoreds[j].score
		}
		return scoreds[i].seq > scoreds[j].seq
	})
	if len(scoreds) > limit {
		scoreds = scoreds[:limit]
	}
	out := make([]Hit, len(scoreds))
	for i, sc := range scoreds {
		out[i] = Hit{ID: sc.id, Score: sc.score, Metadata: sc.meta}
	}
	return out, nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (m *Memory) RemoveMatching(ctx context.Context, filter map[string]string) (int, error) {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if matchesFilter(e.Metadata, filter) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Flush writes a snapshot to the configured path via rename so a crash never
// leaves a half-written file.
func (m *Memory) Flush() error {
	if m.snapshotPath == "" {
		return nil
	}
	snap := snapshot{Dims: m.dims, Entries: make(map[string]entry)}
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for id, e := range s.entries {
			snap.Entries[id] = *e
		}
		s.mu.RUnlock()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal vector snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector snapshot: %w", err)
	}
	return os.Rename(tmp, m.snapshotPath)
}

func (m *Memory) load() error {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vector snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse vector snapshot: %w", err)
	}
	if snap.Dims != m.dims {
		return rerr.Configuration("vector snapshot dimension %d does not match configured %d", snap.Dims, m.dims)
	}
	var maxSeq uint64
	for id, e := range snap.Entries {
		e := e
		m.shardFor(id).entries[id] = &e
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	m.seq.Store(maxSeq)
	return nil
}

func (m *Memory) Close() error { return m.Flush() }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
