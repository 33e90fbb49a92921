package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// docIDKey holds the logical index id inside the qdrant payload, since qdrant
// point ids must be UUIDs and ours are parentId#ordinal strings.
const docIDKey = "_doc_id"

// Qdrant implements Store against a qdrant server. Recency tie-breaking on
// equal scores is approximate here; qdrant orders equal-score points by its
// own internal id.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dims       int
}

// NewQdrant connects to qdrant and ensures the collection exists with a
// cosine-distance vector config of the given dimension. urlStr is
// "http://host:port"; the gRPC port is derived as HTTP port + 1.
func NewQdrant(ctx context.Context, urlStr, collection string, dims int) (*Qdrant, error) {
	if dims <= 0 {
		return nil, rerr.Configuration("vector index: dimensions must be > 0")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if parsed.Port() != "" {
		if httpPort, err := strconv.Atoi(parsed.Port()); err == nil {
			port = httpPort + 1
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dims: dims}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

// pointID derives a stable UUID from a logical index id.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *Qdrant) toPoint(item Item) *qdrant.PointStruct {
	payload := make(map[string]any, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		payload[k] = v
	}
	payload[docIDKey] = item.ID
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(item.ID)),
		Vectors: qdrant.NewVectors(item.Vector...),
		Payload: qdrant.NewValueMap(payload),
	}
}

func (q *Qdrant) Add(ctx context.Context, item Item) error {
	return q.AddBatch(ctx, []Item{item})
}

func (q *Qdrant) AddBatch(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(items))
	var failed []rerr.ItemError
	for i, item := range items {
		if len(item.Vector) != q.dims {
			failed = append(failed, rerr.ItemError{ID: item.ID, Index: i,
				Err: rerr.Configuration("dimension %d does not match configured %d", len(item.Vector), q.dims)})
			continue
		}
		points = append(points, q.toPoint(item))
	}
	if len(points) > 0 {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
		})
		if err != nil {
			return rerr.Wrap(rerr.KindExternal, err, "qdrant upsert")
		}
	}
	if len(failed) > 0 {
		return &rerr.Partial{Op: "vector add batch", Items: failed}
	}
	return nil
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func (q *Qdrant) Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Hit, error) {
	if len(query) != q.dims {
		return nil, rerr.Configuration("vector index: query dimension %d does not match configured %d", len(query), q.dims)
	}
	if limit <= 0 {
		return nil, nil
	}
	lim := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := buildFilter(filter); f != nil {
		req.Filter = f
	}
	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternal, err, "qdrant query")
	}
	out := make([]Hit, 0, len(points))
	for _, p := range points {
		meta := make(map[string]string)
		id := ""
		for k, v := range p.Payload {
			s := v.GetStringValue()
			if k == docIDKey {
				id = s
				continue
			}
			meta[k] = s
		}
		out = append(out, Hit{ID: id, Score: float64(p.Score), Metadata: meta})
	}
	return out, nil
}

func (q *Qdrant) Remove(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(pointID(id))),
	})
	if err != nil {
		return rerr.Wrap(rerr.KindExternal, err, "qdrant delete")
	}
	return nil
}

func (q *Qdrant) RemoveMatching(ctx context.Context, filter map[string]string) (int, error) {
	f := buildFilter(filter)
	if f == nil {
		return 0, rerr.Validation("vector index: empty removal filter")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return 0, rerr.Wrap(rerr.KindExternal, err, "qdrant delete by filter")
	}
	// qdrant does not report the removed count on filter deletes.
	return 0, nil
}

func (q *Qdrant) Close() error { return q.client.Close() }
