package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadOriginalID is the payload field holding a fact's real ID, since
// Qdrant point IDs must be UUIDs or positive integers.
const payloadOriginalID = "_fact_id"

// qdrantFactIndex is a FactIndex backed by Qdrant, grounded on the
// teacher's qdrantVector store, narrowed to the single collection a
// deployment's fact embeddings live in.
type qdrantFactIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantFactIndex connects to addr (host:port of Qdrant's gRPC API,
// default port 6334) and ensures collection exists with the given
// embedding dimension, cosine distance.
func NewQdrantFactIndex(addr, collection string, dimension int) (FactIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("memory: qdrant fact index requires a collection name")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("memory: qdrant fact index requires dimension > 0")
	}
	host, port := "localhost", 6334
	parsed, err := url.Parse(addr)
	if err != nil || parsed.Hostname() == "" {
		// A bare "host:port" parses as a scheme; reparse it as an authority.
		parsed, err = url.Parse("//" + addr)
	}
	if err == nil && parsed.Hostname() != "" {
		host = parsed.Hostname()
		if p := parsed.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("memory: qdrant client: %w", err)
	}
	idx := &qdrantFactIndex{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *qdrantFactIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("memory: qdrant collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("memory: qdrant create collection: %w", err)
	}
	return nil
}

func factPointID(factID string) string {
	if _, err := uuid.Parse(factID); err == nil {
		return factID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(factID)).String()
}

func (q *qdrantFactIndex) Upsert(ctx context.Context, factID string, vector []float32, metadata map[string]string) error {
	payload := map[string]any{payloadOriginalID: factID}
	for k, v := range metadata {
		payload[k] = v
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(factPointID(factID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *qdrantFactIndex) Delete(ctx context.Context, factID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(factPointID(factID))),
	})
	return err
}

func (q *qdrantFactIndex) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]FactIndexHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}

	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]FactIndexHit, 0, len(hits))
	for _, hit := range hits {
		factID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadOriginalID]; ok {
				factID = v.GetStringValue()
			}
		}
		if factID == "" {
			continue
		}
		out = append(out, FactIndexHit{ID: factID, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *qdrantFactIndex) Close() error {
	return q.client.Close()
}
