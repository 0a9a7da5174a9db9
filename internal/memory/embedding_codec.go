package memory

import "encoding/json"

// embeddingJSON and decodeEmbeddingJSON store fact embeddings as JSONB
// rather than pgvector, since this backend targets any Postgres instance
// without requiring the pgvector extension; SimilaritySearch ranking
// happens in the Store via vecmath, not in SQL.
func embeddingJSON(v []float32) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeEmbeddingJSON(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var v []float32
	_ = json.Unmarshal(raw, &v)
	return v
}
