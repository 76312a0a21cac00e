// Package semantic owns the Qdrant collection holding FAQ chunk vectors.
package semantic

import "errors"

// ErrDimensionMismatch is returned when the collection's vector size differs
// from the embedder's. The collection must be recreated to recover.
var ErrDimensionMismatch = errors.New("semantic: vector dimension mismatch")

// SearchResult is a point returned by similarity search.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Payload map[string]string `json:"payload"`
}

// Get returns a payload field or "".
func (r SearchResult) Get(key string) string {
	return r.Payload[key]
}

// VectorRecord is a single point to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}
