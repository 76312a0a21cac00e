package ingest

import (
	"context"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/semantic"
)

// Row is one raw spreadsheet row keyed by header.
type Row map[string]string

// Embedder maps chunk text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex receives the prepared points.
type VectorIndex interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// GraphWriter mirrors records into the FAQ graph. Optional.
type GraphWriter interface {
	SaveRecord(ctx context.Context, r domain.Record) error
}

// ChunkedRecord is a record split into embeddable chunks.
type ChunkedRecord struct {
	Record domain.Record
	Chunks []domain.Chunk
}

// EmbeddedRecord is a chunked record with one embedding per chunk.
type EmbeddedRecord struct {
	ChunkedRecord
	Embeddings [][]float32
}

// Prepared is a record with its points, ready for upsert.
type Prepared struct {
	Record domain.Record
	Points []semantic.VectorRecord
}
