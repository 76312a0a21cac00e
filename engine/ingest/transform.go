package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/semantic"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 500
	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 50
	// MinChunkLen is the shortest tail window still worth embedding.
	MinChunkLen = 50
)

// ChunkText splits text into windows of maxSize characters advancing by
// maxSize-overlap (at least 1). Text that fits is returned whole and trimmed.
// A window shorter than MinChunkLen (or maxSize, when smaller) ends the scan.
func ChunkText(text string, maxSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" || maxSize <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= maxSize {
		return []string{text}
	}

	step := max(1, maxSize-overlap)
	minLen := min(MinChunkLen, maxSize)

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+maxSize, len(runes))
		if end-start < minLen {
			break
		}
		chunks = append(chunks, string(runes[start:end]))
		if start+maxSize >= len(runes) {
			break
		}
	}
	return chunks
}

// ChunkRecord chunks a record's searchable text.
func ChunkRecord(r domain.Record, maxSize, overlap int) []domain.Chunk {
	texts := ChunkText(r.SearchText(), maxSize, overlap)
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.Chunk{RecordID: r.ID, Index: i, Total: len(texts), Text: t}
	}
	return chunks
}

// PointID derives a stable point id from record id and chunk index so a
// replayed ingestion overwrites the same points.
func PointID(recordID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", recordID, chunkIndex))).String()
}

// toPoints builds one point per chunk. The payload holds every record field
// under its canonical name plus chunk metadata.
func toPoints(doc EmbeddedRecord, now time.Time) []semantic.VectorRecord {
	fields := doc.Record.Fields()
	points := make([]semantic.VectorRecord, len(doc.Chunks))
	for i, c := range doc.Chunks {
		payload := make(map[string]any, len(fields)+4)
		for k, v := range fields {
			payload[k] = v
		}
		payload[domain.FieldChunkIndex] = c.Index
		payload[domain.FieldTotalChunks] = c.Total
		payload[domain.FieldChunkText] = c.Text
		payload[domain.FieldIngestedAt] = now.UTC().Format(time.RFC3339)
		points[i] = semantic.VectorRecord{
			ID:        PointID(c.RecordID, c.Index),
			Embedding: doc.Embeddings[i],
			Payload:   payload,
		}
	}
	return points
}
