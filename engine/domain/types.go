// Package domain defines the FAQ record model, the canonical payload field
// names and the validation gate applied to user queries before any retrieval
// or generation work happens.
package domain

import "time"

// Canonical field names used in row sources, vector payloads and API responses.
const (
	FieldID          = "id"
	FieldQuestion    = "question"
	FieldAnswer      = "answer"
	FieldCategory    = "category"
	FieldTags        = "tags"
	FieldSource      = "source"
	FieldImageURL    = "image_url"
	FieldLastUpdated = "last_updated"

	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
	FieldChunkText   = "chunk_text"
	FieldIngestedAt  = "ingested_at"
)

// RecordFields lists the record fields in payload order.
var RecordFields = []string{
	FieldID, FieldQuestion, FieldAnswer, FieldCategory,
	FieldTags, FieldSource, FieldImageURL, FieldLastUpdated,
}

// Record is one normalized FAQ row.
type Record struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Category    string `json:"category,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Source      string `json:"source,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// SearchText is the text embedded for the record.
func (r Record) SearchText() string {
	return trimJoin(r.Question, r.Answer)
}

// Fields returns the record as a map keyed by canonical field names.
func (r Record) Fields() map[string]string {
	return map[string]string{
		FieldID:          r.ID,
		FieldQuestion:    r.Question,
		FieldAnswer:      r.Answer,
		FieldCategory:    r.Category,
		FieldTags:        r.Tags,
		FieldSource:      r.Source,
		FieldImageURL:    r.ImageURL,
		FieldLastUpdated: r.LastUpdated,
	}
}

// RecordFromFields is the inverse of Record.Fields. Unknown keys are ignored.
func RecordFromFields(m map[string]string) Record {
	return Record{
		ID:          m[FieldID],
		Question:    m[FieldQuestion],
		Answer:      m[FieldAnswer],
		Category:    m[FieldCategory],
		Tags:        m[FieldTags],
		Source:      m[FieldSource],
		ImageURL:    m[FieldImageURL],
		LastUpdated: m[FieldLastUpdated],
	}
}

// Chunk is a bounded fragment of a record's searchable text.
type Chunk struct {
	RecordID string
	Index    int
	Total    int
	Text     string
}

// Query is a user question entering the answer flow.
type Query struct {
	Text   string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Rows     int           `json:"rows"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Points   int           `json:"points"`
	Duration time.Duration `json:"duration"`
}
