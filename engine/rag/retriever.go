// Package rag answers user questions from the FAQ index: it retrieves and
// re-ranks hits, renders them as prompt context and asks the completion API.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/semantic"
)

const (
	// CandidateMultiplier widens the vector search so keyword re-ranking has room.
	CandidateMultiplier = 5
	// ClarifyThreshold is the number of confirmed candidates at which a query
	// is considered too broad to answer.
	ClarifyThreshold = 3
)

// Embedder maps text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the similarity search side of the vector index.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]semantic.SearchResult, error)
}

// SearchOutcome is the result of a retrieval. Message is set instead of hits
// when the user has to rephrase.
type SearchOutcome struct {
	Hits    []semantic.SearchResult
	Message string
}

// Retriever embeds a query, searches the index and re-ranks by keyword overlap.
type Retriever struct {
	embed  Embedder
	index  Searcher
	logger *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embed Embedder, index Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embed: embed, index: index, logger: logger}
}

// Search returns up to topK hits for query, best first.
func (r *Retriever) Search(ctx context.Context, query string, topK int) (SearchOutcome, error) {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return SearchOutcome{}, nil
	}

	vec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("rag: embed query: %w", err)
	}
	candidates, err := r.index.Search(ctx, vec, topK*CandidateMultiplier)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("rag: vector search: %w", err)
	}

	out := Rerank(query, candidates, topK)
	r.logger.Debug("retrieval",
		"candidates", len(candidates),
		"hits", len(out.Hits),
		"clarify", out.Message != "",
	)
	return out, nil
}

// Rerank applies the keyword rule to similarity-ordered candidates. Chunks of
// the same record count once. Three or more records containing the query
// verbatim ask for clarification; one or two are returned alone; none falls
// back to the similarity order.
func Rerank(query string, candidates []semantic.SearchResult, topK int) SearchOutcome {
	if topK <= 0 || len(candidates) == 0 {
		return SearchOutcome{}
	}
	candidates = distinctRecords(candidates)

	needle := strings.ToLower(strings.TrimSpace(query))
	var confirmed []semantic.SearchResult
	for _, c := range candidates {
		if confirms(needle, c) {
			confirmed = append(confirmed, c)
		}
	}

	switch {
	case len(confirmed) >= ClarifyThreshold:
		return SearchOutcome{Hits: []semantic.SearchResult{}, Message: domain.ClarifyMessage}
	case len(confirmed) > 0:
		return SearchOutcome{Hits: head(confirmed, topK)}
	default:
		return SearchOutcome{Hits: head(candidates, topK)}
	}
}

func confirms(needle string, hit semantic.SearchResult) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(hit.Get(domain.FieldQuestion)), needle) ||
		strings.Contains(strings.ToLower(hit.Get(domain.FieldAnswer)), needle)
}

// distinctRecords keeps the best-scoring chunk of every record, preserving order.
func distinctRecords(hits []semantic.SearchResult) []semantic.SearchResult {
	seen := make(map[string]bool, len(hits))
	out := make([]semantic.SearchResult, 0, len(hits))
	for _, h := range hits {
		key := h.Get(domain.FieldID)
		if key == "" {
			key = h.ID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

func head(hits []semantic.SearchResult, n int) []semantic.SearchResult {
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
