package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store provides FAQ graph operations.
type Store struct {
	open repo.Sessions
}

// New creates a Store on a live driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{open: repo.DriverSessions(driver, "")}
}

// NewWithSessions creates a Store over a custom session opener.
func NewWithSessions(open repo.Sessions) *Store {
	return &Store{open: open}
}

// EnsureSchema creates the uniqueness constraints. Safe to call repeatedly.
func (g *Store) EnsureSchema(ctx context.Context) error {
	for _, c := range []string{
		`CREATE CONSTRAINT faq_question_id IF NOT EXISTS FOR (q:Question) REQUIRE q.id IS UNIQUE`,
		`CREATE CONSTRAINT faq_category_name IF NOT EXISTS FOR (c:Category) REQUIRE c.name IS UNIQUE`,
		`CREATE CONSTRAINT faq_tag_name IF NOT EXISTS FOR (t:Tag) REQUIRE t.name IS UNIQUE`,
	} {
		if err := repo.Exec(ctx, g.open, c, nil); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	return nil
}

const saveRecordCypher = `MERGE (q:Question {id: $id})
SET q.question = $question, q.category = $category, q.source = $source, q.last_updated = $last_updated
WITH q
OPTIONAL MATCH (q)-[old:IN_CATEGORY|TAGGED]->()
DELETE old
WITH DISTINCT q
FOREACH (c IN CASE WHEN $category = '' THEN [] ELSE [$category] END |
  MERGE (cat:Category {name: c})
  MERGE (q)-[:IN_CATEGORY]->(cat))
FOREACH (t IN $tags |
  MERGE (tag:Tag {name: t})
  MERGE (q)-[:TAGGED]->(tag))`

// SaveRecord upserts a record node and replaces its category and tag links.
func (g *Store) SaveRecord(ctx context.Context, r domain.Record) error {
	err := repo.Exec(ctx, g.open, saveRecordCypher, map[string]any{
		"id":           r.ID,
		"question":     r.Question,
		"category":     strings.TrimSpace(r.Category),
		"source":       r.Source,
		"last_updated": r.LastUpdated,
		"tags":         SplitTags(r.Tags),
	})
	if err != nil {
		return fmt.Errorf("graph: save record %s: %w", r.ID, err)
	}
	return nil
}

const relatedCypher = `MATCH (q:Question {id: $id})-[:IN_CATEGORY|TAGGED]->(x)<-[:IN_CATEGORY|TAGGED]-(o:Question)
WHERE o.id <> $id AND o.question <> ''
RETURN o.id AS id, o.question AS question, count(DISTINCT x) AS shared
ORDER BY shared DESC, question
LIMIT $limit`

// Related returns up to limit questions sharing the most links with recordID.
func (g *Store) Related(ctx context.Context, recordID string, limit int) ([]Related, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := repo.Query(ctx, g.open, relatedCypher, map[string]any{"id": recordID, "limit": limit}, relatedFromRecord)
	if err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", recordID, err)
	}
	return out, nil
}

// Categories lists categories by record count, largest first.
func (g *Store) Categories(ctx context.Context) ([]CategoryCount, error) {
	cypher := `MATCH (c:Category)<-[:IN_CATEGORY]-(q:Question)
RETURN c.name AS name, count(q) AS count
ORDER BY count DESC, name`
	out, err := repo.Query(ctx, g.open, cypher, nil, func(rec *neo4j.Record) (CategoryCount, error) {
		return CategoryCount{Name: repo.String(rec, "name"), Count: repo.Int(rec, "count")}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: categories: %w", err)
	}
	return out, nil
}

// NodeCounts returns node counts grouped by label.
func (g *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	cypher := `MATCH (n) WHERE n:Question OR n:Category OR n:Tag
RETURN labels(n)[0] AS type, count(*) AS count`
	rows, err := repo.Query(ctx, g.open, cypher, nil, func(rec *neo4j.Record) (CategoryCount, error) {
		return CategoryCount{Name: repo.String(rec, "type"), Count: repo.Int(rec, "count")}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Name] = r.Count
	}
	return counts, nil
}

// Clear removes every FAQ node and relationship.
func (g *Store) Clear(ctx context.Context) error {
	cypher := `MATCH (n) WHERE n:Question OR n:Category OR n:Tag DETACH DELETE n`
	if err := repo.Exec(ctx, g.open, cypher, nil); err != nil {
		return fmt.Errorf("graph: clear: %w", err)
	}
	return nil
}

func relatedFromRecord(rec *neo4j.Record) (Related, error) {
	return Related{
		ID:       repo.String(rec, "id"),
		Question: repo.String(rec, "question"),
		Shared:   repo.Int(rec, "shared"),
	}, nil
}

// SplitTags splits a tag cell on commas or semicolons, lower-cases and dedups.
func SplitTags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(strings.TrimSpace(f))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}
