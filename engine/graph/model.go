// Package graph keeps FAQ records in Neo4j linked to their category and tags,
// and answers "related questions" lookups over those links.
package graph

// Related is a question that shares a category or tags with another record.
type Related struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Shared   int64  `json:"shared"`
}

// CategoryCount is a category with the number of records in it.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
