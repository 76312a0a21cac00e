//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), os.Getenv("NEO4J_PASS"), ""))
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		New(driver).Clear(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_RelatedQuestions(t *testing.T) {
	store := New(testDriver(t))
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	records := []domain.Record{
		{ID: "r1", Question: "Можно ли прийти с детьми?", Category: "Правила", Tags: "дети"},
		{ID: "r2", Question: "Есть ли бортики для детей?", Category: "Правила", Tags: "дети, дорожки"},
		{ID: "r3", Question: "Сколько стоит час игры?", Category: "Цены"},
	}
	for _, r := range records {
		if err := store.SaveRecord(ctx, r); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
	}

	related, err := store.Related(ctx, "r1", 5)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(related) != 1 || related[0].ID != "r2" || related[0].Shared != 2 {
		t.Fatalf("unexpected related: %+v", related)
	}

	cats, err := store.Categories(ctx)
	if err != nil || len(cats) != 2 || cats[0].Name != "Правила" {
		t.Fatalf("Categories = %+v, %v", cats, err)
	}
}
