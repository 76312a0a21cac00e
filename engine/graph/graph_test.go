package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type fakeResult struct {
	records []*neo4j.Record
	pos     int
}

func (r *fakeResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeResult) Record() *neo4j.Record { return r.records[r.pos-1] }
func (r *fakeResult) Err() error            { return nil }

type call struct {
	cypher string
	params map[string]any
}

type fakeSession struct {
	calls   *[]call
	records []*neo4j.Record
	err     error
}

func (s *fakeSession) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	*s.calls = append(*s.calls, call{cypher, params})
	if s.err != nil {
		return nil, s.err
	}
	return &fakeResult{records: s.records}, nil
}
func (s *fakeSession) Close(context.Context) error { return nil }

func newFakeStore(records []*neo4j.Record, err error) (*Store, *[]call) {
	calls := &[]call{}
	return NewWithSessions(func(context.Context) repo.Runner {
		return &fakeSession{calls: calls, records: records, err: err}
	}), calls
}

func TestSplitTags(t *testing.T) {
	got := SplitTags(" Дети, праздник;ДЕТИ,, ")
	if len(got) != 2 || got[0] != "дети" || got[1] != "праздник" {
		t.Fatalf("SplitTags = %v", got)
	}
	if len(SplitTags("")) != 0 {
		t.Fatal("expected no tags")
	}
}

func TestSaveRecord(t *testing.T) {
	g, calls := newFakeStore(nil, nil)
	r := domain.Record{ID: "faq-1", Question: "Можно ли с детьми?", Category: " Правила ", Tags: "дети, семья"}
	if err := g.SaveRecord(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(*calls))
	}
	p := (*calls)[0].params
	if p["id"] != "faq-1" || p["category"] != "Правила" {
		t.Fatalf("params = %v", p)
	}
	tags := p["tags"].([]string)
	if len(tags) != 2 || tags[0] != "дети" {
		t.Fatalf("tags = %v", tags)
	}
}

func TestSaveRecord_Error(t *testing.T) {
	g, _ := newFakeStore(nil, errors.New("unavailable"))
	err := g.SaveRecord(context.Background(), domain.Record{ID: "x"})
	if err == nil || !strings.Contains(err.Error(), "graph: save record x") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRelated(t *testing.T) {
	g, calls := newFakeStore([]*neo4j.Record{
		{Keys: []string{"id", "question", "shared"}, Values: []any{"faq-2", "Есть ли детские дорожки?", int64(2)}},
		{Keys: []string{"id", "question", "shared"}, Values: []any{"faq-3", "Сколько стоит праздник?", int64(1)}},
	}, nil)
	got, err := g.Related(context.Background(), "faq-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "faq-2" || got[0].Shared != 2 {
		t.Fatalf("related = %+v", got)
	}
	if (*calls)[0].params["limit"] != 3 {
		t.Fatalf("params = %v", (*calls)[0].params)
	}

	none, err := g.Related(context.Background(), "faq-1", 0)
	if err != nil || none != nil || len(*calls) != 1 {
		t.Fatal("limit 0 must not query")
	}
}

func TestCategoriesAndNodeCounts(t *testing.T) {
	g, _ := newFakeStore([]*neo4j.Record{
		{Keys: []string{"name", "count", "type"}, Values: []any{"Цены", int64(4), "Question"}},
	}, nil)
	cats, err := g.Categories(context.Background())
	if err != nil || len(cats) != 1 || cats[0].Name != "Цены" || cats[0].Count != 4 {
		t.Fatalf("categories = %+v, %v", cats, err)
	}
	counts, err := g.NodeCounts(context.Background())
	if err != nil || counts["Question"] != 4 {
		t.Fatalf("counts = %v, %v", counts, err)
	}
}

func TestEnsureSchemaAndClear(t *testing.T) {
	g, calls := newFakeStore(nil, nil)
	if err := g.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*calls) != 4 || !strings.Contains((*calls)[3].cypher, "DETACH DELETE") {
		t.Fatalf("calls = %v", *calls)
	}
}
