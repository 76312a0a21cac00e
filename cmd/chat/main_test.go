package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/rag"
	"github.com/lanebot/faqrag/engine/semantic"
)

type fakeAsker struct {
	asked []string
}

func (f *fakeAsker) Search(_ context.Context, query string, _ int) (rag.SearchOutcome, error) {
	if query == "боулинг" {
		return rag.SearchOutcome{Hits: []semantic.SearchResult{}, Message: domain.ClarifyMessage}, nil
	}
	return rag.SearchOutcome{Hits: []semantic.SearchResult{{
		Score:   0.87,
		Payload: map[string]string{domain.FieldQuestion: "Есть ли парковка?"},
	}}}, nil
}

func (f *fakeAsker) Answer(_ context.Context, q domain.Query) (rag.Answer, error) {
	f.asked = append(f.asked, q.Text)
	if q.Text == "ошибка" {
		return rag.Answer{}, errors.New("qdrant down")
	}
	return rag.Answer{Text: "ответ: " + q.Text}, nil
}

func (f *fakeAsker) AnswerWithTools(_ context.Context, q domain.Query) (rag.Answer, error) {
	return rag.Answer{Text: "tools: " + q.Text, FunctionCalled: true}, nil
}

func TestREPL(t *testing.T) {
	in := strings.NewReader("парковка?\n\n/search парковка\n/search боулинг\n/tools где машину оставить\nошибка\n/quit\nне дойдёт\n")
	var out bytes.Buffer
	f := &fakeAsker{}

	if err := repl(context.Background(), f, in, &out); err != nil {
		t.Fatalf("repl: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"ответ: парковка?",
		"1. [0.870] Есть ли парковка?",
		domain.ClarifyMessage,
		"tools: где машину оставить",
		"(searched the FAQ)",
		"error: qdrant down",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(f.asked) != 2 {
		t.Errorf("expected 2 plain questions before /quit, got %v", f.asked)
	}
}

func TestPrintAnswerShowsValidationMessage(t *testing.T) {
	var out bytes.Buffer
	err := domain.NewValidationError("query", "бомба", domain.ErrForbiddenContent)
	printAnswer(rag.Answer{Text: domain.RefusalMessage}, err, &out)
	if strings.TrimSpace(out.String()) != domain.RefusalMessage {
		t.Errorf("got %q", out.String())
	}
}
