package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode"

	"github.com/google/uuid"
)

func TestContentFilter_AllTermsCaseVaried(t *testing.T) {
	f := NewContentFilter(nil)
	for _, term := range DefaultForbiddenTerms {
		for _, v := range []string{term, strings.ToUpper(term), "пишу про " + alternateCase(term) + "!"} {
			if !f.IsForbidden(v) {
				t.Errorf("expected %q to be forbidden", v)
			}
		}
	}
	if !f.IsForbidden("БОМБА") {
		t.Error("expected БОМБА to be forbidden")
	}
}

func TestContentFilter_Clean(t *testing.T) {
	f := NewContentFilter(nil)
	for _, q := range []string{"какие часы работы?", "сколько стоит дорожка", "do you have birthday parties"} {
		if f.IsForbidden(q) {
			t.Errorf("expected %q to be allowed", q)
		}
	}
}

func TestContentFilter_SubstringMatch(t *testing.T) {
	f := NewContentFilter([]string{"bomb"})
	if !f.IsForbidden("photobombing") {
		t.Error("substring inside a compound word must match")
	}
	term, ok := f.Match("A BOMB")
	if !ok || term != "bomb" {
		t.Errorf("Match = %q, %v", term, ok)
	}
}

func TestQueryValidator(t *testing.T) {
	v := NewQueryValidator(10)

	q, err := v.Validate("  страйк  ")
	if err != nil || q != "страйк" {
		t.Fatalf("got %q, %v", q, err)
	}

	_, err = v.Validate("   ")
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}

	_, err = v.Validate(strings.Repeat("я", 11))
	if !errors.Is(err, ErrQueryTooLong) {
		t.Errorf("expected ErrQueryTooLong, got %v", err)
	}

	_, err = v.Validate("бомба")
	if !errors.Is(err, ErrForbiddenContent) {
		t.Errorf("expected ErrForbiddenContent, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "query" {
		t.Errorf("expected *ValidationError on field query, got %v", err)
	}
	if UserMessage(err) != RefusalMessage {
		t.Errorf("UserMessage = %q", UserMessage(err))
	}
}

func TestNormalizeRow_AliasesAndGeneratedID(t *testing.T) {
	r, err := NormalizeRow(map[string]string{
		"Question ": "Что такое страйк?",
		"anwser":    "Все 10 кеглей одним броском.",
		"sourse":    "https://example.com/rules",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Answer != "Все 10 кеглей одним броском." {
		t.Errorf("answer = %q", r.Answer)
	}
	if r.Source != "https://example.com/rules" {
		t.Errorf("source = %q", r.Source)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("expected generated uuid id, got %q", r.ID)
	}
	for k := range r.Fields() {
		if k == "anwser" || k == "sourse" {
			t.Errorf("alias %q leaked into fields", k)
		}
	}
}

func TestNormalizeRow_SourceID(t *testing.T) {
	r, err := NormalizeRow(map[string]string{"uuid": "faq-7", "question": "q", "answer": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "faq-7" {
		t.Errorf("id = %q", r.ID)
	}
}

func TestNormalizeRow_CanonicalWinsOverAlias(t *testing.T) {
	for i := 0; i < 20; i++ {
		r, err := NormalizeRow(map[string]string{"answer": "right", "anwser": "wrong", "question": "q"})
		if err != nil {
			t.Fatal(err)
		}
		if r.Answer != "right" {
			t.Fatalf("answer = %q", r.Answer)
		}
	}
}

func TestNormalizeRow_Empty(t *testing.T) {
	_, err := NormalizeRow(map[string]string{"category": "Цены", "question": " "})
	if !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("expected ErrEmptyRecord, got %v", err)
	}
}

func TestImageURL(t *testing.T) {
	if got := ImageURL("1AbC"); got != DriveImageURL+"1AbC" {
		t.Errorf("drive id: %q", got)
	}
	if got := ImageURL("https://x/img.png"); got != "https://x/img.png" {
		t.Errorf("http: %q", got)
	}
	if ImageURL("") != "" {
		t.Error("empty should stay empty")
	}
}

func TestRecordSearchText(t *testing.T) {
	r := Record{Question: " Что такое страйк? ", Answer: "Все 10 кеглей."}
	if got := r.SearchText(); got != "Что такое страйк? Все 10 кеглей." {
		t.Errorf("SearchText = %q", got)
	}
	if got := (Record{Answer: "only"}).SearchText(); got != "only" {
		t.Errorf("SearchText = %q", got)
	}
}

func TestValidateRecord(t *testing.T) {
	if err := ValidateRecord(Record{ID: "1", Question: "q"}); err != nil {
		t.Errorf("unexpected %v", err)
	}
	if err := ValidateRecord(Record{Question: "q"}); !errors.Is(err, ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
}

func alternateCase(s string) string {
	rs := []rune(s)
	for i := range rs {
		if i%2 == 0 {
			rs[i] = unicode.ToUpper(rs[i])
		}
	}
	return string(rs)
}
