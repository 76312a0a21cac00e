package domain

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxQueryLen caps the query length in characters.
const DefaultMaxQueryLen = 1000

// QueryValidator is the gate every query passes before retrieval.
type QueryValidator struct {
	MaxLen int
	Filter *ContentFilter
}

// NewQueryValidator returns a validator with the default term set.
func NewQueryValidator(maxLen int) *QueryValidator {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLen
	}
	return &QueryValidator{MaxLen: maxLen, Filter: NewContentFilter(nil)}
}

// Validate trims text and checks emptiness, length and forbidden vocabulary.
// It returns the trimmed query on success.
func (v *QueryValidator) Validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("query", text, ErrEmptyQuery)
	}
	if v.MaxLen > 0 && utf8.RuneCountInString(text) > v.MaxLen {
		return "", NewValidationError("query", truncateRunes(text, 64), ErrQueryTooLong)
	}
	if v.Filter != nil {
		if term, ok := v.Filter.Match(text); ok {
			return "", NewValidationError("query", term, ErrForbiddenContent)
		}
	}
	return text, nil
}

// ValidateRecord checks a normalized record before ingestion.
func ValidateRecord(r Record) error {
	if strings.TrimSpace(r.Question) == "" && strings.TrimSpace(r.Answer) == "" {
		return NewValidationError("record", r.ID, ErrEmptyRecord)
	}
	if r.ID == "" {
		return NewValidationError("id", "", ErrMissingID)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func trimJoin(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
