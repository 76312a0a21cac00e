package domain

import "strings"

// DefaultForbiddenTerms is the disallowed vocabulary, Russian and English.
var DefaultForbiddenTerms = []string{
	"мат", "трахать", "ебучий", "оскорбление", "sex",
	"наркотик", "оружие", "бомба", "террор", "убийство",
	"fuck", "shit", "damn", "bitch", "asshole",
	"drug", "weapon", "bomb", "terror", "kill",
}

// ContentFilter rejects text containing any forbidden term as a substring.
// Matching is case-insensitive and not word-bounded, so compounds are caught too.
type ContentFilter struct {
	terms []string
}

// NewContentFilter builds a filter over terms. Nil terms means DefaultForbiddenTerms.
func NewContentFilter(terms []string) *ContentFilter {
	if terms == nil {
		terms = DefaultForbiddenTerms
	}
	f := &ContentFilter{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.terms = append(f.terms, t)
		}
	}
	return f
}

// IsForbidden reports whether text contains a forbidden term.
func (f *ContentFilter) IsForbidden(text string) bool {
	_, ok := f.Match(text)
	return ok
}

// Match returns the first forbidden term found in text.
func (f *ContentFilter) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return t, true
		}
	}
	return "", false
}
