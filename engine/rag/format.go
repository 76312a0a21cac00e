package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/semantic"
)

// NoContextPlaceholder stands in for the context when nothing was retrieved.
const NoContextPlaceholder = "No relevant information found."

// IDPlaceholder replaces identifier markers in rendered text.
const IDPlaceholder = "[ID]"

var uuidMarkers = strings.NewReplacer("uuid", IDPlaceholder, "UUID", IDPlaceholder)

// FormatContext renders hits as numbered blocks separated by blank lines and
// cuts the result to maxLen characters. maxLen <= 0 means no limit.
func FormatContext(hits []semantic.SearchResult, maxLen int) string {
	if len(hits) == 0 {
		return NoContextPlaceholder
	}

	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		blocks = append(blocks, formatHit(i+1, h))
	}
	return truncate(strings.Join(blocks, "\n\n"), maxLen)
}

func formatHit(n int, h semantic.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", n, uuidMarkers.Replace(h.Get(domain.FieldQuestion)))
	if note := annotation(h.Get(domain.FieldCategory), h.Get(domain.FieldTags)); note != "" {
		b.WriteString(" [" + note + "]")
	}
	if answer := uuidMarkers.Replace(h.Get(domain.FieldAnswer)); answer != "" {
		b.WriteString("\n" + answer)
	}
	if src := scrubSource(h.Get(domain.FieldSource), h.Get(domain.FieldID)); src != "" {
		b.WriteString("\nИсточник: " + src)
	}
	return b.String()
}

func annotation(category, tags string) string {
	var parts []string
	for _, p := range []string{category, tags} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

// scrubSource removes every occurrence of the record id from a source value.
func scrubSource(source, id string) string {
	source = strings.TrimSpace(source)
	if id != "" {
		source = strings.ReplaceAll(source, id, "")
	}
	return strings.TrimSpace(source)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}
