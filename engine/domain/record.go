package domain

import (
	"strings"

	"github.com/google/uuid"
)

// DriveImageURL is the direct link template for Google Drive file ids.
const DriveImageURL = "https://drive.google.com/uc?id="

// columnAliases maps raw header variants to canonical field names. Misspelt
// headers exist in the upstream sheets and are folded here so they never reach
// the index.
var columnAliases = map[string]string{
	"anwser":      FieldAnswer,
	"ответ":       FieldAnswer,
	"sourse":      FieldSource,
	"url":         FieldSource,
	"источник":    FieldSource,
	"uuid":        FieldID,
	"вопрос":      FieldQuestion,
	"title":       FieldQuestion,
	"категория":   FieldCategory,
	"теги":        FieldTags,
	"image":       FieldImageURL,
	"photo":       FieldImageURL,
	"updated_at":  FieldLastUpdated,
	"last_update": FieldLastUpdated,
	"lastupdated": FieldLastUpdated,
}

// CanonicalColumn lower-cases and trims a header and resolves known aliases.
func CanonicalColumn(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.Join(strings.Fields(h), "_")
	if c, ok := columnAliases[h]; ok {
		return c
	}
	return h
}

// NormalizeRow converts a raw row into a Record. Headers are canonicalized,
// values trimmed, and a fresh id is generated when the row carries none.
// A canonical column wins over its alias when both are present.
func NormalizeRow(row map[string]string) (Record, error) {
	fields := make(map[string]string, len(row))
	exact := make(map[string]bool, len(row))
	for k, v := range row {
		v = strings.TrimSpace(v)
		c := CanonicalColumn(k)
		isExact := c == strings.ToLower(strings.TrimSpace(k))
		if v == "" || (exact[c] && !isExact) {
			continue
		}
		fields[c] = v
		exact[c] = exact[c] || isExact
	}

	r := RecordFromFields(fields)
	r.ImageURL = ImageURL(r.ImageURL)
	if r.Question == "" && r.Answer == "" {
		return Record{}, NewValidationError("record", r.ID, ErrEmptyRecord)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r, nil
}

// ImageURL passes http(s) links through and turns a bare value into a Google
// Drive download link.
func ImageURL(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "http") {
		return v
	}
	return DriveImageURL + v
}
