package metadata

import (
	"sort"
	"strings"
	"time"
)

// DefaultTaxonomy is used when a webhook does not name one.
const DefaultTaxonomy = "category"

// WebhookConfig maps form submissions delivered to one webhook onto a content type.
type WebhookConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	PostType        string            `json:"post_type"`
	AcfFields       []string          `json:"acf_fields"`
	TitleField      string            `json:"title_field,omitempty"`
	CategoryField   string            `json:"category_field,omitempty"`
	CategoryMapping map[string]string `json:"category_mapping,omitempty"` // lowercased value -> term slug
	TaxonomyName    string            `json:"taxonomy_name"`
	Filter          string            `json:"filter,omitempty"` // expression; empty = accept every submission
	Created         time.Time         `json:"created"`
}

// Normalize applies the persistence invariants: trimmed, non-blank, unique
// field names; lowercased mapping keys; a default taxonomy.
func (w *WebhookConfig) Normalize() {
	w.Name = strings.TrimSpace(w.Name)
	w.PostType = strings.TrimSpace(w.PostType)
	w.TitleField = strings.TrimSpace(w.TitleField)
	w.CategoryField = strings.TrimSpace(w.CategoryField)
	w.TaxonomyName = strings.TrimSpace(w.TaxonomyName)
	if w.TaxonomyName == "" {
		w.TaxonomyName = DefaultTaxonomy
	}
	w.AcfFields = cleanFieldList(w.AcfFields)

	if len(w.CategoryMapping) > 0 {
		keys := make([]string, 0, len(w.CategoryMapping))
		for k := range w.CategoryMapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		m := make(map[string]string, len(keys))
		for _, k := range keys {
			key := MappingKey(k)
			slug := strings.TrimSpace(w.CategoryMapping[k])
			if key == "" || slug == "" {
				continue
			}
			if _, taken := m[key]; taken {
				continue
			}
			m[key] = slug
		}
		w.CategoryMapping = m
	}
}

// MappingKey is the form a category mapping key is stored and matched in.
func MappingKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// HasCategoryMapping reports whether category assignment is configured.
func (w *WebhookConfig) HasCategoryMapping() bool {
	return w.CategoryField != "" && len(w.CategoryMapping) > 0
}

// ParseFieldList splits newline-separated field names as entered by an
// administrator.
func ParseFieldList(text string) []string {
	return cleanFieldList(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
}

// ParseCategoryMapping reads "value:slug" lines. Lines that do not split
// into exactly two parts are ignored; a later line overrides an earlier one
// with the same key.
func ParseCategoryMapping(text string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		parts := strings.Split(strings.TrimSpace(line), ":")
		if len(parts) != 2 {
			continue
		}
		key := MappingKey(parts[0])
		slug := strings.TrimSpace(parts[1])
		if key == "" || slug == "" {
			continue
		}
		m[key] = slug
	}
	return m
}

func cleanFieldList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
