package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldList_DropsBlanksAndDuplicates(t *testing.T) {
	fields := ParseFieldList("email\r\n\n  phone  \nemail\n\t\nattachment_cv\n")
	assert.Equal(t, []string{"email", "phone", "attachment_cv"}, fields)
}

func TestParseFieldList_Empty(t *testing.T) {
	assert.Empty(t, ParseFieldList(""))
	assert.Empty(t, ParseFieldList("\n \n"))
}

func TestParseCategoryMapping(t *testing.T) {
	m := ParseCategoryMapping("New: leads\nHot Lead:hot-leads\nbroken line\na:b:c\n :empty\nkey:\n")
	assert.Equal(t, map[string]string{
		"new":      "leads",
		"hot lead": "hot-leads",
	}, m)
}

func TestNormalize(t *testing.T) {
	w := &WebhookConfig{
		Name:            "  Contact ",
		PostType:        "post",
		AcfFields:       []string{"email", "", " email", "phone"},
		CategoryField:   "status",
		CategoryMapping: map[string]string{" NEW ": "leads", "": "x", "old": " "},
	}
	w.Normalize()

	assert.Equal(t, "Contact", w.Name)
	assert.Equal(t, []string{"email", "phone"}, w.AcfFields)
	assert.Equal(t, map[string]string{"new": "leads"}, w.CategoryMapping)
	assert.Equal(t, DefaultTaxonomy, w.TaxonomyName)
	assert.True(t, w.HasCategoryMapping())
}

func TestNormalize_CollidingMappingKeysAreDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		w := &WebhookConfig{CategoryMapping: map[string]string{"new": "b", "New": "a", " NEW": "c"}}
		w.Normalize()
		// " NEW" sorts first
		assert.Equal(t, map[string]string{"new": "c"}, w.CategoryMapping)
	}
}

func TestParseCategoryMapping_LaterLineWins(t *testing.T) {
	assert.Equal(t, map[string]string{"new": "second"}, ParseCategoryMapping("New:first\nnew:second"))
}

func TestHasCategoryMapping_RequiresBoth(t *testing.T) {
	assert.False(t, (&WebhookConfig{CategoryField: "status"}).HasCategoryMapping())
	assert.False(t, (&WebhookConfig{CategoryMapping: map[string]string{"a": "b"}}).HasCategoryMapping())
}

func TestWebhookConfig_JSONShape(t *testing.T) {
	raw := `{
		"name": "Contact",
		"post_type": "post",
		"acf_fields": ["email", "attachment_file"],
		"category_field": "status",
		"category_mapping": {"new": "leads"},
		"taxonomy_name": "category"
	}`
	var w WebhookConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	assert.Equal(t, "Contact", w.Name)
	assert.Equal(t, []string{"email", "attachment_file"}, w.AcfFields)
	assert.Equal(t, "leads", w.CategoryMapping["new"])
}
