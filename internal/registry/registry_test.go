package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownHint(t *testing.T) {
	r := New(DefaultCategories())

	c := r.Resolve("data_query", "data_analysis")
	assert.Equal(t, "data_analysis", c.ID)
}

func TestResolveUnknownHintCoercesToGeneral(t *testing.T) {
	r := New(DefaultCategories())

	c := r.Resolve("something_odd", "not_a_category")
	assert.Equal(t, CategoryGeneral, c.ID)
}

func TestResolveIntentLabelAsCategory(t *testing.T) {
	r := New(DefaultCategories())

	c := r.Resolve("faq", "")
	assert.Equal(t, "faq", c.ID)
}

func TestMatchCategoryFirstMatchWins(t *testing.T) {
	r := New([]Category{
		{ID: "alpha", Keywords: []string{"invoice"}},
		{ID: "beta", Keywords: []string{"invoice", "billing"}},
	})

	// both categories match; table order decides
	assert.Equal(t, "alpha", r.MatchCategory("Invoice Processor", "handles billing"))
}

func TestMatchCategoryCaseInsensitive(t *testing.T) {
	r := New(DefaultCategories())

	assert.Equal(t, "document_processing", r.MatchCategory("PDF Summarizer", ""))
	assert.Equal(t, "document_processing", r.MatchCategory("", "Extracts text via OCR"))
}

func TestMatchCategoryUnclassified(t *testing.T) {
	r := New(DefaultCategories())

	assert.Equal(t, CategoryUnclassified, r.MatchCategory("mystery", "nothing relevant here"))
}

func TestMatchCategoryDeterministic(t *testing.T) {
	r := New(DefaultCategories())

	first := r.MatchCategory("Sales Data Cruncher", "crunches numbers")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, r.MatchCategory("Sales Data Cruncher", "crunches numbers"))
	}
}

func TestFallbackChainLookup(t *testing.T) {
	r := New(DefaultCategories())

	fb, ok := r.Fallback("data_analysis")
	require.True(t, ok)
	assert.Equal(t, "report_generation", fb.ID)

	_, ok = r.Fallback("faq")
	assert.False(t, ok)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := []byte(`
agents:
  - id: billing
    display_name: Billing
    keywords: [invoice, payment]
    fallback: faq
  - id: faq
    display_name: FAQ
    keywords: [question]
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	c, ok := r.Get("billing")
	require.True(t, ok)
	assert.Equal(t, "faq", c.Fallback)

	// general is always present even if the file omits it
	_, ok = r.Get(CategoryGeneral)
	assert.True(t, ok)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	_, ok := r.Get("data_analysis")
	assert.True(t, ok)
}
