// Package registry holds the static table of agent categories the engine can
// route to. The table is loaded once at startup and never mutated afterwards.
package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// CategoryGeneral is the catch-all category used when no specialized
	// category matches an intent.
	CategoryGeneral = "general"

	// CategoryUnclassified buckets workflows whose name and description match
	// no category keywords. It never participates in routing.
	CategoryUnclassified = "unclassified"
)

// Category is a named bucket of specialized capability.
type Category struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Keywords    []string `yaml:"keywords"`
	Fallback    string   `yaml:"fallback"` // empty if none
}

// Registry is the immutable agent category table.
type Registry struct {
	ordered []Category
	byID    map[string]Category
}

type agentsFile struct {
	Agents []Category `yaml:"agents"`
}

// Load reads the category table from a YAML file. A missing file falls back to
// the built-in default table.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(DefaultCategories()), nil
		}
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents file %s defines no categories", path)
	}
	return New(f.Agents), nil
}

// New builds a registry from an explicit category list. Order is preserved so
// keyword matching stays deterministic. A "general" category is appended if the
// table does not define one.
func New(categories []Category) *Registry {
	r := &Registry{byID: make(map[string]Category, len(categories))}
	for _, c := range categories {
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		if c.ID == "" {
			continue
		}
		if _, dup := r.byID[c.ID]; dup {
			continue
		}
		r.ordered = append(r.ordered, c)
		r.byID[c.ID] = c
	}
	if _, ok := r.byID[CategoryGeneral]; !ok {
		general := Category{ID: CategoryGeneral, DisplayName: "General Assistant"}
		r.ordered = append(r.ordered, general)
		r.byID[CategoryGeneral] = general
	}
	return r
}

// DefaultCategories returns the built-in category table.
func DefaultCategories() []Category {
	return []Category{
		{
			ID:          "data_analysis",
			DisplayName: "Data Analysis",
			Keywords:    []string{"data", "analysis", "analytics", "chart", "statistic", "report data", "csv", "excel"},
			Fallback:    "report_generation",
		},
		{
			ID:          "document_processing",
			DisplayName: "Document Processing",
			Keywords:    []string{"document", "pdf", "extract", "summarize", "ocr", "parse"},
			Fallback:    "faq",
		},
		{
			ID:          "report_generation",
			DisplayName: "Report Generation",
			Keywords:    []string{"report", "generate report", "summary report", "export"},
			Fallback:    "faq",
		},
		{
			ID:          "faq",
			DisplayName: "FAQ",
			Keywords:    []string{"faq", "question", "help", "how do i", "support"},
		},
		{
			ID:          "general",
			DisplayName: "General Assistant",
		},
	}
}

// Get returns the category with the given id.
func (r *Registry) Get(id string) (Category, bool) {
	c, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

// Categories returns all categories in declaration order.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Resolve maps an intent label and an optional category hint to a known
// category. Unknown hints coerce to the general category. Pure lookup, no I/O.
func (r *Registry) Resolve(intentLabel, targetHint string) Category {
	if targetHint != "" {
		if c, ok := r.Get(targetHint); ok {
			return c
		}
	}
	if c, ok := r.Get(intentLabel); ok {
		return c
	}
	return r.byID[CategoryGeneral]
}

// MatchCategory classifies a workflow by case-insensitive substring matching of
// category keywords against the workflow's name and description. First match in
// table order wins; no match returns CategoryUnclassified.
func (r *Registry) MatchCategory(name, description string) string {
	haystack := strings.ToLower(name + " " + description)
	for _, c := range r.ordered {
		for _, kw := range c.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(kw)) {
				return c.ID
			}
		}
	}
	return CategoryUnclassified
}

// Fallback returns the fallback category for id, if configured and known.
func (r *Registry) Fallback(id string) (Category, bool) {
	c, ok := r.Get(id)
	if !ok || c.Fallback == "" {
		return Category{}, false
	}
	return r.Get(c.Fallback)
}
