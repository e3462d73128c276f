package handoff

import (
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/registry"
)

// Resolution is the outcome of picking a workflow for a target category.
type Resolution struct {
	Workflow     catalog.Workflow
	UsedFallback bool
	Chain        []string // categories visited, target first
}

// Resolver picks the highest-priority active workflow for a category, walking
// the registry's fallback chain when the category has none.
type Resolver struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
	maxDepth int
	logger   *zap.Logger
}

func NewResolver(cat *catalog.Catalog, reg *registry.Registry, maxDepth int, logger *zap.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Resolver{catalog: cat, registry: reg, maxDepth: maxDepth, logger: logger}
}

// Resolve walks the fallback chain from targetCategory. A seen-set bounds the
// walk so misconfigured cycles terminate with ErrNoWorkflowAvailable instead
// of looping. Returns catalog.ErrCatalogUnavailable if no snapshot has ever
// loaded.
func (r *Resolver) Resolve(targetCategory string) (*Resolution, error) {
	if !r.catalog.Ready() {
		return nil, catalog.ErrCatalogUnavailable
	}

	seen := make(map[string]bool)
	chain := []string{}
	current := targetCategory

	for depth := 0; depth < r.maxDepth; depth++ {
		if seen[current] {
			r.logger.Warn("Fallback chain cycle detected",
				zap.String("category", current),
				zap.Strings("chain", chain))
			break
		}
		seen[current] = true
		chain = append(chain, current)

		if workflows := r.catalog.Lookup(current); len(workflows) > 0 {
			return &Resolution{
				Workflow:     workflows[0],
				UsedFallback: depth > 0,
				Chain:        chain,
			}, nil
		}

		next, ok := r.registry.Fallback(current)
		if !ok {
			break
		}
		current = next.ID
	}
	return nil, ErrNoWorkflowAvailable
}
