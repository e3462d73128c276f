// Package catalog maintains a time-boxed cache of externally registered
// workflows and the agent category each one belongs to.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/registry"
)

// Catalog caches the external workflow inventory. Reads are lock-free against
// an atomically swapped snapshot; refreshes may overlap and the last swap wins.
type Catalog struct {
	client   ListingClient
	registry *registry.Registry
	ttl      time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger

	current atomic.Pointer[snapshot]
}

// New creates a catalog. refreshPerMin bounds how often forced refreshes may
// hit the listing endpoint.
func New(client ListingClient, reg *registry.Registry, ttl time.Duration, refreshPerMin int, logger *zap.Logger) *Catalog {
	if refreshPerMin <= 0 {
		refreshPerMin = 12
	}
	return &Catalog{
		client:   client,
		registry: reg,
		ttl:      ttl,
		limiter:  rate.NewLimiter(rate.Limit(float64(refreshPerMin)/60.0), refreshPerMin),
		logger:   logger,
	}
}

// Refresh rebuilds the snapshot from the listing endpoint. With force=false a
// snapshot younger than the TTL is returned as-is without a network call. On
// listing failure the previous snapshot is retained and the error surfaced.
func (c *Catalog) Refresh(ctx context.Context, force bool) ([]Workflow, error) {
	if !force {
		if snap := c.current.Load(); snap != nil && time.Since(snap.refreshedAt) < c.ttl {
			return copyWorkflows(snap.workflows), nil
		}
	} else if !c.limiter.Allow() {
		// Forced refreshes are rate limited to protect the listing endpoint;
		// serve what we have, or fail if there is nothing yet.
		if snap := c.current.Load(); snap != nil {
			c.logger.Warn("Forced catalog refresh rate limited, serving cached snapshot")
			return copyWorkflows(snap.workflows), nil
		}
	}

	start := time.Now()
	remote, err := c.client.ListWorkflows(ctx)
	if err != nil {
		metrics.RecordCatalogRefresh("error", force, time.Since(start).Seconds())
		c.logger.Warn("Catalog refresh failed, retaining previous snapshot", zap.Error(err))
		if snap := c.current.Load(); snap != nil {
			return copyWorkflows(snap.workflows), err
		}
		return nil, err
	}

	snap := c.buildSnapshot(remote)
	c.current.Store(snap)

	metrics.RecordCatalogRefresh("success", force, time.Since(start).Seconds())
	for category, wfs := range snap.byCategory {
		metrics.CatalogWorkflows.WithLabelValues(category).Set(float64(len(wfs)))
	}
	c.logger.Info("Catalog refreshed",
		zap.Int("workflows", len(snap.workflows)),
		zap.Int("categories", len(snap.byCategory)),
		zap.Bool("forced", force),
	)

	return copyWorkflows(snap.workflows), nil
}

// buildSnapshot classifies every workflow into exactly one category (or
// unclassified) and indexes the result. Classification is deterministic given
// the same name/description and keyword table.
func (c *Catalog) buildSnapshot(remote []RemoteWorkflow) *snapshot {
	now := time.Now()
	snap := &snapshot{
		byCategory:  make(map[string][]Workflow),
		refreshedAt: now,
	}

	for _, rw := range remote {
		if rw.ID == "" {
			continue
		}
		wf := Workflow{
			ID:            rw.ID,
			Name:          rw.Name,
			Description:   rw.Description,
			Category:      c.registry.MatchCategory(rw.Name, rw.Description),
			WebhookURL:    rw.WebhookURL,
			Active:        rw.Active,
			LastRefreshed: now,
		}
		snap.workflows = append(snap.workflows, wf)
		snap.byCategory[wf.Category] = append(snap.byCategory[wf.Category], wf)
	}

	// Priority order per category: most recently refreshed first, then name.
	for _, wfs := range snap.byCategory {
		sort.SliceStable(wfs, func(i, j int) bool {
			if !wfs[i].LastRefreshed.Equal(wfs[j].LastRefreshed) {
				return wfs[i].LastRefreshed.After(wfs[j].LastRefreshed)
			}
			return strings.ToLower(wfs[i].Name) < strings.ToLower(wfs[j].Name)
		})
	}

	return snap
}

// Lookup returns active workflows for a category in priority order. Read-only,
// never blocks on the network. Unclassified workflows are excluded from
// routing and cannot be looked up for it.
func (c *Catalog) Lookup(category string) []Workflow {
	if category == registry.CategoryUnclassified {
		return nil
	}
	snap := c.current.Load()
	if snap == nil {
		return nil
	}
	var out []Workflow
	for _, wf := range snap.byCategory[category] {
		if wf.Active {
			out = append(out, wf)
		}
	}
	return out
}

// Ready reports whether any snapshot exists at all.
func (c *Catalog) Ready() bool {
	return c.current.Load() != nil
}

// Stale reports whether the current snapshot is older than the TTL.
func (c *Catalog) Stale() bool {
	snap := c.current.Load()
	if snap == nil {
		return true
	}
	return time.Since(snap.refreshedAt) >= c.ttl
}

// Summarize describes the current snapshot. err, if non-nil, is recorded as a
// warning for explicit refresh callers.
func (c *Catalog) Summarize(err error) Summary {
	snap := c.current.Load()
	if snap == nil {
		s := Summary{Categories: map[string]int{}, Stale: true}
		if err != nil {
			s.Error = err.Error()
		}
		return s
	}
	s := Summary{
		Workflows:   len(snap.workflows),
		Categories:  make(map[string]int, len(snap.byCategory)),
		RefreshedAt: snap.refreshedAt,
		Stale:       c.Stale(),
	}
	for category, wfs := range snap.byCategory {
		s.Categories[category] = len(wfs)
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// CategoryCounts returns per-category active workflow counts, including the
// unclassified bucket for observability.
func (c *Catalog) CategoryCounts() map[string]int {
	snap := c.current.Load()
	if snap == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(snap.byCategory))
	for category, wfs := range snap.byCategory {
		n := 0
		for _, wf := range wfs {
			if wf.Active {
				n++
			}
		}
		out[category] = n
	}
	return out
}

func copyWorkflows(in []Workflow) []Workflow {
	out := make([]Workflow, len(in))
	copy(out, in)
	return out
}
