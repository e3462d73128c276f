package health

import (
	"context"
	"time"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
)

// RedisChecker pings the session store backend.
type RedisChecker struct {
	client *circuitbreaker.RedisWrapper
}

func NewRedisChecker(client *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string           { return "redis" }
func (c *RedisChecker) IsCritical() bool       { return true }
func (c *RedisChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if c.client.IsOpen() {
		return CheckResult{
			Status:   StatusUnhealthy,
			Error:    "circuit breaker open",
			Duration: time.Since(start),
		}
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:   StatusUnhealthy,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}
	return CheckResult{
		Status:   StatusHealthy,
		Message:  "ping ok",
		Duration: time.Since(start),
	}
}

// CatalogChecker reports whether the workflow catalog has a usable snapshot.
// A stale snapshot degrades; a catalog that never loaded is unhealthy but not
// critical, because general inquiries are still served locally.
type CatalogChecker struct {
	catalog *catalog.Catalog
}

func NewCatalogChecker(cat *catalog.Catalog) *CatalogChecker {
	return &CatalogChecker{catalog: cat}
}

func (c *CatalogChecker) Name() string           { return "catalog" }
func (c *CatalogChecker) IsCritical() bool       { return false }
func (c *CatalogChecker) Timeout() time.Duration { return time.Second }

func (c *CatalogChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	summary := c.catalog.Summarize(nil)

	switch {
	case !c.catalog.Ready():
		return CheckResult{
			Status:   StatusUnhealthy,
			Error:    "no catalog snapshot loaded",
			Duration: time.Since(start),
		}
	case summary.Stale:
		return CheckResult{
			Status:   StatusDegraded,
			Message:  "catalog snapshot is stale",
			Details:  map[string]interface{}{"workflows": summary.Workflows, "refreshed_at": summary.RefreshedAt},
			Duration: time.Since(start),
		}
	default:
		return CheckResult{
			Status:   StatusHealthy,
			Details:  map[string]interface{}{"workflows": summary.Workflows},
			Duration: time.Since(start),
		}
	}
}
