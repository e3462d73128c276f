package catalog

import (
	"errors"
	"time"
)

var (
	// ErrCatalogUnavailable is returned when no snapshot has ever been built,
	// e.g. on first run before any successful refresh.
	ErrCatalogUnavailable = errors.New("workflow catalog unavailable")
)

// Workflow describes an externally registered workflow. The category is
// inferred once at refresh time and is immutable until the next refresh.
type Workflow struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	WebhookURL    string    `json:"webhook_url"`
	Active        bool      `json:"active"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Summary describes the current snapshot for callers of RefreshCatalog.
type Summary struct {
	Workflows   int            `json:"workflows"`
	Categories  map[string]int `json:"categories"`
	RefreshedAt time.Time      `json:"refreshed_at"`
	Stale       bool           `json:"stale"`
	Error       string         `json:"error,omitempty"`
}

// snapshot is an immutable view of the catalog. Replaced wholesale on refresh
// so readers never observe a half-built list.
type snapshot struct {
	workflows   []Workflow
	byCategory  map[string][]Workflow
	refreshedAt time.Time
}
