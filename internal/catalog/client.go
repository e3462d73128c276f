package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
)

// RemoteWorkflow is one entry of the external engine's listing response.
type RemoteWorkflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	WebhookURL  string `json:"webhook_url"`
	Active      bool   `json:"active"`
}

// ListingClient fetches the set of registered workflows from the external engine.
type ListingClient interface {
	ListWorkflows(ctx context.Context) ([]RemoteWorkflow, error)
}

// HTTPListingClient calls the engine's listing endpoint over HTTP.
type HTTPListingClient struct {
	url    string
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewHTTPListingClient creates a listing client for the given endpoint URL.
func NewHTTPListingClient(url string, timeout time.Duration, logger *zap.Logger) *HTTPListingClient {
	client := &http.Client{Timeout: timeout}
	return &HTTPListingClient{
		url:    url,
		http:   circuitbreaker.NewHTTPWrapper(client, "workflow-listing", "workflow-engine", logger),
		logger: logger,
	}
}

type listingResponse struct {
	Workflows []RemoteWorkflow `json:"workflows"`
}

// ListWorkflows fetches and decodes the listing. Accepts either a bare array
// or an object with a "workflows" field.
func (c *HTTPListingClient) ListWorkflows(ctx context.Context) ([]RemoteWorkflow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read listing body: %w", err)
	}

	var flat []RemoteWorkflow
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var wrapped listingResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse listing body: %w", err)
	}
	return wrapped.Workflows, nil
}
