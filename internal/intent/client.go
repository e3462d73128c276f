package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
	"github.com/switchboard-ai/switchboard/internal/session"
)

// ModelClient is the external language-model classification service.
type ModelClient interface {
	Classify(ctx context.Context, message string, sctx *session.Context) (*ModelOutput, error)
}

// ModelOutput is the structured result the model service is constrained to emit.
type ModelOutput struct {
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	TargetAgent string  `json:"target_agent,omitempty"`
	Rationale   string  `json:"rationale,omitempty"`
}

// HTTPModelClient calls the LLM service's classification endpoint.
type HTTPModelClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// NewHTTPModelClient creates a classification client for the given base URL.
func NewHTTPModelClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPModelClient {
	client := &http.Client{Timeout: timeout}
	return &HTTPModelClient{
		baseURL: baseURL,
		http:    circuitbreaker.NewHTTPWrapper(client, "intent-classify", "llm-service", logger),
		logger:  logger,
	}
}

type classifyRequest struct {
	Message string                 `json:"message"`
	Context classifyRequestContext `json:"context"`
}

type classifyRequestContext struct {
	TurnCount     int                    `json:"turn_count"`
	RecentHistory []session.Turn         `json:"recent_history,omitempty"`
	Values        map[string]interface{} `json:"values,omitempty"`
}

// Classify posts {message, context} and decodes {intent, confidence, targetAgent}.
func (c *HTTPModelClient) Classify(ctx context.Context, message string, sctx *session.Context) (*ModelOutput, error) {
	payload := classifyRequest{Message: message}
	if sctx != nil {
		payload.Context = classifyRequestContext{
			TurnCount:     sctx.TurnCount,
			RecentHistory: sctx.RecentHistory(10),
			Values:        sctx.Values,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intent/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
	}

	var out ModelOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode classify response: %w", err)
	}
	return &out, nil
}
