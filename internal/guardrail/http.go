package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/session"
)

// HTTPGate delegates guardrail checks to a remote service.
type HTTPGate struct {
	url        string
	mode       Mode
	failClosed bool
	client     *circuitbreaker.HTTPWrapper
	logger     *zap.Logger
}

// NewHTTPGate builds a gate backed by a remote guardrail endpoint.
func NewHTTPGate(url string, mode Mode, failClosed bool, timeout time.Duration, logger *zap.Logger) *HTTPGate {
	httpClient := &http.Client{Timeout: timeout}
	return &HTTPGate{
		url:        url,
		mode:       mode,
		failClosed: failClosed,
		client:     circuitbreaker.NewHTTPWrapper(httpClient, "guardrail-http", "guardrail", logger),
		logger:     logger,
	}
}

func (g *HTTPGate) Mode() Mode { return g.mode }

type httpCheckRequest struct {
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type httpCheckResponse struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
}

// Check POSTs the message to the remote service. Service failure degrades per
// the fail-closed setting; dry-run rewrites a block to a pass.
func (g *HTTPGate) Check(ctx context.Context, message string, sctx *session.Context) (*CheckResult, error) {
	start := time.Now()

	if g.mode == ModeOff {
		return &CheckResult{Pass: true}, nil
	}

	reqBody := httpCheckRequest{Message: message}
	if sctx != nil {
		reqBody.Context = map[string]interface{}{
			"session_id": sctx.ID,
			"user_id":    sctx.UserID,
			"turn_count": sctx.TurnCount,
		}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal guardrail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build guardrail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return g.degraded(err, start), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.degraded(fmt.Errorf("guardrail service returned %d", resp.StatusCode), start), nil
	}

	var out httpCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.degraded(fmt.Errorf("decode guardrail response: %w", err), start), nil
	}

	result := &CheckResult{Pass: out.Pass, Violations: out.Violations}
	if g.mode == ModeDryRun && !result.Pass {
		g.logger.Info("Dry-run guardrail check would have blocked",
			zap.Int("violations", len(result.Violations)))
		result.Pass = true
	}
	metrics.RecordGuardrailCheck(resultLabel(result), string(g.mode), time.Since(start).Seconds())
	return result, nil
}

func (g *HTTPGate) degraded(err error, start time.Time) *CheckResult {
	g.logger.Warn("Guardrail service unavailable", zap.Error(err))
	metrics.RecordGuardrailCheck("error", string(g.mode), time.Since(start).Seconds())
	if g.failClosed {
		return &CheckResult{
			Pass:       false,
			Violations: []Violation{{Rule: "service_unavailable", Message: err.Error()}},
		}
	}
	return &CheckResult{Pass: true}
}
