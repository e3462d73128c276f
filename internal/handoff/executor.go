package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/session"
)

const maxWebhookResponseBytes = 10 << 20

// Executor performs the webhook call that hands a request to an external
// workflow engine.
type Executor struct {
	client  *circuitbreaker.HTTPWrapper
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor builds an executor with the given per-call timeout.
func NewExecutor(timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Executor{
		client:  circuitbreaker.NewHTTPWrapper(httpClient, "workflow-webhook", "webhook", logger),
		timeout: timeout,
		logger:  logger,
	}
}

type webhookPayload struct {
	Message        string              `json:"message"`
	SessionContext *webhookSessionInfo `json:"session_context,omitempty"`
	CorrelationID  string              `json:"correlation_id"`
}

type webhookSessionInfo struct {
	SessionID     string                 `json:"session_id"`
	UserID        string                 `json:"user_id,omitempty"`
	TurnCount     int                    `json:"turn_count"`
	Values        map[string]interface{} `json:"values,omitempty"`
	RecentHistory []session.Turn         `json:"recent_history,omitempty"`
}

// Invoke POSTs the message and session context to the workflow's webhook.
// A deadline overrun maps to ErrExternalCallTimeout, a non-2xx response to
// ErrExternalCallError. The decoded JSON body is the workflow result.
func (e *Executor) Invoke(ctx context.Context, wf catalog.Workflow, message, correlationID string, sctx *session.Context) (map[string]interface{}, error) {
	start := time.Now()

	payload := webhookPayload{Message: message, CorrelationID: correlationID}
	if sctx != nil {
		payload.SessionContext = &webhookSessionInfo{
			SessionID:     sctx.ID,
			UserID:        sctx.UserID,
			TurnCount:     sctx.TurnCount,
			Values:        sctx.Values,
			RecentHistory: sctx.RecentHistory(10),
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, wf.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			metrics.RecordWebhookCall("timeout", time.Since(start).Seconds())
			return nil, fmt.Errorf("%w: %s", ErrExternalCallTimeout, wf.ID)
		}
		metrics.RecordWebhookCall("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrExternalCallError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	if err != nil {
		metrics.RecordWebhookCall("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: read response: %v", ErrExternalCallError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordWebhookCall("error", time.Since(start).Seconds())
		e.logger.Warn("Webhook returned non-success status",
			zap.String("workflow_id", wf.ID),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrExternalCallError, resp.StatusCode)
	}

	metrics.RecordWebhookCall("success", time.Since(start).Seconds())

	result := make(map[string]interface{})
	if len(raw) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		// Engines sometimes answer with bare text.
		return map[string]interface{}{"response": string(raw)}, nil
	}
	return result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
