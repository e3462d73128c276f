package guardrail

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/session"
)

const decisionQuery = "data.switchboard.guardrail.decision"

// Config configures the rego-backed gate.
type Config struct {
	Mode       Mode
	PolicyPath string
	FailClosed bool
}

// OPAGate evaluates guardrail policies compiled from .rego files.
type OPAGate struct {
	config Config
	logger *zap.Logger
	cache  *decisionCache

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
}

// NewOPAGate creates a gate and compiles the policies under PolicyPath. With
// fail-open configuration a missing or broken policy set degrades to pass.
func NewOPAGate(config Config, logger *zap.Logger) (*OPAGate, error) {
	g := &OPAGate{
		config: config,
		logger: logger,
		cache:  newDecisionCache(1000, 5*time.Minute),
	}

	if config.Mode == ModeOff {
		return g, nil
	}

	if err := g.LoadPolicies(); err != nil {
		if config.FailClosed {
			return nil, fmt.Errorf("failed to load guardrail policies in fail-closed mode: %w", err)
		}
		logger.Warn("Failed to load guardrail policies, running fail-open", zap.Error(err))
	}
	return g, nil
}

// LoadPolicies compiles all .rego files under the configured directory. Safe
// to call at runtime; the compiled query is swapped under a lock.
func (g *OPAGate) LoadPolicies() error {
	policies := make(map[string]string)

	err := filepath.Walk(g.config.PolicyPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".rego") {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy file %s: %w", path, err)
			}
			relPath, _ := filepath.Rel(g.config.PolicyPath, path)
			policies[strings.TrimSuffix(relPath, ".rego")] = string(content)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk policy directory: %w", err)
	}
	if len(policies) == 0 {
		return fmt.Errorf("no guardrail policies found in %s", g.config.PolicyPath)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for moduleName, content := range policies {
		opts = append(opts, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile guardrail policies: %w", err)
	}

	g.mu.Lock()
	g.compiled = &compiled
	g.mu.Unlock()

	g.logger.Info("Guardrail policies loaded",
		zap.Int("policy_count", len(policies)),
		zap.String("decision_query", decisionQuery),
	)
	return nil
}

// Mode returns the configured enforcement mode.
func (g *OPAGate) Mode() Mode { return g.config.Mode }

// Check evaluates the guardrail policies against the message and session
// context. Dry-run mode always passes but logs what would have been blocked.
func (g *OPAGate) Check(ctx context.Context, message string, sctx *session.Context) (*CheckResult, error) {
	start := time.Now()

	if g.config.Mode == ModeOff {
		return &CheckResult{Pass: true}, nil
	}

	g.mu.RLock()
	compiled := g.compiled
	g.mu.RUnlock()

	if compiled == nil {
		// No policies loaded; fail-open passes, fail-closed blocks.
		if g.config.FailClosed {
			return &CheckResult{
				Pass:       false,
				Violations: []Violation{{Rule: "policy_unavailable", Message: "no guardrail policies loaded"}},
			}, nil
		}
		return &CheckResult{Pass: true}, nil
	}

	if cached, ok := g.cache.Get(message, sessionUser(sctx)); ok {
		metrics.RecordGuardrailCheck(resultLabel(cached), string(g.config.Mode), time.Since(start).Seconds())
		return cached, nil
	}

	input := g.buildInput(message, sctx)

	results, err := compiled.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		g.logger.Error("Guardrail evaluation failed", zap.Error(err))
		metrics.RecordGuardrailCheck("error", string(g.config.Mode), time.Since(start).Seconds())
		if g.config.FailClosed {
			return &CheckResult{
				Pass:       false,
				Violations: []Violation{{Rule: "evaluation_error", Message: err.Error()}},
			}, nil
		}
		return &CheckResult{Pass: true}, nil
	}

	result := parseResults(results)

	if g.config.Mode == ModeDryRun && !result.Pass {
		g.logger.Info("Dry-run guardrail check would have blocked",
			zap.Int("violations", len(result.Violations)),
			zap.String("session_id", sessionID(sctx)),
		)
		result = &CheckResult{Pass: true, Violations: result.Violations}
	}

	g.cache.Set(message, sessionUser(sctx), result)
	metrics.RecordGuardrailCheck(resultLabel(result), string(g.config.Mode), time.Since(start).Seconds())
	return result, nil
}

func (g *OPAGate) buildInput(message string, sctx *session.Context) map[string]interface{} {
	input := map[string]interface{}{
		"message":   message,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if sctx != nil {
		input["session_id"] = sctx.ID
		input["user_id"] = sctx.UserID
		input["turn_count"] = sctx.TurnCount
		input["context"] = sctx.Values
	}
	return input
}

// parseResults maps the rego decision document to a CheckResult. Accepts a
// structured {pass, violations} object or a bare boolean.
func parseResults(results rego.ResultSet) *CheckResult {
	// Default deny when the policy produced nothing.
	result := &CheckResult{
		Pass:       false,
		Violations: []Violation{{Rule: "no_decision", Message: "no matching guardrail rules"}},
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return result
	}

	value := results[0].Expressions[0].Value
	switch v := value.(type) {
	case bool:
		if v {
			return &CheckResult{Pass: true}
		}
		return &CheckResult{Pass: false, Violations: []Violation{{Rule: "denied", Message: "blocked by policy"}}}
	case map[string]interface{}:
		out := &CheckResult{}
		if pass, ok := v["pass"].(bool); ok {
			out.Pass = pass
		}
		if raw, ok := v["violations"].([]interface{}); ok {
			for _, item := range raw {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				viol := Violation{}
				if s, ok := m["rule"].(string); ok {
					viol.Rule = s
				}
				if s, ok := m["severity"].(string); ok {
					viol.Severity = s
				}
				if s, ok := m["message"].(string); ok {
					viol.Message = s
				}
				out.Violations = append(out.Violations, viol)
			}
		}
		return out
	}
	return result
}

func resultLabel(r *CheckResult) string {
	if r.Pass {
		return "pass"
	}
	return "fail"
}

func sessionID(sctx *session.Context) string {
	if sctx == nil {
		return ""
	}
	return sctx.ID
}

func sessionUser(sctx *session.Context) string {
	if sctx == nil {
		return ""
	}
	return sctx.UserID
}

// --- decision cache (LRU with TTL, keyed on user + message hash) ---

type decisionCache struct {
	cap int
	ttl time.Duration

	mu    sync.Mutex
	order []string
	m     map[string]cacheEntry
}

type cacheEntry struct {
	expiresAt time.Time
	result    *CheckResult
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{cap: cap, ttl: ttl, m: make(map[string]cacheEntry)}
}

func (c *decisionCache) makeKey(message, userID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(message)))
	return fmt.Sprintf("%s|%x", userID, h.Sum64())
}

func (c *decisionCache) Get(message, userID string) (*CheckResult, bool) {
	key := c.makeKey(message, userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if entry.expiresAt.Before(time.Now()) {
		// Drop the key from order too, or a later Set of the same key
		// would duplicate it and eviction could pop the stale head and
		// delete the re-added live entry.
		delete(c.m, key)
		c.removeFromOrder(key)
		return nil, false
	}
	return entry.result, true
}

func (c *decisionCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]cacheEntry)
	c.order = nil
}

func (c *decisionCache) Set(message, userID string, result *CheckResult) {
	key := c.makeKey(message, userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists {
		c.order = append(c.order, key)
	}
	c.m[key] = cacheEntry{expiresAt: time.Now().Add(c.ttl), result: result}
	for len(c.m) > c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.m, oldest)
	}
}
