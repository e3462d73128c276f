package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full switchboard configuration loaded from switchboard.yaml.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Classifier    ClassifierConfig    `mapstructure:"classifier"`
	Guardrail     GuardrailConfig     `mapstructure:"guardrail"`
	Session       SessionConfig       `mapstructure:"session"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	API           APIConfig           `mapstructure:"api"`
}

type EngineConfig struct {
	HandoffConfidenceThreshold float64 `mapstructure:"handoff_confidence_threshold"`
	WebhookTimeoutMs           int     `mapstructure:"webhook_timeout_ms"`
	MaxFallbackDepth           int     `mapstructure:"max_fallback_depth"`
	RecordHistoryLimit         int     `mapstructure:"record_history_limit"`
}

type CatalogConfig struct {
	ListingURL        string `mapstructure:"listing_url"`
	TTLMs             int    `mapstructure:"ttl_ms"`
	RefreshRatePerMin int    `mapstructure:"refresh_rate_per_min"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
}

type ClassifierConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type GuardrailConfig struct {
	Mode       string `mapstructure:"mode"`     // off | dry-run | enforce
	Provider   string `mapstructure:"provider"` // opa | http
	PolicyPath string `mapstructure:"policy_path"`
	FailClosed bool   `mapstructure:"fail_closed"`
	HTTPURL    string `mapstructure:"http_url"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

type SessionConfig struct {
	RedisAddr    string `mapstructure:"redis_addr"`
	TTLHours     int    `mapstructure:"ttl_hours"`
	MaxCached    int    `mapstructure:"max_cached"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type RegistryConfig struct {
	AgentsFile string `mapstructure:"agents_file"`
}

type ObservabilityConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
	HealthPort  int `mapstructure:"health_port"`
	Logging     struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

type APIConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads switchboard.yaml from CONFIG_PATH or ./config/switchboard.yaml,
// applies defaults and env overrides.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/switchboard.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env overrides keep the service bootable.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Engine.HandoffConfidenceThreshold <= 0 {
		c.Engine.HandoffConfidenceThreshold = 0.7
	}
	if c.Engine.WebhookTimeoutMs <= 0 {
		c.Engine.WebhookTimeoutMs = 30000
	}
	if c.Engine.MaxFallbackDepth <= 0 {
		c.Engine.MaxFallbackDepth = 5
	}
	if c.Engine.RecordHistoryLimit <= 0 {
		c.Engine.RecordHistoryLimit = 1000
	}
	if c.Catalog.TTLMs <= 0 {
		c.Catalog.TTLMs = 300000
	}
	if c.Catalog.RefreshRatePerMin <= 0 {
		c.Catalog.RefreshRatePerMin = 12
	}
	if c.Catalog.TimeoutMs <= 0 {
		c.Catalog.TimeoutMs = 10000
	}
	if c.Classifier.TimeoutMs <= 0 {
		c.Classifier.TimeoutMs = 10000
	}
	if c.Classifier.MinConfidence <= 0 {
		c.Classifier.MinConfidence = 0.30
	}
	if c.Guardrail.Mode == "" {
		c.Guardrail.Mode = "enforce"
	}
	if c.Guardrail.Provider == "" {
		c.Guardrail.Provider = "opa"
	}
	if c.Guardrail.PolicyPath == "" {
		c.Guardrail.PolicyPath = "./config/policies"
	}
	if c.Guardrail.TimeoutMs <= 0 {
		c.Guardrail.TimeoutMs = 5000
	}
	if c.Session.RedisAddr == "" {
		c.Session.RedisAddr = "localhost:6379"
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
	if c.Session.MaxCached <= 0 {
		c.Session.MaxCached = 10000
	}
	if c.Session.HistoryLimit <= 0 {
		c.Session.HistoryLimit = 100
	}
	if c.Registry.AgentsFile == "" {
		c.Registry.AgentsFile = "./config/agents.yaml"
	}
	if c.Observability.MetricsPort <= 0 {
		c.Observability.MetricsPort = 2112
	}
	if c.Observability.HealthPort <= 0 {
		c.Observability.HealthPort = 8081
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.API.Port <= 0 {
		c.API.Port = 8080
	}
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	if v := os.Getenv("CATALOG_LISTING_URL"); v != "" {
		c.Catalog.ListingURL = v
	}
	if v := os.Getenv("CLASSIFIER_URL"); v != "" {
		c.Classifier.BaseURL = v
	}
	if v := os.Getenv("GUARDRAIL_URL"); v != "" {
		c.Guardrail.HTTPURL = v
	}
	if v := os.Getenv("HANDOFF_CONFIDENCE_THRESHOLD"); v != "" {
		var x float64
		_, _ = fmt.Sscanf(v, "%f", &x)
		if x > 0 {
			c.Engine.HandoffConfidenceThreshold = x
		}
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT_MS"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.Engine.WebhookTimeoutMs = x
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.Observability.MetricsPort = x
		}
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.Observability.HealthPort = x
		}
	}
	if v := os.Getenv("API_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.API.Port = x
		}
	}
}

// WebhookTimeout returns the webhook timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Engine.WebhookTimeoutMs) * time.Millisecond
}

// CatalogTTL returns the catalog TTL as a duration.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.Catalog.TTLMs) * time.Millisecond
}
