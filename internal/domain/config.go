package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Rule engine and validation pipeline
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	RateLimit  RateLimitConfig  `json:"rateLimit" yaml:"rateLimit"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds

	// CORSOrigins is a comma-separated allow list; empty reflects any origin.
	CORSOrigins string `json:"corsOrigins" yaml:"corsOrigins"`
}

// EngineConfig holds rule engine settings.
type EngineConfig struct {
	// IncludeDefaults registers the built-in rule set
	IncludeDefaults bool `json:"includeDefaults" yaml:"includeDefaults"`

	// Thresholds of the built-in rules
	Tolerance        float64 `json:"tolerance" yaml:"tolerance"`
	AmountThreshold  float64 `json:"amountThreshold" yaml:"amountThreshold"`
	RoundNumberFloor float64 `json:"roundNumberFloor" yaml:"roundNumberFloor"`
	MaxQuantity      float64 `json:"maxQuantity" yaml:"maxQuantity"`

	// RulesFile is an optional YAML file of expression rules
	RulesFile string `json:"rulesFile" yaml:"rulesFile"`
}

// ValidationConfig holds validation pipeline settings.
type ValidationConfig struct {
	// CacheTTL is how long a report is memoized per record fingerprint; 0 disables memoization
	CacheTTL time.Duration `json:"cacheTTL" yaml:"cacheTTL"`

	// AlertRisk is the lowest fraud risk bucket that raises an alert
	AlertRisk FraudRisk `json:"alertRisk" yaml:"alertRisk"`

	// Workers is the number of concurrent documents the worker validates
	Workers int `json:"workers" yaml:"workers"`

	// ZScoreThreshold is the absolute amount z-score reported as unusual in fraud context
	ZScoreThreshold float64 `json:"zScoreThreshold" yaml:"zScoreThreshold"`
}

// RateLimitConfig holds per-tenant API rate limits.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `json:"burst" yaml:"burst"`

	// TenantRates overrides RequestsPerSecond per tenant, e.g. "acme=200,trial=2".
	TenantRates string `json:"tenantRates" yaml:"tenantRates"`
}

// Overrides parses TenantRates into requests per second by tenant.
func (c RateLimitConfig) Overrides() (map[string]float64, error) {
	out := make(map[string]float64)
	for _, entry := range strings.Split(c.TenantRates, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tenant, value, ok := strings.Cut(entry, "=")
		tenant = strings.TrimSpace(tenant)
		if !ok || tenant == "" {
			return nil, fmt.Errorf("rate override %q: want tenant=rps", entry)
		}
		rps, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("rate override %q: invalid rate", entry)
		}
		out[tenant] = rps
	}
	return out, nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite + in-memory LRU + Go channels
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the built-in rule thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		IncludeDefaults:  true,
		Tolerance:        0.02,
		AmountThreshold:  100000,
		RoundNumberFloor: 1000,
		MaxQuantity:      10000,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Validation: ValidationConfig{
			CacheTTL:        10 * time.Minute,
			AlertRisk:       FraudRiskHigh,
			Workers:         4,
			ZScoreThreshold: 3.0,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel-workers",
	}
	cfg.RateLimit.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
