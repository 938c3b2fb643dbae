package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the taskrouter service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Capabilities []CapabilityConfig `mapstructure:"capabilities"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Guardrails   GuardrailsConfig   `mapstructure:"guardrails"`
	Personas     map[string]string  `mapstructure:"personas"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	Version string `mapstructure:"version"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// CapabilityConfig describes one provider capability. APIKeyEnv names an
// environment variable to read the key from when APIKey is empty.
type CapabilityConfig struct {
	ID        string        `mapstructure:"id"`
	Kind      string        `mapstructure:"kind"` // openai | anthropic | gemini | ollama | openai-compatible
	Model     string        `mapstructure:"model"`
	Tier      string        `mapstructure:"tier"`
	APIKey    string        `mapstructure:"api_key"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CostPer1K float64       `mapstructure:"cost_per_1k"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

// ResolvedAPIKey returns the configured key, falling back to APIKeyEnv.
func (c CapabilityConfig) ResolvedAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

type RoutingConfig struct {
	ComplexThreshold int `mapstructure:"complex_threshold"`
	LongThreshold    int `mapstructure:"long_threshold"`
	PlanThreshold    int `mapstructure:"plan_threshold"`
	LongWords        int `mapstructure:"long_words"`
	VeryLongWords    int `mapstructure:"very_long_words"`
	VeryShortChars   int `mapstructure:"very_short_chars"`
}

type FallbackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PlannerConfig struct {
	MaxSteps int `mapstructure:"max_steps"`
}

type ExecutorConfig struct {
	Window      int `mapstructure:"window"`
	ResultChars int `mapstructure:"result_chars"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // memory | redis | none
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ToolsConfig struct {
	SearchProvider string `mapstructure:"search_provider"` // brave | serper | ""
	SearchAPIKey   string `mapstructure:"search_api_key"`
	SearchBaseURL  string `mapstructure:"search_base_url"`
	ImageBaseURL   string `mapstructure:"image_base_url"`
	ImageAPIKey    string `mapstructure:"image_api_key"`
	ImageModel     string `mapstructure:"image_model"`
}

// GuardrailsConfig configures inbound request checks. InjectionSensitivity
// is "medium", "high" or "off".
type GuardrailsConfig struct {
	MaxCharacters        int      `mapstructure:"max_characters"`
	MaxWords             int      `mapstructure:"max_words"`
	InjectionSensitivity string   `mapstructure:"injection_sensitivity"`
	BlockedWords         []string `mapstructure:"blocked_words"`
	PIIPatterns          []string `mapstructure:"pii_patterns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.version", "0.1.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "taskrouter")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("routing.complex_threshold", 3)
	v.SetDefault("routing.long_threshold", 1)
	v.SetDefault("routing.plan_threshold", 3)
	v.SetDefault("routing.long_words", 100)
	v.SetDefault("routing.very_long_words", 200)
	v.SetDefault("routing.very_short_chars", 50)

	v.SetDefault("fallback.timeout", 60*time.Second)
	v.SetDefault("planner.max_steps", 8)
	v.SetDefault("executor.window", 3)
	v.SetDefault("executor.result_chars", 2000)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "taskrouter:cache:")

	v.SetDefault("tools.image_model", "dall-e-3")

	v.SetDefault("guardrails.max_characters", 20000)
	v.SetDefault("guardrails.max_words", 0)
	v.SetDefault("guardrails.injection_sensitivity", "medium")
}

// Load reads configuration from an optional YAML file, with environment
// overrides such as TASKROUTER_SERVER_PORT or TASKROUTER_CACHE_BACKEND.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = DefaultCapabilities()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no env.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// DefaultCapabilities is used when no capabilities are configured. Entries
// whose key variable is unset are excluded later by the registry.
func DefaultCapabilities() []CapabilityConfig {
	caps := []CapabilityConfig{
		{ID: "claude-sonnet", Kind: "anthropic", Model: "claude-sonnet-4-20250514", Tier: "deep", APIKeyEnv: "ANTHROPIC_API_KEY", CostPer1K: 0.003},
		{ID: "gpt-4o", Kind: "openai", Model: "gpt-4o", Tier: "deep", APIKeyEnv: "OPENAI_API_KEY", CostPer1K: 0.0025},
		{ID: "gemini-flash", Kind: "gemini", Model: "gemini-2.0-flash", Tier: "standard", APIKeyEnv: "GEMINI_API_KEY", CostPer1K: 0.0001},
		{ID: "gpt-4o-mini", Kind: "openai", Model: "gpt-4o-mini", Tier: "cheap", APIKeyEnv: "OPENAI_API_KEY", CostPer1K: 0.00015},
	}
	// Ollama needs no credential, so it is only a default when a host is
	// named; otherwise an unconfigured process would start with a registry
	// whose only entry is unreachable.
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		caps = append(caps, CapabilityConfig{ID: "ollama-llama", Kind: "ollama", Model: "llama3.2", Tier: "cheap", BaseURL: host})
	}
	return caps
}

// Validate checks structural constraints. Missing credentials are not a
// validation error here; the capability registry excludes those entries.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Capabilities))
	for i, cc := range c.Capabilities {
		if cc.ID == "" {
			return fmt.Errorf("capabilities[%d]: id is required", i)
		}
		if seen[cc.ID] {
			return fmt.Errorf("capabilities[%d]: duplicate id %q", i, cc.ID)
		}
		seen[cc.ID] = true
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none", "":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	switch c.Guardrails.InjectionSensitivity {
	case "medium", "high", "off", "":
	default:
		return fmt.Errorf("guardrails.injection_sensitivity: unknown value %q", c.Guardrails.InjectionSensitivity)
	}
	if c.Executor.Window <= 0 {
		return fmt.Errorf("executor.window must be > 0")
	}
	if c.Planner.MaxSteps <= 0 {
		return fmt.Errorf("planner.max_steps must be > 0")
	}
	return nil
}
