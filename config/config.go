// Package config provides configuration management for the chatguard server.
// It covers the HTTP server, the message pipeline (screening, rate limiting,
// framing, postprocessing), the ordered provider list and the storage backends.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server             ServerConfig              `yaml:"server"`
	Logging            LoggingConfig             `yaml:"logging"`
	Pipeline           PipelineConfig            `yaml:"pipeline"`
	Screening          ScreeningConfig           `yaml:"screening"`
	RateLimit          RateLimitConfig           `yaml:"rate_limit"`
	Providers          map[string]ProviderConfig `yaml:"providers"`
	ProviderPreference []string                  `yaml:"provider_preference"` // Failover order
	Orchestrator       OrchestratorConfig        `yaml:"orchestrator"`
	Postprocess        PostprocessConfig         `yaml:"postprocess"`
	Storage            StorageConfig             `yaml:"storage"`
	Usage              UsageConfig               `yaml:"usage"`
	Uploads            UploadConfig              `yaml:"uploads"`
	Auth               AuthConfig                `yaml:"auth"`
	CORS               CORSConfig                `yaml:"cors"`
	IPRateLimit        IPRateLimitConfig         `yaml:"ip_rate_limit"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming responses are bounded by it as well (default: 120s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RequestTimeout bounds non-streaming handlers (default: 60s)
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 2MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// ProviderConfig holds configuration for a single text-generation backend.
type ProviderConfig struct {
	Type   string `yaml:"type"`    // mock, gemini, openai or gollm
	Model  string `yaml:"model"`   // Model name
	APIKey string `yaml:"api_key"` // API key for authentication

	// Endpoint overrides the provider's base URL
	Endpoint string `yaml:"endpoint"`

	// Backend names the vendor behind a gollm provider (openai, anthropic, ollama...)
	Backend string `yaml:"backend"`

	// Timeout bounds a single HTTP call to the provider (default: 30s)
	Timeout time.Duration `yaml:"timeout"`

	// Tokenizer selects token estimation: "heuristic" (chars/4) or "tiktoken"
	Tokenizer string `yaml:"tokenizer"`

	// CostPer1KTokens is the price used by estimate_cost
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`

	// Responses replaces the canned replies of a mock provider
	Responses []string `yaml:"responses,omitempty"`
}

// OrchestratorConfig controls retry, backoff and failover.
type OrchestratorConfig struct {
	// MaxRetries is the number of attempts per provider (default: 3)
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is multiplied by 2^attempt after each failed attempt (default: 500ms)
	BackoffBase time.Duration `yaml:"backoff_base"`

	// TrackUsage enables usage recording after successful generations
	TrackUsage bool `yaml:"track_usage"`

	// Deduplicate collapses identical in-flight prompts into one provider call
	Deduplicate bool `yaml:"deduplicate"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the optional per-provider breaker.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// StorageConfig selects the conversation and context store.
type StorageConfig struct {
	// Driver is one of memory, postgres, sqlite3, mysql
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source name
	DSN string `yaml:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// UsageConfig selects where usage records go.
type UsageConfig struct {
	// Sink is one of storage (same backend as conversations), redis, none
	Sink string `yaml:"sink"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string `yaml:"address"`

	// Password for Redis authentication (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number to use
	DB int `yaml:"db"`

	// KeyPrefix namespaces every key written by the sink
	KeyPrefix string `yaml:"key_prefix"`
}

// UploadConfig governs context file uploads.
type UploadConfig struct {
	Dir               string   `yaml:"dir"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	ChunkSize         int      `yaml:"chunk_size"`
	SearchTopK        int      `yaml:"search_top_k"`
}

// AuthConfig enables bearer token authentication on the API routes.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// IPRateLimitConfig is the coarse per-IP throttle in front of every route.
type IPRateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Every   time.Duration `yaml:"every"`
	Burst   int           `yaml:"burst"`
}

// DefaultConfig returns a configuration that runs out of the box with the
// in-memory store and the mock provider.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			RequestTimeout:  60 * time.Second,
			MaxHeaderBytes:  2 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Pipeline:  DefaultPipelineConfig(),
		Screening: DefaultScreeningConfig(),
		RateLimit: RateLimitConfig{
			Window: 60 * time.Second,
			Count:  10,
		},
		Providers: map[string]ProviderConfig{
			"mock": {
				Type:      "mock",
				Model:     "mock",
				Tokenizer: "heuristic",
			},
		},
		ProviderPreference: []string{"mock"},
		Orchestrator: OrchestratorConfig{
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
			TrackUsage:  true,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				MaxRequests:      1,
				Interval:         30 * time.Second,
				Timeout:          10 * time.Second,
				FailureThreshold: 5,
			},
		},
		Postprocess: PostprocessConfig{
			MaxLength:          2048,
			HallucinationCheck: true,
			ContextTopK:        5,
		},
		Storage: StorageConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
		},
		Usage: UsageConfig{
			Sink: "storage",
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "chatguard:usage",
			},
		},
		Uploads: UploadConfig{
			Dir:               "uploads",
			MaxFileSize:       10 << 20,
			AllowedExtensions: []string{"pdf", "docx", "txt", "md"},
			ChunkSize:         500,
			SearchTopK:        5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		IPRateLimit: IPRateLimitConfig{
			Enabled: false,
			Every:   time.Second,
			Burst:   20,
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Nested
// references are expanded until the string stops changing.
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			envKey := key[:i]
			defaultValue := key[i+2:]
			if val := os.Getenv(envKey); val != "" {
				return val
			}
			return defaultValue
		}
		return os.Getenv(key)
	})

	prev := ""
	for prev != result {
		prev = result
		result = os.Expand(result, os.Getenv)
	}

	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// A file that declares its own providers replaces the default mock entry
	var probe struct {
		Providers map[string]ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal([]byte(expandedData), &probe); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(probe.Providers) > 0 {
		config.Providers = nil
		config.ProviderPreference = nil
	}

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.applyProviderDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// applyProviderDefaults fills per-provider fields left empty in the file and
// derives the preference list when the file does not give one.
func (c *Config) applyProviderDefaults() {
	for name, p := range c.Providers {
		if p.Tokenizer == "" {
			p.Tokenizer = "heuristic"
		}
		if p.Timeout == 0 {
			p.Timeout = 30 * time.Second
		}
		if p.Type == "gemini" {
			if p.Model == "" {
				p.Model = "gemini-2.5-flash"
			}
			if p.CostPer1KTokens == 0 {
				p.CostPer1KTokens = 0.00025
			}
		}
		c.Providers[name] = p
	}

	if len(c.ProviderPreference) == 0 && len(c.Providers) == 1 {
		for name := range c.Providers {
			c.ProviderPreference = []string{name}
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("negative request timeout: %v", c.Server.RequestTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Screening.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive: %v", c.RateLimit.Window)
	}
	if c.RateLimit.Count <= 0 {
		return fmt.Errorf("rate limit count must be positive: %d", c.RateLimit.Count)
	}

	// Provider validation
	if len(c.ProviderPreference) == 0 {
		return fmt.Errorf("provider_preference must list at least one provider")
	}
	seen := make(map[string]bool, len(c.ProviderPreference))
	for _, name := range c.ProviderPreference {
		p, ok := c.Providers[name]
		if !ok {
			return fmt.Errorf("provider %q in preference list is not configured", name)
		}
		if seen[name] {
			return fmt.Errorf("provider %q listed twice in preference list", name)
		}
		seen[name] = true
		switch p.Type {
		case "mock":
		case "gemini", "openai", "gollm":
			if p.APIKey == "" && p.Backend != "ollama" {
				return fmt.Errorf("provider %q: missing api_key", name)
			}
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
		switch p.Tokenizer {
		case "heuristic", "tiktoken":
		default:
			return fmt.Errorf("provider %q: unknown tokenizer %q", name, p.Tokenizer)
		}
		if p.CostPer1KTokens < 0 {
			return fmt.Errorf("provider %q: negative cost", name)
		}
	}

	if c.Orchestrator.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive: %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.BackoffBase < 0 {
		return fmt.Errorf("negative backoff base: %v", c.Orchestrator.BackoffBase)
	}
	if c.Orchestrator.CircuitBreaker.Enabled && c.Orchestrator.CircuitBreaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	if c.Postprocess.MaxLength <= 0 {
		return fmt.Errorf("postprocess max_length must be positive: %d", c.Postprocess.MaxLength)
	}

	// Storage validation
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite3", "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage driver %s requires a dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	switch c.Usage.Sink {
	case "storage", "none":
	case "redis":
		if c.Usage.Redis.Address == "" {
			return fmt.Errorf("redis usage sink requires an address")
		}
	default:
		return fmt.Errorf("unsupported usage sink: %s", c.Usage.Sink)
	}

	if c.Uploads.MaxFileSize <= 0 {
		return fmt.Errorf("upload max_file_size must be positive")
	}
	if c.Uploads.ChunkSize <= 0 {
		return fmt.Errorf("upload chunk_size must be positive")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret is empty")
	}

	if c.IPRateLimit.Enabled && (c.IPRateLimit.Every <= 0 || c.IPRateLimit.Burst <= 0) {
		return fmt.Errorf("ip rate limit requires positive every and burst")
	}

	return nil
}
