package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
server:
  port: 9090
  read_timeout: 45s
  write_timeout: 45s
  max_header_bytes: 2097152
  shutdown_timeout: 45s

logging:
  level: debug
  format: json

providers:
  primary:
    type: gemini
    api_key: secret
  fallback:
    type: mock

provider_preference:
  - primary
  - fallback

orchestrator:
  max_retries: 2
  backoff_base: 100ms

storage:
  driver: sqlite3
  dsn: file:chat.db
`

	config, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("unexpected port: got %d, want %d", config.Server.Port, 9090)
	}
	if config.Server.ReadTimeout != 45*time.Second {
		t.Errorf("unexpected read timeout: got %v, want %v", config.Server.ReadTimeout, 45*time.Second)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("unexpected log level: got %s, want %s", config.Logging.Level, "debug")
	}

	if len(config.Providers) != 2 {
		t.Fatalf("default mock provider should be replaced, got %d providers", len(config.Providers))
	}
	primary := config.Providers["primary"]
	if primary.Model != "gemini-2.5-flash" {
		t.Errorf("unexpected gemini default model: %s", primary.Model)
	}
	if primary.CostPer1KTokens != 0.00025 {
		t.Errorf("unexpected gemini default cost: %v", primary.CostPer1KTokens)
	}
	if primary.Tokenizer != "heuristic" {
		t.Errorf("unexpected tokenizer: %s", primary.Tokenizer)
	}
	if got := strings.Join(config.ProviderPreference, ","); got != "primary,fallback" {
		t.Errorf("unexpected preference order: %s", got)
	}

	if config.Orchestrator.MaxRetries != 2 {
		t.Errorf("unexpected max retries: %d", config.Orchestrator.MaxRetries)
	}
	if config.Orchestrator.BackoffBase != 100*time.Millisecond {
		t.Errorf("unexpected backoff base: %v", config.Orchestrator.BackoffBase)
	}

	// Untouched sections keep their defaults
	if config.Pipeline.MaxMessageLength != 500 {
		t.Errorf("unexpected max message length: %d", config.Pipeline.MaxMessageLength)
	}
	if config.RateLimit.Count != 10 || config.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit: %+v", config.RateLimit)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name: "invalid port",
			config: `
server:
  port: -1`,
			want: "invalid port",
		},
		{
			name: "invalid log level",
			config: `
logging:
  level: verbose`,
			want: "invalid log level",
		},
		{
			name: "unknown provider in preference",
			config: `
providers:
  a:
    type: mock
provider_preference: [a, b]`,
			want: `provider "b" in preference list is not configured`,
		},
		{
			name: "remote provider without key",
			config: `
providers:
  a:
    type: openai
    model: gpt-4o-mini`,
			want: "missing api_key",
		},
		{
			name: "template without placeholder",
			config: `
pipeline:
  templates:
    qa: "no placeholder here"`,
			want: "exactly once",
		},
		{
			name: "bad sql pattern",
			config: `
screening:
  sql_patterns: ["(unclosed"]`,
			want: "invalid sql pattern",
		},
		{
			name: "sql storage without dsn",
			config: `
storage:
  driver: postgres`,
			want: "requires a dsn",
		},
		{
			name: "auth without secret",
			config: `
auth:
  enabled: true`,
			want: "jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.config))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	if config.Server.Port != 8080 {
		t.Errorf("unexpected default port: got %d, want %d", config.Server.Port, 8080)
	}
	if config.Orchestrator.MaxRetries != 3 {
		t.Errorf("unexpected default retries: %d", config.Orchestrator.MaxRetries)
	}
	if config.Orchestrator.BackoffBase != 500*time.Millisecond {
		t.Errorf("unexpected default backoff: %v", config.Orchestrator.BackoffBase)
	}
	for _, qt := range []string{"technical", "code", "qa", "report"} {
		if _, ok := config.Pipeline.Templates[qt]; !ok {
			t.Errorf("missing default template %q", qt)
		}
	}
	if config.Uploads.MaxFileSize != 10<<20 {
		t.Errorf("unexpected upload limit: %d", config.Uploads.MaxFileSize)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
	if got := strings.Join(config.ProviderPreference, ","); got != "mock" {
		t.Errorf("unexpected preference: %s", got)
	}
}

func TestTemplateOverrideMergesWithDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`
pipeline:
  templates:
    summary: "Summarize: {{.Message}}"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := config.Pipeline.Templates["summary"]; !ok {
		t.Error("custom template missing")
	}
	if _, ok := config.Pipeline.Templates["qa"]; !ok {
		t.Error("default qa template should survive an override")
	}
}
