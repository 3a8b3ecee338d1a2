package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PipelineConfig defines limits applied between sanitization and generation.
type PipelineConfig struct {
	// MaxMessageLength is the largest sanitized message accepted, in characters
	MaxMessageLength int `yaml:"max_message_length"`

	// MaxPromptTokens trims the user message to this many whitespace tokens
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// MaxPromptLength is the hard ceiling on the framed prompt, in characters
	MaxPromptLength int `yaml:"max_prompt_length"`

	// DefaultQueryType is used when the request names an unknown template
	DefaultQueryType string `yaml:"default_query_type"`

	// Templates maps query types to prompt templates. Each template must
	// reference {{.Message}} exactly once.
	Templates map[string]string `yaml:"templates"`
}

// ScreeningConfig holds the threat screen word lists and patterns.
type ScreeningConfig struct {
	Profanity         []string `yaml:"profanity"`
	InjectionPatterns []string `yaml:"injection_patterns"`
	SQLPatterns       []string `yaml:"sql_patterns"`
}

// RateLimitConfig is the per-user sliding window.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Count  int           `yaml:"count"`
}

// PostprocessConfig defines response formatting options
type PostprocessConfig struct {
	// MaxLength limits the response length in characters
	MaxLength int `yaml:"max_length"`

	// HallucinationCheck flags sentences without lexical support in the user's context
	HallucinationCheck bool `yaml:"hallucination_check"`

	// ContextTopK is how many indexed chunks feed the hallucination check
	ContextTopK int `yaml:"context_top_k"`
}

// DefaultTemplates returns the built-in prompt templates.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"technical": "You are a technical documentation search assistant. " +
			"Answer using precise terminology and point to the relevant documentation sections.\n\n" +
			"Query: {{.Message}}",
		"code": "You are a code assistant. " +
			"Answer with working code examples in fenced code blocks and explain them briefly.\n\n" +
			"Request: {{.Message}}",
		"qa": "You are a Q&A assistant. " +
			"Answer the question clearly and concisely.\n\n" +
			"Question: {{.Message}}",
		"report": "You are an assistant that writes structured reports. " +
			"Use headings, bullet points and a short summary.\n\n" +
			"Topic: {{.Message}}",
	}
}

// DefaultPipelineConfig returns the stock limits and templates.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxMessageLength: 500,
		MaxPromptTokens:  200,
		MaxPromptLength:  500,
		DefaultQueryType: "qa",
		Templates:        DefaultTemplates(),
	}
}

// DefaultScreeningConfig returns the stock denylist and patterns.
func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		Profanity: []string{"badword", "anotherbadword", "testword"},
		InjectionPatterns: []string{
			`ignore (all|previous)? ?instructions`,
			`do as i say`,
			`disregard (all|previous)? ?instructions`,
			`you are now`,
			`pretend to be`,
			`act as`,
			`system:`,
		},
		SQLPatterns: []string{
			`(;|\b)(drop|select|insert|delete|update|alter|create|truncate|exec|union|--|#)\b`,
			`'\s*(or|and)\s+'?\w+'?\s*=`,
		},
	}
}

// Validate checks the template set and numeric limits.
func (p PipelineConfig) Validate() error {
	if p.MaxMessageLength <= 0 {
		return fmt.Errorf("max_message_length must be positive: %d", p.MaxMessageLength)
	}
	if p.MaxPromptTokens <= 0 {
		return fmt.Errorf("max_prompt_tokens must be positive: %d", p.MaxPromptTokens)
	}
	if p.MaxPromptLength <= 0 {
		return fmt.Errorf("max_prompt_length must be positive: %d", p.MaxPromptLength)
	}
	if _, ok := p.Templates[p.DefaultQueryType]; !ok {
		return fmt.Errorf("default query type %q has no template", p.DefaultQueryType)
	}
	for name, tmpl := range p.Templates {
		if n := strings.Count(tmpl, "{{.Message}}"); n != 1 {
			return fmt.Errorf("template %q must contain {{.Message}} exactly once, found %d", name, n)
		}
	}
	return nil
}

// Validate compiles every pattern so a bad expression fails at load time.
func (s ScreeningConfig) Validate() error {
	for _, pat := range s.InjectionPatterns {
		if _, err := regexp.Compile("(?i)" + pat); err != nil {
			return fmt.Errorf("invalid injection pattern %q: %w", pat, err)
		}
	}
	for _, pat := range s.SQLPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("invalid sql pattern %q: %w", pat, err)
		}
	}
	return nil
}
