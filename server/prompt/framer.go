// Package prompt embeds a sanitized user message into a task-specific
// template and keeps the framed result under a hard length ceiling.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/teilomillet/chatguard/config"
)

// ErrTooLong is returned when even a single-token message does not fit the ceiling.
var ErrTooLong = errors.New("prompt too long after framing")

// Prompt is a framed, provider-ready prompt.
type Prompt struct {
	// Text is the rendered template
	Text string
	// Template is the template actually used after fallback
	Template string
	// Message is the user text after token trimming
	Message string
}

type templateData struct {
	Message string
}

// Framer renders prompts. It is safe for concurrent use.
type Framer struct {
	templates map[string]*template.Template
	fallback  string
	maxTokens int
	maxLength int
}

// NewFramer parses every configured template up front so bad templates
// fail at startup.
func NewFramer(cfg config.PipelineConfig) (*Framer, error) {
	templates := make(map[string]*template.Template, len(cfg.Templates))
	for name, body := range cfg.Templates {
		t, err := template.New(name).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = t
	}
	if _, ok := templates[cfg.DefaultQueryType]; !ok {
		return nil, fmt.Errorf("no template for default query type %q", cfg.DefaultQueryType)
	}

	return &Framer{
		templates: templates,
		fallback:  cfg.DefaultQueryType,
		maxTokens: cfg.MaxPromptTokens,
		maxLength: cfg.MaxPromptLength,
	}, nil
}

// Resolve returns the template name used for queryType.
func (f *Framer) Resolve(queryType string) string {
	if _, ok := f.templates[queryType]; ok {
		return queryType
	}
	return f.fallback
}

// MaxLength is the framed prompt ceiling in characters.
func (f *Framer) MaxLength() int {
	return f.maxLength
}

// Frame trims text to the token budget, renders it, and while the result
// is over the ceiling drops one trailing token at a time. It gives up with
// ErrTooLong once a single token still does not fit.
func (f *Framer) Frame(text, queryType string) (Prompt, error) {
	name := f.Resolve(queryType)
	tmpl := f.templates[name]

	// Untrimmed messages keep their original spacing.
	message := text
	tokens := strings.Fields(text)
	if len(tokens) > f.maxTokens {
		tokens = tokens[:f.maxTokens]
		message = strings.Join(tokens, " ")
	}

	rendered, err := render(tmpl, message)
	if err != nil {
		return Prompt{}, err
	}

	for utf8.RuneCountInString(rendered) > f.maxLength && len(tokens) > 1 {
		tokens = tokens[:len(tokens)-1]
		message = strings.Join(tokens, " ")
		if rendered, err = render(tmpl, message); err != nil {
			return Prompt{}, err
		}
	}

	if utf8.RuneCountInString(rendered) > f.maxLength {
		return Prompt{}, fmt.Errorf("%w: %d characters, ceiling %d", ErrTooLong, utf8.RuneCountInString(rendered), f.maxLength)
	}

	return Prompt{Text: rendered, Template: name, Message: message}, nil
}

func render(tmpl *template.Template, message string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{Message: message}); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}

// CountTokens counts whitespace-delimited tokens.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TrimToTokens keeps the first n whitespace-delimited tokens of text.
func TrimToTokens(text string, n int) string {
	tokens := strings.Fields(text)
	if len(tokens) <= n {
		return text
	}
	return strings.Join(tokens[:n], " ")
}
