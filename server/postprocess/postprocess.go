// Package postprocess validates, annotates and trims generated text
// before it is returned to the user.
package postprocess

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
)

const (
	// Ellipsis marks truncated output.
	Ellipsis = "..."

	// HallucinationWarning is appended when any sentence is unsupported by
	// the context.
	HallucinationWarning = "\n\n[Warning: Possible hallucinated content detected!]"

	// DefaultMaxLength is used when no max length is configured.
	DefaultMaxLength = 2048

	phraseWords = 3
)

// ErrInvalidMarkdown is returned when the text cannot be rendered.
var ErrInvalidMarkdown = errors.New("invalid markdown")

var (
	codeBlockPattern = regexp.MustCompile("```(\\w*)\\n([\\s\\S]*?)```")
	linkPattern      = regexp.MustCompile(`https?://\S+`)
)

// CodeBlock is a fenced code block found in generated text.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Link is a URL found in generated text.
type Link struct {
	URL   string `json:"url"`
	Valid bool   `json:"valid"`
}

// Result is the postprocessed output.
type Result struct {
	Text       string      `json:"text"`
	HTML       string      `json:"html"`
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`
	Links      []Link      `json:"links,omitempty"`
	Flagged    []string    `json:"flagged_sentences,omitempty"`
	Truncated  bool        `json:"truncated"`
}

// Processor runs the postprocessing chain.
type Processor struct {
	maxLength          int
	hallucinationCheck bool
	md                 goldmark.Markdown
	logger             *zap.Logger
}

// New creates a Processor.
func New(cfg config.PostprocessConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	return &Processor{
		maxLength:          cfg.MaxLength,
		hallucinationCheck: cfg.HallucinationCheck,
		md:                 goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:             logger,
	}
}

// Process renders text to HTML, labels code blocks, truncates and, when
// context is non-empty, flags sentences the context does not support.
// Only markdown rendering can fail.
func (p *Processor) Process(text string, context []string) (*Result, error) {
	html, err := p.RenderMarkdown(text)
	if err != nil {
		return nil, err
	}

	res := &Result{HTML: html}
	text = AnnotateCodeBlocks(text)
	res.CodeBlocks = DetectCodeBlocks(text)
	text, res.Truncated = Truncate(text, p.maxLength)

	if p.hallucinationCheck && len(context) > 0 {
		res.Flagged = DetectHallucinations(text, context)
		if len(res.Flagged) > 0 {
			p.logger.Debug("unsupported sentences in response", zap.Int("flagged", len(res.Flagged)))
			text += HallucinationWarning
		}
	}

	res.Links = ValidateLinks(text)
	res.Text = text
	return res, nil
}

// RenderMarkdown converts GitHub-flavoured markdown to HTML.
func (p *Processor) RenderMarkdown(text string) (html string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidMarkdown, r)
		}
	}()
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidMarkdown)
	}
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMarkdown, err)
	}
	return buf.String(), nil
}

// DetectCodeBlocks lists fenced code blocks. Unlabelled blocks have an
// empty language.
func DetectCodeBlocks(text string) []CodeBlock {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]CodeBlock, len(matches))
	for i, m := range matches {
		blocks[i] = CodeBlock{Language: m[1], Code: m[2]}
	}
	return blocks
}

// AnnotateCodeBlocks labels unlabelled fenced blocks as plaintext.
func AnnotateCodeBlocks(text string) string {
	return codeBlockPattern.ReplaceAllStringFunc(text, func(block string) string {
		m := codeBlockPattern.FindStringSubmatch(block)
		lang := m[1]
		if lang == "" {
			lang = "plaintext"
		}
		return "```" + lang + "\n" + m[2] + "```"
	})
}

// Truncate cuts text to max characters and appends Ellipsis. It reports
// whether anything was cut.
func Truncate(text string, max int) (string, bool) {
	if max < 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:max]) + Ellipsis, true
}

// DetectHallucinations returns the sentences of text that share no
// three-word phrase with the joined context. Matching ignores case.
func DetectHallucinations(text string, context []string) []string {
	corpus := strings.ToLower(strings.Join(context, " "))
	var flagged []string
	for _, sentence := range SplitSentences(text) {
		if !supported(sentence, corpus) {
			flagged = append(flagged, sentence)
		}
	}
	return flagged
}

func supported(sentence, corpus string) bool {
	words := strings.Fields(sentence)
	for i := 0; i+phraseWords <= len(words); i++ {
		phrase := strings.ToLower(strings.Join(words[i:i+phraseWords], " "))
		if strings.Contains(corpus, phrase) {
			return true
		}
	}
	return false
}

// SplitSentences splits after '.', '!' or '?' when followed by spaces.
// Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(text) && text[j] == ' ' {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimFunc(text[start:i+1], unicode.IsSpace); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimFunc(text[start:], unicode.IsSpace); s != "" {
		out = append(out, s)
	}
	return out
}

// ValidateLinks finds every http(s) URL and reports whether it has both a
// scheme and a host.
func ValidateLinks(text string) []Link {
	found := linkPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	links := make([]Link, len(found))
	for i, raw := range found {
		u, err := url.Parse(raw)
		links[i] = Link{URL: raw, Valid: err == nil && u.Scheme != "" && u.Host != ""}
	}
	return links
}
