package postprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
)

func newProcessor(maxLength int) *Processor {
	return New(config.PostprocessConfig{MaxLength: maxLength, HallucinationCheck: true}, zap.NewNop())
}

func TestRenderMarkdown(t *testing.T) {
	p := newProcessor(0)

	html, err := p.RenderMarkdown("# Title\n\nSome text.\n\n```python\nprint('hi')\n```")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>")
	assert.Contains(t, html, "<code")

	nested := "- Item 1\n  - Subitem\n\n| Col1 | Col2 |\n|------|------|\n| A    | B    |\n\n```py\ndef foo():\n  pass\n```"
	html, err = p.RenderMarkdown(nested)
	require.NoError(t, err)
	assert.Contains(t, html, "<ul>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<code")

	_, err = p.RenderMarkdown("bad \xff bytes")
	assert.ErrorIs(t, err, ErrInvalidMarkdown)
}

func TestDetectCodeBlocks(t *testing.T) {
	md := "```js\nconsole.log('hi')\n```\n```\nno lang\n```"
	assert.Equal(t, []CodeBlock{
		{Language: "js", Code: "console.log('hi')\n"},
		{Language: "", Code: "no lang\n"},
	}, DetectCodeBlocks(md))
	assert.Nil(t, DetectCodeBlocks("no code here"))
}

func TestAnnotateCodeBlocks(t *testing.T) {
	assert.Equal(t, "```plaintext\ncode\n```", AnnotateCodeBlocks("```\ncode\n```"))
	assert.Equal(t, "```go\nx := 1\n```", AnnotateCodeBlocks("```go\nx := 1\n```"))
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate(strings.Repeat("a", 2100), 100)
	assert.True(t, cut)
	assert.Equal(t, strings.Repeat("a", 100)+"...", out)
	assert.Len(t, out, 103)

	out, cut = Truncate("short", 100)
	assert.False(t, cut)
	assert.Equal(t, "short", out)

	out, _ = Truncate("héllo wörld", 5)
	assert.Equal(t, "héllo...", out)
}

func TestDetectHallucinations(t *testing.T) {
	context := []string{"The capital of France is Paris."}
	flagged := DetectHallucinations("The capital of France is Paris. The moon is made of cheese.", context)
	assert.Equal(t, []string{"The moon is made of cheese."}, flagged)

	assert.Empty(t, DetectHallucinations("THE CAPITAL OF France, as everyone knows.", context))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Version 1.2 is out.  Really.", []string{"Version 1.2 is out.", "Really."}},
		{"", nil},
		{"   ", nil},
		{"No terminator", []string{"No terminator"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitSentences(tt.in), tt.in)
	}
}

func TestValidateLinks(t *testing.T) {
	links := ValidateLinks("Visit https://example.com/docs and http://localhost:8080/x or ftp://skip.me")
	require.Len(t, links, 2)
	assert.Equal(t, Link{URL: "https://example.com/docs", Valid: true}, links[0])
	assert.True(t, links[1].Valid)

	bad := ValidateLinks("see http://%zz")
	require.Len(t, bad, 1)
	assert.False(t, bad[0].Valid)
}

func TestProcess(t *testing.T) {
	p := newProcessor(0)
	context := []string{"The capital of France is Paris."}

	res, err := p.Process("The capital of France is Paris. The moon is made of cheese.", context)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Text, HallucinationWarning))
	assert.Equal(t, []string{"The moon is made of cheese."}, res.Flagged)
	assert.Contains(t, res.HTML, "<p>")

	res, err = p.Process("The capital of France is Paris.", context)
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.", res.Text)
	assert.Empty(t, res.Flagged)
}

func TestProcessWithoutContext(t *testing.T) {
	p := newProcessor(10)
	res, err := p.Process("```\nfmt.Println(1)\n```", nil)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, "```plainte...", res.Text)
	require.Len(t, res.CodeBlocks, 1)
	assert.Equal(t, "plaintext", res.CodeBlocks[0].Language)
	assert.Empty(t, res.Flagged)
}

func TestHallucinationCheckDisabled(t *testing.T) {
	p := New(config.PostprocessConfig{HallucinationCheck: false}, nil)
	res, err := p.Process("Entirely made up.", []string{"unrelated context"})
	require.NoError(t, err)
	assert.Equal(t, "Entirely made up.", res.Text)
}
