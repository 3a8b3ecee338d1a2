package prompt

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatguard/config"
)

func newFramer(t *testing.T) *Framer {
	t.Helper()
	f, err := NewFramer(config.DefaultPipelineConfig())
	require.NoError(t, err)
	return f
}

func TestFrameSelectsTemplate(t *testing.T) {
	f := newFramer(t)

	tests := []struct {
		queryType string
		template  string
		phrase    string
	}{
		{"technical", "technical", "technical documentation search"},
		{"code", "code", "code assistant"},
		{"qa", "qa", "q&a assistant"},
		{"report", "report", "structured reports"},
		{"poetry", "qa", "q&a assistant"},
		{"", "qa", "q&a assistant"},
		{"QA", "qa", "q&a assistant"},
	}

	for _, tt := range tests {
		t.Run(tt.queryType, func(t *testing.T) {
			p, err := f.Frame("How do I install Python?", tt.queryType)
			require.NoError(t, err)
			assert.Equal(t, tt.template, p.Template)
			assert.Contains(t, strings.ToLower(p.Text), tt.phrase)
			assert.Contains(t, p.Text, "How do I install Python?")
		})
	}
}

func TestFrameShortMessageIsUntouched(t *testing.T) {
	f := newFramer(t)
	msg := "What   is the capital of France?"

	p, err := f.Frame(msg, "qa")
	require.NoError(t, err)
	assert.Equal(t, msg, p.Message)
	assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 500)
}

func TestFrameTrimsToTokenBudget(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxPromptLength = 10000
	f, err := NewFramer(cfg)
	require.NoError(t, err)

	p, err := f.Frame(strings.Repeat("word ", 500), "qa")
	require.NoError(t, err)
	assert.Equal(t, 200, CountTokens(p.Message))
}

func TestFrameShrinksUntilUnderCeiling(t *testing.T) {
	f := newFramer(t)

	p, err := f.Frame(strings.Repeat("word ", 150), "qa")
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 500)
	assert.Less(t, CountTokens(p.Message), 150)

	// One more token would have crossed the ceiling
	longer, err := render(f.templates["qa"], p.Message+" word")
	require.NoError(t, err)
	assert.Greater(t, utf8.RuneCountInString(longer), 500)
}

func TestFrameFailsWhenSingleTokenTooLong(t *testing.T) {
	f := newFramer(t)

	_, err := f.Frame(strings.Repeat("x", 480), "qa")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLong))
}

func TestNewFramerRejectsBrokenTemplate(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.Templates["broken"] = "{{.Message"
	_, err := NewFramer(cfg)
	assert.Error(t, err)
}

func TestTrimToTokens(t *testing.T) {
	assert.Equal(t, "a b", TrimToTokens("a b c d", 2))
	assert.Equal(t, "a  b", TrimToTokens("a  b", 5))
	assert.Equal(t, 0, CountTokens("   "))
}
