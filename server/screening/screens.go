package screening

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/teilomillet/chatguard/config"
	"github.com/teilomillet/chatguard/errors"
)

var wordRe = regexp.MustCompile(`\w+`)

// Screens holds the compiled denylist and pattern sets. It is immutable
// once built; reloads build a new value.
type Screens struct {
	profanity map[string]struct{}
	injection []*regexp.Regexp
	sql       []*regexp.Regexp
}

// New compiles the screening configuration.
func New(cfg config.ScreeningConfig) (*Screens, error) {
	s := &Screens{
		profanity: make(map[string]struct{}, len(cfg.Profanity)),
	}
	for _, w := range cfg.Profanity {
		s.profanity[strings.ToLower(w)] = struct{}{}
	}
	for _, pat := range cfg.InjectionPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("compile injection pattern %q: %w", pat, err)
		}
		s.injection = append(s.injection, re)
	}
	for _, pat := range cfg.SQLPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile sql pattern %q: %w", pat, err)
		}
		s.sql = append(s.sql, re)
	}
	return s, nil
}

// ContainsProfanity reports whether any word of text is on the denylist.
func (s *Screens) ContainsProfanity(text string) bool {
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, ok := s.profanity[w]; ok {
			return true
		}
	}
	return false
}

// ContainsPromptInjection reports whether any injection pattern matches.
func (s *Screens) ContainsPromptInjection(text string) bool {
	for _, re := range s.injection {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ContainsSQLInjection applies the SQL keyword heuristic to the lowercased
// text. It is a coarse pre-check, not a substitute for parameterized queries.
func (s *Screens) ContainsSQLInjection(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, re := range s.sql {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Check runs the screens in their fixed order and returns the first
// category that matched, or "" when the text is clean.
func (s *Screens) Check(text string) errors.ErrorType {
	switch {
	case s.ContainsProfanity(text):
		return errors.Profanity
	case s.ContainsPromptInjection(text):
		return errors.PromptInjection
	case s.ContainsSQLInjection(text):
		return errors.SQLInjection
	}
	return ""
}

// ValidLength reports whether text has at most max characters.
func ValidLength(text string, max int) bool {
	return len([]rune(text)) <= max
}
