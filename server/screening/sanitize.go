// Package screening cleans raw user text and runs the threat screens that
// decide whether a message may continue down the pipeline.
package screening

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	htmlTagRe   = regexp.MustCompile(`(?s)<.*?>`)
)

// Sanitize unescapes HTML entities, removes script blocks and then every
// remaining tag, and trims surrounding whitespace. The result never
// contains '<' or '>'.
func Sanitize(text string) string {
	text = html.UnescapeString(text)
	text = scriptTagRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")
	// Unbalanced delimiters such as "a < b" or an unterminated "<script"
	// survive the tag pass.
	text = strings.NewReplacer("<", "", ">", "").Replace(text)
	return strings.TrimSpace(text)
}
