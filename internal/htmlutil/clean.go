package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// LooksLikeHTML reports whether s appears to be an HTML document or fragment.
func LooksLikeHTML(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html") ||
		(strings.HasPrefix(s, "<") && strings.Contains(s, "</"))
}

// ToText converts HTML to plain text on a single line, collapsing whitespace.
func ToText(s string) string {
	return strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
}

// Summary returns s as plain text, truncated to at most limit runes.
func Summary(s string, limit int) string {
	if LooksLikeHTML(s) {
		s = ToText(s)
	} else {
		s = strings.TrimSpace(s)
	}
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
