// Package reply isolates the structured document embedded in a model reply.
package reply

import (
	"fmt"
	"strings"
)

const (
	fence        = "```"
	labeledFence = "```json"

	// DefaultSnippetLimit bounds snippets shown in build-failed messages.
	DefaultSnippetLimit = 800
)

// Normalize strips code fences and the prose around them. It never fails and
// never looks at the document itself: an empty result is reported by the
// parser, not here.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if block, ok := fencedBlock(text); ok {
		return strings.TrimSpace(block)
	}
	if strings.HasPrefix(text, fence) {
		if nl := strings.IndexByte(text, '\n'); nl > 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(text, fence)
	}
	return strings.TrimSpace(text)
}

// fencedBlock returns the text between the first ```json opener (or, absent
// one, the first ``` opener) and the next ``` after it.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, labeledFence)
	skip := len(labeledFence)
	if start < 0 {
		start = strings.Index(text, fence)
		skip = len(fence)
	}
	if start < 0 {
		return "", false
	}
	end := strings.Index(text[start+len(fence):], fence)
	if end < 0 {
		return "", false
	}
	end += start + len(fence)
	if start+skip > end {
		return "", true
	}
	return text[start+skip : end], true
}

// Truncate bounds s to limit runes, noting the original length when it cuts.
// A non-positive limit uses DefaultSnippetLimit.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultSnippetLimit
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return fmt.Sprintf("%s...(truncated, len=%d)", string(r[:limit]), len(r))
}
