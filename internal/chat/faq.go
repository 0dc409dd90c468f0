// Package chat implements the microsite's conversational widget: canned FAQ
// matching over the profile owner's configured entries, with a generative
// completion fallback. Chat activity is forwarded into the session tracker.
package chat

import "strings"

// FAQEntry is one canned question/answer pair. A question matches when
// enough of its patterns appear in the visitor's message.
type FAQEntry struct {
	ID       string   `json:"id"`
	Patterns []string `json:"patterns"`
	Answer   string   `json:"answer"`
}

// Matcher scores visitor messages against configured FAQ entries.
type Matcher struct {
	entries []FAQEntry
}

// NewMatcher creates a matcher over the given entries, in priority order.
func NewMatcher(entries []FAQEntry) *Matcher {
	return &Matcher{entries: entries}
}

// Match returns the best-matching entry's answer. An entry scores one point
// per pattern found in the message; ties go to the earlier entry.
func (m *Matcher) Match(message string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return "", false
	}

	bestScore := 0
	bestAnswer := ""
	for _, entry := range m.entries {
		score := 0
		for _, pattern := range entry.Patterns {
			p := strings.ToLower(strings.TrimSpace(pattern))
			if p != "" && strings.Contains(normalized, p) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestAnswer = entry.Answer
		}
	}

	if bestScore == 0 {
		return "", false
	}
	return bestAnswer, true
}
