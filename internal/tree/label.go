package tree

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxLabelLen = 25
	maxTitleLen = 50
)

var (
	// phrasing an assistant typically opens a topic with
	labelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:here(?:'s| are)?\s+(?:some|a few)?)\s+(.+?)\s+(?:for|to|that|you)`),
		regexp.MustCompile(`(?i)(?:let(?:'s| me| us))\s+(.+?)\s+(?:the|your|this)`),
		regexp.MustCompile(`(?i)(?:you (?:can|could|should|might))\s+(.+?)\s+(?:by|with|using|to)`),
		regexp.MustCompile(`(?i)(?:(?:i|we) (?:can|could|will|would))\s+(.+?)\s+(?:by|with|the)`),
		regexp.MustCompile(`(?i)(?:how (?:about|to))\s+(.+?)(?:\?|\.|\s+(?:for|with))`),
		regexp.MustCompile(`(?i)(?:what (?:is|are|about))\s+(.+?)(?:\?|\.|\s+(?:is|are))`),
		regexp.MustCompile(`(?i)(?:why (?:not|don't|is))\s+(.+?)(?:\?|\.)`),
		regexp.MustCompile(`(?i)(?:consider|try|explore)\s+(.+?)\s+(?:for|to|with)`),
	}
	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:focus on|talking about|discussing|regarding)\s+(.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?i)(?:ideas? (?:of|for|about))\s+(.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?i)(?:approach(?:es)? (?:to|for))\s+(.+?)(?:\.|,|$)`),
	}
	leadingArticle = regexp.MustCompile(`(?i)^(?:a|an|the)\s+`)
	sentenceBreak  = regexp.MustCompile(`[.!?]`)
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]`)

	stopWords = map[string]bool{
		"about": true, "would": true, "could": true, "should": true, "there": true,
		"their": true, "these": true, "those": true, "this": true, "that": true,
		"with": true, "from": true, "have": true, "been": true, "will": true,
		"what": true, "when": true, "where": true, "which": true, "while": true,
		"whom": true, "such": true, "both": true, "each": true, "other": true,
		"some": true, "many": true, "more": true, "most": true, "very": true,
		"also": true, "just": true,
	}
)

// LabelFor derives a short topic label from message text for tree views.
// It is a display aid only; any non-empty label is acceptable.
func LabelFor(text string) string {
	for _, re := range labelPatterns {
		if m := re.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			s := leadingArticle.ReplaceAllString(strings.TrimSpace(m[1]), "")
			return truncate(capitalize(s), maxLabelLen)
		}
	}
	for _, re := range topicPatterns {
		if m := re.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			return truncate(capitalize(strings.TrimSpace(m[1])), maxLabelLen)
		}
	}

	first := sentenceBreak.Split(text, 2)[0]
	var words, proper []string
	for _, w := range strings.Fields(first) {
		w = nonAlnum.ReplaceAllString(w, "")
		if len(w) <= 3 || stopWords[strings.ToLower(w)] {
			continue
		}
		words = append(words, w)
		if unicode.IsUpper(rune(w[0])) {
			proper = append(proper, w)
		}
	}
	if len(proper) > 0 {
		return truncate(strings.Join(head(proper, 3), " "), maxLabelLen)
	}
	if len(words) >= 2 {
		return truncate(capitalize(strings.ToLower(strings.Join(head(words, 3), " "))), maxLabelLen)
	}
	if s := strings.Join(head(strings.Fields(first), 3), " "); s != "" {
		return truncate(capitalize(s), maxLabelLen)
	}
	return "Response"
}

// TitleFor derives a conversation title from its first user message.
func TitleFor(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return "New Chat"
	}
	if utf8.RuneCountInString(s) > maxTitleLen {
		return string([]rune(s)[:maxTitleLen-3]) + "..."
	}
	return s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
