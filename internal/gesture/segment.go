// Package gesture plays text through the speech engine while dispatching
// expressive arm and head poses at sentence granularity.
package gesture

import "strings"

// Token is one unit of segmented text: a sentence fragment or a single
// terminal punctuation mark.
type Token struct {
	Text  string
	Punct bool
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Segment splits text on '.', '!' and '?', keeping every mark as its own
// token. Fragments are trimmed and blank ones dropped; order is preserved.
// Commas do not split.
func Segment(text string) []Token {
	var tokens []Token
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			tokens = append(tokens, Token{Text: s})
		}
	}
	for i, r := range text {
		if !isTerminal(r) {
			continue
		}
		flush(i)
		tokens = append(tokens, Token{Text: string(r), Punct: true})
		start = i + 1
	}
	flush(len(text))
	return tokens
}
