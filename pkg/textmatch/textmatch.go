package textmatch

import (
	"strings"
	"unicode"
)

// MinTokenLength is the shortest token that takes part in text matching
const MinTokenLength = 3

// Normalize lowercases s and collapses runs of whitespace
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s into lowercase words on anything that is not a letter or digit
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SearchTokens returns the distinct tokens of at least MinTokenLength characters, in query order
func SearchTokens(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(query) {
		if len([]rune(tok)) < MinTokenLength || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// ContainsPhrase reports whether text contains the normalized phrase, case-insensitively
func ContainsPhrase(text, phrase string) bool {
	phrase = Normalize(phrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(Normalize(text), phrase)
}

// TokenFraction returns the share of tokens found as substrings of text
func TokenFraction(text string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	norm := strings.ToLower(text)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(norm, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// AnyOverlap reports whether any tag equals any token, ignoring case
func AnyOverlap(tags, tokens []string) bool {
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, tok := range tokens {
			if tag == tok {
				return true
			}
		}
	}
	return false
}
