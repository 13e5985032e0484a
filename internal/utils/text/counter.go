// Package text provides small text measurement helpers. Destination
// character limits count Unicode characters, not bytes, so feed content with
// multi-byte characters must be measured in runes.
package text

// CountRunes counts the Unicode characters in the given text. Multi-byte
// characters such as CJK text and emoji count as one character each.
func CountRunes(text string) int {
	return len([]rune(text))
}

// TruncateRunes shortens text to at most maxRunes characters, appending
// suffix when a cut happens. The suffix length counts toward the limit.
func TruncateRunes(text string, maxRunes int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	cut := maxRunes - len([]rune(suffix))
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + suffix
}
