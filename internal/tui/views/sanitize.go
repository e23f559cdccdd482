package views

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal removes Unicode codepoints that break cell-width
// accounting in tcell/tview: skin tone modifiers (U+1F3FB..U+1F3FF),
// Zero Width Joiner (U+200D) and variation selectors (U+FE00..U+FE0F,
// U+E0100..U+E01EF). Multi-codepoint emoji collapse to their base rune,
// which renders at a predictable width.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
