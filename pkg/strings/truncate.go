// Package strings holds small text helpers shared by the CLI output code.
package strings

import (
	"strings"
)

// DefaultCellMaxLen is the default maximum width of a value cell in status output.
const DefaultCellMaxLen = 72

// minTruncateLen leaves room for one rune plus the ellipsis.
const minTruncateLen = 4

// Truncate collapses s onto a single line and shortens it to at most maxLen
// runes, ending in "..." when shortened.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
