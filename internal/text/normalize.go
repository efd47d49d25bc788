// Package text turns submitted paste content into its canonical stored form.
//
// Canonical text uses LF line endings only, carries no control characters
// other than tab and line feed, has no byte-order marks, and has no leading
// or trailing whitespace. Normalize is idempotent, so running it again on
// stored content is always safe.
package text

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	bom = '\ufeff'
	sub = '\x1a'
)

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

	// Replaces C0 controls and DEL with a space so column alignment survives.
	// Invalid UTF-8 reaches the mapping as utf8.RuneError.
	controlToSpace = runes.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n':
			return r
		case r < 0x20 || r == 0x7f:
			return ' '
		}
		return r
	})

	stripInvisible = runes.Remove(runes.Predicate(func(r rune) bool {
		return r == bom || r == 0 || r == sub
	}))
)

// Normalize returns the canonical form of raw. It never fails; the empty
// string maps to itself.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	// CR must go first so a lone trailing CR is never treated as a control.
	s := lineEndings.Replace(raw)
	s, _, _ = transform.String(controlToSpace, s)
	s, _, _ = transform.String(stripInvisible, s)
	s = collapse(s)
	return strings.TrimSpace(s)
}

// collapse folds runs of two or more spaces/tabs into one space and runs of
// three or more newlines into a single blank line. A lone tab is kept.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case ' ', '\t':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
			if j-i == 1 {
				b.WriteByte(c)
			} else {
				b.WriteByte(' ')
			}
			i = j
		case '\n':
			j := i + 1
			for j < len(s) && s[j] == '\n' {
				j++
			}
			if j-i >= 3 {
				b.WriteString("\n\n")
			} else {
				b.WriteString(s[i:j])
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// Preview returns at most n runes of s, followed by "..." when s was cut.
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// RuneLen reports the length of s in characters.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
