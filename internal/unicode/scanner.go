// Package unicode finds and removes characters that are invisible or change
// how text is displayed. Documentation pages and model-written endpoints
// both pick them up from copy and paste.
package unicode

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Finding categories.
const (
	CategoryInvalidUTF8  = "invalid-utf8"
	CategoryZeroWidth    = "zero-width"
	CategoryBidi         = "bidi-override"
	CategoryTag          = "tag-char"
	CategoryControl      = "control-char"
	CategoryUnusualSpace = "unusual-space"
)

// Finding is one suspicious character.
type Finding struct {
	Category  string
	Position  int    // byte offset in the input
	Codepoint string // e.g. "U+200B"
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s at byte %d", f.Category, f.Codepoint, f.Position)
}

// ScanResult holds the output of Scan.
type ScanResult struct {
	Clean    bool
	Findings []Finding
	// Sanitized is the input with invisible characters removed and unusual
	// spaces replaced by ASCII space.
	Sanitized string
}

// Scan inspects s.
func Scan(s string) ScanResult {
	result := ScanResult{Clean: true}
	var sanitized strings.Builder
	sanitized.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		if r == utf8.RuneError && size == 1 {
			result.add(Finding{Category: CategoryInvalidUTF8, Position: i, Codepoint: fmt.Sprintf("0x%02X", s[i])})
			i++
			continue
		}

		switch cat := classify(r); cat {
		case "":
			sanitized.WriteRune(r)
		case CategoryUnusualSpace:
			result.add(Finding{Category: cat, Position: i, Codepoint: fmt.Sprintf("U+%04X", r)})
			sanitized.WriteByte(' ')
		default:
			result.add(Finding{Category: cat, Position: i, Codepoint: fmt.Sprintf("U+%04X", r)})
		}
		i += size
	}

	result.Sanitized = sanitized.String()
	return result
}

// Sanitize returns Scan(s).Sanitized, skipping the copy when s is plain
// ASCII text.
func Sanitize(s string) string {
	if isPlainASCII(s) {
		return s
	}
	return Scan(s).Sanitized
}

func (r *ScanResult) add(f Finding) {
	r.Clean = false
	r.Findings = append(r.Findings, f)
}

func classify(r rune) string {
	switch {
	case isZeroWidth(r):
		return CategoryZeroWidth
	case isBidiOverride(r):
		return CategoryBidi
	case r >= 0xE0001 && r <= 0xE007F:
		return CategoryTag
	case isUnsafeControl(r):
		return CategoryControl
	case isUnusualSpace(r):
		return CategoryUnusualSpace
	}
	return ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u00AD', // SOFT HYPHEN
		'\u180E', // MONGOLIAN VOWEL SEPARATOR
		'\u200E', // LEFT-TO-RIGHT MARK
		'\u200F': // RIGHT-TO-LEFT MARK
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

// isUnsafeControl allows tab, newline and carriage return.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

func isUnusualSpace(r rune) bool {
	switch r {
	case '\u00A0', // NO-BREAK SPACE
		'\u202F', // NARROW NO-BREAK SPACE
		'\u3000': // IDEOGRAPHIC SPACE
		return true
	}
	return r >= '\u2000' && r <= '\u200A'
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c == 0x7F {
			return false
		}
	}
	return true
}
