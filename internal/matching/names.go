package matching

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a display name for matching: NFC composed,
// trimmed, inner whitespace collapsed and upper-cased with Spanish rules.
func NormalizeName(name string) string {
	fields := strings.Fields(norm.NFC.String(name))
	if len(fields) == 0 {
		return ""
	}
	return cases.Upper(language.Spanish).String(strings.Join(fields, " "))
}

// FullName joins first and last name and normalizes the result.
func FullName(first, last string) string {
	return NormalizeName(first + " " + last)
}

// NormalizeNames normalizes and deduplicates names, keeping first-seen order
// and dropping blanks.
func NormalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		normalized := NormalizeName(name)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
