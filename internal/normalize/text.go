// Package normalize canonicalizes catalog field values for matching.
//
// Every function here is pure: it derives a canonical value from a raw one and
// never touches the raw value. Parse failures are recovered locally as null
// (models.Optional) or kept as the missing sentinel; nothing in this package
// returns an error for bad cell data.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"vehicle-reconciliation-service/internal/models"
)

// CleanText folds s to NFKC, lowercases and trims it. Empty cells become
// models.Missing.
func CleanText(s string) string {
	s = strings.TrimSpace(cases.Lower(language.Und).String(norm.NFKC.String(s)))
	if s == "" {
		return models.Missing
	}
	return s
}

const phraseSeparator = ", "

// CollapseDuplicates collapses repeated comma-joined phrases such as
// "gasoline, gasoline" into "gasoline". The string is split at its last
// separator; the left side is collapsed recursively and the result is kept
// only when it equals the right side. Anything else is returned unchanged, so
// "toyota, honda" and "a, b, b" survive as-is.
func CollapseDuplicates(s string) string {
	i := strings.LastIndex(s, phraseSeparator)
	if i < 0 {
		return s
	}
	left := CollapseDuplicates(s[:i])
	if left == s[i+len(phraseSeparator):] {
		return left
	}
	return s
}
