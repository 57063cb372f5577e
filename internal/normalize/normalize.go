// Package normalize implements deterministic canonicalization of a raw
// string into the form used for all hashing. Every fragment
// the fingerprinting scheme ever hashes passes through Normalize first, so
// this package has no dependency on anything else in the module.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// Normalize applies compatibility decomposition and recomposition (NFKC),
// locale-independent case folding, and trims leading/trailing whitespace.
// Internal whitespace is preserved. It never fails: an empty or
// whitespace-only input yields an empty string, which callers treat as
// "do not index / do not query".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded := foldCaser.String(s)
	composed := norm.NFKC.String(folded)
	return strings.TrimSpace(composed)
}

// Reverse returns the code-point reversal of s, used to turn a suffix query
// into a prefix query against the `suf` index.
func Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
