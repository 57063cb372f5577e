// Package fragment implements the fragment enumerator: given a
// normalized field value, it emits every (operator-tag, fragment) pair
// that must be indexed so every supported query lands on a populated
// index key. Indexing emits all prefixes/suffixes/grams; a query emits a
// single fragment (or a K-gram set for contains), kept here in one place
// rather than spread across the indexer and evaluator.
package fragment

import (
	"piiindex/internal/keyderiv"
	"piiindex/internal/normalize"
)

// Pair is one (tag, fragment) pair to be indexed.
type Pair struct {
	Tag      keyderiv.Tag
	Fragment string
}

// Enumerate produces the full index-side fragment set for an already
// normalized value v, for n-gram width k. It is the
// caller's responsibility to normalize v and to skip indexing when v is
// empty.
func Enumerate(v string, k int) []Pair {
	if v == "" {
		return nil
	}
	runes := []rune(v)
	n := len(runes)

	out := make([]Pair, 0, 1+2*n+max0(n-k+1))

	// eq: the whole value, one fragment.
	out = append(out, Pair{Tag: keyderiv.Eq, Fragment: v})

	// pre: every non-empty prefix v[0..1], v[0..2], ..., v[0..n].
	for i := 1; i <= n; i++ {
		out = append(out, Pair{Tag: keyderiv.Pre, Fragment: string(runes[:i])})
	}

	// suf: every non-empty prefix of rev(v), i.e. every non-empty suffix of v.
	rev := []rune(normalize.Reverse(v))
	for i := 1; i <= n; i++ {
		out = append(out, Pair{Tag: keyderiv.Suf, Fragment: string(rev[:i])})
	}

	// gK: every K-wide sliding window, none if n < k.
	gramTag := keyderiv.Gram(k)
	for i := 0; i+k <= n; i++ {
		out = append(out, Pair{Tag: gramTag, Fragment: string(runes[i : i+k])})
	}

	return out
}

// Count returns the total fragment count Enumerate would produce for a
// value of rune-length n and gram width k, without materializing them:
// 1 + 2n + max(0, n-K+1). Used by capacity planning and tests.
func Count(n, k int) int {
	if n == 0 {
		return 0
	}
	return 1 + 2*n + max0(n-k+1)
}

func max0(x int) int {
	if x < 0 {
		return 0
	}
	return x
}

// Operator is one of the supported query operators. q must already be
// normalized before being paired with an Operator. ok is false only for a
// too-short contains query, in which case callers surface
// apperr.QueryTooShort rather than an empty result.
type Operator int

const (
	Eq Operator = iota
	StartsWith
	EndsWith
	Contains
)

// QueryFragments returns the (tag, fragment) pairs whose derived keys must
// be looked up (singly) or intersected to answer op(q), and ok=false when
// op is Contains and q is shorter than k.
func QueryFragments(op Operator, q string, k int) (pairs []Pair, ok bool) {
	switch op {
	case Eq:
		return []Pair{{Tag: keyderiv.Eq, Fragment: q}}, true
	case StartsWith:
		return []Pair{{Tag: keyderiv.Pre, Fragment: q}}, true
	case EndsWith:
		return []Pair{{Tag: keyderiv.Suf, Fragment: normalize.Reverse(q)}}, true
	case Contains:
		runes := []rune(q)
		if len(runes) < k {
			return nil, false
		}
		gramTag := keyderiv.Gram(k)
		out := make([]Pair, 0, len(runes)-k+1)
		for i := 0; i+k <= len(runes); i++ {
			out = append(out, Pair{Tag: gramTag, Fragment: string(runes[i : i+k])})
		}
		return out, true
	default:
		return nil, true
	}
}
