// Package kanon implements the k-anonymity gate applied after Boolean
// composition, suppressing result sets too small to be safely returned.
package kanon

// Result is the caller-facing response shape: refs (possibly
// empty/suppressed) plus the suppression and truncation flags. Errors are
// reported separately by the evaluator, never inside a Result.
type Result struct {
	Refs                   []string
	SuppressedForAnonymity bool
	TruncatedToMaxResults  bool
}

// Gate applies the k-anonymity threshold to a composed result set. n = 0
// is returned as-is (nothing to protect); 0 < n < kMin suppresses to an
// empty set with the flag set; n >= kMin passes through unsuppressed.
// kMin = 1 disables suppression entirely.
func Gate(refs map[string]struct{}, kMin int) Result {
	n := len(refs)
	if n == 0 {
		return Result{Refs: []string{}}
	}
	if n < kMin {
		return Result{Refs: []string{}, SuppressedForAnonymity: true}
	}
	return Result{Refs: toSlice(refs)}
}

// Truncate caps the result's Refs to maxResults, setting TruncatedToMaxResults
// when a cap was applied. maxResults <= 0 means "no cap".
func Truncate(r Result, maxResults int) Result {
	if maxResults <= 0 || len(r.Refs) <= maxResults {
		return r
	}
	r.Refs = r.Refs[:maxResults]
	r.TruncatedToMaxResults = true
	return r
}

func toSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	return out
}
