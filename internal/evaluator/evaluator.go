// Package evaluator implements predicate evaluation and Boolean
// composition: translating one or more (field, operator, query) predicates
// into index-key lookups/intersections and folding the results with
// AND/OR.
package evaluator

import (
	"context"

	"piiindex/internal/apperr"
	"piiindex/internal/field"
	"piiindex/internal/fragment"
	"piiindex/internal/index"
	"piiindex/internal/kanon"
	"piiindex/internal/keyderiv"
	"piiindex/internal/normalize"
	"piiindex/internal/prf"
)

// Operator is the caller-facing predicate operator.
type Operator = fragment.Operator

const (
	Eq         = fragment.Eq
	StartsWith = fragment.StartsWith
	EndsWith   = fragment.EndsWith
	Contains   = fragment.Contains
)

// Predicate is one (field-full-name, operator, query) triple.
type Predicate struct {
	FieldFullName string
	Operator      Operator
	Query         string
}

// Evaluator evaluates predicates and Boolean compositions against a Store.
//
// When GatePerPredicate is true and KAnonThreshold > 1, EvaluateAll gates
// each predicate's result with kanon.Gate before composition (closing the
// side-channel where an OR of two below-threshold sets would otherwise
// compose into a disclosable union). GatePerPredicate is false by default,
// and then EvaluateAll applies no gate at all; callers gate the composed
// result with kanon.Gate.
type Evaluator struct {
	Store     index.Store
	Keyer     *prf.Keyer
	GramWidth int

	KAnonThreshold   int
	GatePerPredicate bool
}

// New builds an Evaluator. gramWidth is the deploy-time K; it MUST be >= 2.
func New(store index.Store, keyer *prf.Keyer, gramWidth int) *Evaluator {
	return &Evaluator{Store: store, Keyer: keyer, GramWidth: gramWidth}
}

// Evaluate runs one predicate end to end: resolve field, normalize the
// query, enumerate query-side fragments, derive keys, and look them up.
// The returned set is never nil; it is empty for "no results," distinct
// from an error.
func (e *Evaluator) Evaluate(ctx context.Context, p Predicate) (map[string]struct{}, error) {
	f, ok := field.FromFullName(p.FieldFullName)
	if !ok {
		return nil, apperr.New(apperr.InvalidInput, "unknown field: "+p.FieldFullName)
	}
	alias, ok := field.Alias(f)
	if !ok {
		return nil, apperr.New(apperr.InvalidInput, "field has no alias: "+p.FieldFullName)
	}

	q := normalize.Normalize(p.Query)
	if q == "" && p.Operator != Eq {
		return map[string]struct{}{}, nil
	}

	pairs, ok := fragment.QueryFragments(p.Operator, q, e.GramWidth)
	if !ok {
		return nil, apperr.New(apperr.QueryTooShort, "contains query shorter than gram width")
	}
	if len(pairs) == 0 {
		return map[string]struct{}{}, nil
	}

	keys := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		k, err := keyderiv.Key(e.Keyer, alias, pair.Tag, pair.Fragment)
		if err != nil {
			return nil, apperr.Wrap(apperr.SecretMissing, "derive key", err)
		}
		keys = append(keys, k)
	}

	if len(keys) == 1 {
		set, err := e.Store.Lookup(ctx, keys[0])
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		return set, nil
	}
	set, err := e.Store.Intersect(ctx, keys)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return set, nil
}

func wrapStoreErr(err error) error {
	if apperr.Is(err, apperr.StoreTransient) || apperr.Is(err, apperr.StorePermanent) || apperr.Is(err, apperr.Integrity) {
		return err
	}
	return apperr.Wrap(apperr.StoreTransient, "store lookup failed", err)
}

// BooleanOp is AND or OR composition across predicate results.
type BooleanOp int

const (
	And BooleanOp = iota
	Or
)

// EvaluateAll evaluates each predicate independently and folds the
// results with op. Mixed Boolean trees of arbitrary depth are out of
// scope; callers decompose to one conjunctive or disjunctive level first.
func (e *Evaluator) EvaluateAll(ctx context.Context, predicates []Predicate, op BooleanOp) (map[string]struct{}, error) {
	if len(predicates) == 0 {
		return map[string]struct{}{}, nil
	}
	sets := make([]map[string]struct{}, 0, len(predicates))
	for _, p := range predicates {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.DeadlineExceeded, "evaluate predicate list", err)
		}
		set, err := e.Evaluate(ctx, p)
		if err != nil {
			return nil, err
		}
		if e.GatePerPredicate && e.KAnonThreshold > 1 {
			set = toSet(kanon.Gate(set, e.KAnonThreshold).Refs)
		}
		sets = append(sets, set)
	}
	return Compose(sets, op), nil
}

func toSet(refs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		out[r] = struct{}{}
	}
	return out
}

// Compose folds a list of sets with AND (intersection) or OR (union). It
// is associative in the obvious way regardless of fold order.
func Compose(sets []map[string]struct{}, op BooleanOp) map[string]struct{} {
	if len(sets) == 0 {
		return map[string]struct{}{}
	}
	acc := sets[0]
	for _, s := range sets[1:] {
		switch op {
		case And:
			acc = intersect(acc, s)
		case Or:
			acc = union(acc, s)
		}
	}
	// Defend against the caller mutating the first input set via the alias.
	out := make(map[string]struct{}, len(acc))
	for k := range acc {
		out[k] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	out := make(map[string]struct{})
	for k := range small {
		if _, ok := big[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func union(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
