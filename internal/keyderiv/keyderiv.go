// Package keyderiv implements the pure mapping from (field alias,
// operator tag, fragment) to a persisted index-key string. The exact
// "idx:" prefix and ":" separator are part of the wire contract
// and MUST NOT change.
package keyderiv

import (
	"fmt"

	"piiindex/internal/prf"
)

// Tag is one of the four closed operator tags.
type Tag string

const (
	Eq  Tag = "eq"
	Pre Tag = "pre"
	Suf Tag = "suf"
)

// Gram returns the gK tag for gram width k (canonically g3).
func Gram(k int) Tag {
	return Tag(fmt.Sprintf("g%d", k))
}

// Key derives "idx:<alias>:<tag>:<H(alias|fragment)>" using the process
// Keyer. Pure aside from the single PRF call; no I/O of its own.
func Key(keyer *prf.Keyer, alias string, tag Tag, fragment string) (string, error) {
	message := alias + "|" + fragment
	hash, err := keyer.H([]byte(message))
	if err != nil {
		return "", err
	}
	return "idx:" + alias + ":" + string(tag) + ":" + hash, nil
}
