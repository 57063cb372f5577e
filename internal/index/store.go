// Package index implements the reverse-index store, a map from index-key
// to a set of opaque record references with per-entry expiry. Two
// interchangeable backends are provided (memstore, mongostore); both must
// answer identical lookups with identical sets for the same logical
// state.
package index

import (
	"context"
	"time"
)

// AddOp is one (key, ref) addition within an indexer batch.
// FieldTag carries the full field name, recorded on first create only, and
// plays no role in query matching.
type AddOp struct {
	Key       string
	Ref       string
	FieldTag  string
	ExpiresAt time.Time
}

// Stats summarizes store contents for operational visibility.
type Stats struct {
	TotalKeys      int
	PerTagCounts   map[string]int
	Oldest         time.Time
	Newest         time.Time
	ExpiredPending int
}

// Store is the backend-independent contract the indexer and evaluator are
// built against. Implementations: memstore (in-memory set store) and
// mongostore (relational-shaped backend).
type Store interface {
	// CommitBatch applies every op atomically: either none of the ops are
	// visible to concurrent Lookup/Intersect calls, or all of them are.
	CommitBatch(ctx context.Context, ops []AddOp) error

	// Remove idempotently removes ref from key's posting list. Empty
	// posting lists are garbage-collected.
	Remove(ctx context.Context, key, ref string) error

	// Lookup returns the posting set for key, empty if absent or expired.
	Lookup(ctx context.Context, key string) (map[string]struct{}, error)

	// Intersect is semantically equivalent to folding Lookup with set
	// intersection over keys; implementations may accelerate it natively.
	Intersect(ctx context.Context, keys []string) (map[string]struct{}, error)

	// ExpireSweep removes every entry whose ExpiresAt <= now and reports
	// how many entries were removed.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)

	// Stats reports aggregate store contents.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources (connections, file handles).
	Close(ctx context.Context) error
}
