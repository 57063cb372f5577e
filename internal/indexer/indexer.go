// Package indexer orchestrates normalization, fragment enumeration, and
// key derivation during ingestion, appending the opaque reference to
// every derived key's posting list atomically per value.
package indexer

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"piiindex/internal/apperr"
	"piiindex/internal/field"
	"piiindex/internal/fragment"
	"piiindex/internal/index"
	"piiindex/internal/keyderiv"
	"piiindex/internal/kms"
	"piiindex/internal/normalize"
	"piiindex/internal/prf"
)

// Value is one decrypted field value ready for indexing: the
// field is either caller-supplied (tagged ingestion) or left Unknown for
// field.Infer to resolve (untagged ingestion).
type Value struct {
	Field          field.Field // Unknown triggers inference from DecryptedValue
	DecryptedValue string
	Ref            string
	ExpiresAt      time.Time
}

// Indexer orchestrates normalization, fragment enumeration, key
// derivation, and the store during ingestion. GramWidth is the
// deploy-time K.
type Indexer struct {
	Store     index.Store
	Keyer     *prf.Keyer
	GramWidth int

	// sem bounds in-flight per-value batches during bulk ingest; sized by
	// callers to a few times the store's ideal concurrency.
	sem *semaphore.Weighted
}

// New builds an Indexer whose bulk-ingest path admits at most maxInFlight
// concurrent per-value batches.
func New(store index.Store, keyer *prf.Keyer, gramWidth int, maxInFlight int64) *Indexer {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Indexer{
		Store:     store,
		Keyer:     keyer,
		GramWidth: gramWidth,
		sem:       semaphore.NewWeighted(maxInFlight),
	}
}

// IndexValue indexes a single decrypted value: normalize, enumerate
// fragments, derive keys, and commit them as one atomic batch. An empty
// normalized value is silently skipped.
func (ix *Indexer) IndexValue(ctx context.Context, v Value) error {
	if err := ix.sem.Acquire(ctx, 1); err != nil {
		return apperr.Wrap(apperr.DeadlineExceeded, "acquire ingest slot", err)
	}
	defer ix.sem.Release(1)

	normalized := normalize.Normalize(v.DecryptedValue)
	if normalized == "" {
		return nil // empty values are never indexed
	}

	f := v.Field
	if f == field.Unknown {
		f = field.Infer(v.DecryptedValue)
	}
	if f == field.Unknown {
		return apperr.New(apperr.InvalidInput, "could not determine field for untagged value")
	}
	alias, ok := field.Alias(f)
	if !ok {
		return apperr.New(apperr.InvalidInput, "unsupported field")
	}
	fieldTag, _ := field.FullName(f)

	if err := index.ValidateRef(v.Ref); err != nil {
		return err
	}

	pairs := fragment.Enumerate(normalized, ix.GramWidth)
	ops := make([]index.AddOp, 0, len(pairs))
	for _, p := range pairs {
		key, err := keyderiv.Key(ix.Keyer, alias, p.Tag, p.Fragment)
		if err != nil {
			return apperr.Wrap(apperr.SecretMissing, "derive key", err)
		}
		ops = append(ops, index.AddOp{
			Key:       key,
			Ref:       v.Ref,
			FieldTag:  fieldTag,
			ExpiresAt: v.ExpiresAt,
		})
	}

	if err := ix.Store.CommitBatch(ctx, ops); err != nil {
		return apperr.Wrap(apperr.StoreTransient, "commit index batch", err)
	}
	return nil
}

// IndexCiphertext decrypts ciphertext via dec before indexing it. This is
// the entry point for ingestion sources that never hold plaintext at
// rest, only a stored ciphertext and its associated data: the KMS gives
// up plaintext for only as long as it takes IndexValue to derive keys
// from it.
func (ix *Indexer) IndexCiphertext(ctx context.Context, dec kms.Decrypter, ciphertext, aad []byte, meta Value) error {
	plaintext, err := dec.Decrypt(ctx, ciphertext, aad)
	if err != nil {
		return apperr.Wrap(apperr.Integrity, "decrypt ciphertext for ingest", err)
	}
	meta.DecryptedValue = string(plaintext)
	return ix.IndexValue(ctx, meta)
}

// Erase removes every fragment key for value under field f, ref's
// associated posting entries. Callers model a value update as erase +
// re-index.
func (ix *Indexer) Erase(ctx context.Context, f field.Field, decryptedValue, ref string) error {
	alias, ok := field.Alias(f)
	if !ok {
		return apperr.New(apperr.InvalidInput, "unsupported field")
	}
	normalized := normalize.Normalize(decryptedValue)
	if normalized == "" {
		return nil
	}
	for _, p := range fragment.Enumerate(normalized, ix.GramWidth) {
		key, err := keyderiv.Key(ix.Keyer, alias, p.Tag, p.Fragment)
		if err != nil {
			return apperr.Wrap(apperr.SecretMissing, "derive key", err)
		}
		if err := ix.Store.Remove(ctx, key, ref); err != nil {
			return apperr.Wrap(apperr.StoreTransient, "erase", err)
		}
	}
	return nil
}

// BulkResult summarizes a best-effort bulk-ingest run.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []error
}

// IndexBulk ingests many values concurrently, bounded by the Indexer's
// semaphore, swallowing per-value failures into the returned summary
// rather than aborting the run.
func (ix *Indexer) IndexBulk(ctx context.Context, values []Value) BulkResult {
	type outcome struct {
		err error
	}
	results := make(chan outcome, len(values))
	for _, v := range values {
		v := v
		go func() {
			results <- outcome{err: ix.IndexValue(ctx, v)}
		}()
	}
	var res BulkResult
	for range values {
		o := <-results
		if o.err != nil {
			res.Failed++
			res.Errors = append(res.Errors, o.err)
		} else {
			res.Succeeded++
		}
	}
	return res
}
