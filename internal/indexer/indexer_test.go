package indexer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"piiindex/internal/field"
	"piiindex/internal/index"
	"piiindex/internal/keyderiv"
	"piiindex/internal/kms"
	"piiindex/internal/normalize"
	"piiindex/internal/prf"
)

func newTestIndexer(t *testing.T) (*Indexer, index.Store) {
	t.Helper()
	keyer, err := prf.NewKeyer([]byte("test-secret"), 1)
	if err != nil {
		t.Fatalf("NewKeyer: %v", err)
	}
	store := index.NewMemStore()
	return New(store, keyer, 3, 8), store
}

func TestIndexValueThenLookup(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	err := ix.IndexValue(ctx, Value{
		Field:          field.Email,
		DecryptedValue: "priya.sharma@example.com",
		Ref:            "T1",
		ExpiresAt:      future,
	})
	if err != nil {
		t.Fatalf("IndexValue: %v", err)
	}

	alias, _ := field.Alias(field.Email)
	key, _ := keyderiv.Key(ix.Keyer, alias, keyderiv.Eq, normalize.Normalize("priya.sharma@example.com"))
	set, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, ok := set["T1"]; !ok {
		t.Fatalf("expected T1 indexed under eq key, got %v", set)
	}
}

func TestIndexValueSkipsEmpty(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	if err := ix.IndexValue(ctx, Value{Field: field.FirstName, DecryptedValue: "   ", Ref: "T1"}); err != nil {
		t.Fatalf("IndexValue: %v", err)
	}
	stats, _ := store.Stats(ctx)
	if stats.TotalKeys != 0 {
		t.Fatalf("expected nothing indexed for an empty value, stats=%v", stats)
	}
}

func TestIndexValueUntaggedInference(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	err := ix.IndexValue(ctx, Value{DecryptedValue: "x@gmail.com", Ref: "T1", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("IndexValue: %v", err)
	}
	alias, _ := field.Alias(field.Email)
	key, _ := keyderiv.Key(ix.Keyer, alias, keyderiv.Eq, "x@gmail.com")
	set, _ := store.Lookup(ctx, key)
	if _, ok := set["T1"]; !ok {
		t.Fatal("expected untagged email value to be inferred and indexed under the email alias")
	}
}

func TestIndexValueUntaggedUninferrable(t *testing.T) {
	ix, _ := newTestIndexer(t)
	err := ix.IndexValue(context.Background(), Value{DecryptedValue: "Arjun", Ref: "T1"})
	if err == nil {
		t.Fatal("expected an error when an untagged value cannot be inferred")
	}
}

func TestEraseRemovesRef(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	_ = ix.IndexValue(ctx, Value{Field: field.FirstName, DecryptedValue: "Arjun", Ref: "T2", ExpiresAt: future})

	alias, _ := field.Alias(field.FirstName)
	key, _ := keyderiv.Key(ix.Keyer, alias, keyderiv.Eq, "arjun")
	before, _ := store.Lookup(ctx, key)
	if _, ok := before["T2"]; !ok {
		t.Fatal("expected T2 indexed before erase")
	}

	if err := ix.Erase(ctx, field.FirstName, "Arjun", "T2"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	after, _ := store.Lookup(ctx, key)
	if _, ok := after["T2"]; ok {
		t.Fatal("expected T2 removed after erase")
	}
}

func TestIndexCiphertextDecryptsThenIndexes(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()

	demoKMS, err := kms.NewDemoKMS(bytes.Repeat([]byte{0x07}, 32))
	if err != nil {
		t.Fatalf("NewDemoKMS: %v", err)
	}
	aad := []byte("ref:T1")
	ciphertext, err := demoKMS.Encrypt([]byte("priya.sharma@example.com"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	err = ix.IndexCiphertext(ctx, demoKMS, ciphertext, aad, Value{Field: field.Email, Ref: "T1"})
	if err != nil {
		t.Fatalf("IndexCiphertext: %v", err)
	}

	alias, _ := field.Alias(field.Email)
	key, _ := keyderiv.Key(ix.Keyer, alias, keyderiv.Eq, normalize.Normalize("priya.sharma@example.com"))
	set, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, ok := set["T1"]; !ok {
		t.Fatalf("expected T1 indexed under eq key after ciphertext ingest, got %v", set)
	}
}

func TestIndexCiphertextRejectsTamperedCiphertext(t *testing.T) {
	ix, _ := newTestIndexer(t)
	demoKMS, err := kms.NewDemoKMS(bytes.Repeat([]byte{0x08}, 32))
	if err != nil {
		t.Fatalf("NewDemoKMS: %v", err)
	}
	ciphertext, err := demoKMS.Encrypt([]byte("Arjun Mehta"), []byte("ref:T2"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	err = ix.IndexCiphertext(context.Background(), demoKMS, ciphertext, []byte("ref:T2"), Value{Field: field.FirstName, Ref: "T2"})
	if err == nil {
		t.Fatal("expected IndexCiphertext to reject a tampered ciphertext")
	}
}

func TestIndexBulkSwallowsPerValueFailures(t *testing.T) {
	ix, _ := newTestIndexer(t)
	values := []Value{
		{Field: field.FirstName, DecryptedValue: "Arjun", Ref: "T1", ExpiresAt: time.Now().Add(time.Hour)},
		{DecryptedValue: "not-inferrable", Ref: "T2"}, // untagged + uninferrable -> fails
	}
	res := ix.IndexBulk(context.Background(), values)
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", res)
	}
}
