// Command indexctl is the administrative CLI for the reverse index: ingest
// values out of band, run ad hoc queries, sweep expired entries, and print
// store statistics, against either backend directly (no indexd required).
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"piiindex/internal/apperr"
	"piiindex/internal/evaluator"
	"piiindex/internal/field"
	"piiindex/internal/index"
	"piiindex/internal/indexer"
	"piiindex/internal/kanon"
	"piiindex/internal/kms"
	"piiindex/internal/prf"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		cmdIngest(os.Args[2:])
	case "ingest-ciphertext":
		cmdIngestCiphertext(os.Args[2:])
	case "query":
		cmdQuery(os.Args[2:])
	case "sweep":
		cmdSweep(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "indexctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `indexctl: reverse-index administration

Usage:
  indexctl ingest            -secret=... -field=EMAIL -value=... -ref=... [-mongo=... -db=... -coll=...]
  indexctl ingest-ciphertext -secret=... -kms-key=<64 hex chars> -field=EMAIL -ciphertext=<base64> -aad=... -ref=... [-mongo=... -db=... -coll=...]
  indexctl query             -secret=... -field=EMAIL -op=eq -query=... [-mongo=... -db=... -coll=...]
  indexctl sweep             -secret=... [-mongo=... -db=... -coll=...]
  indexctl stats             -secret=... [-mongo=... -db=... -coll=...]

Common flags:
  -secret     PRF master secret (or set PIIINDEX_SECRET)
  -secret-passphrase  derive the PRF secret from a passphrase via Argon2id
              instead of -secret; requires -secret-salt
  -secret-salt hex-encoded salt paired with -secret-passphrase
  -mongo      MongoDB URI; omit to use an in-memory store
  -db         Mongo database name (default "piiindex")
  -coll       Mongo index collection name (default "pii_index")
  -gram-width n-gram width for contains queries (default 3)
  -k-min      k-anonymity threshold for query (default 5)

ingest-ciphertext decrypts -ciphertext with a demo KMS holding -kms-key
before indexing it, for ingestion sources that only ever hold encrypted
field values.
`)
}

type secretFlags struct {
	secret     *string
	passphrase *string
	saltHex    *string
}

func commonFlags(fs *flag.FlagSet) (sf secretFlags, mongoURI, db, coll *string, gramWidth, kMin *int) {
	sf.secret = fs.String("secret", os.Getenv("PIIINDEX_SECRET"), "PRF master secret")
	sf.passphrase = fs.String("secret-passphrase", os.Getenv("PIIINDEX_SECRET_PASSPHRASE"), "derive the PRF secret from a passphrase via Argon2id")
	sf.saltHex = fs.String("secret-salt", os.Getenv("PIIINDEX_SECRET_SALT"), "hex-encoded salt for -secret-passphrase")
	mongoURI = fs.String("mongo", "", "MongoDB URI")
	db = fs.String("db", "piiindex", "Mongo database name")
	coll = fs.String("coll", "pii_index", "Mongo index collection name")
	gramWidth = fs.Int("gram-width", 3, "n-gram width")
	kMin = fs.Int("k-min", 5, "k-anonymity threshold")
	return
}

// resolveSecret prefers a raw secret, falling back to deriving one from a
// passphrase and salt via Argon2id (kms.DeriveSecret) so an operator can
// hand the CLI a memorable passphrase instead of a raw key on the command
// line.
func resolveSecret(sf secretFlags) ([]byte, error) {
	if *sf.secret != "" {
		return []byte(*sf.secret), nil
	}
	if *sf.passphrase == "" {
		return nil, fmt.Errorf("-secret or -secret-passphrase (or PIIINDEX_SECRET/PIIINDEX_SECRET_PASSPHRASE) is required")
	}
	if *sf.saltHex == "" {
		return nil, fmt.Errorf("-secret-salt is required alongside -secret-passphrase")
	}
	salt, err := hex.DecodeString(*sf.saltHex)
	if err != nil {
		return nil, fmt.Errorf("-secret-salt: %w", err)
	}
	return kms.DeriveSecret(*sf.passphrase, kms.DefaultKDFParams(salt)), nil
}

func buildStore(ctx context.Context, mongoURI, db, coll string) (index.Store, error) {
	if mongoURI == "" {
		return index.NewMemStore(), nil
	}
	return index.NewMongoStore(ctx, mongoURI, db, coll)
}

func cmdIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	sf, mongoURI, db, coll, gramWidth, _ := commonFlags(fs)
	fieldName := fs.String("field", "", "field full name (e.g. EMAIL); omit to infer")
	value := fs.String("value", "", "decrypted value to index")
	ref := fs.String("ref", "", "opaque record reference")
	ttl := fs.Duration("ttl", 0, "entry lifetime (0 = never expires)")
	fs.Parse(args)

	secret, err := resolveSecret(sf)
	dieIf(err)
	dieIf(requireNonEmpty("value", *value))
	dieIf(requireNonEmpty("ref", *ref))

	keyer, err := prf.NewKeyer(secret, 0)
	dieIf(err)
	defer keyer.Close()

	ctx := context.Background()
	store, err := buildStore(ctx, *mongoURI, *db, *coll)
	dieIf(err)
	defer store.Close(ctx)

	f := field.Unknown
	if *fieldName != "" {
		var ok bool
		f, ok = field.FromFullName(*fieldName)
		if !ok {
			dieIf(fmt.Errorf("unknown field %q", *fieldName))
		}
	}

	var expiresAt time.Time
	if *ttl > 0 {
		expiresAt = time.Now().Add(*ttl)
	}

	ix := indexer.New(store, keyer, *gramWidth, 8)
	err = ix.IndexValue(ctx, indexer.Value{Field: f, DecryptedValue: *value, Ref: *ref, ExpiresAt: expiresAt})
	dieIf(err)
	fmt.Println("indexed")
}

func cmdIngestCiphertext(args []string) {
	fs := flag.NewFlagSet("ingest-ciphertext", flag.ExitOnError)
	sf, mongoURI, db, coll, gramWidth, _ := commonFlags(fs)
	fieldName := fs.String("field", "", "field full name (e.g. EMAIL); omit to infer")
	kmsKeyHex := fs.String("kms-key", os.Getenv("PIIINDEX_KMS_KEY"), "32-byte demo KMS key, hex-encoded")
	ciphertextB64 := fs.String("ciphertext", "", "ciphertext to decrypt and index, base64-encoded")
	aad := fs.String("aad", "", "associated data bound to the ciphertext at seal time")
	ref := fs.String("ref", "", "opaque record reference")
	ttl := fs.Duration("ttl", 0, "entry lifetime (0 = never expires)")
	fs.Parse(args)

	secret, err := resolveSecret(sf)
	dieIf(err)
	dieIf(requireNonEmpty("kms-key", *kmsKeyHex))
	dieIf(requireNonEmpty("ciphertext", *ciphertextB64))
	dieIf(requireNonEmpty("ref", *ref))

	kmsKey, err := hex.DecodeString(*kmsKeyHex)
	dieIf(err)
	demoKMS, err := kms.NewDemoKMS(kmsKey)
	dieIf(err)
	ciphertext, err := base64.StdEncoding.DecodeString(*ciphertextB64)
	dieIf(err)

	keyer, err := prf.NewKeyer(secret, 0)
	dieIf(err)
	defer keyer.Close()

	ctx := context.Background()
	store, err := buildStore(ctx, *mongoURI, *db, *coll)
	dieIf(err)
	defer store.Close(ctx)

	f := field.Unknown
	if *fieldName != "" {
		var ok bool
		f, ok = field.FromFullName(*fieldName)
		if !ok {
			dieIf(fmt.Errorf("unknown field %q", *fieldName))
		}
	}

	var expiresAt time.Time
	if *ttl > 0 {
		expiresAt = time.Now().Add(*ttl)
	}

	ix := indexer.New(store, keyer, *gramWidth, 8)
	err = ix.IndexCiphertext(ctx, demoKMS, ciphertext, []byte(*aad), indexer.Value{Field: f, Ref: *ref, ExpiresAt: expiresAt})
	dieIf(err)
	fmt.Println("indexed")
}

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	sf, mongoURI, db, coll, gramWidth, kMin := commonFlags(fs)
	fieldName := fs.String("field", "", "field full name (e.g. EMAIL)")
	op := fs.String("op", "eq", "operator: eq, starts_with, ends_with, contains")
	query := fs.String("query", "", "query string")
	boolOp := fs.String("bool", "and", "boolean op for composing predicates: and or or; -field/-op/-query give a single predicate, so it does not change the result")
	fs.Parse(args)

	secret, err := resolveSecret(sf)
	dieIf(err)
	dieIf(requireNonEmpty("field", *fieldName))
	dieIf(requireNonEmpty("query", *query))

	operator, ok := operatorFromWire(*op)
	if !ok {
		dieIf(fmt.Errorf("unknown operator %q", *op))
	}

	keyer, err := prf.NewKeyer(secret, 0)
	dieIf(err)
	defer keyer.Close()

	ctx := context.Background()
	store, err := buildStore(ctx, *mongoURI, *db, *coll)
	dieIf(err)
	defer store.Close(ctx)

	ev := evaluator.New(store, keyer, *gramWidth)
	op2 := evaluator.And
	if strings.EqualFold(*boolOp, "or") {
		op2 = evaluator.Or
	}
	set, err := ev.EvaluateAll(ctx, []evaluator.Predicate{{FieldFullName: *fieldName, Operator: operator, Query: *query}}, op2)
	dieIf(err)

	result := kanon.Truncate(kanon.Gate(set, *kMin), 1000)
	if result.SuppressedForAnonymity {
		fmt.Println("suppressed: result set smaller than k-anonymity threshold")
		return
	}
	for _, ref := range result.Refs {
		fmt.Println(ref)
	}
	fmt.Fprintf(os.Stderr, "%d result(s)\n", len(result.Refs))
}

func cmdSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	sf, mongoURI, db, coll, _, _ := commonFlags(fs)
	fs.Parse(args)

	_, err := resolveSecret(sf)
	dieIf(err)

	ctx := context.Background()
	store, err := buildStore(ctx, *mongoURI, *db, *coll)
	dieIf(err)
	defer store.Close(ctx)

	n, err := store.ExpireSweep(ctx, time.Now())
	dieIf(err)
	fmt.Printf("removed %d expired entries\n", n)
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	sf, mongoURI, db, coll, _, _ := commonFlags(fs)
	fs.Parse(args)

	_, err := resolveSecret(sf)
	dieIf(err)

	ctx := context.Background()
	store, err := buildStore(ctx, *mongoURI, *db, *coll)
	dieIf(err)
	defer store.Close(ctx)

	stats, err := store.Stats(ctx)
	dieIf(err)
	fmt.Printf("total_keys=%d expired_pending=%d oldest=%s newest=%s\n",
		stats.TotalKeys, stats.ExpiredPending, formatTime(stats.Oldest), formatTime(stats.Newest))
	for tag, count := range stats.PerTagCounts {
		fmt.Printf("  %s: %d\n", tag, count)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func operatorFromWire(s string) (evaluator.Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "equals":
		return evaluator.Eq, true
	case "starts_with", "prefix", "pre":
		return evaluator.StartsWith, true
	case "ends_with", "suffix", "suf":
		return evaluator.EndsWith, true
	case "contains":
		return evaluator.Contains, true
	default:
		return 0, false
	}
}

func requireNonEmpty(name, v string) error {
	if v == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(apperr.ExitCode(err))
	}
}
