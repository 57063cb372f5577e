// Command indexd serves the reverse-index as an HTTP service: ingest
// decrypted field values, run predicate queries, sweep expired entries,
// and report store statistics, all behind bearer-token auth.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"piiindex/internal/apiauth"
	"piiindex/internal/apperr"
	"piiindex/internal/audit"
	"piiindex/internal/config"
	"piiindex/internal/evaluator"
	"piiindex/internal/field"
	"piiindex/internal/index"
	"piiindex/internal/indexer"
	"piiindex/internal/kanon"
	"piiindex/internal/prf"
)

func main() {
	secret := flag.String("secret", os.Getenv("PIIINDEX_SECRET"), "PRF master secret")
	secretPassphrase := flag.String("secret-passphrase", os.Getenv("PIIINDEX_SECRET_PASSPHRASE"), "derive the PRF secret from a passphrase via Argon2id instead of -secret")
	secretSaltHex := flag.String("secret-salt", os.Getenv("PIIINDEX_SECRET_SALT"), "hex-encoded salt paired with -secret-passphrase")
	backend := flag.String("backend", "memory", "store backend: memory or mongo")
	mongoURI := flag.String("mongo", "", "MongoDB URI (required for -backend=mongo)")
	mongoDB := flag.String("db", "piiindex", "Mongo database name")
	indexColl := flag.String("coll", "pii_index", "Mongo index collection name")
	listen := flag.String("listen", ":8080", "HTTP listen address")
	gramWidth := flag.Int("gram-width", 3, "n-gram width for contains queries")
	kMin := flag.Int("k-min", 5, "k-anonymity threshold")
	flag.Parse()

	if *secret == "" && *secretPassphrase == "" {
		log.Fatal("indexd: -secret or -secret-passphrase (or PIIINDEX_SECRET/PIIINDEX_SECRET_PASSPHRASE) is required")
	}
	var secretSalt []byte
	if *secretSaltHex != "" {
		var err error
		secretSalt, err = hex.DecodeString(*secretSaltHex)
		if err != nil {
			log.Fatalf("indexd: -secret-salt: %v", err)
		}
	} else if *secret == "" {
		log.Fatal("indexd: -secret-salt is required alongside -secret-passphrase")
	}

	cfg := config.Load(config.Config{
		Secret:           []byte(*secret),
		SecretPassphrase: *secretPassphrase,
		SecretSalt:       secretSalt,
		GramWidth:        *gramWidth,
		KAnonThreshold:   *kMin,
		StoreBackend:     config.StoreBackend(*backend),
		MongoURI:         *mongoURI,
		MongoDB:          *mongoDB,
		IndexColl:        *indexColl,
		ListenAddr:       *listen,
	})

	keyer, err := prf.NewKeyer(cfg.Secret, cfg.SecretVersion)
	if err != nil {
		log.Fatalf("indexd: %v", err)
	}
	defer keyer.Close()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("indexd: %v", err)
	}

	priv, _, err := apiauth.GenerateEd25519()
	if err != nil {
		log.Fatalf("indexd: generate signing key: %v", err)
	}
	signer := apiauth.NewSigner(priv, cfg.JWTIssuer, cfg.TokenTTL)

	s := &server{
		ix:     indexer.New(store, keyer, cfg.GramWidth, cfg.MaxInFlightIngest),
		ev:     evaluator.New(store, keyer, cfg.GramWidth),
		store:  store,
		cfg:    cfg,
		audit:  audit.New(),
		limit:  newMultiLimiter(10 * time.Minute),
		signer: signer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/api/index", apiauth.RequireScope(signer, apiauth.ScopeIndex)(s.rateLimitedByCaller("index", apiauth.ScopeIndex, http.HandlerFunc(s.handleIndex))))
	mux.Handle("/api/query", apiauth.RequireScope(signer, apiauth.ScopeQuery)(s.rateLimitedByCaller("query", apiauth.ScopeQuery, http.HandlerFunc(s.handleQuery))))
	mux.Handle("/api/stats", apiauth.RequireScope(signer, apiauth.ScopeAdmin)(s.rateLimitedByCaller("stats", apiauth.ScopeAdmin, http.HandlerFunc(s.handleStats))))
	mux.Handle("/api/sweep", apiauth.RequireScope(signer, apiauth.ScopeAdmin)(s.rateLimitedByCaller("sweep", apiauth.ScopeAdmin, http.HandlerFunc(s.handleSweep))))

	log.Printf("indexd listening on %s (backend=%s)", cfg.ListenAddr, cfg.StoreBackend)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, mux))
}

func buildStore(cfg config.Config) (index.Store, error) {
	if cfg.StoreBackend == config.BackendMongo {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return index.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.IndexColl)
	}
	return index.NewMemStore(), nil
}

type server struct {
	ix     *indexer.Indexer
	ev     *evaluator.Evaluator
	store  index.Store
	cfg    config.Config
	audit  *audit.Log
	limit  *multiLimiter
	signer *apiauth.Signer
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type indexRequest struct {
	Field          string `json:"field"`
	DecryptedValue string `json:"decrypted_value"`
	Ref            string `json:"ref"`
	TTLSeconds     int64  `json:"ttl_seconds"`
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	f := field.Unknown
	if req.Field != "" {
		var ok bool
		f, ok = field.FromFullName(req.Field)
		if !ok {
			http.Error(w, "unknown field", http.StatusBadRequest)
			return
		}
	}
	expiresAt := time.Time{}
	if req.TTLSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	}
	err := s.ix.IndexValue(r.Context(), indexer.Value{
		Field:          f,
		DecryptedValue: req.DecryptedValue,
		Ref:            req.Ref,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.audit.Append(audit.OpIndexValue, req.Field, 1)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type queryPredicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Query    string `json:"query"`
}

type queryRequest struct {
	Predicates []queryPredicate `json:"predicates"`
	BooleanOp  string           `json:"boolean_op"`
}

type queryResponse struct {
	Refs                   []string `json:"refs"`
	SuppressedForAnonymity bool     `json:"suppressed_for_anonymity"`
	TruncatedToMaxResults  bool     `json:"truncated_to_max_results"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	predicates := make([]evaluator.Predicate, 0, len(req.Predicates))
	for _, p := range req.Predicates {
		op, ok := operatorFromWire(p.Operator)
		if !ok {
			http.Error(w, "unknown operator: "+p.Operator, http.StatusBadRequest)
			return
		}
		predicates = append(predicates, evaluator.Predicate{FieldFullName: p.Field, Operator: op, Query: p.Query})
	}
	boolOp := evaluator.And
	if strings.EqualFold(req.BooleanOp, "or") {
		boolOp = evaluator.Or
	}

	set, err := s.ev.EvaluateAll(r.Context(), predicates, boolOp)
	if err != nil {
		writeErr(w, err)
		return
	}
	result := kanon.Truncate(kanon.Gate(set, s.cfg.KAnonThreshold), s.cfg.MaxResults)
	writeJSON(w, http.StatusOK, queryResponse{
		Refs:                   result.Refs,
		SuppressedForAnonymity: result.SuppressedForAnonymity,
		TruncatedToMaxResults:  result.TruncatedToMaxResults,
	})
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

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.store.ExpireSweep(r.Context(), time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	s.audit.Append(audit.OpExpireSweep, "", n)
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// rateLimitedByCaller buckets by the authenticated caller's token subject
// rather than client IP: every caller here is a service identity behind a
// bearer token, not an anonymous browser, so the subject is the stable
// identity worth metering, and a shared IP (e.g. several ingestion workers
// behind one NAT gateway) must not let them throttle each other. Admin
// routes (sweep/stats) get a tighter budget than index/query traffic since
// they are operator actions, not steady-state ingest/query volume.
func (s *server) rateLimitedByCaller(route string, scope apiauth.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := apiauth.FromContext(r.Context())
		key := clientIP(r) + ":" + route
		if ok && claims.Subject != "" {
			key = claims.Subject + ":" + route
		}
		limit, burst := s.limitsFor(scope)
		if !s.limit.allow(key, limit, burst) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) limitsFor(scope apiauth.Scope) (rate.Limit, int) {
	base := rate.Limit(s.cfg.RateLimitPerSecond)
	burst := s.cfg.RateLimitBurst
	if scope == apiauth.ScopeAdmin {
		return base / 4, max1(burst / 4)
	}
	return base, burst
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := apperr.ExitCode(err)
	status := http.StatusInternalServerError
	switch code {
	case 2:
		status = http.StatusBadRequest
	case 3:
		status = http.StatusServiceUnavailable
	case 4, 5:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// clientIP is the fallback key for the rare request that reaches the rate
// limiter without validated claims in context (the auth middleware runs
// first on every registered route, so this only guards a defensive gap).
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// multiLimiter holds one token bucket per key, each sized on first use by
// whatever limit/burst the caller's scope tier demands, with idle buckets
// evicted on access. Unlike a fixed-budget limiter, the bucket's rate is a
// property of the call site (limitsFor), not of the limiter itself.
type multiLimiter struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newMultiLimiter(ttl time.Duration) *multiLimiter {
	return &multiLimiter{ttl: ttl, entries: make(map[string]*limBucket)}
}

func (m *multiLimiter) allow(key string, limit rate.Limit, burst int) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entries[key]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(limit, burst)}
		m.entries[key] = b
	}
	b.lastSeen = now
	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	return b.lim.Allow()
}
