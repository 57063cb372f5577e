// Package apiauth guards the indexd HTTP API with Ed25519-signed bearer
// tokens. There is no end-user login flow in this domain: every caller is
// a service identity (an ingestion pipeline, a query client, an operator
// tool), so tokens are issued offline by an operator and carry a fixed
// set of scopes rather than a session.
package apiauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"piiindex/internal/apperr"
)

// Scope is one capability a token grants.
type Scope string

const (
	ScopeIndex Scope = "index" // may call /api/index
	ScopeQuery Scope = "query" // may call /api/query
	ScopeAdmin Scope = "admin" // may call /api/sweep, /api/stats
)

// Claims identifies the calling service and what it may do.
type Claims struct {
	Subject   string  `json:"sub"`
	Scopes    []Scope `json:"scopes"`
	TokenID   string  `json:"jti"`
	IssuedAt  int64   `json:"iat"`
	ExpiresAt int64   `json:"exp"`
}

// HasScope reports whether c grants scope.
func (c *Claims) HasScope(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Signer issues and validates service tokens with Ed25519/EdDSA.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	iss  string
	ttl  time.Duration
}

// NewSigner builds a Signer from an Ed25519 keypair. iss identifies this
// deployment in issued tokens; ttl bounds how long an issued token is
// valid for.
func NewSigner(priv ed25519.PrivateKey, iss string, ttl time.Duration) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey), iss: iss, ttl: ttl}
}

// GenerateEd25519 generates a fresh signing keypair for bootstrapping a
// deployment.
func GenerateEd25519() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// IssueToken signs a token for subject with the given scopes. Scopes are
// encoded as a single space-delimited "scope" claim, the OAuth2 convention,
// rather than a JSON array, so a token can be inspected with any standard
// OAuth2 tooling instead of requiring this package's own array decoding.
func (s *Signer) IssueToken(subject string, scopes []Scope) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"iss":   s.iss,
		"sub":   subject,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   randomJTI(),
		"scope": joinScopes(scopes),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	ss, err := token.SignedString(s.priv)
	return ss, exp, err
}

// ParseAndValidate verifies tokenStr's signature, issuer, and expiry, and
// returns its claims. Failures are reported as apperr.Unauthenticated so
// callers (RequireScope, audit logging) can distinguish "no valid identity"
// from every other failure kind in the shared taxonomy.
func (s *Signer) ParseAndValidate(tokenStr string) (*Claims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, apperr.New(apperr.Unauthenticated, "unexpected signing method")
		}
		return s.pub, nil
	}
	tok, err := jwt.ParseWithClaims(tokenStr, jwt.MapClaims{}, keyFunc, jwt.WithIssuer(s.iss))
	if err != nil || !tok.Valid {
		return nil, apperr.Wrap(apperr.Unauthenticated, "parse bearer token", err)
	}
	mc := tok.Claims.(jwt.MapClaims)

	getString := func(k string) string {
		v, _ := mc[k].(string)
		return v
	}
	getInt64 := func(k string) int64 {
		switch v := mc[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		default:
			return 0
		}
	}
	return &Claims{
		Subject:   getString("sub"),
		Scopes:    splitScopes(getString("scope")),
		TokenID:   getString("jti"),
		IssuedAt:  getInt64("iat"),
		ExpiresAt: getInt64("exp"),
	}, nil
}

func joinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

func splitScopes(raw string) []Scope {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	scopes := make([]Scope, len(fields))
	for i, f := range fields {
		scopes[i] = Scope(f)
	}
	return scopes
}

func randomJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

type ctxKey int

const claimsKey ctxKey = 1

func withClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// FromContext recovers the Claims a prior RequireScope middleware attached.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// TokenParser is the subset of Signer the middleware depends on, so tests
// can substitute a fake.
type TokenParser interface {
	ParseAndValidate(tokenStr string) (*Claims, error)
}

// RequireScope checks the bearer token and the requested scope before
// calling next, rejecting an unauthenticated caller and a caller missing
// scope through the shared apperr taxonomy rather than ad hoc strings.
func RequireScope(parser TokenParser, scope Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeAuthErr(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
				return
			}
			claims, err := parser.ParseAndValidate(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				writeAuthErr(w, err)
				return
			}
			if !claims.HasScope(scope) {
				writeAuthErr(w, apperr.New(apperr.Forbidden, "missing required scope: "+string(scope)))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// writeAuthErr maps an apperr.Kind to the HTTP status indexd's auth layer
// responds with: Unauthenticated to 401, everything else (Forbidden) to 403.
func writeAuthErr(w http.ResponseWriter, err error) {
	status := http.StatusForbidden
	if apperr.Is(err, apperr.Unauthenticated) {
		status = http.StatusUnauthorized
	}
	http.Error(w, err.Error(), status)
}
