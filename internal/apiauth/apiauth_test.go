package apiauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	priv, _, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	return NewSigner(priv, "piiindex-test", time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	s := newTestSigner(t)
	tok, exp, err := s.IssueToken("ingestion-pipeline", []Scope{ScopeIndex})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("expected a future expiry")
	}
	claims, err := s.ParseAndValidate(tok)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "ingestion-pipeline" {
		t.Fatalf("expected subject ingestion-pipeline, got %s", claims.Subject)
	}
	if !claims.HasScope(ScopeIndex) {
		t.Fatal("expected ScopeIndex")
	}
	if claims.HasScope(ScopeAdmin) {
		t.Fatal("did not expect ScopeAdmin")
	}
}

func TestIssueTokenEncodesScopeAsSpaceDelimitedString(t *testing.T) {
	if got := joinScopes([]Scope{ScopeIndex, ScopeQuery}); got != "index query" {
		t.Fatalf("expected OAuth2-style space-delimited scope string, got %q", got)
	}
	scopes := splitScopes("index query admin")
	if len(scopes) != 3 || scopes[0] != ScopeIndex || scopes[1] != ScopeQuery || scopes[2] != ScopeAdmin {
		t.Fatalf("expected [index query admin], got %v", scopes)
	}
	if splitScopes("") != nil {
		t.Fatal("expected an empty scope string to decode to no scopes")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	priv, _, _ := GenerateEd25519()
	a := NewSigner(priv, "issuer-a", time.Hour)
	b := NewSigner(priv, "issuer-b", time.Hour)
	tok, _, _ := a.IssueToken("svc", []Scope{ScopeQuery})
	if _, err := b.ParseAndValidate(tok); err == nil {
		t.Fatal("expected a token issued under a different issuer to be rejected")
	}
}

func TestParseRejectsForgedSignature(t *testing.T) {
	s1 := newTestSigner(t)
	s2 := newTestSigner(t)
	tok, _, _ := s1.IssueToken("svc", []Scope{ScopeQuery})
	if _, err := s2.ParseAndValidate(tok); err == nil {
		t.Fatal("expected a token signed by a different key to be rejected")
	}
}

func TestRequireScopeMiddleware(t *testing.T) {
	s := newTestSigner(t)
	tok, _, _ := s.IssueToken("query-client", []Scope{ScopeQuery})

	var calledWithClaims *Claims
	handler := RequireScope(s, ScopeQuery)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := FromContext(r.Context())
		calledWithClaims = c
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if calledWithClaims == nil || calledWithClaims.Subject != "query-client" {
		t.Fatal("expected claims attached to request context")
	}
}

func TestRequireScopeRejectsMissingToken(t *testing.T) {
	s := newTestSigner(t)
	handler := RequireScope(s, ScopeQuery)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireScopeRejectsInsufficientScope(t *testing.T) {
	s := newTestSigner(t)
	tok, _, _ := s.IssueToken("query-client", []Scope{ScopeQuery})
	handler := RequireScope(s, ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without the admin scope")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
