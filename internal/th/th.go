// Package th contains test helpers shared across packages.
package th

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tink-crypto/tink-go/v2/jwt"
	"github.com/tink-crypto/tink-go/v2/keyset"
)

func Ptr[T any](v T) *T {
	return &v
}

// Signer mints ES256 JWTs with a fresh tink keyset.
type Signer struct {
	handle *keyset.Handle
}

func NewSigner(t testing.TB) *Signer {
	t.Helper()
	h, err := keyset.NewHandle(jwt.ES256Template())
	if err != nil {
		t.Fatalf("creating handle: %v", err)
	}
	return &Signer{handle: h}
}

// Sign signs raw, failing the test on error.
func (s *Signer) Sign(t testing.TB, raw *jwt.RawJWT) string {
	t.Helper()
	compact, err := s.sign(raw)
	if err != nil {
		t.Fatal(err)
	}
	return compact
}

func (s *Signer) sign(raw *jwt.RawJWT) (string, error) {
	signer, err := jwt.NewSigner(s.handle)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}
	compact, err := signer.SignAndEncode(raw)
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return compact, nil
}

// IDToken mints an ID token for the issuer and audience, with any extra
// custom claims merged in. It calls t.Fatal, so it must run on the test
// goroutine; handlers use MintIDToken.
func (s *Signer) IDToken(t testing.TB, issuer, audience, subject string, custom map[string]any) string {
	t.Helper()
	compact, err := s.MintIDToken(issuer, audience, subject, custom)
	if err != nil {
		t.Fatal(err)
	}
	return compact
}

// MintIDToken is IDToken returning the error. String slices in custom are
// converted to the []any tink requires.
func (s *Signer) MintIDToken(issuer, audience, subject string, custom map[string]any) (string, error) {
	now := time.Now()
	raw, err := jwt.NewRawJWT(&jwt.RawJWTOptions{
		Issuer:       &issuer,
		Audience:     &audience,
		Subject:      &subject,
		IssuedAt:     &now,
		ExpiresAt:    Ptr(now.Add(time.Hour)),
		CustomClaims: claimValues(custom),
	})
	if err != nil {
		return "", fmt.Errorf("creating raw JWT: %w", err)
	}
	return s.sign(raw)
}

func claimValues(custom map[string]any) map[string]any {
	if custom == nil {
		return nil
	}
	out := make(map[string]any, len(custom))
	for k, v := range custom {
		if ss, ok := v.([]string); ok {
			l := make([]any, len(ss))
			for i, e := range ss {
				l[i] = e
			}
			v = l
		}
		out[k] = v
	}
	return out
}

func (s *Signer) JWKS(t testing.TB) []byte {
	t.Helper()
	pub, err := s.handle.Public()
	if err != nil {
		t.Fatalf("creating public handle: %v", err)
	}
	b, err := jwt.JWKSetFromPublicKeysetHandle(pub)
	if err != nil {
		t.Fatalf("encoding JWKS: %v", err)
	}
	return b
}

// OIDCServer is a minimal identity provider: discovery, JWKS, and a token
// endpoint whose behaviour the test controls.
type OIDCServer struct {
	*httptest.Server
	Signer *Signer

	mu sync.Mutex
	// TokenHandler answers POST /oauth/token. The form has been parsed.
	TokenHandler func(w http.ResponseWriter, r *http.Request)
	tokenCalls   int
	// userinfo is served to any bearer token. Nil answers 404.
	userinfo map[string]any
}

func NewOIDCServer(t testing.TB) *OIDCServer {
	t.Helper()
	s := &OIDCServer{Signer: NewSigner(t)}
	jwks := s.Signer.JWKS(t)

	mux := http.NewServeMux()
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                s.Issuer(),
			"authorization_endpoint":                s.URL + "/authorize",
			"token_endpoint":                        s.URL + "/oauth/token",
			"userinfo_endpoint":                     s.URL + "/userinfo",
			"end_session_endpoint":                  s.URL + "/oidc/logout",
			"jwks_uri":                              s.URL + "/.well-known/jwks.json",
			"id_token_signing_alg_values_supported": []string{"ES256"},
			"code_challenge_methods_supported":      []string{"S256"},
		})
	})
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		_, _ = w.Write(jwks)
	})
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.tokenCalls++
		h := s.TokenHandler
		s.mu.Unlock()
		if h == nil {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		h(w, r)
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		info := s.userinfo
		s.mu.Unlock()
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if info == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	})
	return s
}

// SetUserinfo sets the claims the userinfo endpoint returns.
func (s *OIDCServer) SetUserinfo(claims map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfo = claims
}

// Issuer returns the issuer in the trailing-slash form the provider uses.
func (s *OIDCServer) Issuer() string {
	return s.URL + "/"
}

func (s *OIDCServer) TokenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls
}

func (s *OIDCServer) SetTokenHandler(h func(w http.ResponseWriter, r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TokenHandler = h
}

// WriteToken writes an OAuth2 token response.
func WriteToken(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := body["token_type"]; !ok {
		body["token_type"] = "Bearer"
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, fmt.Sprintf("encoding: %v", err), http.StatusInternalServerError)
	}
}
