package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
	"lds.li/ucoclient/internal"
	"lds.li/ucoclient/internal/th"
)

func TestProviderDiscovery(t *testing.T) {
	svr := th.NewOIDCServer(t)

	p, err := DiscoverOIDCProvider(t.Context(), svr.Issuer())
	if err != nil {
		t.Fatal(err)
	}
	if p.Issuer() != svr.Issuer() {
		t.Errorf("issuer: want %s, got %s", svr.Issuer(), p.Issuer())
	}
	if got := p.Endpoint().TokenURL; got != svr.URL+"/oauth/token" {
		t.Errorf("token url: got %s", got)
	}
	if got := p.LogoutURL(); got != svr.URL+"/oidc/logout" {
		t.Errorf("logout url: got %s", got)
	}
}

func TestDiscoveryFailure(t *testing.T) {
	svr := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(svr.Close)

	if _, err := DiscoverOIDCProvider(t.Context(), svr.URL); err == nil {
		t.Fatal("want error discovering from a server without metadata")
	}
}

func TestLogoutURLFallback(t *testing.T) {
	p := &Provider{Metadata: &OIDCProviderMetadata{Issuer: "https://tenant.example.com/"}}
	if got, want := p.LogoutURL(), "https://tenant.example.com/v2/logout"; got != want {
		t.Errorf("want %s, got %s", want, got)
	}
}

func TestVerifyIDToken(t *testing.T) {
	svr := th.NewOIDCServer(t)
	p, err := DiscoverOIDCProvider(t.Context(), svr.Issuer())
	if err != nil {
		t.Fatal(err)
	}

	other := th.NewSigner(t)

	for _, tc := range []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:  "valid",
			token: svr.Signer.IDToken(t, svr.Issuer(), "client-1", "user-1", nil),
		},
		{
			name:    "wrong audience",
			token:   svr.Signer.IDToken(t, svr.Issuer(), "client-2", "user-1", nil),
			wantErr: true,
		},
		{
			name:    "wrong issuer",
			token:   svr.Signer.IDToken(t, "https://elsewhere.example.com/", "client-1", "user-1", nil),
			wantErr: true,
		},
		{
			name:    "unknown key",
			token:   other.IDToken(t, svr.Issuer(), "client-1", "user-1", nil),
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vj, err := p.VerifyIDToken(t.Context(), tc.token, "client-1")
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error, got none")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			sub, err := vj.Subject()
			if err != nil {
				t.Fatal(err)
			}
			if sub != "user-1" {
				t.Errorf("subject: got %s", sub)
			}
		})
	}
}

func TestUserinfo(t *testing.T) {
	type userinfoClaims struct {
		Subject string `json:"sub"`
	}
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": "test-subject", "foo": "bar"})
	}))
	t.Cleanup(svr.Close)

	p := &Provider{
		Metadata: &OIDCProviderMetadata{
			UserinfoEndpoint: svr.URL,
		},
	}

	var got userinfoClaims
	ctx := internal.WithHTTPClient(t.Context(), svr.Client())
	if err := p.Userinfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at-1"}), &got); err != nil {
		t.Fatal(err)
	}
	if got.Subject != "test-subject" {
		t.Errorf("unexpected subject: want test-subject, got %s", got.Subject)
	}
}

func TestUserinfoNotAdvertised(t *testing.T) {
	p := &Provider{Metadata: &OIDCProviderMetadata{}}
	err := p.Userinfo(t.Context(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at-1"}), &struct{}{})
	if !errors.Is(err, ErrNoUserinfo) {
		t.Fatalf("want ErrNoUserinfo, got %v", err)
	}
}
