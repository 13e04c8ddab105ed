// Package provider discovers an OpenID Connect provider and verifies the ID
// tokens it issues.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tink-crypto/tink-go/v2/jwt"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"golang.org/x/oauth2"
	"lds.li/ucoclient/internal"
)

const DefaultCacheDuration = 10 * time.Minute

// ErrNoUserinfo is returned by Userinfo when the provider advertises no
// userinfo endpoint.
var ErrNoUserinfo = errors.New("provider has no userinfo endpoint")

type Provider struct {
	Metadata      *OIDCProviderMetadata
	HTTPClient    *http.Client
	CacheDuration time.Duration

	cacheMu          sync.Mutex
	cacheLastFetched time.Time
	cachedHandle     *keyset.Handle

	oidcDiscoveryURL string
}

// Issuer returns the issuer URL tokens from this provider must carry.
func (p *Provider) Issuer() string {
	return p.Metadata.Issuer
}

// Endpoint returns the OAuth2 endpoint configuration for this provider.
func (p *Provider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  p.Metadata.AuthorizationEndpoint,
		TokenURL: p.Metadata.TokenEndpoint,
	}
}

// CodeChallengeMethodsSupported returns the advertised PKCE methods.
func (p *Provider) CodeChallengeMethodsSupported() []string {
	return p.Metadata.CodeChallengeMethodsSupported
}

// LogoutURL returns the URL that ends the provider session. Providers that do
// not advertise an end_session_endpoint get the /v2/logout path on the issuer
// host.
func (p *Provider) LogoutURL() string {
	if p.Metadata.EndSessionEndpoint != "" {
		return p.Metadata.EndSessionEndpoint
	}
	return strings.TrimSuffix(p.Metadata.Issuer, "/") + "/v2/logout"
}

func (p *Provider) JWKSHandle(ctx context.Context) (*keyset.Handle, error) {
	if err := p.refreshIfNeeded(ctx); err != nil {
		return nil, err
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.cachedHandle, nil
}

// VerifyIDToken verifies the compact ID token was issued by this provider for
// clientID, and returns the verified token.
func (p *Provider) VerifyIDToken(ctx context.Context, compact, clientID string) (*jwt.VerifiedJWT, error) {
	validator, err := jwt.NewValidator(&jwt.ValidatorOpts{
		ExpectedIssuer:   &p.Metadata.Issuer,
		ExpectedAudience: &clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tink validator: %w", err)
	}
	return p.verifyAndDecode(ctx, compact, validator)
}

func (p *Provider) verifyAndDecode(ctx context.Context, compact string, validator *jwt.Validator) (*jwt.VerifiedJWT, error) {
	handle, err := p.JWKSHandle(ctx)
	if err != nil {
		return nil, err
	}
	verif, err := jwt.NewVerifier(handle)
	if err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}
	vj, err := verif.VerifyAndDecode(compact, validator)
	if err != nil {
		return nil, err
	}
	iss, err := vj.Issuer()
	if err != nil {
		return nil, fmt.Errorf("getting issuer: %w", err)
	}
	if iss != p.Metadata.Issuer {
		return nil, fmt.Errorf("invalid issuer: got %q, want %q", iss, p.Metadata.Issuer)
	}
	return vj, nil
}

// Userinfo fetches the userinfo endpoint with the access token from ts and
// decodes the claims into into.
func (p *Provider) Userinfo(ctx context.Context, ts oauth2.TokenSource, into any) error {
	if p.Metadata.UserinfoEndpoint == "" {
		return ErrNoUserinfo
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("getting token for userinfo: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Metadata.UserinfoEndpoint, nil)
	if err != nil {
		return fmt.Errorf("creating userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	res, err := internal.HTTPClientFromContext(ctx, p.HTTPClient).Do(req)
	if err != nil {
		return fmt.Errorf("fetching userinfo: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo: unexpected status %d", res.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type")); mt != "application/json" {
		return fmt.Errorf("userinfo: unexpected content type %q", res.Header.Get("Content-Type"))
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding userinfo: %w", err)
	}
	return nil
}
