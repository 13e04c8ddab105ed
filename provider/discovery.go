package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tink-crypto/tink-go/v2/jwt"
	"lds.li/ucoclient/internal"
)

// DiscoverOIDCProvider fetches the discovery document and signing keys for
// issuer. The issuer may be given with or without a trailing slash.
func DiscoverOIDCProvider(ctx context.Context, issuer string) (*Provider, error) {
	p := &Provider{
		oidcDiscoveryURL: strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration",
		HTTPClient:       internal.HTTPClientFromContext(ctx, nil),
	}

	if err := p.refreshIfNeeded(ctx); err != nil {
		return nil, fmt.Errorf("error performing initial metadata discovery: %w", err)
	}

	return p, nil
}

var validJWKSContentTypes = []string{
	"application/json",
	"application/jwk-set+json",
}

func (p *Provider) refreshIfNeeded(ctx context.Context) error {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	cacheFor := p.CacheDuration
	if cacheFor == 0 {
		cacheFor = DefaultCacheDuration
	}

	if !p.cacheLastFetched.IsZero() && time.Since(p.cacheLastFetched) < cacheFor {
		return nil
	}

	hc := internal.HTTPClientFromContext(ctx, p.HTTPClient)

	// Discovery metadata is fetched once; later refreshes only rotate keys, so
	// readers of Metadata never race a replacement.
	if p.oidcDiscoveryURL != "" && p.Metadata == nil {
		res, err := get(ctx, hc, p.oidcDiscoveryURL, []string{"application/json"})
		if err != nil {
			return fmt.Errorf("failed to get discovery metadata: %w", err)
		}
		defer func() { _ = res.Body.Close() }()

		var md OIDCProviderMetadata
		if err := json.NewDecoder(res.Body).Decode(&md); err != nil {
			return fmt.Errorf("error decoding discovery metadata response: %w", err)
		}
		p.Metadata = &md
	}
	if p.Metadata == nil || p.Metadata.JWKSURI == "" {
		return fmt.Errorf("provider metadata has no jwks_uri")
	}

	res, err := get(ctx, hc, p.Metadata.JWKSURI, validJWKSContentTypes)
	if err != nil {
		return fmt.Errorf("failed to get keys: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	jwksb, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading JWKS body: %w", err)
	}
	handle, err := jwt.JWKSetToPublicKeysetHandle(jwksb)
	if err != nil {
		return fmt.Errorf("creating public keyset handle from JWKS: %w", err)
	}

	p.cachedHandle = handle
	p.cacheLastFetched = time.Now()

	return nil
}

// get issues a GET and checks the status and content type. The caller closes
// the body.
func get(ctx context.Context, hc *http.Client, url string, contentTypes []string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("expected status %d from %s, got: %d", http.StatusOK, url, res.StatusCode)
	}
	mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if !slices.Contains(contentTypes, mt) {
		_ = res.Body.Close()
		return nil, fmt.Errorf("expected content type %s from %s, got: %s", strings.Join(contentTypes, ", "), url, res.Header.Get("Content-Type"))
	}
	return res, nil
}
