// Package identity implements session.IdentityProvider against an OpenID
// Connect provider using the authorization code flow with PKCE and refresh
// tokens.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"lds.li/ucoclient/claims"
	"lds.li/ucoclient/internal"
	"lds.li/ucoclient/provider"
	"lds.li/ucoclient/session"
	"lds.li/ucoclient/tokencache"
)

const loginStateExpiresAfter = 5 * time.Minute

// DefaultScopes are requested on login. offline_access yields the refresh
// token used for silent renewal.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

var (
	// ErrLoginRequired is returned when a token is needed but there is no
	// login, or it can no longer be renewed.
	ErrLoginRequired = errors.New("login required")
	// ErrAudienceMismatch is returned when a token is requested for an
	// audience other than the one the login was made for.
	ErrAudienceMismatch = errors.New("token requested for a different audience")
	// ErrStateMismatch is returned when a callback does not match any
	// in-progress login.
	ErrStateMismatch = errors.New("state did not match")
)

var baseLogAttr = slog.String("component", "identity")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// Client is a single-user identity session. Construct with New, then call
// Init once.
type Client struct {
	// Provider is the discovered OIDC provider. Required.
	Provider *provider.Provider
	// OAuth2Config is used for the auth code flow. Endpoint and Scopes are
	// filled from the provider when empty. Required.
	OAuth2Config *oauth2.Config
	// Audience the login requests access tokens for.
	Audience string
	// RolesClaim is the claim roles are read from.
	RolesClaim string
	// Cache restores and persists the login. Defaults to no caching.
	Cache tokencache.CredentialCache
	// Redirect is invoked with every URL the user agent must visit: the
	// authorization URL on login, the logout URL on logout. Required.
	Redirect func(ctx context.Context, url string) error

	ready     chan struct{}
	readyOnce sync.Once

	// refreshMu serializes token refreshes. mu guards the login state and
	// is never held across network calls.
	refreshMu sync.Mutex

	mu       sync.Mutex
	token    *oauth2.Token
	identity *claims.Identity
	logins   []pendingLogin
}

var _ session.IdentityProvider = (*Client)(nil)

type pendingLogin struct {
	state    string
	verifier string
	returnTo string
	expires  time.Time
}

// New returns a Client for the provider. The oauth2 config's endpoint and
// scopes default from the provider.
func New(p *provider.Provider, cfg *oauth2.Config, audience, rolesClaim string, redirect func(context.Context, string) error) *Client {
	if cfg.Endpoint.AuthURL == "" && cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = p.Endpoint()
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return &Client{
		Provider:     p,
		OAuth2Config: cfg,
		Audience:     audience,
		RolesClaim:   rolesClaim,
		Redirect:     redirect,
	}
}

func (c *Client) readyCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	return c.ready
}

// Init restores a cached login, if any. Initialization is signalled whether
// or not a login was restored, and even if restoring failed.
func (c *Client) Init(ctx context.Context) error {
	defer c.readyOnce.Do(func() { close(c.readyCh()) })

	cached, err := c.cache().Get(c.Provider.Issuer(), c.OAuth2Config.ClientID)
	if err != nil {
		return fmt.Errorf("reading credential cache: %w", err)
	}
	if cached == nil {
		return nil
	}

	id, err := c.verifyIdentity(ctx, cached)
	if err != nil {
		// A stale ID token is expected after a while, the refresh token
		// can still renew it.
		if cached.RefreshToken == "" {
			slog.InfoContext(ctx, "Discarding cached login", baseLogAttr, errAttr(err))
			return c.cache().Set(c.Provider.Issuer(), c.OAuth2Config.ClientID, nil)
		}
		id = nil
	}

	c.mu.Lock()
	c.token = cached
	c.identity = id
	c.mu.Unlock()
	return nil
}

func (c *Client) Initialized() <-chan struct{} {
	return c.readyCh()
}

func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil
}

// Identity returns the user of the current login, or nil.
func (c *Client) Identity() *claims.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Token returns an access token for the login. A valid cached token is
// returned unless ForceRefresh is set; otherwise the refresh token is used.
// Refreshes are serialized, and the login state stays readable while one is
// in flight.
func (c *Client) Token(ctx context.Context, req session.TokenRequest) (*session.Grant, error) {
	if req.Audience != "" && c.Audience != "" && req.Audience != c.Audience {
		return nil, fmt.Errorf("%w: have %q, want %q", ErrAudienceMismatch, c.Audience, req.Audience)
	}

	c.mu.Lock()
	seen := c.token
	if seen == nil {
		c.mu.Unlock()
		return nil, ErrLoginRequired
	}
	if seen.Valid() && !req.ForceRefresh {
		g := c.grant()
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	current := c.token
	switch {
	case current == nil:
		c.mu.Unlock()
		return nil, ErrLoginRequired
	case current != seen && current.Valid():
		// Renewed, or logged in again, while we waited.
		g := c.grant()
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: access token expired and no refresh token", ErrLoginRequired)
	}

	stale := *current
	// An expiry in the past makes the token source refresh even when the
	// access token has not expired yet.
	stale.Expiry = time.Unix(1, 0)
	ctx = internal.WithHTTPClient(ctx, c.Provider.HTTPClient)
	nt, err := c.OAuth2Config.TokenSource(ctx, &stale).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %w", ErrLoginRequired, err)
		}
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	var id *claims.Identity
	if _, ok := nt.Extra("id_token").(string); ok {
		if id, err = c.verifyIdentity(ctx, nt); err != nil {
			return nil, fmt.Errorf("verifying refreshed id_token: %w", err)
		}
		c.completeProfile(ctx, id, nt)
	} else {
		nt = nt.WithExtra(map[string]any{"id_token": current.Extra("id_token")})
	}

	c.mu.Lock()
	if c.token != current {
		// Logged out or logged in again during the refresh.
		var g *session.Grant
		if c.token != nil {
			g = c.grant()
		}
		c.mu.Unlock()
		if g == nil {
			return nil, ErrLoginRequired
		}
		return g, nil
	}
	c.token = nt
	if id != nil {
		c.identity = id
	}
	g := c.grant()
	c.mu.Unlock()

	if err := c.cache().Set(c.Provider.Issuer(), c.OAuth2Config.ClientID, nt); err != nil {
		slog.WarnContext(ctx, "Failed to cache refreshed token", baseLogAttr, errAttr(err))
	}
	return g, nil
}

// grant must be called with mu held.
func (c *Client) grant() *session.Grant {
	return &session.Grant{
		AccessToken: c.token.AccessToken,
		Expiry:      c.token.Expiry,
		Identity:    c.identity,
	}
}

// Login starts an authorization code flow. The user agent is redirected to
// the provider, and HandleCallback returns returnTo once it completes.
func (c *Client) Login(ctx context.Context, returnTo string) error {
	authURL := c.AuthCodeURL(returnTo)
	if c.Redirect == nil {
		return fmt.Errorf("no redirect handler configured")
	}
	return c.Redirect(ctx, authURL)
}

// AuthCodeURL registers a pending login and returns the URL to send the
// user agent to.
func (c *Client) AuthCodeURL(returnTo string) string {
	var (
		state    = rand.Text()
		verifier string
		opts     []oauth2.AuthCodeOption
	)
	if c.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", c.Audience))
	}
	if slices.Contains(c.Provider.CodeChallengeMethodsSupported(), provider.CodeChallengeMethodS256) {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	now := time.Now()
	c.mu.Lock()
	c.logins = slices.DeleteFunc(c.logins, func(l pendingLogin) bool {
		return now.After(l.expires)
	})
	c.logins = append(c.logins, pendingLogin{
		state:    state,
		verifier: verifier,
		returnTo: returnTo,
		expires:  now.Add(loginStateExpiresAfter),
	})
	c.mu.Unlock()

	return c.OAuth2Config.AuthCodeURL(state, opts...)
}

// HandleCallback completes a login from the query of the redirect back from
// the provider. It returns where the user should be sent next.
func (c *Client) HandleCallback(ctx context.Context, query url.Values) (string, error) {
	if qerr := query.Get("error"); qerr != "" {
		return "", fmt.Errorf("%s: %s", qerr, query.Get("error_description"))
	}
	state, code := query.Get("state"), query.Get("code")
	if state == "" || code == "" {
		return "", fmt.Errorf("callback missing state or code")
	}

	now := time.Now()
	c.mu.Lock()
	idx := slices.IndexFunc(c.logins, func(l pendingLogin) bool {
		return l.state == state && !now.After(l.expires)
	})
	var login pendingLogin
	if idx >= 0 {
		login = c.logins[idx]
		c.logins = slices.Delete(c.logins, idx, idx+1)
	}
	c.mu.Unlock()
	if idx < 0 {
		return "", ErrStateMismatch
	}

	var opts []oauth2.AuthCodeOption
	if login.verifier != "" {
		opts = append(opts, oauth2.VerifierOption(login.verifier))
	}
	ctx = internal.WithHTTPClient(ctx, c.Provider.HTTPClient)
	token, err := c.OAuth2Config.Exchange(ctx, code, opts...)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}
	id, err := c.verifyIdentity(ctx, token)
	if err != nil {
		return "", fmt.Errorf("verifying id_token failed: %w", err)
	}
	c.completeProfile(ctx, id, token)

	c.mu.Lock()
	c.token = token
	c.identity = id
	c.mu.Unlock()

	if err := c.cache().Set(c.Provider.Issuer(), c.OAuth2Config.ClientID, token); err != nil {
		slog.WarnContext(ctx, "Failed to cache login", baseLogAttr, errAttr(err))
	}
	slog.InfoContext(ctx, "Login completed", baseLogAttr, slog.String("sub", id.Subject))

	if login.returnTo == "" {
		return "/", nil
	}
	return login.returnTo, nil
}

// Logout drops the login and redirects the user agent to the provider's
// logout endpoint, which returns to returnTo.
func (c *Client) Logout(ctx context.Context, returnTo string) error {
	c.mu.Lock()
	c.token = nil
	c.identity = nil
	c.mu.Unlock()

	if err := c.cache().Set(c.Provider.Issuer(), c.OAuth2Config.ClientID, nil); err != nil {
		slog.WarnContext(ctx, "Failed to clear cached login", baseLogAttr, errAttr(err))
	}
	if c.Redirect == nil {
		return nil
	}
	return c.Redirect(ctx, c.LogoutURL(returnTo))
}

// LogoutURL returns the provider logout URL for this client.
func (c *Client) LogoutURL(returnTo string) string {
	u, err := url.Parse(c.Provider.LogoutURL())
	if err != nil {
		return c.Provider.LogoutURL()
	}
	q := u.Query()
	q.Set("client_id", c.OAuth2Config.ClientID)
	if returnTo != "" {
		q.Set("returnTo", returnTo)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) verifyIdentity(ctx context.Context, token *oauth2.Token) (*claims.Identity, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("no id_token found in token")
	}
	vj, err := c.Provider.VerifyIDToken(ctx, raw, c.OAuth2Config.ClientID)
	if err != nil {
		return nil, err
	}
	payload, err := vj.JSONPayload()
	if err != nil {
		return nil, fmt.Errorf("reading id_token payload: %w", err)
	}
	return claims.ParseIdentity(payload, c.RolesClaim)
}

// completeProfile fills profile fields the ID token left out from the
// provider's userinfo endpoint. Failures only cost the missing fields.
func (c *Client) completeProfile(ctx context.Context, id *claims.Identity, token *oauth2.Token) {
	if id.Email != "" && id.Name != "" && id.Picture != "" {
		return
	}
	var info claims.Identity
	err := c.Provider.Userinfo(internal.WithHTTPClient(ctx, c.Provider.HTTPClient), oauth2.StaticTokenSource(token), &info)
	switch {
	case errors.Is(err, provider.ErrNoUserinfo):
		return
	case err != nil:
		slog.WarnContext(ctx, "Userinfo lookup failed", baseLogAttr, errAttr(err))
		return
	case info.Subject != id.Subject:
		slog.WarnContext(ctx, "Userinfo subject does not match the ID token", baseLogAttr, slog.String("sub", id.Subject))
		return
	}
	if id.Email == "" {
		id.Email, id.EmailVerified = info.Email, info.EmailVerified
	}
	if id.Name == "" {
		id.Name = info.Name
	}
	if id.Nickname == "" {
		id.Nickname = info.Nickname
	}
	if id.Picture == "" {
		id.Picture = info.Picture
	}
}

func (c *Client) cache() tokencache.CredentialCache {
	if c.Cache == nil {
		return &tokencache.NullCredentialCache{}
	}
	return c.Cache
}
