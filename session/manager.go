// Package session holds the process-wide authentication state: the current
// access token and the role set derived from the identity claims.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"lds.li/ucoclient/claims"
)

var baseLogAttr = slog.String("component", "session")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// TokenRequest describes the access token being asked for.
type TokenRequest struct {
	// Audience the token must be scoped to.
	Audience string
	// ForceRefresh skips any cached access token and mints a new one.
	ForceRefresh bool
}

// Grant is the result of a successful token request.
type Grant struct {
	AccessToken string
	Expiry      time.Time
	// Identity is decoded from the ID token that accompanied the grant. It
	// may be nil if the provider returned none.
	Identity *claims.Identity
}

// IdentityProvider is the session/token capability of the identity provider.
type IdentityProvider interface {
	// Initialized is closed once the provider has finished restoring any
	// existing session.
	Initialized() <-chan struct{}
	// IsAuthenticated reports whether the provider holds a login.
	IsAuthenticated() bool
	// Token returns an access token for the request.
	Token(ctx context.Context, req TokenRequest) (*Grant, error)
	// Login starts a redirect-based login that resumes at returnTo.
	Login(ctx context.Context, returnTo string) error
	// Logout ends the provider session and redirects to returnTo.
	Logout(ctx context.Context, returnTo string) error
}

// Manager is the single owner of the cached token and role set. Other
// components read through its accessors.
type Manager struct {
	provider       IdentityProvider
	audience       string
	logoutReturnTo string

	mu       sync.RWMutex
	token    string
	roles    []string
	identity *claims.Identity
}

type Option func(*Manager)

// WithLogoutReturnTo sets where the provider sends the user after Clear.
func WithLogoutReturnTo(url string) Option {
	return func(m *Manager) {
		m.logoutReturnTo = url
	}
}

// NewManager returns a Manager requesting tokens for audience from p.
func NewManager(p IdentityProvider, audience string, opts ...Option) *Manager {
	m := &Manager{
		provider: p,
		audience: audience,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Token returns the cached access token. It never touches the network.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// SetToken overwrites the cached token. An empty token clears it.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

type fetchOpts struct {
	force bool
}

type FetchOption func(*fetchOpts)

// ForceRefresh makes FetchAndSetToken bypass the provider's cached token.
func ForceRefresh() FetchOption {
	return func(o *fetchOpts) {
		o.force = true
	}
}

// FetchAndSetToken asks the provider for a token for the configured audience.
// On success the token is cached and the role set recomputed from the
// identity claims. On failure the cached state is left untouched.
func (m *Manager) FetchAndSetToken(ctx context.Context, opts ...FetchOption) (string, error) {
	var fo fetchOpts
	for _, o := range opts {
		o(&fo)
	}

	g, err := m.provider.Token(ctx, TokenRequest{Audience: m.audience, ForceRefresh: fo.force})
	if err != nil {
		slog.WarnContext(ctx, "Failed to obtain access token", baseLogAttr, errAttr(err))
		return "", fmt.Errorf("fetching access token: %w", err)
	}
	if g == nil || g.AccessToken == "" {
		return "", fmt.Errorf("fetching access token: provider returned an empty token")
	}

	roles := g.Identity.EffectiveRoles()

	m.mu.Lock()
	m.token = g.AccessToken
	m.roles = roles
	if g.Identity != nil {
		m.identity = g.Identity
	}
	m.mu.Unlock()

	slog.DebugContext(ctx, "Access token obtained", baseLogAttr, slog.Any("roles", roles))
	return g.AccessToken, nil
}

// HasRole reports whether name is in the cached role set.
func (m *Manager) HasRole(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.roles, name)
}

// HasAnyRole reports whether any of names is in the cached role set.
func (m *Manager) HasAnyRole(names ...string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.ContainsFunc(names, func(n string) bool {
		return slices.Contains(m.roles, n)
	})
}

// Roles returns a copy of the cached role set.
func (m *Manager) Roles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.roles)
}

// Identity returns the user last seen in a token grant, or nil.
func (m *Manager) Identity() *claims.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Clear wipes the token and roles, then logs out of the provider. The local
// state is cleared even if the logout fails.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.roles = nil
	m.identity = nil
	m.mu.Unlock()

	if err := m.provider.Logout(ctx, m.logoutReturnTo); err != nil {
		slog.ErrorContext(ctx, "Provider logout failed", baseLogAttr, errAttr(err))
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

func (m *Manager) IsAuthenticated() bool {
	return m.provider.IsAuthenticated()
}

func (m *Manager) Initialized() <-chan struct{} {
	return m.provider.Initialized()
}

// Login starts the provider's login redirect, resuming at returnTo.
func (m *Manager) Login(ctx context.Context, returnTo string) error {
	return m.provider.Login(ctx, returnTo)
}
