// Package sessiontest provides an in-memory session.IdentityProvider for
// tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"lds.li/ucoclient/session"
)

// Provider is a scripted identity provider. TokenFunc decides the outcome of
// each Token call; calls and redirects are recorded.
type Provider struct {
	TokenFunc func(ctx context.Context, req session.TokenRequest) (*session.Grant, error)

	mu            sync.Mutex
	authenticated bool
	ready         chan struct{}
	readyOnce     sync.Once
	tokenCalls    []session.TokenRequest
	logins        []string
	logouts       []string
}

// New returns a provider that is already initialized.
func New(authenticated bool) *Provider {
	p := NewPending(authenticated)
	p.MarkInitialized()
	return p
}

// NewPending returns a provider whose initialization has not completed.
func NewPending(authenticated bool) *Provider {
	return &Provider{
		authenticated: authenticated,
		ready:         make(chan struct{}),
	}
}

func (p *Provider) MarkInitialized() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Provider) SetAuthenticated(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = v
}

func (p *Provider) Initialized() <-chan struct{} {
	return p.ready
}

func (p *Provider) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

func (p *Provider) Token(ctx context.Context, req session.TokenRequest) (*session.Grant, error) {
	p.mu.Lock()
	p.tokenCalls = append(p.tokenCalls, req)
	fn := p.TokenFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, errors.New("sessiontest: no TokenFunc set")
	}
	return fn(ctx, req)
}

func (p *Provider) Login(ctx context.Context, returnTo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, returnTo)
	return nil
}

func (p *Provider) Logout(ctx context.Context, returnTo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = false
	p.logouts = append(p.logouts, returnTo)
	return nil
}

func (p *Provider) TokenCalls() []session.TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.TokenRequest(nil), p.tokenCalls...)
}

func (p *Provider) Logins() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logins...)
}

func (p *Provider) Logouts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logouts...)
}
