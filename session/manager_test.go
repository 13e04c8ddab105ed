package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lds.li/ucoclient/claims"
	"lds.li/ucoclient/session"
	"lds.li/ucoclient/session/sessiontest"
)

func grantWithRoles(token string, roles ...string) func(context.Context, session.TokenRequest) (*session.Grant, error) {
	return func(context.Context, session.TokenRequest) (*session.Grant, error) {
		return &session.Grant{
			AccessToken: token,
			Identity:    &claims.Identity{Subject: "user-1", Roles: roles},
		}, nil
	}
}

func TestFetchAndSetTokenRoles(t *testing.T) {
	for _, tc := range []struct {
		name     string
		roles    []string
		has      []string
		hasNot   []string
		wantList []string
	}{
		{
			name:     "explicit roles",
			roles:    []string{"admin", "client"},
			has:      []string{"admin", "client"},
			hasNot:   []string{"manager"},
			wantList: []string{"admin", "client"},
		},
		{
			name:     "no roles claim defaults to client",
			has:      []string{"client"},
			hasNot:   []string{"admin"},
			wantList: []string{claims.DefaultRole},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := sessiontest.New(true)
			p.TokenFunc = grantWithRoles("at-1", tc.roles...)
			m := session.NewManager(p, "https://api.example.com/")

			tok, err := m.FetchAndSetToken(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if tok != "at-1" {
				t.Errorf("token: got %q", tok)
			}
			if cached, ok := m.Token(); !ok || cached != "at-1" {
				t.Errorf("cached token: got %q, %v", cached, ok)
			}
			for _, r := range tc.has {
				if !m.HasRole(r) {
					t.Errorf("want role %s", r)
				}
			}
			for _, r := range tc.hasNot {
				if m.HasRole(r) {
					t.Errorf("did not want role %s", r)
				}
			}
			if diff := cmp.Diff(tc.wantList, m.Roles()); diff != "" {
				t.Errorf("roles (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]session.TokenRequest{{Audience: "https://api.example.com/"}}, p.TokenCalls()); diff != "" {
				t.Errorf("token requests (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchAndSetTokenNilIdentity(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = func(context.Context, session.TokenRequest) (*session.Grant, error) {
		return &session.Grant{AccessToken: "at-1"}, nil
	}
	m := session.NewManager(p, "aud")
	if _, err := m.FetchAndSetToken(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !m.HasRole(claims.DefaultRole) || len(m.Roles()) != 1 {
		t.Errorf("want only the default role, got %v", m.Roles())
	}
}

func TestFetchAndSetTokenFailureKeepsState(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = grantWithRoles("at-1", "admin")
	m := session.NewManager(p, "aud")
	if _, err := m.FetchAndSetToken(t.Context()); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("login_required")
	p.TokenFunc = func(context.Context, session.TokenRequest) (*session.Grant, error) {
		return nil, wantErr
	}
	if _, err := m.FetchAndSetToken(t.Context(), session.ForceRefresh()); !errors.Is(err, wantErr) {
		t.Fatalf("want wrapped provider error, got %v", err)
	}
	if tok, _ := m.Token(); tok != "at-1" {
		t.Errorf("token must survive a failed fetch, got %q", tok)
	}
	if !m.HasRole("admin") {
		t.Error("roles must survive a failed fetch")
	}
	calls := p.TokenCalls()
	if !calls[len(calls)-1].ForceRefresh {
		t.Error("ForceRefresh was not passed to the provider")
	}
	if len(p.Logouts()) != 0 {
		t.Error("a failed fetch must not log out")
	}
}

func TestSetTokenAndClear(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = grantWithRoles("at-1", "admin")
	m := session.NewManager(p, "aud", session.WithLogoutReturnTo("http://localhost:8085"))
	if _, err := m.FetchAndSetToken(t.Context()); err != nil {
		t.Fatal(err)
	}

	m.SetToken("manual")
	if tok, _ := m.Token(); tok != "manual" {
		t.Errorf("SetToken: got %q", tok)
	}

	if err := m.Clear(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Token(); ok {
		t.Error("token not cleared")
	}
	if m.HasRole("admin") || len(m.Roles()) != 0 {
		t.Errorf("roles not cleared: %v", m.Roles())
	}
	if m.Identity() != nil {
		t.Error("identity not cleared")
	}
	if diff := cmp.Diff([]string{"http://localhost:8085"}, p.Logouts()); diff != "" {
		t.Errorf("logouts (-want +got):\n%s", diff)
	}
	if m.IsAuthenticated() {
		t.Error("provider still authenticated after clear")
	}
}

func TestHasAnyRole(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = grantWithRoles("at-1", "manager")
	m := session.NewManager(p, "aud")
	if _, err := m.FetchAndSetToken(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !m.HasAnyRole("admin", "manager") {
		t.Error("want match on any role")
	}
	if m.HasAnyRole("admin") || m.HasAnyRole() {
		t.Error("unexpected role match")
	}
}

func TestLoginDelegates(t *testing.T) {
	p := sessiontest.New(false)
	m := session.NewManager(p, "aud")
	if err := m.Login(t.Context(), "/dashboard"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/dashboard"}, p.Logins()); diff != "" {
		t.Errorf("logins (-want +got):\n%s", diff)
	}
}
