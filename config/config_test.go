package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		want    *Config
		missing []string
	}{
		{
			name: "required only",
			env: map[string]string{
				EnvDomain:   "tenant.example.com",
				EnvClientID: "client-1",
				EnvAudience: "https://api.example.com/",
			},
			want: &Config{
				Domain:      "tenant.example.com",
				ClientID:    "client-1",
				Audience:    "https://api.example.com/",
				APIBaseURL:  DefaultAPIURL,
				APITimeout:  DefaultAPITimeout,
				RedirectURL: DefaultRedirectURL,
				RolesClaim:  DefaultRolesClaim,
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				EnvDomain:      "tenant.example.com",
				EnvClientID:    "client-1",
				EnvAudience:    "aud",
				EnvAPIURL:      "http://localhost:8090",
				EnvAPITimeout:  "3s",
				EnvRedirectURL: "http://localhost:9000/callback",
				EnvRolesClaim:  "roles",
			},
			want: &Config{
				Domain:      "tenant.example.com",
				ClientID:    "client-1",
				Audience:    "aud",
				APIBaseURL:  "http://localhost:8090",
				APITimeout:  3 * time.Second,
				RedirectURL: "http://localhost:9000/callback",
				RolesClaim:  "roles",
			},
		},
		{
			name:    "nothing set",
			env:     map[string]string{},
			missing: []string{EnvDomain, EnvClientID, EnvAudience},
		},
		{
			name: "blank counts as missing",
			env: map[string]string{
				EnvDomain:   "tenant.example.com",
				EnvClientID: "   ",
				EnvAudience: "aud",
			},
			missing: []string{EnvClientID},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Load(mapLookup(tc.env))
			if len(tc.missing) > 0 {
				if err == nil {
					t.Fatal("want error, got none")
				}
				if !errors.Is(err, ErrMissingEnv) {
					t.Errorf("error %v does not match ErrMissingEnv", err)
				}
				var keys []string
				for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
					var me *MissingEnvError
					if errors.As(e, &me) {
						keys = append(keys, me.Key)
					}
				}
				if diff := cmp.Diff(tc.missing, keys); diff != "" {
					t.Errorf("missing keys (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("config (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadBadTimeout(t *testing.T) {
	_, err := Load(mapLookup(map[string]string{
		EnvDomain:     "d",
		EnvClientID:   "c",
		EnvAudience:   "a",
		EnvAPITimeout: "soon",
	}))
	if err == nil {
		t.Fatal("want error for unparseable timeout")
	}
	if errors.Is(err, ErrMissingEnv) {
		t.Errorf("timeout error should not be reported as missing env: %v", err)
	}
}

func TestIssuer(t *testing.T) {
	for in, want := range map[string]string{
		"tenant.example.com":          "https://tenant.example.com/",
		"tenant.example.com/":         "https://tenant.example.com/",
		"http://localhost:1234":       "http://localhost:1234/",
		"https://tenant.example.com/": "https://tenant.example.com/",
	} {
		c := &Config{Domain: in}
		if got := c.Issuer(); got != want {
			t.Errorf("Issuer(%q) = %q, want %q", in, got, want)
		}
	}
}
