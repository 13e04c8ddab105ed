// Package config loads and validates the environment configuration the client
// needs at startup. Missing required values are reported before anything else
// is constructed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	EnvDomain      = "AUTH0_DOMAIN"
	EnvClientID    = "AUTH0_CLIENT_ID"
	EnvAudience    = "AUTH0_AUDIENCE"
	EnvAPIURL      = "API_URL"
	EnvAPITimeout  = "API_TIMEOUT"
	EnvRedirectURL = "AUTH0_REDIRECT_URL"
	EnvRolesClaim  = "ROLES_CLAIM"
)

const (
	DefaultAPIURL      = "https://localhost:8443/uco-challenge"
	DefaultAPITimeout  = 10 * time.Second
	DefaultRedirectURL = "http://localhost:8085/callback"
	// DefaultRolesClaim is the namespaced claim the identity provider writes
	// the user's roles to.
	DefaultRolesClaim = "https://api-uco-challenge.com/roles"
)

// ErrMissingEnv is matched by every MissingEnvError.
var ErrMissingEnv = errors.New("missing required environment variable")

// MissingEnvError reports a required variable that is unset or blank.
type MissingEnvError struct {
	Key string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingEnv.Error(), e.Key)
}

func (e *MissingEnvError) Is(target error) bool {
	return target == ErrMissingEnv
}

// Config is the validated runtime configuration.
type Config struct {
	// Domain of the identity provider tenant, without scheme.
	Domain string
	// ClientID registered with the identity provider.
	ClientID string
	// Audience access tokens are requested for.
	Audience string
	// APIBaseURL is prefixed to every API request path.
	APIBaseURL string
	// APITimeout bounds each API request.
	APITimeout time.Duration
	// RedirectURL is where the identity provider returns after login.
	RedirectURL string
	// RolesClaim is the claim key roles are read from.
	RolesClaim string
}

// Issuer returns the OIDC issuer URL for the configured domain.
func (c *Config) Issuer() string {
	d := strings.TrimSuffix(c.Domain, "/")
	if !strings.HasPrefix(d, "https://") && !strings.HasPrefix(d, "http://") {
		d = "https://" + d
	}
	return d + "/"
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config using lookup to resolve variables. Every missing
// required variable is reported in the returned error.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	var errs []error
	require := func(key string) string {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			errs = append(errs, &MissingEnvError{Key: key})
			return ""
		}
		return strings.TrimSpace(v)
	}
	optional := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		Domain:      require(EnvDomain),
		ClientID:    require(EnvClientID),
		Audience:    require(EnvAudience),
		APIBaseURL:  optional(EnvAPIURL, DefaultAPIURL),
		APITimeout:  DefaultAPITimeout,
		RedirectURL: optional(EnvRedirectURL, DefaultRedirectURL),
		RolesClaim:  optional(EnvRolesClaim, DefaultRolesClaim),
	}

	if raw := optional(EnvAPITimeout, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", EnvAPITimeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", EnvAPITimeout, d))
		} else {
			cfg.APITimeout = d
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
