// Package claims decodes the identity claims the client consumes from ID
// tokens.
package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// DefaultRole is assigned when a token carries no role claim. It grants no
// elevated access.
const DefaultRole = "client"

// Identity is the typed view of the user the ID token describes.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Picture       string `json:"picture,omitempty"`
	// Roles as present in the token, empty if the claim was absent.
	Roles Roles `json:"-"`
}

// EffectiveRoles returns the token's roles, or just DefaultRole when it
// carried none. The result is never empty.
func (i *Identity) EffectiveRoles() []string {
	if i == nil || len(i.Roles) == 0 {
		return []string{DefaultRole}
	}
	return slices.Clone(i.Roles)
}

// Roles is a role claim. Providers emit either a single string or a list of
// strings; both decode to a list. Blank entries are dropped.
type Roles []string

func (r *Roles) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = compact([]string{s})
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return fmt.Errorf("role claim must be a string or list of strings: %w", err)
	}
	*r = compact(l)
	return nil
}

func compact(in []string) Roles {
	var out Roles
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ParseIdentity decodes a JSON claims payload. Roles are read from
// rolesClaim, which is usually a namespaced URL.
func ParseIdentity(payload []byte, rolesClaim string) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		return nil, fmt.Errorf("decoding identity claims: %w", err)
	}
	if rolesClaim == "" {
		return &id, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decoding identity claims: %w", err)
	}
	if rc, ok := raw[rolesClaim]; ok {
		if err := json.Unmarshal(rc, &id.Roles); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", rolesClaim, err)
		}
	}
	return &id, nil
}
