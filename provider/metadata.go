package provider

// CodeChallengeMethodS256 is the PKCE method we use when the provider
// advertises it.
const CodeChallengeMethodS256 = "S256"

// OIDCProviderMetadata is the subset of the OpenID Connect discovery document
// the client relies on.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type OIDCProviderMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint               string   `json:"end_session_endpoint,omitempty"`
	JWKSURI                          string   `json:"jwks_uri"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported,omitempty"`
}
