// Package workspace resolves the OIDC parameters of a workspace app
// registration from the control-plane API and caches them for CacheTTL.
package workspace

// AuthConfig describes how to validate tokens issued for one workspace.
// Values are immutable; a refresh supersedes the previous value.
type AuthConfig struct {
	ClientID     string
	ScopeID      string
	Issuer       string
	JWKSEndpoint string
}
