package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultAuthorityURL is the Microsoft identity platform login host.
const DefaultAuthorityURL = "https://login.microsoftonline.com"

// Authority derives tenant-scoped identity provider endpoints from an
// authority base URL such as https://login.microsoftonline.com.
type Authority struct {
	BaseURL string
}

// NewAuthority returns an Authority for baseURL. An empty baseURL yields
// DefaultAuthorityURL.
func NewAuthority(baseURL string) Authority {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAuthorityURL
	}
	return Authority{BaseURL: baseURL}
}

// Issuer returns the v2.0 token issuer for tenant.
func (a Authority) Issuer(tenant string) string {
	return fmt.Sprintf("%s/%s/v2.0", a.base(), url.PathEscape(tenant))
}

// JWKSURL returns the signing-key document URL for tenant.
func (a Authority) JWKSURL(tenant string) string {
	return fmt.Sprintf("%s/%s/discovery/v2.0/keys", a.base(), url.PathEscape(tenant))
}

// TokenURL returns the v2.0 token endpoint for tenant.
func (a Authority) TokenURL(tenant string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", a.base(), url.PathEscape(tenant))
}

// AuthorizeURL returns the v2.0 authorization endpoint for tenant.
func (a Authority) AuthorizeURL(tenant string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", a.base(), url.PathEscape(tenant))
}

func (a Authority) base() string {
	return strings.TrimRight(a.BaseURL, "/")
}

// ImpersonationScope is the delegated scope requested when exchanging a
// code for a token against a workspace app registration.
func ImpersonationScope(clientID string) string {
	return fmt.Sprintf("api://%s/user_impersonation", clientID)
}
