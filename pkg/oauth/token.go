package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles accepted by HasAuthorizedRole.
const (
	RoleWorkspaceOwner      = "WorkspaceOwner"
	RoleWorkspaceResearcher = "WorkspaceResearcher"
	RoleAirlockManager      = "AirlockManager"
)

// AuthorizedRoles lists the roles that grant gateway access.
var AuthorizedRoles = []string{
	RoleWorkspaceOwner,
	RoleWorkspaceResearcher,
	RoleAirlockManager,
}

// TokenClaims represents claims extracted from a token. Values are derived
// per call and never persisted.
type TokenClaims struct {
	// Subject is the subject identifier.
	Subject string

	// Issuer is the token issuer.
	Issuer string

	// Audience is the intended audience for this token.
	Audience []string

	// PreferredUsername is the preferred_username claim.
	PreferredUsername string

	// UPN is the user principal name claim.
	UPN string

	// Email is the email claim.
	Email string

	// ObjectID is the directory object id (oid claim).
	ObjectID string

	// Roles holds the app roles assigned to the user.
	Roles []string

	// ExpiresAt is when the token expires.
	ExpiresAt time.Time

	// hasRoles reports whether a roles array was present at all.
	hasRoles bool
}

// Username returns the first non-empty of preferred_username, upn, email
// and sub.
func (c *TokenClaims) Username() string {
	for _, v := range []string{c.PreferredUsername, c.UPN, c.Email, c.Subject} {
		if v != "" {
			return v
		}
	}
	return ""
}

// HasAuthorizedRole reports whether any of the claims' roles matches an
// authorized role, ignoring case.
func (c *TokenClaims) HasAuthorizedRole() bool {
	return HasAuthorizedRole(c.Roles)
}

// HasAuthorizedRole reports whether roles contains, case-insensitively, one
// of AuthorizedRoles.
func HasAuthorizedRole(roles []string) bool {
	for _, role := range roles {
		for _, allowed := range AuthorizedRoles {
			if strings.EqualFold(role, allowed) {
				return true
			}
		}
	}
	return false
}

// DecodeUnverified decodes token's claims without verifying its signature.
// It is used only for tokens obtained directly from the token endpoint.
func DecodeUnverified(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromMap(claims), nil
}

// claimsFromMap extracts TokenClaims from decoded JWT claims.
func claimsFromMap(claims jwt.MapClaims) *TokenClaims {
	tc := &TokenClaims{}

	tc.Subject = stringClaim(claims, "sub")
	tc.Issuer = stringClaim(claims, "iss")
	tc.PreferredUsername = stringClaim(claims, "preferred_username")
	tc.UPN = stringClaim(claims, "upn")
	tc.Email = stringClaim(claims, "email")
	tc.ObjectID = stringClaim(claims, "oid")

	// Audience can be string or array
	if aud, err := claims.GetAudience(); err == nil {
		tc.Audience = []string(aud)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.ExpiresAt = exp.Time
	}

	if roles, ok := claims["roles"].([]interface{}); ok {
		tc.hasRoles = true
		for _, r := range roles {
			if s, ok := r.(string); ok {
				tc.Roles = append(tc.Roles, s)
			}
		}
	}

	return tc
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
