package oauth

import (
	"fmt"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
)

// Credential failures. Each wraps autherr.ErrInvalidCredentials and carries
// no claim content.
var (
	// ErrMissingToken indicates no token was provided for validation.
	ErrMissingToken = fmt.Errorf("%w: missing token", autherr.ErrInvalidCredentials)

	// ErrInvalidToken indicates a malformed token or a signature, audience,
	// issuer or time-claim failure.
	ErrInvalidToken = fmt.Errorf("%w: token verification failed", autherr.ErrInvalidCredentials)

	// ErrMissingRoles indicates the roles claim is absent, not an array, or empty.
	ErrMissingRoles = fmt.Errorf("%w: token must contain a roles claim", autherr.ErrInvalidCredentials)

	// ErrUnauthorizedRole indicates none of the token's roles is authorized.
	ErrUnauthorizedRole = fmt.Errorf("%w: token must hold an authorized role", autherr.ErrInvalidCredentials)
)
