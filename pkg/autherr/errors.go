// Package autherr defines the error taxonomy shared by the workspace
// resolver, the token validator and the gateway controller.
package autherr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates a required setting is absent or invalid.
	ErrConfiguration = errors.New("auth: configuration error")

	// ErrUpstream indicates a non-success status or transport failure from
	// the control plane or the identity provider.
	ErrUpstream = errors.New("auth: upstream error")

	// ErrParse indicates a malformed or incomplete response body.
	ErrParse = errors.New("auth: malformed response")

	// ErrInvalidCredentials indicates a signature, claim or role failure.
	// Messages wrapping it never carry claim values.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrMissingContext indicates the workspace id could not be resolved.
	ErrMissingContext = errors.New("auth: missing workspace context")

	// ErrMissingWorkspaceClientID indicates the workspace client id could not be resolved.
	ErrMissingWorkspaceClientID = errors.New("auth: missing workspace client id")

	// ErrTokenExchange indicates the authorization code exchange was rejected.
	ErrTokenExchange = errors.New("auth: token exchange failed")
)

// UpstreamError carries the status and message of a failed outbound call.
// errors.Is(err, ErrUpstream) reports true for any *UpstreamError.
type UpstreamError struct {
	// Service names the remote party ("control-plane", "jwks", ...).
	Service string

	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// Message is a short description safe to log.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: status %d", e.Service, e.Message, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
}

// Is reports whether target is ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
