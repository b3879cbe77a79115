// Package session stores the per-user state that correlates the legs of
// the authorization-code flow.
package session

import (
	"context"
	"errors"
)

// ErrNoSessionID indicates a store operation was attempted without a
// session id.
var ErrNoSessionID = errors.New("session: missing session id")

// AuthenticationSession is the state kept for one end-user session.
type AuthenticationSession struct {
	// WorkspaceID is the workspace of the most recent flow.
	WorkspaceID string `json:"workspace_id,omitempty"`

	// WorkspaceClientID is the app registration of the most recent flow.
	WorkspaceClientID string `json:"workspace_client_id,omitempty"`

	// PendingNonce is the nonce sent with the last authorization redirect.
	PendingNonce string `json:"pending_nonce,omitempty"`

	// LoginURI is the last authorization redirect issued.
	LoginURI string `json:"login_uri,omitempty"`

	// CoreAPIToken is the control-plane token, when one is known.
	CoreAPIToken string `json:"core_api_token,omitempty"`

	// IssuedTokens maps workspace client id to the token issued for it.
	IssuedTokens map[string]string `json:"issued_tokens,omitempty"`

	// CompletedWorkspaces records workspaces whose flow has completed.
	CompletedWorkspaces map[string]bool `json:"completed_workspaces,omitempty"`
}

// New returns an empty session.
func New() *AuthenticationSession {
	return &AuthenticationSession{
		IssuedTokens:        make(map[string]string),
		CompletedWorkspaces: make(map[string]bool),
	}
}

// TokenFor returns the token issued for clientID.
func (s *AuthenticationSession) TokenFor(clientID string) (string, bool) {
	if s == nil || clientID == "" {
		return "", false
	}
	token, ok := s.IssuedTokens[clientID]
	return token, ok && token != ""
}

// StoreToken records token under clientID.
func (s *AuthenticationSession) StoreToken(clientID, token string) {
	if s.IssuedTokens == nil {
		s.IssuedTokens = make(map[string]string)
	}
	s.IssuedTokens[clientID] = token
}

// MarkCompleted records that the flow for workspaceID has completed.
func (s *AuthenticationSession) MarkCompleted(workspaceID string) {
	if s.CompletedWorkspaces == nil {
		s.CompletedWorkspaces = make(map[string]bool)
	}
	s.CompletedWorkspaces[workspaceID] = true
}

// Completed reports whether the flow for workspaceID has completed.
func (s *AuthenticationSession) Completed(workspaceID string) bool {
	return s != nil && s.CompletedWorkspaces[workspaceID]
}

// Clone returns a deep copy of s.
func (s *AuthenticationSession) Clone() *AuthenticationSession {
	if s == nil {
		return nil
	}

	c := *s
	c.IssuedTokens = make(map[string]string, len(s.IssuedTokens))
	for k, v := range s.IssuedTokens {
		c.IssuedTokens[k] = v
	}
	c.CompletedWorkspaces = make(map[string]bool, len(s.CompletedWorkspaces))
	for k, v := range s.CompletedWorkspaces {
		c.CompletedWorkspaces[k] = v
	}
	return &c
}

// Store persists sessions by id. Get returns (nil, nil) when no session
// exists. Implementations must be safe for concurrent use; concurrent
// writers to one session id resolve last-write-wins.
type Store interface {
	Get(ctx context.Context, id string) (*AuthenticationSession, error)
	Set(ctx context.Context, id string, s *AuthenticationSession) error
	Clear(ctx context.Context, id string) error
}
