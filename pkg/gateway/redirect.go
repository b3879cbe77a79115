package gateway

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/identity"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
	"github.com/jeremyhahn/go-workspace-auth/pkg/session"
)

// authenticateRedirect drives the authorization-code flow against the
// workspace app registration.
func (c *Controller) authenticateRedirect(ctx context.Context, req *identity.Request) (*Result, error) {
	sess, err := c.loadSession(ctx, req.SessionID)
	if err != nil {
		return nil, c.deny(autherr.ErrUpstream, MessageSession, err, nil)
	}

	in := identity.Input{Request: req, Session: sess}

	clientID, ok := c.redirectClientID(in)
	if !ok {
		return nil, c.deny(autherr.ErrMissingWorkspaceClientID, MessageMissingClientID, nil,
			logrus.Fields{"path": req.Path})
	}

	code, state := req.Param(identity.ParamCode), req.Param(identity.ParamState)
	callback := code != "" && state != ""

	var workspaceID string
	if callback {
		workspaceID = state
	} else {
		workspaceID, _ = c.redirectWorkspaceID(in)
	}
	if workspaceID == "" {
		return nil, c.deny(autherr.ErrMissingContext, MessageMissingContext, nil,
			logrus.Fields{"path": req.Path, "client_id": clientID})
	}

	fields := logrus.Fields{"workspace_id": workspaceID, "client_id": clientID}

	if callback {
		return c.completeLogin(ctx, req.SessionID, sess, clientID, workspaceID, code, fields)
	}

	if token := firstParam(req, identity.ParamIDToken, identity.ParamAccessToken); token != "" {
		return c.validatePresented(ctx, req.SessionID, sess, workspaceID, token, fields)
	}

	if id := c.reuseSession(sess, clientID, workspaceID); id != nil {
		c.log.WithFields(fields).Debug("reusing completed workspace login")
		return authenticated(id), nil
	}

	return c.beginLogin(ctx, req.SessionID, sess, clientID, workspaceID, fields)
}

// completeLogin exchanges the authorization code and records the issued
// token in the session.
func (c *Controller) completeLogin(ctx context.Context, sessionID string, sess *session.AuthenticationSession,
	clientID, workspaceID, code string, fields logrus.Fields) (*Result, error) {

	token, err := c.exchanger.Exchange(ctx, oauth.ExchangeRequest{
		TokenEndpoint: c.cfg.TokenEndpoint,
		ClientID:      clientID,
		ClientSecret:  c.cfg.ClientSecret,
		Code:          code,
		RedirectURI:   c.cfg.RedirectURI,
		Scope:         oauth.ImpersonationScope(clientID),
	})
	if err != nil {
		if errors.Is(err, autherr.ErrConfiguration) {
			return nil, c.denyWithPortal(autherr.ErrConfiguration, MessageConfiguration, workspaceID, err, fields)
		}
		return nil, c.denyWithPortal(autherr.ErrTokenExchange, MessageExchangeFailed, workspaceID, err, fields)
	}

	// The token came straight from the token endpoint over TLS; an
	// undecodable one still completes the login with an empty username.
	claims, err := oauth.DecodeUnverified(token)
	if err != nil {
		c.log.WithFields(fields).WithError(err).Debug("issued token is not a decodable JWT")
		claims = &oauth.TokenClaims{}
	}

	sess.StoreToken(clientID, token)
	sess.MarkCompleted(workspaceID)
	sess.WorkspaceID = workspaceID
	sess.WorkspaceClientID = clientID
	sess.PendingNonce = ""

	if err := c.saveSession(ctx, sessionID, sess); err != nil {
		return nil, c.deny(autherr.ErrUpstream, MessageSession, err, fields)
	}

	c.log.WithFields(fields).WithField("username", claims.Username()).Info("workspace login completed")

	return authenticated(&Identity{
		Username:       claims.Username(),
		ObjectID:       claims.ObjectID,
		WorkspaceID:    workspaceID,
		WorkspaceToken: token,
		CoreAPIToken:   sess.CoreAPIToken,
	}), nil
}

// validatePresented validates a token supplied on the request against the
// static configuration.
func (c *Controller) validatePresented(ctx context.Context, sessionID string, sess *session.AuthenticationSession,
	workspaceID, token string, fields logrus.Fields) (*Result, error) {

	claims, err := c.validator.Validate(ctx, token, c.staticParams())
	if err != nil {
		if errors.Is(err, autherr.ErrConfiguration) {
			return nil, c.denyWithPortal(autherr.ErrConfiguration, MessageConfiguration, workspaceID, err, fields)
		}
		return nil, c.deny(autherr.ErrInvalidCredentials, MessageInvalidToken, err, fields)
	}

	sess.CoreAPIToken = token
	if err := c.saveSession(ctx, sessionID, sess); err != nil {
		return nil, c.deny(autherr.ErrUpstream, MessageSession, err, fields)
	}

	c.log.WithFields(fields).WithField("username", claims.Username()).Info("presented token validated")

	return authenticated(&Identity{
		Username:       claims.Username(),
		ObjectID:       claims.ObjectID,
		WorkspaceID:    workspaceID,
		WorkspaceToken: token,
		CoreAPIToken:   token,
	}), nil
}

// reuseSession returns the identity of an earlier completed login for
// workspaceID whose token has not yet expired, or nil.
func (c *Controller) reuseSession(sess *session.AuthenticationSession, clientID, workspaceID string) *Identity {
	if !sess.Completed(workspaceID) {
		return nil
	}
	token, ok := sess.TokenFor(clientID)
	if !ok {
		return nil
	}
	claims, err := oauth.DecodeUnverified(token)
	if err != nil || claims.ExpiresAt.IsZero() || !c.now().Before(claims.ExpiresAt) {
		return nil
	}

	return &Identity{
		Username:       claims.Username(),
		ObjectID:       claims.ObjectID,
		WorkspaceID:    workspaceID,
		WorkspaceToken: token,
		CoreAPIToken:   sess.CoreAPIToken,
	}
}

// beginLogin builds the authorization redirect and records the pending
// flow in the session.
func (c *Controller) beginLogin(ctx context.Context, sessionID string, sess *session.AuthenticationSession,
	clientID, workspaceID string, fields logrus.Fields) (*Result, error) {

	nonce := c.newNonce()

	// TODO: bind state and nonce to the session and verify both on callback.
	loginURL, err := oauth.AuthorizationURL(c.cfg.AuthorizationEndpoint, clientID, c.cfg.RedirectURI, nonce, workspaceID)
	if err != nil {
		return nil, c.denyWithPortal(autherr.ErrConfiguration, MessageConfiguration, workspaceID, err, fields)
	}

	sess.WorkspaceClientID = clientID
	sess.WorkspaceID = workspaceID
	sess.PendingNonce = nonce
	sess.LoginURI = loginURL

	if err := c.saveSession(ctx, sessionID, sess); err != nil {
		return nil, c.deny(autherr.ErrUpstream, MessageSession, err, fields)
	}

	c.log.WithFields(fields).Info("redirecting to workspace login")

	return &Result{Kind: KindRedirect, RedirectURL: loginURL}, nil
}

// loadSession returns the stored session for id, or a fresh one. Requests
// without a session id get a session that is never persisted.
func (c *Controller) loadSession(ctx context.Context, id string) (*session.AuthenticationSession, error) {
	if id == "" {
		return session.New(), nil
	}
	sess, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = session.New()
	}
	return sess, nil
}

func (c *Controller) saveSession(ctx context.Context, id string, sess *session.AuthenticationSession) error {
	if id == "" {
		return nil
	}
	return c.sessions.Set(ctx, id, sess)
}

func firstParam(req *identity.Request, names ...string) string {
	for _, name := range names {
		if v := req.Param(name); v != "" {
			return v
		}
	}
	return ""
}
