package gateway

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/identity"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
)

// authenticateHeader validates the token forwarded by the upstream proxy.
// Every failure collapses to KindNoIdentity.
func (c *Controller) authenticateHeader(ctx context.Context, req *identity.Request) (*Result, error) {
	token := req.HeaderValue(identity.HeaderAccessToken)
	username := req.HeaderValue(identity.HeaderPreferredUsername)
	if token == "" || username == "" {
		c.log.Debug("no forwarded access token or username")
		return noIdentity(), nil
	}

	workspaceID, _ := c.headerWorkspaceID(identity.Input{Request: req})
	log := c.log.WithFields(logrus.Fields{
		"username":     username,
		"workspace_id": workspaceID,
	})

	params, err := c.headerParams(ctx, workspaceID, token)
	if err != nil {
		log.WithError(err).Warn("could not resolve validation parameters")
		return noIdentity(), nil
	}

	claims, err := c.validator.Validate(ctx, token, params)
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			log.Info("forwarded token rejected")
		} else {
			log.WithError(err).Warn("forwarded token could not be validated")
		}
		return noIdentity(), nil
	}

	log.Info("authenticated forwarded identity")

	return authenticated(&Identity{
		Username:       username,
		ObjectID:       claims.ObjectID,
		WorkspaceID:    workspaceID,
		WorkspaceToken: token,
		CoreAPIToken:   token,
	}), nil
}

// headerParams picks dynamic per-workspace parameters in shared-service
// mode and the static ones otherwise.
func (c *Controller) headerParams(ctx context.Context, workspaceID, token string) (oauth.Params, error) {
	if workspaceID == "" || !c.cfg.SharedServiceMode() {
		return c.staticParams(), nil
	}
	if c.resolver == nil {
		return oauth.Params{}, errors.New("no workspace config resolver")
	}

	cfg, err := c.resolver.Resolve(ctx, workspaceID, token)
	if err != nil {
		return oauth.Params{}, err
	}

	return oauth.Params{
		JWKSEndpoint: cfg.JWKSEndpoint,
		Audience:     cfg.ClientID,
		Issuer:       cfg.Issuer,
	}, nil
}

func (c *Controller) staticParams() oauth.Params {
	return oauth.Params{
		JWKSEndpoint: c.cfg.JWKSEndpoint,
		Audience:     c.cfg.Audience,
		Issuer:       c.cfg.Issuer,
	}
}
