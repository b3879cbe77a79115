package gateway

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
)

// ConnectionRequest carries the tokens a connection source needs to list
// the connections visible to one user.
type ConnectionRequest struct {
	WorkspaceToken string
	WorkspaceID    string
	CoreAPIToken   string
}

// Connection is a remote-desktop connection the user may open.
type Connection struct {
	ID         string
	Name       string
	Protocol   string
	Parameters map[string]string
}

// ConnectionLister lists the connections visible to a user.
type ConnectionLister interface {
	ListConnections(ctx context.Context, req ConnectionRequest) ([]Connection, error)
}

// UserContext is an authenticated identity with its connections.
type UserContext struct {
	Identity    *Identity
	Connections []Connection
}

// BuildUserContext lists the connections for id.
func (c *Controller) BuildUserContext(ctx context.Context, id *Identity) (*UserContext, error) {
	if c.connections == nil {
		return nil, fmt.Errorf("%w: no connection lister configured", autherr.ErrConfiguration)
	}
	if id == nil {
		return nil, fmt.Errorf("%w: identity is required", autherr.ErrMissingContext)
	}

	conns, err := c.connections.ListConnections(ctx, ConnectionRequest{
		WorkspaceToken: id.WorkspaceToken,
		WorkspaceID:    id.WorkspaceID,
		CoreAPIToken:   id.CoreAPIToken,
	})
	if err != nil {
		c.log.WithError(err).WithField("workspace_id", id.WorkspaceID).Warn("could not list connections")
		return nil, err
	}

	return &UserContext{Identity: id, Connections: conns}, nil
}
