// Package gateway implements the authentication state machine in front of
// the remote-desktop gateway.
//
// A Controller runs in one of two modes. In header-injected mode a trusted
// proxy has already performed single sign-on and forwards the access token
// and username as headers; the controller validates the token and either
// returns an identity or reports that no identity is present. In
// redirect-flow mode the controller drives the authorization-code flow
// against the workspace app registration itself:
//
//	NoContext -> WorkspaceIdentified -> AwaitingLogin -> CallbackReceived -> TokenExchanged -> Authenticated
//	                               \-> Validated
//
// Any state may end in a *Denial carrying a sanitized message.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/config"
	"github.com/jeremyhahn/go-workspace-auth/pkg/identity"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
	"github.com/jeremyhahn/go-workspace-auth/pkg/session"
	"github.com/jeremyhahn/go-workspace-auth/pkg/workspace"
)

// ConfigResolver resolves per-workspace validation parameters.
type ConfigResolver interface {
	Resolve(ctx context.Context, workspaceID, token string) (workspace.AuthConfig, error)
}

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string, p oauth.Params) (*oauth.TokenClaims, error)
}

// CodeExchanger trades authorization codes for access tokens.
type CodeExchanger interface {
	Exchange(ctx context.Context, req oauth.ExchangeRequest) (string, error)
}

var (
	_ ConfigResolver = (*workspace.Resolver)(nil)
	_ TokenValidator = (*oauth.Validator)(nil)
	_ CodeExchanger  = (*oauth.Exchanger)(nil)
)

// Kind classifies a Result.
type Kind int

const (
	// KindNoIdentity means the request carries no usable identity; the host
	// may try another provider.
	KindNoIdentity Kind = iota

	// KindAuthenticated means Result.Identity is set.
	KindAuthenticated

	// KindRedirect means the browser must be sent to Result.RedirectURL.
	KindRedirect
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticated:
		return "authenticated"
	case KindRedirect:
		return "redirect"
	default:
		return "no_identity"
	}
}

// Identity is an authenticated gateway user.
type Identity struct {
	Username       string
	ObjectID       string
	WorkspaceID    string
	WorkspaceToken string

	// CoreAPIToken is the control-plane token, when known.
	CoreAPIToken string
}

// Result is the non-error outcome of Authenticate.
type Result struct {
	Kind        Kind
	Identity    *Identity
	RedirectURL string
}

// Options configures a Controller.
type Options struct {
	// Config is required.
	Config *config.Config

	// Resolver is required for shared-service header-injected deployments.
	Resolver ConfigResolver

	// Validator is required.
	Validator TokenValidator

	// Exchanger is required in redirect-flow mode.
	Exchanger CodeExchanger

	// Sessions defaults to an in-memory store.
	Sessions session.Store

	// Connections serves BuildUserContext.
	Connections ConnectionLister

	// NewNonce defaults to random UUIDs.
	NewNonce func() string

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Controller authenticates inbound gateway requests. It holds no state of
// its own between calls; flow state lives in the session store and the
// workspace config cache behind the resolver.
type Controller struct {
	cfg         *config.Config
	resolver    ConfigResolver
	validator   TokenValidator
	exchanger   CodeExchanger
	sessions    session.Store
	connections ConnectionLister
	newNonce    func() string
	now         func() time.Time
	log         logrus.FieldLogger
	metrics     *metrics.Metrics

	headerWorkspaceID   identity.Strategy
	redirectWorkspaceID identity.Strategy
	redirectClientID    identity.Strategy
}

// New creates a Controller from opts.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: config is required", autherr.ErrConfiguration)
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("%w: token validator is required", autherr.ErrConfiguration)
	}
	if opts.Config.Mode == config.ModeRedirectFlow && opts.Exchanger == nil {
		return nil, fmt.Errorf("%w: code exchanger is required in %s mode", autherr.ErrConfiguration, opts.Config.Mode)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore()
	}
	if opts.NewNonce == nil {
		opts.NewNonce = uuid.NewString
	}

	c := &Controller{
		cfg:         opts.Config,
		resolver:    opts.Resolver,
		validator:   opts.Validator,
		exchanger:   opts.Exchanger,
		sessions:    opts.Sessions,
		connections: opts.Connections,
		newNonce:    opts.NewNonce,
		now:         time.Now,
		log:         logging.OrDiscard(opts.Logger).WithField("mode", string(opts.Config.Mode)),
		metrics:     opts.Metrics,
	}
	c.buildStrategies()

	return c, nil
}

// buildStrategies fixes the identity precedence for both modes. The
// configured default workspace applies only outside shared-service mode.
func (c *Controller) buildStrategies() {
	var fallback identity.Strategy
	if !c.cfg.SharedServiceMode() {
		fallback = identity.Default(c.cfg.DefaultWorkspaceID)
	}

	c.headerWorkspaceID = identity.FirstOf(
		identity.Header(identity.HeaderWorkspaceID),
		identity.Param(identity.ParamWorkspaceID),
		identity.HeaderPathWorkspaceID(identity.HeaderOriginalURI),
		identity.PathWorkspaceID(),
		fallback,
	)

	c.redirectWorkspaceID = identity.FirstOf(
		identity.Param(identity.ParamWorkspaceID),
		identity.PathWorkspaceID(),
		identity.SessionValue(func(s *session.AuthenticationSession) string { return s.WorkspaceID }),
		fallback,
	)

	c.redirectClientID = identity.FirstOf(
		identity.Param(identity.ParamWorkspaceClientID),
		identity.SessionValue(func(s *session.AuthenticationSession) string { return s.WorkspaceClientID }),
	)
}

// Mode returns the controller's operating mode.
func (c *Controller) Mode() config.Mode {
	return c.cfg.Mode
}

// Authenticate runs the state machine for req. Header-injected failures
// yield a KindNoIdentity result and a nil error. Redirect-flow failures
// yield a *Denial error.
func (c *Controller) Authenticate(ctx context.Context, req *identity.Request) (*Result, error) {
	if req == nil {
		req = &identity.Request{}
	}

	var (
		res *Result
		err error
	)
	switch c.cfg.Mode {
	case config.ModeRedirectFlow:
		res, err = c.authenticateRedirect(ctx, req)
	default:
		res, err = c.authenticateHeader(ctx, req)
	}

	outcome := "denied"
	if err == nil {
		outcome = res.Kind.String()
	}
	c.metrics.Authentication(string(c.cfg.Mode), outcome)

	return res, err
}

func noIdentity() *Result {
	return &Result{Kind: KindNoIdentity}
}

func authenticated(id *Identity) *Result {
	return &Result{Kind: KindAuthenticated, Identity: id}
}
