package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
)

const maxResponseBytes = 1 << 20

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// ControlPlaneURL is the base URL of the workspace API.
	ControlPlaneURL string

	// AuthorityURL is the identity authority base URL.
	AuthorityURL string

	// DefaultTenantID is used when a workspace has no auth_tenant_id.
	DefaultTenantID string

	// Cache is required; it is owned by the caller.
	Cache *Cache

	// HTTPClient defaults to a client bounded by oauth.ControlPlaneTimeout.
	HTTPClient *http.Client

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Resolver fetches workspace auth configuration from the control plane.
// Concurrent misses for the same workspace share one successful fetch.
type Resolver struct {
	controlPlaneURL string
	authorityURL    string
	defaultTenantID string
	cache           *Cache
	client          *http.Client
	group           singleflight.Group
	log             logrus.FieldLogger
	metrics         *metrics.Metrics
}

// NewResolver creates a Resolver. A nil Cache gets a private one.
func NewResolver(opts ResolverOptions) *Resolver {
	cache := opts.Cache
	if cache == nil {
		cache = NewCache(DefaultCacheSize)
	}
	client := opts.HTTPClient
	if client == nil {
		client = oauth.NewHTTPClient(oauth.ControlPlaneTimeout)
	}

	return &Resolver{
		controlPlaneURL: strings.TrimRight(strings.TrimSpace(opts.ControlPlaneURL), "/"),
		authorityURL:    strings.TrimRight(strings.TrimSpace(opts.AuthorityURL), "/"),
		defaultTenantID: strings.TrimSpace(opts.DefaultTenantID),
		cache:           cache,
		client:          client,
		log:             logging.OrDiscard(opts.Logger),
		metrics:         opts.Metrics,
	}
}

// Cache returns the cache the resolver populates.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the auth config for workspaceID, fetching it with token
// on a cache miss.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, token string) (AuthConfig, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return AuthConfig{}, autherr.ErrMissingContext
	}

	if cfg, ok := r.cache.Get(workspaceID); ok {
		r.metrics.ConfigCache(true)
		return cfg, nil
	}
	r.metrics.ConfigCache(false)

	if r.controlPlaneURL == "" {
		return AuthConfig{}, fmt.Errorf("%w: control plane url is not configured", autherr.ErrConfiguration)
	}
	if r.authorityURL == "" {
		return AuthConfig{}, fmt.Errorf("%w: authority url is not configured", autherr.ErrConfiguration)
	}

	cfg, shared, err := r.resolveShared(ctx, workspaceID, token)

	log := r.log.WithField("workspace_id", workspaceID)
	if err != nil {
		log.WithError(err).Warn("failed to resolve workspace auth config")
		return AuthConfig{}, err
	}
	log.WithField("shared", shared).Debug("resolved workspace auth config")

	return cfg, nil
}

// resolveShared collapses concurrent misses for workspaceID into one fetch.
// Only a successful result is shared: the fetch runs detached from the
// leader's cancellation, each caller waits on its own ctx, and a follower
// that receives the leader's error fetches again with its own token.
func (r *Resolver) resolveShared(ctx context.Context, workspaceID, token string) (AuthConfig, bool, error) {
	var led bool
	ch := r.group.DoChan(workspaceID, func() (interface{}, error) {
		led = true
		return r.fetchAndCache(context.WithoutCancel(ctx), workspaceID, token)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return AuthConfig{}, false, &autherr.UpstreamError{Service: "control-plane", Message: "request abandoned", Err: ctx.Err()}
	case res = <-ch:
	}

	if res.Err == nil {
		return res.Val.(AuthConfig), res.Shared, nil
	}
	if led {
		return AuthConfig{}, false, res.Err
	}

	cfg, err := r.fetchAndCache(ctx, workspaceID, token)
	return cfg, false, err
}

func (r *Resolver) fetchAndCache(ctx context.Context, workspaceID, token string) (AuthConfig, error) {
	cfg, err := r.fetch(ctx, workspaceID, token)
	r.metrics.ConfigFetch(err)
	if err != nil {
		return AuthConfig{}, err
	}
	r.cache.Put(workspaceID, cfg)
	return cfg, nil
}

type workspaceResponse struct {
	Workspace *struct {
		Properties *workspaceProperties `json:"properties"`
	} `json:"workspace"`
}

type workspaceProperties struct {
	ClientID     string `json:"client_id"`
	ScopeID      string `json:"scope_id"`
	AuthTenantID string `json:"auth_tenant_id"`
}

func (r *Resolver) fetch(ctx context.Context, workspaceID, token string) (AuthConfig, error) {
	endpoint := fmt.Sprintf("%s/api/workspaces/%s", r.controlPlaneURL, url.PathEscape(workspaceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("%w: invalid control plane url: %v", autherr.ErrConfiguration, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return AuthConfig{}, &autherr.UpstreamError{Service: "control-plane", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AuthConfig{}, &autherr.UpstreamError{
			Service:    "control-plane",
			StatusCode: resp.StatusCode,
			Message:    "failed to fetch workspace",
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return AuthConfig{}, &autherr.UpstreamError{Service: "control-plane", Message: "failed to read response", Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return AuthConfig{}, fmt.Errorf("%w: empty workspace response", autherr.ErrParse)
	}

	var parsed workspaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return AuthConfig{}, fmt.Errorf("%w: workspace response: %v", autherr.ErrParse, err)
	}
	if parsed.Workspace == nil {
		return AuthConfig{}, fmt.Errorf("%w: workspace response has no workspace", autherr.ErrParse)
	}
	props := parsed.Workspace.Properties
	if props == nil {
		return AuthConfig{}, fmt.Errorf("%w: workspace has no properties", autherr.ErrParse)
	}
	if strings.TrimSpace(props.ClientID) == "" {
		return AuthConfig{}, fmt.Errorf("%w: workspace has no client_id", autherr.ErrParse)
	}

	tenant := strings.TrimSpace(props.AuthTenantID)
	if tenant == "" {
		tenant = r.defaultTenantID
	}
	if tenant == "" {
		return AuthConfig{}, fmt.Errorf("%w: workspace has no auth_tenant_id and no default tenant is configured", autherr.ErrConfiguration)
	}

	authority := oauth.Authority{BaseURL: r.authorityURL}

	return AuthConfig{
		ClientID:     props.ClientID,
		ScopeID:      props.ScopeID,
		Issuer:       authority.Issuer(tenant),
		JWKSEndpoint: authority.JWKSURL(tenant),
	}, nil
}
