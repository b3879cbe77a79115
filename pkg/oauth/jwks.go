package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
)

// Key set cache defaults.
const (
	DefaultKeySetTTL       = 5 * time.Minute
	DefaultRefreshInterval = time.Minute
	maxKeySetBytes         = 1 << 20
)

// keySet is one fetched JWKS document.
type keySet struct {
	kf        keyfunc.Keyfunc
	fetchedAt time.Time
}

// keySetCache fetches and caches JWKS documents per endpoint. Nothing runs
// in the background; fetches happen on the validating goroutine.
type keySetCache struct {
	client          *http.Client
	ttl             time.Duration
	refreshInterval time.Duration
	now             func() time.Time
	log             logrus.FieldLogger
	metrics         *metrics.Metrics

	mu   sync.Mutex
	sets map[string]*keySet
}

func newKeySetCache(client *http.Client, ttl, refreshInterval time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *keySetCache {
	return &keySetCache{
		client:          client,
		ttl:             ttl,
		refreshInterval: refreshInterval,
		now:             time.Now,
		log:             log,
		metrics:         m,
		sets:            make(map[string]*keySet),
	}
}

// keyfunc returns a jwt.Keyfunc that resolves the token's key from the
// key set published at endpoint.
func (c *keySetCache) keyfunc(ctx context.Context, endpoint string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		set, err := c.get(ctx, endpoint, false)
		if err != nil {
			return nil, err
		}

		key, keyErr := set.kf.Keyfunc(token)
		if keyErr == nil {
			return key, nil
		}

		// Unknown kid: the provider may have rotated keys.
		if !c.canRefresh(set) {
			return nil, keyErr
		}
		c.log.WithField("jwks_endpoint", endpoint).Debug("signing key not found, refreshing key set")

		set, err = c.get(ctx, endpoint, true)
		if err != nil {
			return nil, err
		}
		return set.kf.Keyfunc(token)
	}
}

func (c *keySetCache) canRefresh(set *keySet) bool {
	return c.now().Sub(set.fetchedAt) >= c.refreshInterval
}

// get returns the cached key set for endpoint, fetching it when absent,
// expired, or when force is set.
func (c *keySetCache) get(ctx context.Context, endpoint string, force bool) (*keySet, error) {
	c.mu.Lock()
	set, ok := c.sets[endpoint]
	c.mu.Unlock()

	if ok && !force && c.now().Sub(set.fetchedAt) < c.ttl {
		return set, nil
	}

	set, err := c.fetch(ctx, endpoint)
	c.metrics.KeySetFetch(err)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sets[endpoint] = set
	c.mu.Unlock()

	return set, nil
}

func (c *keySetCache) fetch(ctx context.Context, endpoint string) (*keySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid jwks endpoint: %v", autherr.ErrConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &autherr.UpstreamError{Service: "jwks", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &autherr.UpstreamError{Service: "jwks", StatusCode: resp.StatusCode, Message: "failed to fetch signing keys"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, &autherr.UpstreamError{Service: "jwks", Message: "failed to read response", Err: err}
	}

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("%w: jwks document: %v", autherr.ErrParse, err)
	}

	c.log.WithField("jwks_endpoint", endpoint).Debug("fetched signing key set")

	return &keySet{kf: kf, fetchedAt: c.now()}, nil
}

// isKeySourceError reports whether err came from fetching the key set
// rather than from the token itself.
func isKeySourceError(err error) bool {
	return errors.Is(err, autherr.ErrUpstream) ||
		errors.Is(err, autherr.ErrParse) ||
		errors.Is(err, autherr.ErrConfiguration)
}
