package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
)

// Params names the key source and expected claims for one validation.
type Params struct {
	// JWKSEndpoint is the URL of the signing key set.
	JWKSEndpoint string

	// Audience must exactly match one entry of the aud claim.
	Audience string

	// Issuer must exactly match the iss claim.
	Issuer string
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// HTTPClient fetches key sets. Defaults to a client with KeySetTimeout.
	HTTPClient *http.Client

	// KeySetTTL is how long a fetched key set is reused. Defaults to DefaultKeySetTTL.
	KeySetTTL time.Duration

	// RefreshInterval bounds refetches triggered by unknown key ids.
	// Defaults to DefaultRefreshInterval.
	RefreshInterval time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Validator verifies RS256 bearer tokens and their role claims.
// It is safe for concurrent use.
type Validator struct {
	keys    *keySetCache
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewValidator creates a Validator from opts.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.KeySetTTL <= 0 {
		opts.KeySetTTL = DefaultKeySetTTL
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	log := logging.OrDiscard(opts.Logger)
	client := clientOrDefault(opts.HTTPClient, KeySetTimeout)

	return &Validator{
		keys:    newKeySetCache(client, opts.KeySetTTL, opts.RefreshInterval, log, opts.Metrics),
		log:     log,
		metrics: opts.Metrics,
	}
}

// Validate verifies token against p and returns its claims. Missing
// parameters fail with autherr.ErrConfiguration before any network call.
// Every credential failure wraps autherr.ErrInvalidCredentials.
func (v *Validator) Validate(ctx context.Context, token string, p Params) (*TokenClaims, error) {
	claims, err := v.validate(ctx, token, p)
	v.metrics.Validation(err)
	return claims, err
}

func (v *Validator) validate(ctx context.Context, token string, p Params) (*TokenClaims, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, v.keys.keyfunc(ctx, p.JWKSEndpoint),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(p.Audience),
		jwt.WithIssuer(p.Issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if isKeySourceError(err) {
			v.log.WithError(err).WithField("jwks_endpoint", p.JWKSEndpoint).Warn("signing key source unavailable")
			return nil, err
		}
		// Parser errors may quote claim values; keep them at debug.
		v.log.WithError(err).Debug("token verification failed")
		return nil, ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims := claimsFromMap(mapClaims)
	if !claims.hasRoles || len(claims.Roles) == 0 {
		v.log.Debug("token rejected: no roles claim")
		return nil, ErrMissingRoles
	}
	if !claims.HasAuthorizedRole() {
		v.log.Debug("token rejected: no authorized role")
		return nil, ErrUnauthorizedRole
	}

	return claims, nil
}

func (p Params) check() error {
	switch {
	case strings.TrimSpace(p.Audience) == "":
		return fmt.Errorf("%w: audience is required", autherr.ErrConfiguration)
	case strings.TrimSpace(p.Issuer) == "":
		return fmt.Errorf("%w: issuer is required", autherr.ErrConfiguration)
	case strings.TrimSpace(p.JWKSEndpoint) == "":
		return fmt.Errorf("%w: jwks endpoint is required", autherr.ErrConfiguration)
	}
	return nil
}
