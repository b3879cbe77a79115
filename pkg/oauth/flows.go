package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
)

// LoginScope is the scope requested by the authorization redirect.
const LoginScope = "openid profile email"

// ExchangeRequest holds the inputs of one authorization-code exchange.
type ExchangeRequest struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Code          string
	RedirectURI   string
	Scope         string
}

// Exchanger trades authorization codes for access tokens.
type Exchanger struct {
	client  *http.Client
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewExchanger creates an Exchanger. A nil client defaults to one bounded
// by TokenExchangeTimeout.
func NewExchanger(client *http.Client, log logrus.FieldLogger, m *metrics.Metrics) *Exchanger {
	return &Exchanger{
		client:  clientOrDefault(client, TokenExchangeTimeout),
		log:     logging.OrDiscard(log),
		metrics: m,
	}
}

// Exchange posts a form-encoded authorization_code grant to
// req.TokenEndpoint and returns the access token. A non-2xx response or a
// response without access_token wraps autherr.ErrTokenExchange.
func (e *Exchanger) Exchange(ctx context.Context, req ExchangeRequest) (string, error) {
	token, err := e.exchange(ctx, req)
	e.metrics.TokenExchange(err)
	return token, err
}

func (e *Exchanger) exchange(ctx context.Context, req ExchangeRequest) (string, error) {
	if strings.TrimSpace(req.Code) == "" {
		return "", fmt.Errorf("%w: authorization code is required", autherr.ErrTokenExchange)
	}
	if strings.TrimSpace(req.TokenEndpoint) == "" {
		return "", fmt.Errorf("%w: token endpoint not configured", autherr.ErrConfiguration)
	}

	cfg := &oauth2.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURL:  req.RedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  req.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	var opts []oauth2.AuthCodeOption
	if req.Scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", req.Scope))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := cfg.Exchange(ctx, req.Code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			e.log.WithFields(logrus.Fields{
				"status":     retrieveErr.Response.StatusCode,
				"error_code": retrieveErr.ErrorCode,
			}).Warn("token endpoint rejected authorization code")
			return "", fmt.Errorf("%w: status %d", autherr.ErrTokenExchange, retrieveErr.Response.StatusCode)
		}
		e.log.WithError(err).Warn("authorization code exchange failed")
		return "", fmt.Errorf("%w: %v", autherr.ErrTokenExchange, err)
	}

	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in response", autherr.ErrTokenExchange)
	}

	return tok.AccessToken, nil
}

// AuthorizationURL builds the authorization-code redirect for clientID.
// state carries the workspace id back to the callback.
func AuthorizationURL(endpoint, clientID, redirectURI, nonce, state string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("%w: authorization endpoint not configured", autherr.ErrConfiguration)
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("%w: invalid authorization endpoint: %v", autherr.ErrConfiguration, err)
	}
	if strings.TrimSpace(redirectURI) == "" {
		return "", fmt.Errorf("%w: redirect uri not configured", autherr.ErrConfiguration)
	}

	cfg := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      strings.Fields(LoginScope),
		Endpoint:    oauth2.Endpoint{AuthURL: endpoint},
	}

	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce)), nil
}
