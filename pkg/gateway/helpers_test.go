package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-workspace-auth/pkg/config"
	"github.com/jeremyhahn/go-workspace-auth/pkg/identity"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
	"github.com/jeremyhahn/go-workspace-auth/pkg/session"
	"github.com/jeremyhahn/go-workspace-auth/pkg/workspace"
)

const (
	testWorkspaceID = "6c3a1c2e-1f0b-4d8e-9a6f-2b1c3d4e5f60"
	testClientID    = "c0ffee00-0000-4000-8000-000000000001"
	testSessionID   = "session-1"
	testNonce       = "nonce-1"
)

type fakeValidator struct {
	mu     sync.Mutex
	calls  []oauth.Params
	claims *oauth.TokenClaims
	err    error
}

func (f *fakeValidator) Validate(_ context.Context, _ string, p oauth.Params) (*oauth.TokenClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	if f.claims == nil {
		return &oauth.TokenClaims{ObjectID: "oid-1", PreferredUsername: "alice@example.com"}, nil
	}
	return f.claims, nil
}

type fakeResolver struct {
	calls int
	cfg   workspace.AuthConfig
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (workspace.AuthConfig, error) {
	f.calls++
	return f.cfg, f.err
}

type fakeExchanger struct {
	mu    sync.Mutex
	calls []oauth.ExchangeRequest
	token string
	err   error
}

func (f *fakeExchanger) Exchange(_ context.Context, req oauth.ExchangeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.token, f.err
}

func (f *fakeExchanger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*session.AuthenticationSession, error) {
	return nil, errors.New("store down")
}

func (failingStore) Set(context.Context, string, *session.AuthenticationSession) error {
	return errors.New("store down")
}

func (failingStore) Clear(context.Context, string) error {
	return errors.New("store down")
}

func redirectConfig() *config.Config {
	return &config.Config{
		Mode:                  config.ModeRedirectFlow,
		PortalURL:             "https://tre.example.com",
		Audience:              "static-aud",
		Issuer:                "https://issuer.example.com",
		JWKSEndpoint:          "https://issuer.example.com/keys",
		AuthorizationEndpoint: "https://login.example.com/tenant/oauth2/v2.0/authorize",
		TokenEndpoint:         "https://login.example.com/tenant/oauth2/v2.0/token",
		RedirectURI:           "https://tre.example.com/guacamole/",
		ClientSecret:          "secret",
	}
}

func headerConfig() *config.Config {
	return &config.Config{
		Mode:         config.ModeHeaderInjected,
		Audience:     "static-aud",
		Issuer:       "https://issuer.example.com",
		JWKSEndpoint: "https://issuer.example.com/keys",
	}
}

func newTestController(t *testing.T, opts Options) *Controller {
	t.Helper()

	if opts.NewNonce == nil {
		opts.NewNonce = func() string { return testNonce }
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func redirectRequest(params url.Values) *identity.Request {
	return &identity.Request{
		Path:      "/guacamole/",
		Params:    params,
		Header:    http.Header{},
		SessionID: testSessionID,
	}
}

func headerRequest(token, username string, extra http.Header) *identity.Request {
	h := http.Header{}
	if token != "" {
		h.Set(identity.HeaderAccessToken, token)
	}
	if username != "" {
		h.Set(identity.HeaderPreferredUsername, username)
	}
	for k, v := range extra {
		h[k] = v
	}
	return &identity.Request{Path: "/guacamole/", Params: url.Values{}, Header: h}
}

// unsignedJWT mints a token suitable only for unverified decoding.
func unsignedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("Failed to sign JWT: %v", err)
	}
	return token
}

func futureExp() int64 {
	return time.Now().Add(time.Hour).Unix()
}
