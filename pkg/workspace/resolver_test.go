package workspace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
)

const (
	testWorkspaceID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	testAuthority   = "https://login.example.com"
)

// controlPlane is a fake workspace API that counts fetches.
type controlPlane struct {
	*httptest.Server
	fetches atomic.Int32
	status  int
	body    string
}

func newControlPlane(t *testing.T, status int, body string) *controlPlane {
	t.Helper()

	cp := &controlPlane{status: status, body: body}
	cp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cp.fetches.Add(1)

		if r.URL.Path != "/api/workspaces/"+testWorkspaceID {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cp.status)
		w.Write([]byte(cp.body))
	}))
	t.Cleanup(cp.Close)

	return cp
}

const workspaceBody = `{"workspace":{"id":"3fa85f64-5717-4562-b3fc-2c963f66afa6","properties":{"client_id":"ws-client","scope_id":"api://ws-scope","auth_tenant_id":"tenant-1"}}}`

func newTestResolver(cp *controlPlane, cache *Cache) *Resolver {
	return NewResolver(ResolverOptions{
		ControlPlaneURL: cp.URL,
		AuthorityURL:    testAuthority,
		DefaultTenantID: "default-tenant",
		Cache:           cache,
		HTTPClient:      cp.Client(),
	})
}

func TestResolve_Success(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, workspaceBody)
	r := newTestResolver(cp, NewCache(0))

	cfg, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	want := AuthConfig{
		ClientID:     "ws-client",
		ScopeID:      "api://ws-scope",
		Issuer:       "https://login.example.com/tenant-1/v2.0",
		JWKSEndpoint: "https://login.example.com/tenant-1/discovery/v2.0/keys",
	}
	if cfg != want {
		t.Errorf("Resolve() = %+v, want %+v", cfg, want)
	}
}

func TestResolve_CachedWithinTTL(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, workspaceBody)
	clock := newFakeClock()
	cache := NewCache(0)
	cache.now = clock.Now
	r := newTestResolver(cp, cache)

	first, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	clock.Advance(CacheTTL / 2)
	second, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected identical configs, got %+v and %+v", first, second)
	}
	if got := cp.fetches.Load(); got != 1 {
		t.Fatalf("Expected 1 fetch within TTL, got %d", got)
	}

	clock.Advance(CacheTTL)
	if _, err := r.Resolve(context.Background(), testWorkspaceID, "api-token"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got := cp.fetches.Load(); got != 2 {
		t.Errorf("Expected exactly 1 new fetch after TTL, got %d total", got)
	}

	if _, err := r.Resolve(context.Background(), testWorkspaceID, "api-token"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got := cp.fetches.Load(); got != 2 {
		t.Errorf("Expected refreshed entry to be cached, got %d fetches", got)
	}
}

func TestResolve_DefaultTenant(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, `{"workspace":{"properties":{"client_id":"ws-client"}}}`)
	r := newTestResolver(cp, NewCache(0))

	cfg, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if cfg.Issuer != "https://login.example.com/default-tenant/v2.0" {
		t.Errorf("Expected default tenant issuer, got %q", cfg.Issuer)
	}
	if cfg.ScopeID != "" {
		t.Errorf("Expected empty scope id, got %q", cfg.ScopeID)
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"detail":"not found"}`, wantErr: autherr.ErrUpstream},
		{name: "server error", status: http.StatusInternalServerError, body: "", wantErr: autherr.ErrUpstream},
		{name: "blank body", status: http.StatusOK, body: "  ", wantErr: autherr.ErrParse},
		{name: "malformed json", status: http.StatusOK, body: `{"workspace":`, wantErr: autherr.ErrParse},
		{name: "missing workspace", status: http.StatusOK, body: `{}`, wantErr: autherr.ErrParse},
		{name: "missing properties", status: http.StatusOK, body: `{"workspace":{}}`, wantErr: autherr.ErrParse},
		{name: "missing client id", status: http.StatusOK, body: `{"workspace":{"properties":{"auth_tenant_id":"t"}}}`, wantErr: autherr.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newControlPlane(t, tt.status, tt.body)
			cache := NewCache(0)
			r := newTestResolver(cp, cache)

			_, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if cache.Len() != 0 {
				t.Error("Failed resolution must not be cached")
			}
		})
	}
}

func TestResolve_UpstreamStatus(t *testing.T) {
	cp := newControlPlane(t, http.StatusForbidden, "")
	r := newTestResolver(cp, NewCache(0))

	_, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")

	var upstream *autherr.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected *UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", upstream.StatusCode)
	}
}

func TestResolve_NoTenant(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, `{"workspace":{"properties":{"client_id":"ws-client"}}}`)
	r := NewResolver(ResolverOptions{
		ControlPlaneURL: cp.URL,
		AuthorityURL:    testAuthority,
		HTTPClient:      cp.Client(),
	})

	_, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if !errors.Is(err, autherr.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestResolve_MissingConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts ResolverOptions
	}{
		{name: "control plane", opts: ResolverOptions{AuthorityURL: testAuthority}},
		{name: "authority", opts: ResolverOptions{ControlPlaneURL: "http://127.0.0.1:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.opts)
			_, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
			if !errors.Is(err, autherr.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestResolve_CacheHitSkipsConfigurationCheck(t *testing.T) {
	cache := NewCache(0)
	cache.Put(testWorkspaceID, testConfig("cached-client"))

	r := NewResolver(ResolverOptions{Cache: cache})
	cfg, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if cfg.ClientID != "cached-client" {
		t.Errorf("Expected cached config, got %+v", cfg)
	}
}

func TestResolve_MissingWorkspaceID(t *testing.T) {
	r := NewResolver(ResolverOptions{})
	if _, err := r.Resolve(context.Background(), "", "api-token"); !errors.Is(err, autherr.ErrMissingContext) {
		t.Errorf("Expected ErrMissingContext, got %v", err)
	}
}

func TestResolve_Concurrent(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, workspaceBody)
	r := newTestResolver(cp, NewCache(0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := r.Resolve(context.Background(), testWorkspaceID, "api-token")
			if err != nil {
				t.Errorf("Resolve() failed: %v", err)
				return
			}
			if cfg.ClientID != "ws-client" {
				t.Errorf("Unexpected client id %q", cfg.ClientID)
			}
		}()
	}
	wg.Wait()

	if got := cp.fetches.Load(); got < 1 || got > 20 {
		t.Errorf("Unexpected fetch count %d", got)
	}
}

func TestResolve_Metrics(t *testing.T) {
	cp := newControlPlane(t, http.StatusOK, workspaceBody)
	reg := prometheus.NewRegistry()
	r := NewResolver(ResolverOptions{
		ControlPlaneURL: cp.URL,
		AuthorityURL:    testAuthority,
		HTTPClient:      cp.Client(),
		Metrics:         metrics.New(reg),
	})

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), testWorkspaceID, "api-token"); err != nil {
			t.Fatalf("Resolve() failed: %v", err)
		}
	}

	count, err := testutil.GatherAndCount(reg, "guacauth_workspace_config_cache_total", "guacauth_workspace_config_fetches_total")
	if err != nil {
		t.Fatalf("GatherAndCount() failed: %v", err)
	}
	// hit + miss series, plus one success series.
	if count != 3 {
		t.Errorf("Expected 3 series, got %d", count)
	}
}

// gatedControlPlane holds the first request until release is closed and
// answers by bearer token: "good" succeeds, anything else is forbidden.
type gatedControlPlane struct {
	*httptest.Server
	arrived chan struct{}
	release chan struct{}
	fetches atomic.Int32
}

func newGatedControlPlane(t *testing.T) *gatedControlPlane {
	t.Helper()

	cp := &gatedControlPlane{arrived: make(chan struct{}), release: make(chan struct{})}
	var once sync.Once
	cp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cp.fetches.Add(1) == 1 {
			once.Do(func() { close(cp.arrived) })
			<-cp.release
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(workspaceBody))
	}))
	t.Cleanup(cp.Close)

	return cp
}

func (cp *gatedControlPlane) resolver() *Resolver {
	return NewResolver(ResolverOptions{
		ControlPlaneURL: cp.URL,
		AuthorityURL:    testAuthority,
		Cache:           NewCache(0),
		HTTPClient:      cp.Client(),
	})
}

func TestResolve_ConcurrentFailureNotShared(t *testing.T) {
	cp := newGatedControlPlane(t)
	r := cp.resolver()

	badErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), testWorkspaceID, "bad")
		badErr <- err
	}()
	<-cp.arrived

	goodErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), testWorkspaceID, "good")
		goodErr <- err
	}()

	// Give the second caller time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(cp.release)

	if err := <-badErr; !errors.Is(err, autherr.ErrUpstream) {
		t.Errorf("Expected bad token to fail upstream, got %v", err)
	}
	if err := <-goodErr; err != nil {
		t.Errorf("Expected good token to resolve, got %v", err)
	}
}

func TestResolve_CancelledCallerNotShared(t *testing.T) {
	cp := newGatedControlPlane(t)
	r := cp.resolver()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, testWorkspaceID, "good")
		shortErr <- err
	}()
	<-cp.arrived

	type result struct {
		cfg AuthConfig
		err error
	}
	patient := make(chan result, 1)
	go func() {
		cfg, err := r.Resolve(context.Background(), testWorkspaceID, "good")
		patient <- result{cfg, err}
	}()

	if err := <-shortErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	close(cp.release)

	res := <-patient
	if res.err != nil {
		t.Fatalf("Expected uncancelled caller to resolve, got %v", res.err)
	}
	if res.cfg.ClientID != "ws-client" {
		t.Errorf("Unexpected client id %q", res.cfg.ClientID)
	}
	if _, ok := r.Cache().Get(testWorkspaceID); !ok {
		t.Error("Expected the shared fetch to populate the cache")
	}
}
