// Package config builds the immutable gateway configuration from the
// environment (through viper) once at startup.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
)

// Mode selects how the controller establishes identity.
type Mode string

const (
	// ModeHeaderInjected trusts an upstream proxy that already performed SSO.
	ModeHeaderInjected Mode = "header-injected"

	// ModeRedirectFlow drives the authorization-code flow itself.
	ModeRedirectFlow Mode = "redirect-flow"
)

// Defaults applied by Validate.
const (
	DefaultListenAddr = ":8080"
	DefaultSessionTTL = 8 * time.Hour
)

// Environment keys. Where a setting has several keys the first non-empty
// one wins.
var (
	keyMode                  = []string{"AUTH_MODE"}
	keyControlPlaneURL       = []string{"API_URL"}
	keyPortalURL             = []string{"TRE_URL"}
	keyAuthorityURL          = []string{"AAD_AUTHORITY_URL"}
	keyTenantID              = []string{"AAD_TENANT_ID", "AZURE_TENANT_ID"}
	keyAudience              = []string{"AUDIENCE"}
	keyIssuer                = []string{"ISSUER"}
	keyJWKSEndpoint          = []string{"JWKS_URI", "OAUTH2_PROXY_JWKS_ENDPOINT"}
	keySharedServiceMode     = []string{"GUACAMOLE_SHARED_SERVICE_MODE"}
	keyAuthorizationEndpoint = []string{"OPENID_AUTHORIZATION_ENDPOINT", "GUAC_OPENID_AUTHORIZATION_ENDPOINT"}
	keyTokenEndpoint         = []string{"TOKEN_ENDPOINT"}
	keyRedirectURI           = []string{"WORKSPACE_REDIRECT_URI", "GUAC_OPENID_REDIRECT_URI", "OPENID_REDIRECT_URI"}
	keyClientSecret          = []string{"WORKSPACE_CLIENT_SECRET"}
	keyDefaultWorkspaceID    = []string{"WORKSPACE_ID"}
	keyListenAddr            = []string{"LISTEN_ADDR"}
	keyRedisAddr             = []string{"REDIS_ADDR"}
	keyRedisPassword         = []string{"REDIS_PASSWORD"}
	keyRedisDB               = []string{"REDIS_DB"}
	keySessionTTL            = []string{"SESSION_TTL"}
	keySecureCookies         = []string{"SECURE_COOKIES"}
	keyLogLevel              = []string{"LOG_LEVEL"}
	keyUnstructuredLogs      = []string{"UNSTRUCTURED_LOGS"}
)

// RedisConfig selects the Redis session backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds every recognized setting. Build it with Load and treat it
// as read-only afterwards.
type Config struct {
	Mode Mode

	// ControlPlaneURL is the base URL of the workspace API.
	ControlPlaneURL string

	// PortalURL is the research environment portal, used for error
	// redirects and as the default redirect URI base.
	PortalURL string

	AuthorityURL    string
	DefaultTenantID string

	// Static validation settings (single-tenant deployments).
	Audience     string
	Issuer       string
	JWKSEndpoint string

	// SharedService is the explicit shared-service flag; nil when unset.
	SharedService *bool

	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURI           string
	ClientSecret          string

	// DefaultWorkspaceID applies only outside shared-service mode.
	DefaultWorkspaceID string

	ListenAddr string
	Redis      RedisConfig
	SessionTTL time.Duration

	// SecureCookies is the explicit Secure cookie flag; nil when unset.
	SecureCookies *bool

	LogLevel         string
	UnstructuredLogs bool
}

// Load reads the configuration from v and validates it. Environment
// variables are bound automatically.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()

	cfg := &Config{
		Mode:                  Mode(strings.ToLower(first(v, keyMode))),
		ControlPlaneURL:       first(v, keyControlPlaneURL),
		PortalURL:             first(v, keyPortalURL),
		AuthorityURL:          first(v, keyAuthorityURL),
		DefaultTenantID:       first(v, keyTenantID),
		Audience:              first(v, keyAudience),
		Issuer:                first(v, keyIssuer),
		JWKSEndpoint:          first(v, keyJWKSEndpoint),
		AuthorizationEndpoint: first(v, keyAuthorizationEndpoint),
		TokenEndpoint:         first(v, keyTokenEndpoint),
		RedirectURI:           first(v, keyRedirectURI),
		ClientSecret:          first(v, keyClientSecret),
		DefaultWorkspaceID:    first(v, keyDefaultWorkspaceID),
		ListenAddr:            first(v, keyListenAddr),
		Redis: RedisConfig{
			Addr:     first(v, keyRedisAddr),
			Password: first(v, keyRedisPassword),
		},
		LogLevel: first(v, keyLogLevel),
	}

	if raw := first(v, keySharedServiceMode); raw != "" {
		shared, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: GUACAMOLE_SHARED_SERVICE_MODE: %v", autherr.ErrConfiguration, err)
		}
		cfg.SharedService = &shared
	}

	if raw := first(v, keyRedisDB); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_DB: %v", autherr.ErrConfiguration, err)
		}
		cfg.Redis.DB = db
	}

	if raw := first(v, keySessionTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: SESSION_TTL: %v", autherr.ErrConfiguration, err)
		}
		cfg.SessionTTL = ttl
	}

	if raw := first(v, keySecureCookies); raw != "" {
		secure, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: SECURE_COOKIES: %v", autherr.ErrConfiguration, err)
		}
		cfg.SecureCookies = &secure
	}

	if raw := first(v, keyUnstructuredLogs); raw != "" {
		unstructured, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: UNSTRUCTURED_LOGS: %v", autherr.ErrConfiguration, err)
		}
		cfg.UnstructuredLogs = unstructured
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and applies derived defaults.
// Settings needed only by the redirect flow are not required here; their
// absence surfaces as a denial when a redirect is built.
func (c *Config) Validate() error {
	switch c.Mode {
	case "":
		c.Mode = ModeHeaderInjected
	case ModeHeaderInjected, ModeRedirectFlow:
	default:
		return fmt.Errorf("%w: unknown mode %q", autherr.ErrConfiguration, c.Mode)
	}

	c.ControlPlaneURL = strings.TrimRight(c.ControlPlaneURL, "/")
	c.PortalURL = strings.TrimRight(c.PortalURL, "/")

	if c.RedirectURI == "" && c.PortalURL != "" {
		c.RedirectURI = c.PortalURL + "/guacamole/"
	}

	if c.DefaultTenantID != "" {
		authority := oauth.NewAuthority(c.AuthorityURL)
		if c.TokenEndpoint == "" {
			c.TokenEndpoint = authority.TokenURL(c.DefaultTenantID)
		}
		if c.AuthorizationEndpoint == "" {
			c.AuthorizationEndpoint = authority.AuthorizeURL(c.DefaultTenantID)
		}
	}

	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}

	return nil
}

// SharedServiceMode reports whether auth configuration is resolved per
// workspace. The explicit flag wins; otherwise shared-service mode is on
// when the static audience or issuer is unset.
func (c *Config) SharedServiceMode() bool {
	if c.SharedService != nil {
		return *c.SharedService
	}
	return c.Audience == "" || c.Issuer == ""
}

// CookiesSecure reports whether the session cookie is marked Secure. The
// explicit flag wins; otherwise cookies are secure when the redirect URI
// is served over https.
func (c *Config) CookiesSecure() bool {
	if c.SecureCookies != nil {
		return *c.SecureCookies
	}
	u, err := url.Parse(c.RedirectURI)
	return err == nil && strings.EqualFold(u.Scheme, "https")
}

// ErrorRedirectURL returns the portal page reporting an authentication
// failure for workspaceID, or "" when no portal URL is configured.
func (c *Config) ErrorRedirectURL(workspaceID, message string) string {
	if c.PortalURL == "" || workspaceID == "" {
		return ""
	}
	return fmt.Sprintf("%s/workspaces/%s/auth-error?message=%s",
		c.PortalURL, url.PathEscape(workspaceID), url.QueryEscape(message))
}

func first(v *viper.Viper, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.GetString(k)); s != "" {
			return s
		}
	}
	return ""
}
