// Package server exposes the gateway controller over HTTP as a
// forward-auth endpoint for the reverse proxy in front of Guacamole.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/go-workspace-auth/pkg/gateway"
	"github.com/jeremyhahn/go-workspace-auth/pkg/identity"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
)

// Response headers set on an authenticated check. The proxy copies them
// onto the upstream request.
const (
	HeaderAuthUser        = "X-Auth-User"
	HeaderAuthWorkspaceID = "X-Auth-Workspace-Id"
	HeaderAuthObjectID    = "X-Auth-Object-Id"
)

const (
	// SessionCookie names the cookie carrying the session id.
	SessionCookie = "guacauth_session"

	requestTimeout = 15 * time.Second
)

// Authenticator is the part of *gateway.Controller the server uses.
type Authenticator interface {
	Authenticate(ctx context.Context, req *identity.Request) (*gateway.Result, error)
}

// Options configures the handler.
type Options struct {
	Authenticator Authenticator

	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool

	// SessionTTL bounds the session cookie lifetime.
	SessionTTL time.Duration

	Logger logrus.FieldLogger
}

type server struct {
	auth       Authenticator
	secure     bool
	sessionTTL time.Duration
	log        logrus.FieldLogger
}

// New returns the HTTP handler.
func New(opts Options) http.Handler {
	s := &server{
		auth:       opts.Authenticator,
		secure:     opts.SecureCookies,
		sessionTTL: opts.SessionTTL,
		log:        logging.OrDiscard(opts.Logger),
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		s.logRequests,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.HandleFunc("/auth", s.handleAuth)
	r.HandleFunc("/guacamole", s.handleAuth)
	r.HandleFunc("/guacamole/*", s.handleAuth)

	return r
}

func (s *server) handleAuth(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)

	res, err := s.auth.Authenticate(r.Context(), identity.FromHTTP(r, sessionID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch res.Kind {
	case gateway.KindAuthenticated:
		w.Header().Set(HeaderAuthUser, res.Identity.Username)
		w.Header().Set(HeaderAuthWorkspaceID, res.Identity.WorkspaceID)
		w.Header().Set(HeaderAuthObjectID, res.Identity.ObjectID)
		s.writeJSON(w, http.StatusOK, map[string]string{
			"username":     res.Identity.Username,
			"workspace_id": res.Identity.WorkspaceID,
		})
	case gateway.KindRedirect:
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	default:
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var d *gateway.Denial
	if !errors.As(err, &d) {
		s.log.WithError(err).Error("authentication failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if d.RedirectURL != "" {
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
		return
	}
	s.writeJSON(w, http.StatusForbidden, map[string]string{"error": d.Message})
}

// sessionID returns the request's session id, issuing a new cookie when
// none is present.
func (s *server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.sessionTTL > 0 {
		cookie.MaxAge = int(s.sessionTTL.Seconds())
	}
	http.SetCookie(w, cookie)
	return id
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("request served")
	})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).WithField("status", status).Warn("failed to write response body")
	}
}
