package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-workspace-auth/pkg/config"
	"github.com/jeremyhahn/go-workspace-auth/pkg/gateway"
	"github.com/jeremyhahn/go-workspace-auth/pkg/logging"
	"github.com/jeremyhahn/go-workspace-auth/pkg/metrics"
	"github.com/jeremyhahn/go-workspace-auth/pkg/oauth"
	"github.com/jeremyhahn/go-workspace-auth/pkg/server"
	"github.com/jeremyhahn/go-workspace-auth/pkg/session"
	"github.com/jeremyhahn/go-workspace-auth/pkg/workspace"
)

const (
	gracefulTimeout    = 30 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 20 * time.Second // longer than the request timeout
	serverIdleTimeout  = 60 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forward-auth server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("listen-addr", "", "Address to listen on (default "+config.DefaultListenAddr+")")
	if err := v.BindPFlag("LISTEN_ADDR", cmd.Flags().Lookup("listen-addr")); err != nil {
		panic(fmt.Sprintf("binding flag listen-addr: %v", err))
	}

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Unstructured: cfg.UnstructuredLogs})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessions, closeSessions, err := newSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	ctrl, err := gateway.New(gateway.Options{
		Config: cfg,
		Resolver: workspace.NewResolver(workspace.ResolverOptions{
			ControlPlaneURL: cfg.ControlPlaneURL,
			AuthorityURL:    cfg.AuthorityURL,
			DefaultTenantID: cfg.DefaultTenantID,
			Cache:           workspace.NewCache(workspace.DefaultCacheSize),
			Logger:          log,
			Metrics:         m,
		}),
		Validator: oauth.NewValidator(oauth.ValidatorOptions{Logger: log, Metrics: m}),
		Exchanger: oauth.NewExchanger(oauth.NewHTTPClient(oauth.TokenExchangeTimeout), log, m),
		Sessions:  sessions,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(server.Options{
			Authenticator: ctrl,
			Gatherer:      reg,
			SecureCookies: cfg.CookiesSecure(),
			SessionTTL:    cfg.SessionTTL,
			Logger:        log,
		}),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":           cfg.ListenAddr,
			"mode":           cfg.Mode,
			"shared_service": cfg.SharedServiceMode(),
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shut down")
		return err
	}

	log.Info("server shutdown complete")
	return nil
}

// newSessionStore returns the Redis store when an address is configured
// and the in-memory store otherwise.
func newSessionStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (session.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn("using in-memory sessions; they are lost on restart and not shared between replicas")
		return session.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}

	log.WithField("addr", cfg.Redis.Addr).Info("using redis sessions")

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("closing redis client")
		}
	}
	return session.NewRedisStore(client, session.DefaultKeyPrefix, cfg.SessionTTL), closeFn, nil
}
