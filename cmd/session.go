package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/auth"
	"github.com/bmr-systems/bmr-admin/internal/config"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/metrics"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/internal/tokenstore"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

// csrfPrimePath is fetched to obtain the csrftoken cookie when no page is
// configured.
const csrfPrimePath = "/login/"

// session is everything a command needs to talk to one deployment.
type session struct {
	profile string
	baseURL string
	format  output.Format
	logger  *logging.Logger
	metrics *metrics.Metrics
	store   *tokenstore.TokenStore
	auth    *auth.Client
	api     *apiclient.Client
	catalog *resources.Catalog

	metricsSrv *http.Server
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	format, err := outputFormat(cmd)
	if err != nil {
		return nil, err
	}

	profile, _ := cmd.Flags().GetString("profile")
	baseURL, _ := cmd.Flags().GetString("base-url")
	if baseURL == "" {
		baseURL = cfg.BaseURL(profile)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	level := cfg.Logging.Level
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	}
	logger := logging.New(logging.ParseLevel(level), cfg.Logging.Format).With("profile", profile)
	logging.SetDefault(logger)

	s := &session{
		profile: profile,
		baseURL: baseURL,
		format:  format,
		logger:  logger,
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	backend, err := openStore(ctx, cfg, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	s.store = tokenstore.New(backend)

	transport, err := apiclient.NewTransport(cfg.HTTP.Proxy)
	if err != nil {
		s.store.Close()
		return nil, err
	}
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{
		Transport: apiclient.NewBreakerTransport(transport, func(from, to string) {
			logger.Warn("circuit breaker state changed", "from", from, "to", to)
		}),
		Jar:     jar,
		Timeout: cfg.HTTP.Timeout,
	}

	var csrf apiclient.Chain
	if cfg.HTTP.CSRFToken != "" {
		csrf = append(csrf, apiclient.Static(cfg.HTTP.CSRFToken))
	}
	var doc *apiclient.Document
	primePath := csrfPrimePath
	if cfg.HTTP.CSRFPage != "" {
		primePath = cfg.HTTP.CSRFPage
		doc = apiclient.FetchDocument(hc, baseURL+"/"+strings.TrimLeft(cfg.HTTP.CSRFPage, "/"))
	}
	// every process starts with an empty jar, so the first unsafe request
	// would otherwise go out without a token
	csrf = append(csrf,
		apiclient.DefaultCSRF(doc, jar, baseURL),
		apiclient.NewPrimedCookie(hc, baseURL, primePath),
	)

	s.auth = auth.New(baseURL, s.store,
		auth.WithHTTPClient(hc),
		auth.WithLogger(logger),
		auth.WithMetrics(s.metrics),
		auth.WithCSRF(csrf.Token),
		auth.WithExpiryBuffer(cfg.Auth.ExpiryBuffer),
		auth.WithAutoRefresh(cfg.Auth.AutoRefreshInterval),
	)
	s.api = apiclient.New(baseURL, s.auth,
		apiclient.WithHTTPClient(hc),
		apiclient.WithCSRF(csrf),
		apiclient.WithLogger(logger),
		apiclient.WithMetrics(s.metrics),
		apiclient.WithTimeout(cfg.HTTP.Timeout),
		apiclient.OnAuthFailure(func(ctx context.Context, err error) {
			output.Warn("Session expired. Run 'bmrctl auth login' to sign in again.")
		}),
	)
	s.catalog = resources.NewCatalog(s.api, repository.WithLogger(logger))

	if err := s.auth.Init(ctx); err != nil {
		logger.WarnContext(ctx, "failed to initialise session", logging.Error(err))
	}
	if cfg.Metrics.Addr != "" {
		s.serveMetrics(cfg.Metrics.Addr)
	}
	return s, nil
}

func openStore(ctx context.Context, c *config.Config, profile string) (tokenstore.Store, error) {
	switch c.Store.Backend {
	case "memory":
		return tokenstore.NewMemoryStore(), nil
	case "sqlite":
		return tokenstore.NewSQLiteStore(ctx, c.StorePath(profile))
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.Store.RedisAddr, DB: c.Store.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, err
		}
		ns := c.Store.Namespace
		if profile != "" {
			ns += ":" + profile
		}
		return tokenstore.NewRedisStore(client, ns), nil
	case "", "file":
		return tokenstore.NewFileStore(c.StorePath(profile))
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

func (s *session) serveMetrics(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Warn("metrics listener unavailable", "addr", addr, logging.Error(err))
		return
	}
	s.metricsSrv = &http.Server{Handler: s.metrics.Handler()}
	go func() {
		if err := s.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
}

func (s *session) Close() {
	s.auth.Dispose()
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close session store", logging.Error(err))
	}
}

// requireLogin fails fast when there is no usable session. An expiring
// token has already been refreshed by IsAuthenticated, and a failed
// refresh has cleared the session.
func (s *session) requireLogin(ctx context.Context) error {
	if s.auth.IsAuthenticated(ctx) {
		return nil
	}
	return fmt.Errorf("not logged in, run 'bmrctl auth login --profile %s'", s.profile)
}

// withSession opens a session for the duration of run.
func withSession(login bool, run func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if login {
			if err := s.requireLogin(cmd.Context()); err != nil {
				return err
			}
		}
		return run(cmd, args, s)
	}
}
