package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/vmcp-gateway/internal/config"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/routeguard"
	"github.com/jrsteele09/vmcp-gateway/server/browsers"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/shell"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is the vMCP backend as the gateway uses it. *apiclient.Client
// implements it.
type Backend interface {
	session.Backend
	oauthflow.Authorizer
	shell.Lister
}

type Server struct {
	env          string
	mux          *http.ServeMux
	routes       []string
	config       config.Config
	logger       zerolog.Logger
	backend      Backend
	store        tokenstore.Store
	authorizers  map[string]oauthflow.Authorizer
	providers    map[string]bool
	guardRoutes  routeguard.Routes
	policy       routeguard.Policy
	authDisabled bool
	cookies      *browserCookies
	browsers     *browsers.Registry
	assets       fs.FS
	index        []byte
	metrics      *metrics
	registry     *prometheus.Registry
}

// Option configures a Server
type Option func(*Server)

// WithAuthorizer routes one OAuth provider to a dedicated authorizer instead
// of the backend.
func WithAuthorizer(provider string, a oauthflow.Authorizer) Option {
	return func(s *Server) {
		s.authorizers[provider] = a
		s.providers[provider] = true
	}
}

// WithAssets serves the console build from fsys instead of the configured static dir.
func WithAssets(fsys fs.FS) Option {
	return func(s *Server) {
		s.assets = fsys
	}
}

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsRegistry registers the gateway metrics with reg and serves them on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// New creates the gateway. store is shared by every browser; each browser
// gets its own namespace in it.
func New(cfg config.Config, backend Backend, store tokenstore.Store, opts ...Option) (*Server, error) {
	s := &Server{
		env:          cfg.GetEnv(),
		mux:          http.NewServeMux(),
		config:       cfg,
		logger:       log.Logger,
		backend:      backend,
		store:        store,
		authorizers:  make(map[string]oauthflow.Authorizer),
		providers:    make(map[string]bool),
		authDisabled: cfg.GetAuthDisabled(),
	}
	for _, p := range cfg.GetOAuthProviders() {
		s.providers[p] = true
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.assets == nil {
		s.assets = os.DirFS(cfg.GetStaticDir())
	}
	index, err := loadIndex(s.assets)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to load console entry document: %w", err)
	}
	s.index = index

	secret := []byte(cfg.GetCookieSecret())
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("[Server New] failed to generate cookie secret: %w", err)
		}
		s.logger.Warn().Msg("VMCP_COOKIE_SECRET is not set, browser cookies will not survive a restart")
	}
	s.cookies = newBrowserCookies(cfg.GetCookieName(), secret, cfg.GetCookieMaxAge())

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)

	s.guardRoutes = routeguard.DefaultRoutes(cfg.GetLoginPath(), cfg.GetLandingPath())
	s.policy = routeguard.NewPolicy(s.guardRoutes, s.authDisabled)
	s.browsers = browsers.NewRegistry(s.newBrowser, cfg.GetBrowserIdleTimeout(),
		browsers.WithLogger(s.logger))
	s.metrics.trackBrowsers(s.browsers.Len)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run sweeps idle browsers until ctx is done, then closes them all.
func (s *Server) Run(ctx context.Context) {
	interval := s.config.GetBrowserIdleTimeout() / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	s.browsers.Run(ctx, interval)
	s.browsers.Close()
}

// Browsers exposes the browser registry
func (s *Server) Browsers() *browsers.Registry {
	return s.browsers
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// newBrowser builds one browser's scope. Every component shares the browser's
// namespace of the token store.
func (s *Server) newBrowser(id string) *browsers.Browser {
	logger := s.logger.With().Str("browser", browsers.ShortID(id)).Logger()
	store := tokenstore.Prefixed(s.store, "browser:"+id)

	sess := session.New(store, s.backend, session.WithLogger(logger))

	flowOpts := []oauthflow.Option{oauthflow.WithLogger(logger)}
	for provider, a := range s.authorizers {
		flowOpts = append(flowOpts, oauthflow.WithAuthorizer(provider, a))
	}
	flow := oauthflow.New(store, sess, s.backend, flowOpts...)
	flow.OnTransition(s.metrics.observeTransition)

	var auth shell.Authenticator = sess
	if s.authDisabled {
		auth = nil
	}
	vmcps := shell.NewVMCPs(s.backend, auth, shell.WithLogger(logger))

	b := &browsers.Browser{
		ID:      id,
		Store:   store,
		Session: sess,
		Flow:    flow,
		VMCPs:   vmcps,
	}
	b.OnClose(vmcps.Follow(sess))
	return b
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	displayMethod := Gray + fmt.Sprintf("%-7s", method) + ResetColor
	if color, ok := methodColors[method]; ok {
		displayMethod = color + fmt.Sprintf("%-7s", method) + ResetColor
	}
	log.Info().Msgf("[%s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
