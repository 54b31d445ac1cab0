package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/vmcp-gateway/apiclient"
	"github.com/jrsteele09/vmcp-gateway/devbackend"
	"github.com/jrsteele09/vmcp-gateway/internal/config"
	"github.com/jrsteele09/vmcp-gateway/internal/logging"
	"github.com/jrsteele09/vmcp-gateway/oauthflow/oidcauth"
	"github.com/jrsteele09/vmcp-gateway/server"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/jrsteele09/vmcp-gateway/tokenstore/redisstore"
	"github.com/rs/zerolog/log"
)

// oidcProvider is the provider name the direct OIDC authorizer is registered under
const oidcProvider = "oidc"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		return err
	}
	logging.Setup(c.GetLogLevel(), c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendURL := c.GetBackendURL()
	if c.GetUseDevBackend() {
		devURL, err := startDevBackend(ctx, c)
		if err != nil {
			return err
		}
		backendURL = devURL
	}

	store, closeStore, err := openTokenStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	var opts []server.Option
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		authorizer, err := oidcauth.New(ctx, oidcauth.Config{
			IssuerURL:    issuer,
			ClientID:     c.GetOIDCClientID(),
			ClientSecret: c.GetOIDCClientSecret(),
			RedirectURL:  c.GetBaseURL() + server.RouteOAuthCallback,
			Scopes:       c.GetOIDCScopes(),
		})
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAuthorizer(oidcProvider, authorizer))
		log.Info().Str("issuer", issuer).Msg("direct OIDC sign-in enabled")
	}

	client := apiclient.New(backendURL, apiclient.WithHTTPClient(&http.Client{Timeout: c.GetBackendTimeout()}))
	gateway, err := server.New(c, client, store, opts...)
	if err != nil {
		return err
	}
	go gateway.Run(ctx)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	return shutdown(httpServer)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// openTokenStore returns the configured token store and its release function
func openTokenStore(ctx context.Context, c config.Config) (tokenstore.Store, func(), error) {
	switch c.GetTokenStore() {
	case config.TokenStoreRedis:
		store, err := redisstore.Connect(ctx, c.GetRedisURL(), c.GetRedisKeyPrefix(), c.GetTokenTTL())
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("prefix", c.GetRedisKeyPrefix()).Msg("token store: redis")
		return store, func() { _ = store.Close() }, nil
	case config.TokenStoreMemory:
		log.Info().Dur("ttl", c.GetTokenTTL()).Msg("token store: memory")
		store := tokenstore.NewMemory(tokenstore.WithTTL(c.GetTokenTTL()))
		cleanupCtx, cancel := context.WithCancel(ctx)
		go store.RunCleanup(cleanupCtx, time.Minute)
		return store, cancel, nil
	default:
		return nil, nil, fmt.Errorf("[openTokenStore] unknown token store %q", c.GetTokenStore())
	}
}

// startDevBackend serves the development backend with one seeded account and
// returns its URL. It stops with ctx.
func startDevBackend(ctx context.Context, c config.Config) (string, error) {
	backend := devbackend.New(devbackend.Config{Providers: c.GetOAuthProviders()})
	user, err := backend.AddUser(devbackend.User{
		Email:     c.GetDevUser() + "@localhost",
		Username:  c.GetDevUser(),
		FirstName: "Dev",
		LastName:  "User",
		Verified:  true,
	}, c.GetDevPassword())
	if err != nil {
		return "", fmt.Errorf("[startDevBackend] failed to seed %s: %w", c.GetDevUser(), err)
	}

	listener, err := net.Listen("tcp", c.GetDevBackendAddr())
	if err != nil {
		return "", fmt.Errorf("[startDevBackend] failed to listen: %w", err)
	}
	srv := &http.Server{Handler: backend, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("development backend stopped")
		}
	}()
	go backend.RunCleanup(ctx, time.Minute)
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	url := "http://" + listener.Addr().String()
	log.Warn().Str("url", url).Str("user", user.Username).Msg("development backend running, do not use in production")
	return url, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
