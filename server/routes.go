package server

import (
	"fmt"
	"net/http"
)

func (s *Server) initRoutes() {
	// SESSION
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	// OAUTH
	s.RegisterRouteHandler("GET "+RouteOAuthAuthorize, ChainMiddleware(s.AuthorizeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuthRetry, ChainMiddleware(s.RetryHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuthCallback, ChainMiddleware(s.CallbackHandler(), s.CallbackMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuthCallback, ChainMiddleware(s.CallbackHandler(), s.CallbackMiddleware()...)) // For form_post response mode
	s.RegisterRouteHandler("GET "+RouteOAuthCallbackSuccess, ChainMiddleware(s.CallbackHandler(), s.CallbackMiddleware()...))

	// SHELL
	s.RegisterRouteHandler("GET "+RouteShellVMCPs, ChainMiddleware(s.ShellVMCPsHandler(), s.APIMiddleware(s.RequireSession)...))

	// CORS preflight for every API route
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(preflightHandler, s.LoggingMiddleware, s.CorsMiddleware))

	// OPERATIONS
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.OpsMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteMetrics, ChainMiddleware(s.MetricsHandler().ServeHTTP, s.OpsMiddleware()...))

	// CONSOLE
	s.RegisterRouteHandler("GET "+RouteSPA, ChainMiddleware(s.SPAHandler(), s.PageMiddleware()...))
}

// CallbackMiddleware is the chain for the pages the provider redirects back to
func (s *Server) CallbackMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return s.PageMiddleware(s.NoStoreMiddleware, s.BrowserMiddleware)
}

func preflightHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logError(method, path, msg string) {
	displayMethod := Gray + fmt.Sprintf(" %-7s", method) + ResetColor
	if color, ok := methodColors[method]; ok {
		displayMethod = color + fmt.Sprintf(" %-7s", method) + ResetColor
	}
	s.logger.Error().Msgf("[%-19s] %s %s", displayMethod, path, Red+msg+ResetColor)
}
