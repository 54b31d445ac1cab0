package server

// Route path constants
// All gateway routes are defined here to ensure consistency and prevent typos
const (
	// Session API
	RouteSession        = "/api/session"
	RouteSessionLogin   = "/api/session/login"
	RouteSessionLogout  = "/api/session/logout"
	RouteSessionRefresh = "/api/session/refresh"

	// OAuth API
	RouteOAuthAuthorize = "/api/session/oauth/{provider}/authorize"
	RouteOAuthRetry     = "/api/session/oauth/retry"

	// OAuth callback pages. These are never guarded.
	RouteOAuthCallback        = "/oauth/callback"
	RouteOAuthCallbackSuccess = "/oauth/callback/success"

	// Shell API
	RouteShellVMCPs = "/api/shell/vmcps"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Everything else is a console page or a static asset
	RouteSPA = "/"
)
