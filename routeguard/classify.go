// Package routeguard decides, for every page navigation, whether to render the
// page, render it inside the authenticated shell, show a loading placeholder,
// or redirect.
//
// Everything here is a pure function of the request: path, query and the
// session's IsAuthenticated/Loading flags.
package routeguard

import (
	"net/url"
	"strings"
)

// Class is the route classification of a path. The zero value is protected so
// anything that is not positively recognised fails closed.
type Class int

const (
	ClassProtected Class = iota
	ClassRoot
	ClassOAuthSetup
	ClassPublic
)

func (c Class) String() string {
	switch c {
	case ClassRoot:
		return "root"
	case ClassOAuthSetup:
		return "oauth-setup"
	case ClassPublic:
		return "public"
	default:
		return "protected"
	}
}

// Routes names the paths the guard treats specially.
type Routes struct {
	Root    string
	Login   string
	Landing string
	// Public pages render without a session. Matching is exact.
	Public []string
	// OAuthSetupPrefixes are path prefixes of pages that bypass auth entirely.
	OAuthSetupPrefixes []string
	// OAuthSetupParam marks any path as oauth-setup when present in the query.
	OAuthSetupParam string
}

// DefaultRoutes returns the console's routes with the given login and landing paths.
func DefaultRoutes(login, landing string) Routes {
	if login == "" {
		login = "/login"
	}
	if landing == "" {
		landing = "/vmcp"
	}
	return Routes{
		Root:               "/",
		Login:              login,
		Landing:            landing,
		Public:             []string{login},
		OAuthSetupPrefixes: []string{"/oauth_setup/", "/oauth/"},
		OAuthSetupParam:    "client_id",
	}
}

// Classify assigns exactly one class to path+query. oauth-setup is checked
// before public so a client_id on the login page still bypasses the guard.
func Classify(routes Routes, path string, query url.Values) Class {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return ClassProtected
	}
	if path == routes.Root {
		return ClassRoot
	}
	if routes.OAuthSetupParam != "" && query.Has(routes.OAuthSetupParam) {
		return ClassOAuthSetup
	}
	for _, prefix := range routes.OAuthSetupPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassOAuthSetup
		}
	}
	for _, p := range routes.Public {
		if path == p {
			return ClassPublic
		}
	}
	return ClassProtected
}

// callbackInProgress reports whether the query carries a token pair handed
// back by an OAuth success redirect.
func callbackInProgress(query url.Values) bool {
	return query.Has("access_token") && query.Has("refresh_token")
}
