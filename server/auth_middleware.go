package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/vmcp-gateway/server/browsers"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyBrowser stores the request's *browsers.Browser
	ContextKeyBrowser ContextKey = "browser"
)

// BrowserMiddleware resolves the browser behind the request, issuing a new
// browser cookie when the request has none or an invalid one.
func (s *Server) BrowserMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.cookies.browserID(r)
		if err != nil {
			var value string
			id, value, err = s.cookies.mint()
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to mint browser cookie")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			s.cookies.set(w, r, value)
		}

		b, err := s.browsers.Resolve(id)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to resolve browser")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyBrowser, b)
		next(w, r.WithContext(ctx))
	}
}

// RequireSession rejects API calls from browsers without an authenticated
// session. It waits for a hydrating session to settle first.
func (s *Server) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authDisabled {
			next(w, r)
			return
		}
		b := browserFrom(r)
		st := s.settledState(r.Context(), b)
		if st.Loading {
			writeJSONError(w, http.StatusServiceUnavailable, "Session is still loading")
			return
		}
		if !st.IsAuthenticated {
			writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next(w, r)
	}
}

// browserFrom returns the browser BrowserMiddleware attached to the request
func browserFrom(r *http.Request) *browsers.Browser {
	b, _ := r.Context().Value(ContextKeyBrowser).(*browsers.Browser)
	return b
}
