package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/server/browsers"
	"github.com/jrsteele09/vmcp-gateway/session"
)

const contentTypeJSON = "application/json"

// sessionView is what the console sees of its browser's session
type sessionView struct {
	session.State
	AuthDisabled bool        `json:"authDisabled"`
	OAuth        oauthStatus `json:"oauth"`
}

type oauthStatus struct {
	State oauthflow.State `json:"state"`
	Error string          `json:"error,omitempty"`
}

// resultView answers login, logout and refresh
type resultView struct {
	session.Result
	Session sessionView `json:"session"`
}

func (s *Server) viewOf(b *browsers.Browser, st session.State) sessionView {
	view := sessionView{
		State:        st,
		AuthDisabled: s.authDisabled,
		OAuth:        oauthStatus{State: b.Flow.State()},
	}
	if err := b.Flow.Err(); err != nil {
		view.OAuth.Error = displayError(err)
	}
	return view
}

// settledState waits up to the hydrate wait for a loading session to settle
func (s *Server) settledState(ctx context.Context, b *browsers.Browser) session.State {
	st := b.Session.Snapshot()
	wait := s.config.GetHydrateWait()
	if !st.Loading || wait <= 0 {
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return b.Session.WaitSettled(ctx)
}

// SessionHandler returns the browser's session snapshot
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		writeJSON(w, http.StatusOK, s.viewOf(b, s.settledState(r.Context(), b)))
	}
}

// LoginHandler accepts a JSON body or a form post. Form posts are answered
// with a redirect, to the landing page or back to the login page with the
// error.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		creds, isJSON, err := readCredentials(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid login request")
			return
		}

		// Let a hydrate already in flight land first so it cannot overwrite the login.
		s.settledState(r.Context(), b)
		res, err := b.Session.Login(r.Context(), creds)
		if err != nil {
			s.logger.Error().Err(err).Msg("login failed to persist tokens")
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		s.metrics.observeResult("login", res)

		if !isJSON {
			if res.Success {
				redirectSuccess(w, r, safeReturnURL(r.FormValue("return_url"), s.guardRoutes.Landing))
			} else {
				redirectWithError(w, r, s.guardRoutes.Login, res.Error)
			}
			return
		}
		s.writeResult(w, b, res)
	}
}

// LogoutHandler ends the session. ?all=true also revokes the user's other sessions.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		logout := b.Session.Logout
		operation := "logout"
		if r.FormValue("all") == "true" {
			logout = b.Session.LogoutAll
			operation = "logout_all"
		}

		res, err := logout(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("logout failed to clear tokens")
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		s.metrics.observeResult(operation, res)

		if isFormPost(r) {
			redirectSuccess(w, r, s.guardRoutes.Login)
			return
		}
		s.writeResult(w, b, res)
	}
}

// RefreshHandler renews the access token
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		res, err := b.Session.Refresh(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("refresh failed")
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		s.metrics.observeResult("refresh", res)
		s.writeResult(w, b, res)
	}
}

func (s *Server) writeResult(w http.ResponseWriter, b *browsers.Browser, res session.Result) {
	writeJSON(w, statusForResult(res), resultView{Result: res, Session: s.viewOf(b, b.Session.Snapshot())})
}

// isFormPost reports whether the request came from a plain HTML form
func isFormPost(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

func readCredentials(r *http.Request) (apiclient.Credentials, bool, error) {
	if !isFormPost(r) {
		var creds apiclient.Credentials
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&creds)
		return creds, true, err
	}
	return apiclient.Credentials{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}, false, nil
}

func statusForResult(res session.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case apperrors.KindInvalidCredentials, apperrors.KindNotAuthenticated,
		apperrors.KindTokenExpired, apperrors.KindTokenInvalid:
		return http.StatusUnauthorized
	case apperrors.KindNetwork, apperrors.KindMalformedResponse:
		return http.StatusBadGateway
	case apperrors.KindRejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// displayError turns an error into text fit for the console
func displayError(err error) string {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindNetwork:
		return "Network error occurred"
	case apperrors.KindCsrfMismatch:
		return "This sign-in link is invalid or has expired. Please try again."
	case apperrors.KindMalformedResponse:
		return "Unexpected response from server"
	case apperrors.KindProviderDenied:
		return "The provider did not authorize the sign-in"
	case apperrors.KindNotAuthenticated, apperrors.KindTokenExpired, apperrors.KindTokenInvalid:
		return "Sign-in could not be completed"
	}
	switch {
	case apperrors.Is(err, apperrors.ErrFlowInProgress):
		return "Sign-in is already being completed"
	case apperrors.Is(err, apperrors.ErrUnknownProvider):
		return "Unknown sign-in provider"
	}
	return "Something went wrong. Please try again."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
