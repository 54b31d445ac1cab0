package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
)

// AuthorizeHandler starts an OAuth attempt for the browser. Scripts get the
// provider URL as JSON, navigations are redirected to it.
func (s *Server) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		provider := r.PathValue("provider")
		if !s.providers[provider] {
			s.oauthError(w, r, http.StatusNotFound, "Unsupported OAuth provider: "+provider)
			return
		}

		mode := oauthflow.ModeLogin
		if r.FormValue("mode") == string(oauthflow.ModeRegister) {
			mode = oauthflow.ModeRegister
		}

		authURL, err := b.Flow.Begin(r.Context(), oauthflow.BeginRequest{
			Provider:     provider,
			Mode:         mode,
			ReturnURL:    safeReturnURL(r.FormValue("return_url"), s.guardRoutes.Landing),
			WebClientURL: s.baseURL(r),
			RedirectURL:  s.redirectURL(r, provider),
			Username:     r.FormValue("username"),
			Popup:        r.FormValue("popup") == "true",
		})
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case apperrors.Is(err, apperrors.ErrFlowInProgress):
				status = http.StatusConflict
			case apperrors.Is(err, apperrors.ErrUnknownProvider):
				status = http.StatusNotFound
			}
			s.oauthError(w, r, status, displayError(err))
			return
		}

		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// RetryHandler returns a failed flow to idle
func (s *Server) RetryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		if err := b.Flow.Retry(); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "Nothing to retry",
				"state": b.Flow.State().String(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": b.Flow.State().String()})
	}
}

// CallbackHandler completes the attempt the provider redirected back from.
// It serves the code variant on /oauth/callback, including form_post
// responses, and the token variant on /oauth/callback/success.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		if err := r.ParseForm(); err != nil {
			redirectWithError(w, r, s.guardRoutes.Login, "Invalid callback request")
			return
		}
		params := oauthflow.ParseCallback(r.Form)

		// The flow clears the attempt, so remember how it was opened first.
		popupValue, _, err := b.Store.Get(r.Context(), tokenstore.KeyOAuthPopup)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read oauth popup flag")
		}
		popup, _ := strconv.ParseBool(popupValue)

		completion, err := b.Flow.Callback(r.Context(), params)
		if err != nil {
			msg := displayError(err)
			if params.Error != "" {
				msg = params.Error
				if params.ErrorDescription != "" {
					msg = params.ErrorDescription
				}
			}
			s.logger.Info().Err(err).Msg("oauth callback rejected")
			if popup {
				s.renderOAuthComplete(w, oauthCompletePage{Error: msg, ContinueURL: s.guardRoutes.Login})
				return
			}
			redirectWithError(w, r, s.guardRoutes.Login, msg)
			return
		}

		returnURL := safeReturnURL(completion.ReturnURL, s.guardRoutes.Landing)
		if completion.Popup {
			s.renderOAuthComplete(w, oauthCompletePage{Success: true, ContinueURL: returnURL})
			return
		}
		redirectSuccess(w, r, returnURL)
	}
}

func (s *Server) renderOAuthComplete(w http.ResponseWriter, page oauthCompletePage) {
	page.AppName = s.config.GetAppName()
	var buf bytes.Buffer
	if err := oauthCompleteTemplate.Execute(&buf, page); err != nil {
		s.logger.Error().Err(err).Msg("failed to render oauth completion page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// oauthError answers a failed authorize call in the caller's terms
func (s *Server) oauthError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if wantsJSON(r) {
		writeJSONError(w, status, msg)
		return
	}
	redirectWithError(w, r, s.guardRoutes.Login, msg)
}

// baseURL is where the console is served, as the provider should see it
func (s *Server) baseURL(r *http.Request) string {
	if base := s.config.GetBaseURL(); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	return getScheme(r) + "://" + r.Host
}

// redirectURL selects the callback variant. Dedicated authorizers always use
// the code variant; the backend may be configured to deliver tokens instead.
func (s *Server) redirectURL(r *http.Request, provider string) string {
	if _, dedicated := s.authorizers[provider]; !dedicated && s.config.GetOAuthTokenCallback() {
		return ""
	}
	return s.baseURL(r) + RouteOAuthCallback
}
