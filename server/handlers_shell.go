package server

import (
	"net/http"

	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
)

// ShellVMCPsHandler returns the vMCP list of the application shell.
// ?refresh=true bypasses the cache.
func (s *Server) ShellVMCPsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := browserFrom(r)
		if _, err := b.VMCPs.List(r.Context(), r.URL.Query().Get("refresh") == "true"); err != nil {
			if apperrors.IsAuthRejected(err) || apperrors.Is(err, apperrors.ErrNotAuthenticated) {
				writeJSONError(w, http.StatusUnauthorized, displayError(err))
				return
			}
			writeJSONError(w, http.StatusBadGateway, displayError(err))
			return
		}
		writeJSON(w, http.StatusOK, b.VMCPs.Snapshot())
	}
}
