package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path"

	"github.com/jrsteele09/vmcp-gateway/routeguard"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/shell"
)

// bootstrap is injected into the entry document so the console starts with
// the decision the gateway already made.
type bootstrap struct {
	Session  sessionView         `json:"session"`
	Decision routeguard.Decision `json:"decision"`
	Class    string              `json:"routeClass"`
	Shell    *shell.Snapshot     `json:"shell,omitempty"`
}

// SPAHandler serves console build files and, for every other path, the
// entry document as the route guard decides.
func (s *Server) SPAHandler() http.HandlerFunc {
	assets := ChainMiddleware(s.assetHandler, s.CacheMiddleware, s.CompressionMiddleware)
	page := ChainMiddleware(s.pageHandler, s.NoStoreMiddleware, s.BrowserMiddleware)

	return func(w http.ResponseWriter, r *http.Request) {
		if assetName(s.assets, r.URL.Path) != "" {
			assets(w, r)
			return
		}
		// A missing file is not a console route.
		if path.Ext(r.URL.Path) != "" {
			http.NotFound(w, r)
			return
		}
		page(w, r)
	}
}

func (s *Server) assetHandler(w http.ResponseWriter, r *http.Request) {
	if err := StreamFile(w, r, s.assets, assetName(s.assets, r.URL.Path)); err != nil {
		s.logError(r.Method, r.URL.Path, err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	b := browserFrom(r)

	var st session.State
	if !s.authDisabled {
		st = s.settledState(r.Context(), b)
	}
	decision := s.policy.Decide(routeguard.Request{
		Path:            r.URL.Path,
		Query:           r.URL.Query(),
		IsAuthenticated: st.IsAuthenticated,
		Loading:         st.Loading,
	})
	s.metrics.observeDecision(decision)

	switch decision.Action {
	case routeguard.ActionLoading:
		s.renderLoading(w)
		return
	case routeguard.ActionRedirect:
		http.Redirect(w, r, decision.Location, http.StatusFound)
		return
	}

	boot := bootstrap{
		Session:  s.viewOf(b, st),
		Decision: decision,
		Class:    decision.Class.String(),
	}
	if decision.Action == routeguard.ActionRenderShell {
		snap := b.VMCPs.Snapshot()
		if !snap.Loaded {
			// Warm the shell so the console's first fetch is served from cache.
			go func() {
				_, _ = b.VMCPs.List(context.WithoutCancel(r.Context()), false)
			}()
		}
		boot.Shell = &snap
	}

	doc, err := s.injectBootstrap(boot)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render console entry document")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(doc)
}

var headClose = []byte("</head>")

// injectBootstrap places the bootstrap script before </head>, or at the top
// of the document when it has no head.
func (s *Server) injectBootstrap(boot bootstrap) ([]byte, error) {
	payload, err := json.Marshal(boot)
	if err != nil {
		return nil, err
	}
	script := make([]byte, 0, len(payload)+64)
	script = append(script, "<script>window.__VMCP_BOOTSTRAP__ = "...)
	script = append(script, payload...)
	script = append(script, ";</script>"...)

	i := bytes.Index(s.index, headClose)
	if i < 0 {
		return append(script, s.index...), nil
	}
	doc := make([]byte, 0, len(s.index)+len(script))
	doc = append(doc, s.index[:i]...)
	doc = append(doc, script...)
	doc = append(doc, s.index[i:]...)
	return doc, nil
}

func (s *Server) renderLoading(w http.ResponseWriter) {
	var buf bytes.Buffer
	page := loadingPage{AppName: s.config.GetAppName(), RefreshSeconds: 1}
	if err := loadingTemplate.Execute(&buf, page); err != nil {
		s.logger.Error().Err(err).Msg("failed to render loading page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HealthHandler reports liveness
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"browsers": s.browsers.Len(),
		})
	}
}

// MetricsHandler exposes the gateway metrics in Prometheus format
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.handler()
}
