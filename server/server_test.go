package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	"github.com/jrsteele09/vmcp-gateway/devbackend"
	"github.com/jrsteele09/vmcp-gateway/internal/config"
	"github.com/jrsteele09/vmcp-gateway/server"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	password  = "Passw0rdExample"
	indexHTML = `<!doctype html><html><head><title>console</title></head><body><div id="root"></div></body></html>`
)

type gateway struct {
	url     string
	backend *devbackend.Backend
	server  *server.Server
	client  *http.Client
}

// newGateway starts a dev backend and a gateway in front of it. env is
// applied before the gateway is created.
func newGateway(t *testing.T, env map[string]string) *gateway {
	t.Helper()

	be := devbackend.New(devbackend.Config{Secret: []byte("backend-secret")}, devbackend.WithLogger(zerolog.Nop()))
	beSrv := httptest.NewServer(be)
	t.Cleanup(beSrv.Close)

	g := &gateway{backend: be}
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.server.ServeHTTP(w, r)
	}))
	t.Cleanup(gwSrv.Close)
	g.url = gwSrv.URL

	t.Setenv("ENV", "TEST")
	t.Setenv("BASE_URL", gwSrv.URL)
	t.Setenv("VMCP_COOKIE_SECRET", "gateway-secret")
	for k, v := range env {
		t.Setenv(k, v)
	}

	assets := fstest.MapFS{
		"index.html":    {Data: []byte(indexHTML)},
		"assets/app.js": {Data: []byte("console.log('console')")},
		"favicon.ico":   {Data: []byte{0, 0, 1, 0}},
	}
	srv, err := server.New(config.New(), apiclient.New(beSrv.URL), tokenstore.NewMemory(),
		server.WithAssets(assets),
		server.WithLogger(zerolog.Nop()),
		server.WithMetricsRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	g.server = srv
	t.Cleanup(srv.Browsers().Close)

	g.client = newBrowserClient(t)
	return g
}

func newBrowserClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (g *gateway) addUser(t *testing.T, username string) {
	t.Helper()
	_, err := g.backend.AddUser(devbackend.User{Email: username + "@example.com", Username: username}, password)
	require.NoError(t, err)
}

func (g *gateway) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()
	target := path
	if strings.HasPrefix(path, "/") {
		target = g.url + path
	}
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := g.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (g *gateway) get(t *testing.T, path string) *http.Response {
	return g.do(t, http.MethodGet, path, nil, nil)
}

func (g *gateway) getJSON(t *testing.T, path string) *http.Response {
	return g.do(t, http.MethodGet, path, nil, map[string]string{"Accept": "application/json"})
}

func (g *gateway) postJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return g.do(t, http.MethodPost, path, strings.NewReader(string(data)), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
}

func (g *gateway) postForm(t *testing.T, path string, form url.Values) *http.Response {
	return g.do(t, http.MethodPost, path, strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
}

func (g *gateway) login(t *testing.T, username string) {
	t.Helper()
	resp := g.postJSON(t, server.RouteSessionLogin, apiclient.Credentials{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type sessionBody struct {
	User *struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
	IsAuthenticated bool `json:"isAuthenticated"`
	Loading         bool `json:"loading"`
	AuthDisabled    bool `json:"authDisabled"`
	OAuth           struct {
		State string `json:"state"`
		Error string `json:"error"`
	} `json:"oauth"`
}

type resultBody struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    string      `json:"kind"`
	Session sessionBody `json:"session"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (g *gateway) session(t *testing.T) sessionBody {
	t.Helper()
	resp := g.getJSON(t, server.RouteSession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[sessionBody](t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestSessionStartsAnonymous(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.getJSON(t, server.RouteSession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "vmcp_browser" {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "a browser cookie is issued on first contact")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	st := decode[sessionBody](t, resp)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Equal(t, "idle", st.OAuth.State)
	assert.Equal(t, 1, g.server.Browsers().Len())

	// The cookie is reused on later requests.
	g.getJSON(t, server.RouteSession)
	assert.Equal(t, 1, g.server.Browsers().Len())
}

func TestTamperedCookieStartsNewBrowser(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")
	g.login(t, "alice")

	u, err := url.Parse(g.url)
	require.NoError(t, err)
	g.client.Jar.SetCookies(u, []*http.Cookie{{Name: "vmcp_browser", Value: "not-a-signed-cookie", Path: "/"}})

	resp := g.getJSON(t, server.RouteSession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))
	assert.False(t, decode[sessionBody](t, resp).IsAuthenticated)
}

func TestLoginJSON(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")

	t.Run("wrong password", func(t *testing.T) {
		resp := g.postJSON(t, server.RouteSessionLogin, apiclient.Credentials{Username: "alice", Password: "Wrong1234"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		res := decode[resultBody](t, resp)
		assert.False(t, res.Success)
		assert.Equal(t, "Invalid credentials", res.Error)
		assert.False(t, res.Session.IsAuthenticated)
	})

	t.Run("success", func(t *testing.T) {
		resp := g.postJSON(t, server.RouteSessionLogin, apiclient.Credentials{Username: "alice", Password: password})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decode[resultBody](t, resp)
		assert.True(t, res.Success)
		require.NotNil(t, res.Session.User)
		assert.Equal(t, "alice", res.Session.User.Username)

		st := g.session(t)
		assert.True(t, st.IsAuthenticated)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := g.do(t, http.MethodPost, server.RouteSessionLogin, strings.NewReader("{"), map[string]string{"Content-Type": "application/json"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLoginForm(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")

	resp := g.postForm(t, server.RouteSessionLogin, url.Values{"username": {"alice"}, "password": {"nope"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?error="+url.QueryEscape("Invalid credentials"), resp.Header.Get("Location"))

	resp = g.postForm(t, server.RouteSessionLogin, url.Values{
		"username":   {"alice"},
		"password":   {password},
		"return_url": {"/vmcp/everything"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/vmcp/everything", resp.Header.Get("Location"))
	assert.True(t, g.session(t).IsAuthenticated)
}

func TestLoginFormIgnoresOffsiteReturnURL(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")

	resp := g.postForm(t, server.RouteSessionLogin, url.Values{
		"username":   {"alice"},
		"password":   {password},
		"return_url": {"//evil.example.com/phish"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/vmcp", resp.Header.Get("Location"))
}

func TestLogout(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")
	g.login(t, "alice")

	resp := g.postJSON(t, server.RouteSessionLogout, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[resultBody](t, resp)
	assert.True(t, res.Success)
	assert.False(t, res.Session.IsAuthenticated)

	assert.False(t, g.session(t).IsAuthenticated)

	resp = g.get(t, "/vmcp")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLogoutFormRedirectsToLogin(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")
	g.login(t, "alice")

	resp := g.postForm(t, server.RouteSessionLogout, url.Values{"all": {"true"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.False(t, g.session(t).IsAuthenticated)
}

func TestRefresh(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.postJSON(t, server.RouteSessionRefresh, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, decode[resultBody](t, resp).Success)

	g.addUser(t, "alice")
	g.login(t, "alice")
	resp = g.postJSON(t, server.RouteSessionRefresh, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[resultBody](t, resp)
	assert.True(t, res.Success)
	assert.True(t, res.Session.IsAuthenticated)
}

func bootstrapOf(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body := readBody(t, resp)
	const marker = "<script>window.__VMCP_BOOTSTRAP__ = "
	start := strings.Index(body, marker)
	require.GreaterOrEqual(t, start, 0, "entry document carries the bootstrap")
	rest := body[start+len(marker):]
	end := strings.Index(rest, ";</script>")
	require.GreaterOrEqual(t, end, 0)
	assert.Less(t, start, strings.Index(body, "</head>"), "bootstrap is placed in the head")

	var boot map[string]any
	require.NoError(t, json.Unmarshal([]byte(rest[:end]), &boot))
	return boot
}

func actionOf(boot map[string]any) string {
	decision, _ := boot["decision"].(map[string]any)
	action, _ := decision["action"].(string)
	return action
}

func TestPageGuard(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")

	resp := g.get(t, "/vmcp")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = g.get(t, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	boot := bootstrapOf(t, resp)
	assert.Equal(t, "render", actionOf(boot))
	assert.Equal(t, "public", boot["routeClass"])

	resp = g.get(t, "/oauth_setup/github?client_id=abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "render", actionOf(bootstrapOf(t, resp)))

	g.login(t, "alice")

	resp = g.get(t, "/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/vmcp", resp.Header.Get("Location"))

	resp = g.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "render", actionOf(bootstrapOf(t, resp)))

	resp = g.get(t, "/vmcp/everything")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	boot = bootstrapOf(t, resp)
	assert.Equal(t, "render_shell", actionOf(boot))
	assert.Contains(t, boot, "shell")
	sess, _ := boot["session"].(map[string]any)
	assert.Equal(t, true, sess["isAuthenticated"])
}

func TestStaticAssets(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/assets/app.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=31536000, immutable", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"), "assets never open a browser scope")
	assert.Equal(t, "console.log('console')", readBody(t, resp))

	resp = g.get(t, "/favicon.ico")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=300, must-revalidate", resp.Header.Get("Cache-Control"))

	resp = g.get(t, "/assets/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, g.server.Browsers().Len())
}

func TestShellVMCPs(t *testing.T) {
	g := newGateway(t, nil)
	g.addUser(t, "alice")

	resp := g.getJSON(t, server.RouteShellVMCPs)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	g.login(t, "alice")
	resp = g.getJSON(t, server.RouteShellVMCPs)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		VMCPs  []apiclient.VMCP `json:"vmcps"`
		Loaded bool             `json:"loaded"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Loaded)
	names := make([]string, 0, len(snap.VMCPs))
	for _, v := range snap.VMCPs {
		names = append(names, v.Name)
	}
	assert.ElementsMatch(t, []string{"default", "everything"}, names)

	resp = g.getJSON(t, server.RouteShellVMCPs+"?refresh=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// provider follows the backend's consent URL like a user approving the
// request and returns where the provider sends the browser.
func provider(t *testing.T, authURL string) string {
	t.Helper()
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noRedirect.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

func (g *gateway) authorize(t *testing.T, providerName string, query url.Values) string {
	t.Helper()
	path := strings.Replace(server.RouteOAuthAuthorize, "{provider}", providerName, 1)
	resp := g.getJSON(t, path+"?"+query.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.NotEmpty(t, body["auth_url"])
	return body["auth_url"]
}

func TestOAuthCodeFlow(t *testing.T) {
	g := newGateway(t, nil)

	authURL := g.authorize(t, "google", url.Values{
		"mode":       {"register"},
		"username":   {"dana"},
		"return_url": {"/vmcp/default"},
	})
	assert.Equal(t, "awaiting_callback", g.session(t).OAuth.State)

	callback := provider(t, authURL)
	require.True(t, strings.HasPrefix(callback, g.url+server.RouteOAuthCallback+"?"), callback)

	resp := g.get(t, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/vmcp/default", resp.Header.Get("Location"))

	st := g.session(t)
	require.True(t, st.IsAuthenticated)
	assert.Equal(t, "dana@google.dev", st.User.Email)
	assert.Equal(t, "hydrated", st.OAuth.State)

	// Replaying the callback is rejected and leaves the session alone.
	resp = g.get(t, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login?error="))
	assert.True(t, g.session(t).IsAuthenticated)
}

func TestOAuthTokenCallback(t *testing.T) {
	g := newGateway(t, map[string]string{"VMCP_OAUTH_TOKEN_CALLBACK": "true"})

	authURL := g.authorize(t, "github", url.Values{"mode": {"register"}, "username": {"grace"}})
	callback := provider(t, authURL)
	require.True(t, strings.HasPrefix(callback, g.url+server.RouteOAuthCallbackSuccess+"?"), callback)

	resp := g.get(t, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/vmcp", resp.Header.Get("Location"))

	st := g.session(t)
	require.True(t, st.IsAuthenticated)
	assert.Equal(t, "grace@github.dev", st.User.Email)
}

func TestOAuthPopup(t *testing.T) {
	g := newGateway(t, nil)

	authURL := g.authorize(t, "google", url.Values{"mode": {"register"}, "popup": {"true"}})
	resp := g.get(t, provider(t, authURL))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, readBody(t, resp), "vmcp:oauth")
	assert.True(t, g.session(t).IsAuthenticated)
}

func TestOAuthProviderDenied(t *testing.T) {
	g := newGateway(t, nil)

	// Signing in with an account that does not exist is refused by the provider.
	authURL := g.authorize(t, "google", url.Values{"username": {"nobody"}})
	resp := g.get(t, provider(t, authURL))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?error="+url.QueryEscape("Account not found. Please sign up first."), resp.Header.Get("Location"))

	st := g.session(t)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "failed", st.OAuth.State)
	assert.NotEmpty(t, st.OAuth.Error)
}

func TestOAuthStateMismatchAndRetry(t *testing.T) {
	g := newGateway(t, nil)
	g.authorize(t, "google", url.Values{"mode": {"register"}})

	resp := g.get(t, server.RouteOAuthCallback+"?code=forged&state=forged")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login?error="))

	st := g.session(t)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "failed", st.OAuth.State)

	resp = g.postJSON(t, server.RouteOAuthRetry, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", decode[map[string]string](t, resp)["state"])

	resp = g.postJSON(t, server.RouteOAuthRetry, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOAuthUnknownProvider(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.getJSON(t, "/api/session/oauth/gitlab/authorize")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Unsupported OAuth provider: gitlab", decode[map[string]string](t, resp)["error"])

	resp = g.get(t, "/api/session/oauth/gitlab/authorize")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login?error="))
}

func TestOAuthNavigationRedirectsToProvider(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/api/session/oauth/google/authorize?mode=register")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/dev/oauth/google/consent?state=")
}

func TestAuthDisabled(t *testing.T) {
	g := newGateway(t, map[string]string{"VMCP_AUTH_DISABLED": "true"})

	resp := g.get(t, "/vmcp/anything")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	boot := bootstrapOf(t, resp)
	assert.Equal(t, "render_shell", actionOf(boot))
	sess, _ := boot["session"].(map[string]any)
	assert.Equal(t, true, sess["authDisabled"])

	resp = g.get(t, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "render", actionOf(bootstrapOf(t, resp)))
}

func TestCORSPreflight(t *testing.T) {
	g := newGateway(t, map[string]string{"VMCP_ALLOWED_ORIGINS": "https://console.example.com"})

	resp := g.do(t, http.MethodOptions, server.RouteSessionLogin, nil, map[string]string{
		"Origin":                        "https://console.example.com",
		"Access-Control-Request-Method": "POST",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://console.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = g.do(t, http.MethodOptions, server.RouteSessionLogin, nil, map[string]string{
		"Origin": "https://evil.example.com",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	g := newGateway(t, nil)
	g.getJSON(t, server.RouteSession)
	g.get(t, "/vmcp")

	resp := g.get(t, server.RouteHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["browsers"])

	resp = g.get(t, server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `vmcp_gateway_http_requests_total{code="200",method="GET",route="GET /api/session"} 1`)
	assert.Contains(t, body, `vmcp_gateway_route_guard_decisions_total{action="redirect",class="protected"} 1`)
	assert.Contains(t, body, "vmcp_gateway_browsers 1")
}
